package main

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/simeonmiteff/tbench-client/internal/latency"
	"github.com/simeonmiteff/tbench-client/internal/wire"
)

// serveFixedWindow is a minimal stand-in for cmd/tbench-server: it accepts
// one connection, spends svcNs on each request and replies RESPONSE with
// that svcNs,
// emits ROI_BEGIN after roiAfter requests and FINISH after finishAfter,
// then closes. It exists here (rather than importing cmd/tbench-server)
// because Go doesn't allow importing another command's package main.
func serveFixedWindow(t *testing.T, ln net.Listener, svcNs int64, roiAfter, finishAfter int64) {
	conn, err := ln.Accept()
	if err != nil {
		t.Logf("serveFixedWindow: accept: %v", err)
		return
	}
	defer conn.Close()

	var served int64
	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			return
		}
		served++

		// Spend the reported service time, as cmd/tbench-server does, so
		// svcNs never exceeds the client-observed sojourn.
		time.Sleep(time.Duration(svcNs))

		// Exactly one reply per request: a control tag replaces the
		// RESPONSE for its request, preserving the closed-loop fused
		// sender/receiver's one-send-one-recv invariant.
		resp := &wire.Response{Tag: wire.TagResponse, ID: req.ID, SvcNs: svcNs}
		switch {
		case finishAfter > 0 && served == finishAfter:
			resp = &wire.Response{Tag: wire.TagFinish}
		case roiAfter > 0 && served == roiAfter:
			resp = &wire.Response{Tag: wire.TagROIBegin}
		}

		if err := wire.WriteResponse(conn, resp); err != nil {
			return
		}
		if resp.Tag == wire.TagFinish {
			return
		}
	}
}

// TestClosedLoopFixedQPSProducesExactBinaryLog builds tbench-client and
// runs it as a subprocess against an in-process server test-double,
// exercising Testable Property scenarios 1 ("closed-loop, fixed QPS") and
// 4 ("binary log exact content") end-to-end over real TCP on 127.0.0.1.
// The client calls os.Exit on FINISH (spec.md §4.5/§5's no-graceful-
// shutdown rule), which is why this runs it out-of-process rather than
// calling workers.RunClosedLoop directly.
func TestClosedLoopFixedQPSProducesExactBinaryLog(t *testing.T) {
	if testing.Short() {
		t.Skip("builds and runs a subprocess; skipped in -short")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	const roiAfter = 20
	const finishAfter = 120
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveFixedWindow(t, ln, 1_000_000, roiAfter, finishAfter)
	}()

	workDir := t.TempDir()
	binPath := filepath.Join(workDir, "tbench-client")
	if runtime.GOOS == "windows" {
		binPath += ".exe"
	}

	build := exec.Command("go", "build", "-o", binPath, ".")
	build.Dir = mustGetwd(t)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build tbench-client: %v\n%s", err, out)
	}

	cmd := exec.Command(binPath)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"TBENCH_SERVER=127.0.0.1",
		"TBENCH_SERVER_PORT="+strconv.Itoa(port),
		"TBENCH_QPS=1000",
		"TBENCH_CLIENT_THREADS=1",
		"TBENCH_MEASURE_SLEEP_SEC=3600",
	)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start tbench-client: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(30 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("tbench-client did not exit after FINISH within 30s")
	}
	<-done

	matches, err := filepath.Glob(filepath.Join(workDir, "tbench-client-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one binary log file, got %v (err=%v)", matches, err)
	}

	info, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	// Requests roiAfter and finishAfter each consume a reply slot as a
	// control message (ROI_BEGIN / FINISH) rather than a RESPONSE, so
	// neither is recorded; only the requests strictly between them are.
	wantSamples := finishAfter - roiAfter - 1
	if info.Size() != 24*wantSamples {
		t.Errorf("log file size = %d, want %d (24 bytes * %d ROI samples)", info.Size(), 24*wantSamples, wantSamples)
	}

	samples, err := latency.LoadBinary(matches[0])
	if err != nil {
		t.Fatalf("LoadBinary: %v", err)
	}
	for i, s := range samples {
		if s.QueueNs+s.SvcNs != s.SojournNs {
			t.Errorf("sample %d: queue+svc = %d, sojourn = %d (must be equal)", i, s.QueueNs+s.SvcNs, s.SojournNs)
		}
	}
}

func mustGetwd(t *testing.T) string {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	return wd
}
