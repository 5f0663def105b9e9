// Command tbench-client is the load-generating client described by
// spec.md: it dials a server, drives either an open-loop or closed-loop
// arrival process, and reports latency quantiles either periodically or
// on demand over a control queue.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/tbench-client/internal/arrival"
	"github.com/simeonmiteff/tbench-client/internal/clientcore"
	"github.com/simeonmiteff/tbench-client/internal/clock"
	"github.com/simeonmiteff/tbench-client/internal/config"
	"github.com/simeonmiteff/tbench-client/internal/control"
	"github.com/simeonmiteff/tbench-client/internal/metrics"
	"github.com/simeonmiteff/tbench-client/internal/transport"
	"github.com/simeonmiteff/tbench-client/internal/workers"
)

// bodyGen fills buf with a minimal synthetic payload. The workload-specific
// request-body generator is an external collaborator the spec scopes out
// of the client core; this stands in for it.
func bodyGen(buf []byte) int {
	return copy(buf, []byte("tbench"))
}

func openLoopRequested() bool {
	v, ok := os.LookupEnv("TBENCH_OPEN_LOOP")
	return ok && (v == "1" || v == "true")
}

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	mode := config.ModeClosed
	if openLoopRequested() {
		mode = config.ModeOpen
	}

	cfg, err := config.Load(mode)
	if err != nil {
		log.WithError(err).Fatal("tbench-client: configuration error")
	}

	sysClock := &clock.System{}

	factory := func(startNs int64) arrival.Dist {
		if cfg.Mode == config.ModeOpen {
			return arrival.NewExponential(cfg.LambdaPerNs(), cfg.RandSeed, startNs)
		}
		return arrival.NewClosed(cfg.IntervalNs(), startNs)
	}

	core := clientcore.New(clientcore.Config{
		Clock:      sysClock,
		BodyGen:    bodyGen,
		Factory:    factory,
		NThreads:   cfg.ClientThreads,
		ClosedLoop: cfg.Mode == config.ModeClosed,
		MinSleepNs: cfg.MinSleepNs,
		Log:        log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.ServerPort)
	conn, err := transport.Dial(addr, log)
	if err != nil {
		log.WithError(err).Fatal("tbench-client: failed to connect to server")
	}
	defer conn.Close()

	ctx := context.Background()
	dumpPath := fmt.Sprintf("tbench-client-%d.log", os.Getpid())

	// snapshotFn clears the accumulator on every read (clientcore.Core's
	// contract). Enabling both a dumper and the metrics endpoint means
	// they compete for the same samples; TBENCH_CONTROL_MODE and
	// TBENCH_METRICS_ADDR are independent knobs and this overlap is a
	// known limitation of running both at once, not a bug in either.
	snapshotFn := func() (float64, float64, float64, bool) {
		p, ok := core.Snapshot()
		return p.P50, p.P95, p.P99, ok
	}

	if cfg.MetricsAddr != "" {
		collector := metrics.New(core, snapshotFn)
		collector.AddConn(conn.Stats().SessionID, conn.NetConn())
		prometheus.MustRegister(collector)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.WithError(err).Error("tbench-client: metrics server stopped")
			}
		}()
	}

	switch cfg.ControlMode {
	case config.ControlPeriodic:
		go control.RunPeriodicDumper(ctx, time.Duration(cfg.MeasureSleepSec)*time.Second, log, snapshotFn)
	case config.ControlQueue:
		var q control.Queue
		if cfg.ControlQueuePath != "" {
			// TBENCH_CONTROL_QUEUE_PATH set: attach to the real ftok-keyed
			// System V message queue spec.md §6 describes (linux only).
			sq, err := control.OpenSysVQueue(cfg.ControlQueuePath, byte(cfg.ControlQueueProj))
			if err != nil {
				log.WithError(err).Fatal("tbench-client: failed to open control queue")
			}
			q = sq
		} else {
			// No queue path configured: fall back to an in-process stand-in
			// so TBENCH_CONTROL_MODE=queue is still usable without kernel IPC.
			q = control.NewInProcessQueue(8)
		}
		go control.RunQueueDumper(ctx, q, log, snapshotFn)
	}

	if cfg.WorkloadDec != "" {
		schedule, err := workers.ParseScheduleFile(cfg.WorkloadDec)
		if err != nil {
			log.WithError(err).Fatal("tbench-client: failed to parse workload schedule")
		}
		go workers.RunScheduleDriver(ctx, core, dumpPath, log, schedule)
	}

	runner := &workers.Runner{
		Core:     core,
		Conn:     conn,
		DumpPath: dumpPath,
		Log:      log,
	}

	if cfg.Mode == config.ModeOpen {
		workers.RunOpenLoop(ctx, runner, cfg.ClientThreads)
	} else {
		workers.RunClosedLoop(ctx, runner, cfg.ClientThreads)
	}
}
