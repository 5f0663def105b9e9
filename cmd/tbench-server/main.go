// Command tbench-server is a minimal test-double TCP peer for
// tbench-client: it speaks the same wire protocol, replies to each request
// with a configurable synthetic service time, and can be told to emit the
// ROI_BEGIN / FINISH control responses after a given number of requests.
//
// This is a supplemented testing aid (SPEC_FULL.md's SUPPLEMENTED
// FEATURES #3, grounded on original_source/harness/client.cpp's
// NetworkedClient peer contract) — the spec explicitly scopes the server
// out of the client core, so nothing under internal/ imports this package.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/tbench-client/internal/wire"
)

func getEnvInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt(key string, def int) int {
	return int(getEnvInt64(key, int64(def)))
}

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	port := getEnvInt("TBENCH_SERVER_PORT", 8080)
	svcNs := getEnvInt64("TBENCH_SERVER_SVC_NS", 0)
	queueNs := getEnvInt64("TBENCH_SERVER_QUEUE_NS", 0)
	roiAfter := getEnvInt64("TBENCH_SERVER_ROI_AFTER", 0)
	finishAfter := getEnvInt64("TBENCH_SERVER_FINISH_AFTER", 0)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.WithError(err).Fatal("tbench-server: listen failed")
	}
	log.WithField("port", port).Info("tbench-server: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Error("tbench-server: accept failed")
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		session := xid.New().String()
		go handleConn(conn, session, log.WithField("session", session), svcNs, queueNs, roiAfter, finishAfter)
	}
}

func handleConn(conn net.Conn, session string, log logrus.FieldLogger, svcNs, queueNs, roiAfter, finishAfter int64) {
	defer conn.Close()
	log.Info("tbench-server: connection accepted")

	var served int64
	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			log.WithError(err).Info("tbench-server: connection closed")
			return
		}
		served++

		if queueNs > 0 {
			time.Sleep(time.Duration(queueNs))
		}
		if svcNs > 0 {
			time.Sleep(time.Duration(svcNs))
		}

		// Exactly one reply per request, matching spec.md's closed-loop
		// fused sender/receiver invariant: a control tag replaces the
		// normal RESPONSE for its request rather than arriving as an
		// extra, unsolicited message on the wire.
		resp := &wire.Response{Tag: wire.TagResponse, ID: req.ID, SvcNs: svcNs}
		switch {
		case finishAfter > 0 && served == finishAfter:
			resp = &wire.Response{Tag: wire.TagFinish}
		case roiAfter > 0 && served == roiAfter:
			resp = &wire.Response{Tag: wire.TagROIBegin}
		}

		if err := wire.WriteResponse(conn, resp); err != nil {
			log.WithError(err).Error("tbench-server: write response failed")
			return
		}
		if resp.Tag == wire.TagFinish {
			return
		}
	}
}
