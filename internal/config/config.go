// Package config reads the TBENCH_* environment variables that drive the
// load-generating client. It mirrors the original harness's getOpt<T>
// helper: every knob has a type and a default, and an unparseable value is
// a configuration error rejected at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Mode selects the arrival policy: open-loop Poisson or closed-loop fixed
// interval.
type Mode int

const (
	ModeClosed Mode = iota
	ModeOpen
)

// ControlMode selects the dumper/control-surface variant (supplemented
// knob; spec.md describes these as build-time variants, TBENCH_CONTROL_MODE
// makes the choice at runtime instead).
type ControlMode string

const (
	ControlPeriodic ControlMode = "periodic"
	ControlQueue    ControlMode = "queue"
)

// Config holds every externally configurable knob from spec.md §6, plus the
// supplemented TBENCH_CONTROL_MODE / TBENCH_METRICS_ADDR knobs.
type Config struct {
	MinSleepNs       int64
	RandSeed         int64
	QPS              float64
	ClientThreads    int
	Server           string
	ServerPort       int
	MeasureSleepSec  int
	WorkloadDec      string
	ControlMode      ControlMode
	ControlQueuePath string
	ControlQueueProj int
	MetricsAddr      string
	Mode             Mode
}

// Load reads the environment and validates it. A non-positive QPS or thread
// count is a configuration error (spec.md §7, class 1).
func Load(mode Mode) (*Config, error) {
	minSleepNs, err := getInt64("TBENCH_MINSLEEPNS", 0)
	if err != nil {
		return nil, err
	}

	seed, err := getInt64("TBENCH_RANDSEED", 0)
	if err != nil {
		return nil, err
	}

	qps, err := getFloat64("TBENCH_QPS", 1000)
	if err != nil {
		return nil, err
	}
	if qps <= 0 {
		return nil, fmt.Errorf("config: TBENCH_QPS must be > 0, got %v", qps)
	}

	threads, err := getInt("TBENCH_CLIENT_THREADS", 1)
	if err != nil {
		return nil, err
	}
	if threads <= 0 {
		return nil, fmt.Errorf("config: TBENCH_CLIENT_THREADS must be > 0, got %d", threads)
	}

	port, err := getInt("TBENCH_SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}

	sleepSec, err := getInt("TBENCH_MEASURE_SLEEP_SEC", 5)
	if err != nil {
		return nil, err
	}

	controlMode := ControlMode(getString("TBENCH_CONTROL_MODE", string(ControlPeriodic)))
	if controlMode != ControlPeriodic && controlMode != ControlQueue {
		return nil, fmt.Errorf("config: TBENCH_CONTROL_MODE must be %q or %q, got %q", ControlPeriodic, ControlQueue, controlMode)
	}

	queueProj, err := getInt("TBENCH_CONTROL_QUEUE_PROJECT_ID", 1)
	if err != nil {
		return nil, err
	}

	return &Config{
		MinSleepNs:       minSleepNs,
		RandSeed:         seed,
		QPS:              qps,
		ClientThreads:    threads,
		Server:           getString("TBENCH_SERVER", ""),
		ServerPort:       port,
		MeasureSleepSec:  sleepSec,
		WorkloadDec:      getString("TBENCH_WORKLOAD_DEC", ""),
		ControlMode:      controlMode,
		ControlQueuePath: getString("TBENCH_CONTROL_QUEUE_PATH", ""),
		ControlQueueProj: queueProj,
		MetricsAddr:      getString("TBENCH_METRICS_ADDR", ""),
		Mode:             mode,
	}, nil
}

// LambdaPerNs converts the configured QPS into an exponential rate
// parameter in requests per nanosecond, as required by the open-loop
// ArrivalDist constructor.
func (c *Config) LambdaPerNs() float64 {
	return c.QPS / 1e9
}

// IntervalNs converts the configured QPS into a fixed inter-arrival
// interval in nanoseconds, as required by the closed-loop ArrivalDist
// constructor.
func (c *Config) IntervalNs() int64 {
	return int64(1e9 / c.QPS)
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getInt64(key string, def int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getFloat64(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}
