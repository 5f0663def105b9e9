package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(ModeClosed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QPS != 1000 {
		t.Errorf("QPS = %v, want 1000", cfg.QPS)
	}
	if cfg.ClientThreads != 1 {
		t.Errorf("ClientThreads = %v, want 1", cfg.ClientThreads)
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %v, want 8080", cfg.ServerPort)
	}
	if cfg.ControlMode != ControlPeriodic {
		t.Errorf("ControlMode = %v, want periodic", cfg.ControlMode)
	}
}

func TestLoadRejectsNonPositiveQPS(t *testing.T) {
	t.Setenv("TBENCH_QPS", "0")
	if _, err := Load(ModeClosed); err == nil {
		t.Fatal("expected error for zero QPS")
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("TBENCH_CLIENT_THREADS", "not-a-number")
	if _, err := Load(ModeClosed); err == nil {
		t.Fatal("expected error for unparseable thread count")
	}
}

func TestIntervalAndLambda(t *testing.T) {
	t.Setenv("TBENCH_QPS", "2000")
	cfg, err := Load(ModeClosed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.IntervalNs(), int64(500000); got != want {
		t.Errorf("IntervalNs = %d, want %d", got, want)
	}
	if got, want := cfg.LambdaPerNs(), 2000*1e-9; got != want {
		t.Errorf("LambdaPerNs = %v, want %v", got, want)
	}
}

func TestLoadRejectsBadControlMode(t *testing.T) {
	t.Setenv("TBENCH_CONTROL_MODE", "bogus")
	if _, err := Load(ModeClosed); err == nil {
		t.Fatal("expected error for unknown control mode")
	}
}

func TestLoadControlQueueDefaults(t *testing.T) {
	cfg, err := Load(ModeClosed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlQueuePath != "" {
		t.Errorf("ControlQueuePath = %q, want empty", cfg.ControlQueuePath)
	}
	if cfg.ControlQueueProj != 1 {
		t.Errorf("ControlQueueProj = %v, want 1", cfg.ControlQueueProj)
	}
}

func TestLoadControlQueuePathOverride(t *testing.T) {
	t.Setenv("TBENCH_CONTROL_QUEUE_PATH", "/tmp/tbench-queue")
	t.Setenv("TBENCH_CONTROL_QUEUE_PROJECT_ID", "42")
	cfg, err := Load(ModeClosed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlQueuePath != "/tmp/tbench-queue" {
		t.Errorf("ControlQueuePath = %q, want /tmp/tbench-queue", cfg.ControlQueuePath)
	}
	if cfg.ControlQueueProj != 42 {
		t.Errorf("ControlQueueProj = %v, want 42", cfg.ControlQueueProj)
	}
}
