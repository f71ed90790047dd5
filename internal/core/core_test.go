package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hamasterd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("HAMASTERD_HOSTNAME", "nodeA")
	t.Cleanup(func() { os.Unsetenv("HAMASTERD_HOSTNAME") })

	return &config.Config{
		HANodeList:                          "g@nodeA",
		HAPortID:                            0, // let the OS pick a free port
		HAHeartbeatIntervalMsecs:            50,
		HACalcScoreIntervalMsecs:            50,
		HAInitTimerMsecs:                    1,
		HAFailoverWaitTimeMsecs:              50,
		HAMaxHeartbeatGap:                   5,
		HAChangemodeIntervalMsecs:           50,
		HAProcessStartConfirmIntervalMsecs:  50,
		HAProcessDeregConfirmIntervalMsecs:  50,
		HAMaxProcessStartConfirm:            3,
		HAMaxProcessDeregConfirm:            3,
		HACheckDiskFailureIntervalSecs:       60,
		HAUpdateHostnameIntervalMsecs:        1000,
		AdminHTTPAddr:                       "127.0.0.1:0",
		ControlSocketPath:                   filepath.Join(dir, "control.sock"),
		EventLogPath:                        filepath.Join(dir, "events.db"),
	}
}

func TestNewConstructsEveryComponent(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.transport.Close()
	defer c.EventLog.Close()

	if c.ClusterState == nil || c.ResourceState == nil || c.ClusterEngine == nil || c.ResourceEngine == nil {
		t.Fatal("expected every subsystem constructed")
	}
}

func TestStartAndCloseStopsAllGoroutines(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDeactivatePrepareThenFinalize(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	c.DeactivatePrepare()
	if !c.ResourceState.IsShutdown() {
		t.Fatal("expected resource root marked shutting down")
	}
	if !c.DeactivateFinalize() {
		t.Fatal("expected finalize to succeed with no open process connections")
	}
	if !c.ClusterState.IsShutdown() {
		t.Fatal("expected cluster root marked shut down")
	}
}

func TestActivateClearsShutdownFlags(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	c.DeactivatePrepare()
	c.DeactivateFinalize()
	if err := c.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if c.ClusterState.IsShutdown() {
		t.Fatal("expected cluster root reactivated")
	}
	if c.ResourceState.IsShutdown() {
		t.Fatal("expected resource root reactivated")
	}
}
