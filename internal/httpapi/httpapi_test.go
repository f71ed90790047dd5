package httpapi

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"hamasterd/internal/config"
	"hamasterd/internal/core"
)

func testCore(t *testing.T) *core.Core {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("HAMASTERD_HOSTNAME", "nodeA")
	t.Cleanup(func() { os.Unsetenv("HAMASTERD_HOSTNAME") })

	cfg := &config.Config{
		HANodeList:                         "g@nodeA",
		HAPortID:                           0,
		HAHeartbeatIntervalMsecs:           50,
		HACalcScoreIntervalMsecs:           50,
		HAInitTimerMsecs:                   1,
		HAFailoverWaitTimeMsecs:             50,
		HAMaxHeartbeatGap:                  5,
		HAChangemodeIntervalMsecs:          50,
		HAProcessStartConfirmIntervalMsecs: 50,
		HAProcessDeregConfirmIntervalMsecs: 50,
		HAMaxProcessStartConfirm:           3,
		HAMaxProcessDeregConfirm:           3,
		HACheckDiskFailureIntervalSecs:     60,
		HAUpdateHostnameIntervalMsecs:      1000,
		AdminHTTPAddr:                      "127.0.0.1:0",
		ControlSocketPath:                  filepath.Join(dir, "control.sock"),
		EventLogPath:                       filepath.Join(dir, "events.db"),
	}

	c, err := core.New(cfg)
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("core.Start: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHealthReturnsOK(t *testing.T) {
	h := New(testCore(t))
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNodesListsRoster(t *testing.T) {
	h := New(testCore(t))
	req := httptest.NewRequest("GET", "/nodes", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRouteRejectsUnauthorisedSource(t *testing.T) {
	h := New(testCore(t))
	req := httptest.NewRequest("POST", "/demote", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("expected 403 for unauthorised source, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRouteAllowsLoopback(t *testing.T) {
	h := New(testCore(t))
	req := httptest.NewRequest("POST", "/demote", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200 for loopback source, got %d: %s", rec.Code, rec.Body.String())
	}
}
