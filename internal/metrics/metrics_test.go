package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExportsRegisteredSeries(t *testing.T) {
	m := New()
	m.IsMaster.Set(1)
	m.NodeScore.WithLabelValues("nodeA").Set(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ha_cluster_is_master 1") {
		t.Fatalf("expected ha_cluster_is_master in output, got:\n%s", body)
	}
	if !strings.Contains(body, `ha_node_score{node="nodeA"} 42`) {
		t.Fatalf("expected labeled ha_node_score in output, got:\n%s", body)
	}
}
