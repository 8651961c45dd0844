// internal/response/audit_test.go
package response

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/protocol"
)

// auditCapture records documents posted to a stub sink endpoint.
type auditCapture struct {
	mu      sync.Mutex
	docs    []map[string]any
	headers []http.Header
	status  int
}

func newAuditCapture(status int) (*auditCapture, *httptest.Server) {
	c := &auditCapture{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		json.NewDecoder(r.Body).Decode(&doc)
		c.mu.Lock()
		c.docs = append(c.docs, doc)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(c.status)
	}))
	return c, srv
}

func (c *auditCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func auditConfig(endpoint, typ, key string) config.AuditConfig {
	return config.AuditConfig{Enabled: true, Type: typ, Endpoint: endpoint, APIKey: key}
}

func TestAuditLogPostsDocument(t *testing.T) {
	capture, srv := newAuditCapture(http.StatusOK)
	defer srv.Close()

	sink := NewAuditSink(auditConfig(srv.URL, "custom", "audit-key"), zap.NewNop())

	evidence := &protocol.MetricSample{
		Host: "web1", Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Kind: protocol.KindNetwork, SourceIP: "6.6.6.6", DestIP: "10.0.0.9",
		Protocol: "TCP", Bytes: 64, Packets: 1,
	}
	rec := protocol.NewAnomaly("web1", protocol.TypeConnFlood, 0.8, "High number of connections from 6.6.6.6: 80", evidence)
	rec.AddData("source_ip", "6.6.6.6")

	if !sink.Log(context.Background(), rec) {
		t.Fatal("Log returned false against a healthy sink")
	}
	if capture.count() != 1 {
		t.Fatalf("sink received %d documents, want 1", capture.count())
	}

	doc := capture.docs[0]
	if doc["id"] != rec.ID || doc["host"] != "web1" || doc["type"] != "CONNECTION_FLOOD" || doc["severity"] != "HIGH" {
		t.Errorf("document fields wrong: %v", doc)
	}
	if doc["score"] != 0.8 {
		t.Errorf("score = %v, want 0.8", doc["score"])
	}
	if _, ok := doc["@timestamp"].(string); !ok {
		t.Error("missing @timestamp")
	}
	metrics, ok := doc["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("missing metrics block: %v", doc)
	}
	if metrics["source_ip"] != "6.6.6.6" || metrics["protocol"] != "TCP" {
		t.Errorf("network metrics wrong: %v", metrics)
	}
	data, ok := doc["additional_data"].(map[string]any)
	if !ok || data["source_ip"] != "6.6.6.6" {
		t.Errorf("additional_data wrong: %v", doc["additional_data"])
	}

	if got := capture.headers[0].Get("X-API-Key"); got != "audit-key" {
		t.Errorf("X-API-Key = %q, want audit-key", got)
	}
}

func TestAuditAuthHeaderPerSinkType(t *testing.T) {
	capture, srv := newAuditCapture(http.StatusOK)
	defer srv.Close()
	rec := protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)

	sink := NewAuditSink(auditConfig(srv.URL, "splunk", "tok"), zap.NewNop())
	sink.Log(context.Background(), rec)
	if got := capture.headers[0].Get("Authorization"); got != "Splunk tok" {
		t.Errorf("splunk Authorization = %q, want 'Splunk tok'", got)
	}

	sink = NewAuditSink(auditConfig(srv.URL, "elasticsearch", "tok"), zap.NewNop())
	sink.Log(context.Background(), rec)
	h := capture.headers[1]
	if h.Get("Authorization") != "" || h.Get("X-API-Key") != "" {
		t.Errorf("elasticsearch should carry no auth headers, got %v", h)
	}
}

func TestAuditLogRejectedDocument(t *testing.T) {
	capture, srv := newAuditCapture(http.StatusInternalServerError)
	defer srv.Close()

	sink := NewAuditSink(auditConfig(srv.URL, "custom", ""), zap.NewNop())
	rec := protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)

	if sink.Log(context.Background(), rec) {
		t.Error("Log should return false for non-2xx responses")
	}
	if capture.count() != 1 {
		t.Errorf("document should still have been posted once, got %d", capture.count())
	}
}

func TestAuditLogDisabled(t *testing.T) {
	capture, srv := newAuditCapture(http.StatusOK)
	defer srv.Close()

	sink := NewAuditSink(config.AuditConfig{Enabled: false, Endpoint: srv.URL}, zap.NewNop())
	if sink.Log(context.Background(), protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)) {
		t.Error("disabled sink should return false")
	}
	if capture.count() != 0 {
		t.Errorf("disabled sink posted %d documents", capture.count())
	}
}

func TestAuditLogUnreachableSink(t *testing.T) {
	sink := NewAuditSink(auditConfig("http://127.0.0.1:1/audit", "custom", ""), zap.NewNop())
	if sink.Log(context.Background(), protocol.NewAnomaly("web1", protocol.TypeHighCPU, 0.95, "", nil)) {
		t.Error("unreachable sink should return false")
	}
}
