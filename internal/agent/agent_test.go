// internal/agent/agent_test.go
package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/protocol"
)

func TestSendAuthorizationAndPayload(t *testing.T) {
	var gotAuth string
	var gotSample protocol.MetricSample
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotSample)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(&config.AgentConfig{DetectorURL: srv.URL, Hostname: "web1", APIKey: "secret"}, zap.NewNop())
	sample := SimulatedPacket("web1")
	if err := a.send(sample); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want 'Bearer secret'", gotAuth)
	}
	if gotSample.Host != "web1" || gotSample.Kind != protocol.KindNetwork {
		t.Errorf("payload mismatch: %+v", gotSample)
	}
}

func TestSendReportsServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(&config.AgentConfig{DetectorURL: srv.URL, Hostname: "web1"}, zap.NewNop())
	err := a.send(SimulatedPacket("web1"))
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestSimulatedPacketShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		p := SimulatedPacket("web1")
		if p.Host != "web1" || p.Kind != protocol.KindNetwork {
			t.Fatalf("bad identity fields: %+v", p)
		}
		if p.Protocol != "TCP" && p.Protocol != "UDP" {
			t.Fatalf("protocol = %s", p.Protocol)
		}
		if p.Bytes < 64 || p.Bytes > 1563 {
			t.Fatalf("bytes = %d out of range", p.Bytes)
		}
		if p.Packets != 1 {
			t.Fatalf("packets = %d, want 1", p.Packets)
		}
		if p.SourcePort < 1024 || p.SourcePort > 61023 {
			t.Fatalf("source port = %d out of range", p.SourcePort)
		}
		if p.DestPort < 1 || p.DestPort > 65000 {
			t.Fatalf("dest port = %d out of range", p.DestPort)
		}
		if !strings.HasPrefix(p.SourceIP, "192.168.1.") || !strings.HasPrefix(p.DestIP, "10.0.0.") {
			t.Fatalf("addresses = %s -> %s", p.SourceIP, p.DestIP)
		}
	}
}
