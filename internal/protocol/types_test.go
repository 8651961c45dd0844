// internal/protocol/types_test.go
package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestSeverityBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.0, SeverityLow},
		{0.49999, SeverityLow},
		{0.5, SeverityMedium},
		{0.69999, SeverityMedium},
		{0.7, SeverityHigh},
		{0.89999, SeverityHigh},
		{0.9, SeverityCritical},
		{1.0, SeverityCritical},
	}

	for _, tc := range cases {
		if got := SeverityFor(tc.score); got != tc.want {
			t.Errorf("SeverityFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestNewAnomaly(t *testing.T) {
	sample := &MetricSample{Host: "web1", Kind: KindSystem, CPUUsage: 95}
	a := NewAnomaly("web1", TypeHighCPU, 0.95, "High CPU usage detected: 95.00%", sample)

	if a.ID == "" {
		t.Error("expected non-empty ID")
	}
	if a.Severity != SeverityCritical {
		t.Errorf("severity = %s, want %s", a.Severity, SeverityCritical)
	}
	if a.Evidence != sample {
		t.Error("evidence should reference the trigger sample")
	}
	if a.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	b := NewAnomaly("web1", TypeHighCPU, 0.95, "", nil)
	if a.ID == b.ID {
		t.Error("expected unique IDs per record")
	}
}

func TestDetailedReport(t *testing.T) {
	sample := &MetricSample{
		Host:      "web1",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Kind:      KindNetwork,
		Bytes:     1024,
		Packets:   1,
		Protocol:  "TCP",
		SourceIP:  "192.168.1.5",
		DestIP:    "10.0.0.9",
	}
	a := NewAnomaly("web1", TypeConnFlood, 0.8, "High number of connections from 192.168.1.5: 80", sample)
	a.AddData("source_ip", "192.168.1.5")
	a.AddData("connection_count", 80)

	report := a.DetailedReport()

	for _, want := range []string{
		"=== SECURITY ANOMALY DETECTED ===",
		"Host: web1",
		"Type: CONNECTION_FLOOD",
		"Severity: HIGH",
		"Score: 0.80",
		"source_ip: 192.168.1.5",
		"connection_count: 80",
		"Trigger Sample:",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestMemAndDiskPercent(t *testing.T) {
	m := &MetricSample{MemoryUsed: 8, MemoryTotal: 16, DiskUsed: 90, DiskTotal: 100}
	if got := m.MemPercent(); got != 50 {
		t.Errorf("MemPercent = %v, want 50", got)
	}
	if got := m.DiskPercent(); got != 90 {
		t.Errorf("DiskPercent = %v, want 90", got)
	}

	empty := &MetricSample{}
	if got := empty.MemPercent(); got != 0 {
		t.Errorf("MemPercent on zero totals = %v, want 0", got)
	}
	if got := empty.DiskPercent(); got != 0 {
		t.Errorf("DiskPercent on zero totals = %v, want 0", got)
	}
}

func TestSanitizeExt(t *testing.T) {
	in := map[string]any{
		"str":   "x",
		"num":   3.5,
		"count": 7,
		"flag":  true,
		"other": []int{1, 2},
	}
	out := SanitizeExt(in)

	if out["str"] != "x" || out["num"] != 3.5 || out["count"] != 7 || out["flag"] != true {
		t.Errorf("scalar values should pass through unchanged: %v", out)
	}
	if _, ok := out["other"].(string); !ok {
		t.Errorf("non-scalar value should be rendered as string, got %T", out["other"])
	}

	if SanitizeExt(nil) != nil {
		t.Error("nil map should sanitize to nil")
	}
}
