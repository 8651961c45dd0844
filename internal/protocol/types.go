// internal/protocol/types.go
package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Metric kinds
const (
	KindNetwork  = "NETWORK"
	KindSystem   = "SYSTEM"
	KindCombined = "COMBINED"
)

// Severity levels derived from anomaly score
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Anomaly types emitted by the detection engine
const (
	TypeHighCPU        = "HIGH_CPU_USAGE"
	TypeHighMemory     = "HIGH_MEMORY_USAGE"
	TypeHighDisk       = "HIGH_DISK_USAGE"
	TypeCPUStatistical = "CPU_STATISTICAL_ANOMALY"
	TypeMemStatistical = "MEMORY_STATISTICAL_ANOMALY"
	TypeNetworkRx      = "NETWORK_RX_ANOMALY"
	TypeNetworkTx      = "NETWORK_TX_ANOMALY"
	TypeHighErrorRate  = "HIGH_ERROR_RATE"
	TypePortScan       = "PORT_SCAN_DETECTED"
	TypeConnFlood      = "CONNECTION_FLOOD"
)

// MetricSample is one telemetry observation sent from agent to detector.
// Samples are immutable after creation; anomaly records reference them as
// evidence but never modify them.
type MetricSample struct {
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`

	// Network fields
	Bytes      int64  `json:"bytes,omitempty"`
	Packets    int64  `json:"packets,omitempty"`
	Errors     int64  `json:"errors,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	SourceIP   string `json:"source_ip,omitempty"`
	DestIP     string `json:"dest_ip,omitempty"`
	SourcePort int    `json:"source_port,omitempty"`
	DestPort   int    `json:"dest_port,omitempty"`

	// System fields
	CPUUsage    float64 `json:"cpu_usage,omitempty"`
	MemoryUsed  uint64  `json:"memory_used,omitempty"`
	MemoryTotal uint64  `json:"memory_total,omitempty"`
	DiskUsed    uint64  `json:"disk_used,omitempty"`
	DiskTotal   uint64  `json:"disk_total,omitempty"`
	NetworkRx   uint64  `json:"network_rx,omitempty"`
	NetworkTx   uint64  `json:"network_tx,omitempty"`

	Ext map[string]any `json:"ext,omitempty"`
}

// IsSystem reports whether the sample carries system fields.
func (m *MetricSample) IsSystem() bool {
	return m.Kind == KindSystem || m.Kind == KindCombined
}

// IsNetwork reports whether the sample carries network fields.
func (m *MetricSample) IsNetwork() bool {
	return m.Kind == KindNetwork || m.Kind == KindCombined
}

// MemPercent returns memory usage as a percentage, 0 if total is unknown.
func (m *MetricSample) MemPercent() float64 {
	if m.MemoryTotal == 0 {
		return 0
	}
	return float64(m.MemoryUsed) / float64(m.MemoryTotal) * 100.0
}

// DiskPercent returns disk usage as a percentage, 0 if total is unknown.
func (m *MetricSample) DiskPercent() float64 {
	if m.DiskTotal == 0 {
		return 0
	}
	return float64(m.DiskUsed) / float64(m.DiskTotal) * 100.0
}

// Summary returns a one-line human-readable rendering of the sample.
func (m *MetricSample) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sample{host=%s kind=%s ts=%s", m.Host, m.Kind, m.Timestamp.Format(time.RFC3339))
	if m.IsNetwork() {
		fmt.Fprintf(&b, " bytes=%s packets=%d errors=%d", humanize.IBytes(uint64(m.Bytes)), m.Packets, m.Errors)
		if m.Protocol != "" {
			fmt.Fprintf(&b, " %s %s:%d->%s:%d", m.Protocol, m.SourceIP, m.SourcePort, m.DestIP, m.DestPort)
		}
	}
	if m.IsSystem() {
		fmt.Fprintf(&b, " cpu=%.2f%% mem=%s/%s disk=%.1f%%",
			m.CPUUsage, humanize.IBytes(m.MemoryUsed), humanize.IBytes(m.MemoryTotal), m.DiskPercent())
	}
	b.WriteString("}")
	return b.String()
}

// AnomalyRecord is one detection result. Created once by the engine; the
// response dispatcher may append to Data but never rewrites existing fields.
type AnomalyRecord struct {
	ID          string         `json:"id"`
	Host        string         `json:"host"`
	Type        string         `json:"type"`
	Score       float64        `json:"score"`
	Severity    string         `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Evidence    *MetricSample  `json:"evidence,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// SeverityFor maps a score in [0,1] to a severity level. Boundaries are
// inclusive on the lower end: 0.5 is MEDIUM, 0.7 is HIGH, 0.9 is CRITICAL.
func SeverityFor(score float64) string {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// NewAnomaly creates an anomaly record with a fresh ID and derived severity.
func NewAnomaly(host, typ string, score float64, description string, evidence *MetricSample) *AnomalyRecord {
	return &AnomalyRecord{
		ID:          uuid.NewString(),
		Host:        host,
		Type:        typ,
		Score:       score,
		Severity:    SeverityFor(score),
		Timestamp:   time.Now(),
		Description: description,
		Evidence:    evidence,
		Data:        make(map[string]any),
	}
}

// AddData attaches a key/value pair to the record's extension map.
func (a *AnomalyRecord) AddData(key string, value any) {
	if a.Data == nil {
		a.Data = make(map[string]any)
	}
	a.Data[key] = value
}

func (a *AnomalyRecord) String() string {
	return fmt.Sprintf("anomaly{id=%s host=%s type=%s score=%.2f severity=%s}",
		a.ID, a.Host, a.Type, a.Score, a.Severity)
}

// DetailedReport renders the multi-line report used for operator alerts.
func (a *AnomalyRecord) DetailedReport() string {
	var b strings.Builder
	b.WriteString("=== SECURITY ANOMALY DETECTED ===\n")
	fmt.Fprintf(&b, "ID: %s\n", a.ID)
	fmt.Fprintf(&b, "Host: %s\n", a.Host)
	fmt.Fprintf(&b, "Type: %s\n", a.Type)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity)
	fmt.Fprintf(&b, "Score: %.2f\n", a.Score)
	fmt.Fprintf(&b, "Timestamp: %s\n", a.Timestamp.Format("2006-01-02 15:04:05"))
	if a.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", a.Description)
	}
	if a.Evidence != nil {
		b.WriteString("\nTrigger Sample:\n")
		fmt.Fprintf(&b, "  %s\n", a.Evidence.Summary())
	}
	if len(a.Data) > 0 {
		b.WriteString("\nAdditional Information:\n")
		keys := make([]string, 0, len(a.Data))
		for k := range a.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, a.Data[k])
		}
	}
	b.WriteString("=====================================")
	return b.String()
}

// SanitizeExt reduces an open extension map to string/number/bool values for
// serialization. Anything else is rendered with %v. Shape is only enforced
// here, at the boundary.
func SanitizeExt(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = v
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
