// internal/response/audit.go
package response

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/protocol"
)

// iso8601Millis is the @timestamp format SIEM ingest pipelines expect.
const iso8601Millis = "2006-01-02T15:04:05.000Z"

// AuditSink posts anomaly documents to a SIEM endpoint. The sink type picks
// the auth scheme: elasticsearch (none), splunk (Authorization header),
// custom (X-API-Key).
type AuditSink struct {
	cfg    config.AuditConfig
	client *http.Client
	log    *zap.Logger
}

// NewAuditSink creates an audit sink from configuration.
func NewAuditSink(cfg config.AuditConfig, log *zap.Logger) *AuditSink {
	return &AuditSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// Log posts one anomaly record to the sink. Returns false on any failure;
// audit failures are reported, never fatal.
func (s *AuditSink) Log(ctx context.Context, rec *protocol.AnomalyRecord) bool {
	if !s.cfg.Enabled {
		s.log.Debug("audit logging disabled in configuration")
		return false
	}

	payload, err := json.Marshal(buildDocument(rec))
	if err != nil {
		s.log.Error("marshal audit document", zap.String("anomaly", rec.ID), zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		s.log.Error("build audit request", zap.String("anomaly", rec.ID), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	switch strings.ToLower(s.cfg.Type) {
	case "elasticsearch":
		// No auth header; credentials belong in the endpoint URL if needed.
	case "splunk":
		if s.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Splunk "+s.cfg.APIKey)
		}
	default:
		if s.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", s.cfg.APIKey)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("audit post failed", zap.String("anomaly", rec.ID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Warn("audit sink rejected document",
			zap.String("anomaly", rec.ID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))))
		return false
	}

	return true
}

// buildDocument assembles the audit schema. Extension maps are sanitized
// here, at the serialization boundary.
func buildDocument(rec *protocol.AnomalyRecord) map[string]any {
	doc := map[string]any{
		"@timestamp":  rec.Timestamp.UTC().Format(iso8601Millis),
		"id":          rec.ID,
		"host":        rec.Host,
		"type":        rec.Type,
		"severity":    rec.Severity,
		"score":       rec.Score,
		"description": rec.Description,
	}
	if data := protocol.SanitizeExt(rec.Data); data != nil {
		doc["additional_data"] = data
	}

	if m := rec.Evidence; m != nil {
		fields := map[string]any{
			"metric_type": m.Kind,
			"timestamp":   m.Timestamp.UTC().Format(iso8601Millis),
		}
		if m.IsNetwork() {
			fields["bytes"] = m.Bytes
			fields["packets"] = m.Packets
			fields["errors"] = m.Errors
			fields["protocol"] = m.Protocol
			fields["source_ip"] = m.SourceIP
			fields["dest_ip"] = m.DestIP
			fields["source_port"] = m.SourcePort
			fields["dest_port"] = m.DestPort
		}
		if m.IsSystem() {
			fields["cpu_usage"] = m.CPUUsage
			fields["memory_used"] = m.MemoryUsed
			fields["memory_total"] = m.MemoryTotal
			fields["disk_used"] = m.DiskUsed
			fields["disk_total"] = m.DiskTotal
			fields["network_rx"] = m.NetworkRx
			fields["network_tx"] = m.NetworkTx
		}
		doc["metrics"] = fields
	}

	return doc
}
