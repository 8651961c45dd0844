// internal/response/dispatcher.go
package response

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/metrics"
	"github.com/signalnine/auspex/internal/protocol"
)

// networkTypeMarkers: anomaly types containing any of these qualify for the
// network-block channel.
var networkTypeMarkers = []string{"NETWORK", "TRAFFIC", "CONNECTION", "PORT_SCAN", "ERROR_RATE"}

// Outcome is the combined acknowledgement for one dispatched record.
type Outcome struct {
	Record   *protocol.AnomalyRecord
	Audited  bool
	Notified bool
	Blocked  bool
}

// Dispatcher routes anomaly records to the response channels on a small
// bounded worker pool so channel I/O never blocks ingest or detection.
// Channels fail independently; a failure in one never cancels its siblings.
type Dispatcher struct {
	audit    *AuditSink
	mailer   *Mailer
	firewall *Firewall
	log      *zap.Logger

	workers int
	jobs    chan *protocol.AnomalyRecord
	results chan Outcome
	wg      sync.WaitGroup
}

// NewDispatcher wires a dispatcher from explicit channel implementations.
func NewDispatcher(audit *AuditSink, mailer *Mailer, firewall *Firewall, workers int, log *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		audit:    audit,
		mailer:   mailer,
		firewall: firewall,
		log:      log,
		workers:  workers,
		jobs:     make(chan *protocol.AnomalyRecord, 64),
		results:  make(chan Outcome, 64),
	}
}

// NewDispatcherFromConfig builds the channels and the pool from config.
func NewDispatcherFromConfig(cfg config.ResponseConfig, log *zap.Logger) *Dispatcher {
	return NewDispatcher(
		NewAuditSink(cfg.Audit, log.Named("audit")),
		NewMailer(cfg.Notify, log.Named("notify")),
		NewFirewall(cfg.Block, log.Named("block")),
		cfg.Workers,
		log,
	)
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for rec := range d.jobs {
				metrics.DispatchQueueDepth.Dec()
				d.results <- d.Handle(context.Background(), rec)
			}
		}()
	}
	d.log.Info("response dispatcher started", zap.Int("workers", d.workers))
}

// Submit queues a record for dispatch. If the queue is full the record is
// dropped with a log entry rather than blocking the detection loop.
func (d *Dispatcher) Submit(rec *protocol.AnomalyRecord) {
	select {
	case d.jobs <- rec:
		metrics.DispatchQueueDepth.Inc()
	default:
		d.log.Warn("dispatch queue full, dropping record", zap.String("anomaly", rec.ID))
	}
}

// Results delivers one Outcome per handled record.
func (d *Dispatcher) Results() <-chan Outcome {
	return d.results
}

// Stop accepts no new records and waits for in-flight work to finish or time
// out. The results channel is closed when the pool drains.
func (d *Dispatcher) Stop() {
	close(d.jobs)
	d.wg.Wait()
	close(d.results)
}

// Handle runs all three channels for a single record and returns the
// combined acknowledgement.
func (d *Dispatcher) Handle(ctx context.Context, rec *protocol.AnomalyRecord) Outcome {
	out := Outcome{Record: rec}

	// Audit always runs first so later state changes remain auditable.
	out.Audited = d.audit.Log(ctx, rec)
	countOutcome("audit", out.Audited)

	if rec.Severity == protocol.SeverityHigh || rec.Severity == protocol.SeverityCritical {
		out.Notified = d.mailer.Alert(rec)
		countOutcome("notify", out.Notified)

		if isNetworkAnomaly(rec.Type) {
			if addr := targetAddress(rec); addr != "" {
				ok, fresh := d.firewall.BlockAddress(ctx, addr)
				out.Blocked = ok
				countOutcome("block", ok)
				if fresh {
					rec.AddData("ip_blocked", addr)
					if ok {
						rec.AddData("firewall_action", "SUCCESS")
					} else {
						rec.AddData("firewall_action", "FAILED")
					}
					// Re-audit so the enforcement outcome lands in the trail.
					d.audit.Log(ctx, rec)
				}
			}
		}
	}

	d.log.Info("anomaly handled",
		zap.String("anomaly", rec.ID),
		zap.String("type", rec.Type),
		zap.String("severity", rec.Severity),
		zap.Bool("audited", out.Audited),
		zap.Bool("notified", out.Notified),
		zap.Bool("blocked", out.Blocked))

	return out
}

func countOutcome(channel string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	metrics.ResponseOutcomes.WithLabelValues(channel, outcome).Inc()
}

func isNetworkAnomaly(typ string) bool {
	for _, marker := range networkTypeMarkers {
		if strings.Contains(typ, marker) {
			return true
		}
	}
	return false
}

// targetAddress picks the address to block. Connection floods carry the
// attacker address on the record; otherwise prefer a non-host source, then a
// non-host destination, else nothing.
func targetAddress(rec *protocol.AnomalyRecord) string {
	if rec.Type == protocol.TypeConnFlood {
		if src, ok := rec.Data["source_ip"].(string); ok && src != "" {
			return src
		}
	}

	m := rec.Evidence
	if m == nil {
		return ""
	}
	if m.SourceIP != "" && m.SourceIP != m.Host {
		return m.SourceIP
	}
	if m.DestIP != "" && m.DestIP != m.Host {
		return m.DestIP
	}
	return ""
}
