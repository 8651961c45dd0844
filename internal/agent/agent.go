// internal/agent/agent.go
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/protocol"
)

// Agent samples host telemetry and ships it to the detector.
type Agent struct {
	cfg    *config.AgentConfig
	client *http.Client
	log    *zap.Logger
}

// New creates a new agent
func New(cfg *config.AgentConfig, log *zap.Logger) *Agent {
	transport := &http.Transport{}
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Agent{
		cfg: cfg,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log: log,
	}
}

// Run starts the sampling loops and blocks until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent starting",
		zap.String("hostname", a.cfg.Hostname),
		zap.String("detector", a.cfg.DetectorURL),
		zap.Duration("interval", a.cfg.SampleInterval),
		zap.Bool("simulate_traffic", a.cfg.SimulateTraffic))

	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()

	// Simulated packet source stands in for live capture; same cadence as
	// the original monitor.
	var simC <-chan time.Time
	if a.cfg.SimulateTraffic {
		simTicker := time.NewTicker(2 * time.Second)
		defer simTicker.Stop()
		simC = simTicker.C
	}

	// Sample immediately on start
	a.collectSystem()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent shutting down")
			return nil
		case <-ticker.C:
			a.collectSystem()
		case <-simC:
			sample := SimulatedPacket(a.cfg.Hostname)
			if err := a.send(sample); err != nil {
				a.log.Warn("send simulated packet", zap.Error(err))
			}
		}
	}
}

func (a *Agent) collectSystem() {
	sample, err := SystemSample(a.cfg.Hostname)
	if err != nil {
		a.log.Warn("collect system metrics", zap.Error(err))
		return
	}
	if err := a.send(sample); err != nil {
		a.log.Warn("send system sample", zap.Error(err))
	}
}

func (a *Agent) send(sample *protocol.MetricSample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", a.cfg.DetectorURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
