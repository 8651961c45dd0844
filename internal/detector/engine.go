// internal/detector/engine.go
package detector

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
	"github.com/signalnine/auspex/internal/metrics"
	"github.com/signalnine/auspex/internal/protocol"
)

const (
	zscoreTrigger  = 3.0 // 3 sigma rule
	zscoreCeiling  = 5.0 // normalize scores against 5 sigma
	portScanMin    = 20  // distinct port pairs before flagging a scan
	connFloodMin   = 50  // samples from one source before flagging a flood
	countScoreBase = 100.0
)

// Engine scores window snapshots against baseline state. It holds no state
// of its own beyond the shared baseline store; each Check call is
// independent.
type Engine struct {
	cfg       config.DetectionConfig
	baselines *Baselines
	log       *zap.Logger
}

// NewEngine creates a detection engine.
func NewEngine(cfg config.DetectionConfig, baselines *Baselines, log *zap.Logger) *Engine {
	log.Info("detection engine initialized",
		zap.Float64("threshold_score", cfg.ThresholdScore),
		zap.Bool("statistical", cfg.Algorithms.Statistical),
		zap.Bool("threshold", cfg.Algorithms.Threshold),
		zap.Bool("ml", cfg.Algorithms.ML))
	return &Engine{cfg: cfg, baselines: baselines, log: log}
}

// Check runs all enabled detection passes over a window snapshot and returns
// the anomalies that clear the score threshold. A fault anywhere inside the
// call aborts the whole cycle: the error is logged, a failure counter is
// bumped, and the result is empty rather than partial.
func (e *Engine) Check(snapshot []*protocol.MetricSample) (records []*protocol.AnomalyRecord) {
	if len(snapshot) == 0 {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("detection cycle aborted", zap.Any("panic", r))
			metrics.DetectionFailures.Inc()
			records = nil
		}
	}()

	byHost := make(map[string][]*protocol.MetricSample)
	for _, s := range snapshot {
		byHost[s.Host] = append(byHost[s.Host], s)
	}
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	var anomalies []*protocol.AnomalyRecord
	for _, host := range hosts {
		hostSamples := byHost[host]
		e.updateBaselines(host, hostSamples)

		if e.cfg.Algorithms.Threshold {
			anomalies = append(anomalies, e.thresholdPass(host, hostSamples)...)
		}
		if e.cfg.Algorithms.Statistical {
			anomalies = append(anomalies, e.statisticalPass(host, hostSamples)...)
		}
		anomalies = append(anomalies, e.networkPass(host, hostSamples)...)
		anomalies = append(anomalies, e.patternPass(host, hostSamples)...)
		if e.cfg.Algorithms.ML {
			anomalies = append(anomalies, e.mlPass(host, hostSamples)...)
		}
	}

	kept := anomalies[:0]
	for _, a := range anomalies {
		if a.Score >= e.cfg.ThresholdScore {
			kept = append(kept, a)
		}
	}
	return kept
}

// updateBaselines feeds every sample of the host into the baseline store.
func (e *Engine) updateBaselines(host string, samples []*protocol.MetricSample) {
	for _, m := range samples {
		if m.CPUUsage > 0 {
			e.baselines.Observe(host+"_cpu", m.CPUUsage)
		}
		if m.MemoryTotal > 0 {
			e.baselines.Observe(host+"_mem_percent", m.MemPercent())
		}
		if m.DiskTotal > 0 {
			e.baselines.Observe(host+"_disk_percent", m.DiskPercent())
		}
		e.baselines.Observe(host+"_network_rx", float64(m.NetworkRx))
		e.baselines.Observe(host+"_network_tx", float64(m.NetworkTx))
		e.baselines.Observe(host+"_bytes", float64(m.Bytes))
		e.baselines.Observe(host+"_packets", float64(m.Packets))
		if m.Packets > 0 {
			e.baselines.Observe(host+"_error_rate", float64(m.Errors)/float64(m.Packets))
		}
		if m.SourceIP != "" && m.DestIP != "" {
			e.baselines.ObserveConnection(m.SourceIP, m.DestIP, m.Protocol)
		}
	}
}

// thresholdPass checks only the single most recent SYSTEM/COMBINED sample
// against the static baselines. Deliberately recency-biased: it answers "is
// it bad right now", not "is the trend off".
func (e *Engine) thresholdPass(host string, samples []*protocol.MetricSample) []*protocol.AnomalyRecord {
	var latest *protocol.MetricSample
	for _, m := range samples {
		if !m.IsSystem() {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil {
		return nil
	}

	var out []*protocol.AnomalyRecord
	if latest.CPUUsage > e.baselines.Static(BaselineCPU) {
		out = append(out, protocol.NewAnomaly(host, protocol.TypeHighCPU,
			capScore(latest.CPUUsage/100.0),
			fmt.Sprintf("High CPU usage detected: %.2f%%", latest.CPUUsage), latest))
	}
	if memPct := latest.MemPercent(); latest.MemoryTotal > 0 && memPct > e.baselines.Static(BaselineMemory) {
		out = append(out, protocol.NewAnomaly(host, protocol.TypeHighMemory,
			capScore(memPct/100.0),
			fmt.Sprintf("High memory usage detected: %.2f%%", memPct), latest))
	}
	if diskPct := latest.DiskPercent(); latest.DiskTotal > 0 && diskPct > e.baselines.Static(BaselineDisk) {
		out = append(out, protocol.NewAnomaly(host, protocol.TypeHighDisk,
			capScore(diskPct/100.0),
			fmt.Sprintf("High disk usage detected: %.2f%%", diskPct), latest))
	}
	return out
}

// statisticalPass z-scores every sample against the host's history.
func (e *Engine) statisticalPass(host string, samples []*protocol.MetricSample) []*protocol.AnomalyRecord {
	var out []*protocol.AnomalyRecord
	for _, m := range samples {
		if m.CPUUsage > 0 {
			if z := e.baselines.ZScore(host+"_cpu", m.CPUUsage); z > zscoreTrigger {
				out = append(out, protocol.NewAnomaly(host, protocol.TypeCPUStatistical,
					capScore(z/zscoreCeiling),
					fmt.Sprintf("Unusual CPU activity detected (Z-score: %.2f)", z), m))
			}
		}
		if m.MemoryTotal > 0 {
			if z := e.baselines.ZScore(host+"_mem_percent", m.MemPercent()); z > zscoreTrigger {
				out = append(out, protocol.NewAnomaly(host, protocol.TypeMemStatistical,
					capScore(z/zscoreCeiling),
					fmt.Sprintf("Unusual memory activity detected (Z-score: %.2f)", z), m))
			}
		}
		if m.NetworkRx > 0 {
			if z := e.baselines.ZScore(host+"_network_rx", float64(m.NetworkRx)); z > zscoreTrigger {
				out = append(out, protocol.NewAnomaly(host, protocol.TypeNetworkRx,
					capScore(z/zscoreCeiling),
					fmt.Sprintf("Unusual inbound network traffic (Z-score: %.2f)", z), m))
			}
		}
		if m.NetworkTx > 0 {
			if z := e.baselines.ZScore(host+"_network_tx", float64(m.NetworkTx)); z > zscoreTrigger {
				out = append(out, protocol.NewAnomaly(host, protocol.TypeNetworkTx,
					capScore(z/zscoreCeiling),
					fmt.Sprintf("Unusual outbound network traffic (Z-score: %.2f)", z), m))
			}
		}
	}
	return out
}

// networkPass aggregates traffic counters for the host and checks error rate
// and port diversity. Always runs regardless of algorithm flags.
func (e *Engine) networkPass(host string, samples []*protocol.MetricSample) []*protocol.AnomalyRecord {
	var out []*protocol.AnomalyRecord

	var totalPackets, totalErrors int64
	for _, m := range samples {
		totalPackets += m.Packets
		totalErrors += m.Errors
	}

	if totalPackets > 0 {
		errorRate := float64(totalErrors) / float64(totalPackets)
		if errorRate > e.baselines.Static(BaselineErrorRate) {
			evidence := samples[0]
			for _, m := range samples {
				if m.Errors > 0 {
					evidence = m
					break
				}
			}
			out = append(out, protocol.NewAnomaly(host, protocol.TypeHighErrorRate,
				capScore(errorRate*countScoreBase),
				fmt.Sprintf("High network error rate: %.2f%%", errorRate*100), evidence))
		}
	}

	portPairs := make(map[string]struct{})
	for _, m := range samples {
		if m.SourcePort > 0 || m.DestPort > 0 {
			portPairs[strconv.Itoa(m.SourcePort)+"_"+strconv.Itoa(m.DestPort)] = struct{}{}
		}
	}
	if len(portPairs) > portScanMin {
		a := protocol.NewAnomaly(host, protocol.TypePortScan,
			capScore(float64(len(portPairs))/countScoreBase),
			fmt.Sprintf("Possible port scanning detected (%d unique ports)", len(portPairs)), samples[0])
		a.AddData("unique_ports", len(portPairs))
		out = append(out, a)
	}

	return out
}

// patternPass counts samples per distinct non-host source address and flags
// connection floods. Always runs.
func (e *Engine) patternPass(host string, samples []*protocol.MetricSample) []*protocol.AnomalyRecord {
	counts := make(map[string]int)
	for _, m := range samples {
		if m.SourceIP != "" && m.SourceIP != host {
			counts[m.SourceIP]++
		}
	}

	sources := make([]string, 0, len(counts))
	for src := range counts {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var out []*protocol.AnomalyRecord
	for _, src := range sources {
		count := counts[src]
		if count <= connFloodMin {
			continue
		}
		var evidence *protocol.MetricSample
		for _, m := range samples {
			if m.SourceIP == src {
				evidence = m
				break
			}
		}
		a := protocol.NewAnomaly(host, protocol.TypeConnFlood,
			capScore(float64(count)/countScoreBase),
			fmt.Sprintf("High number of connections from %s: %d", src, count), evidence)
		a.AddData("source_ip", src)
		a.AddData("connection_count", count)
		out = append(out, a)
	}
	return out
}

// mlPass is an extension point for model-based detection. The reference
// engine carries no model and always returns nothing.
func (e *Engine) mlPass(host string, samples []*protocol.MetricSample) []*protocol.AnomalyRecord {
	return nil
}

func capScore(s float64) float64 {
	if s > 1 {
		return 1
	}
	return s
}
