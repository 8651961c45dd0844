// internal/detector/baseline.go
package detector

import (
	"math"
	"sync"
)

const (
	// historyCap bounds the per-key observation history.
	historyCap = 1000
	// movingAvgSpan is how many trailing observations feed the moving average,
	// and the minimum history needed for any statistic.
	movingAvgSpan = 10
)

// Static baseline keys
const (
	BaselineCPU       = "cpu_usage"
	BaselineMemory    = "memory_percent"
	BaselineDisk      = "disk_percent"
	BaselineRxRate    = "network_rx_rate"
	BaselineTxRate    = "network_tx_rate"
	BaselineErrorRate = "error_rate"
)

// Baselines holds per-key historical observations, derived moving averages,
// static baseline constants, and the connection-count table. It has its own
// lock, independent of the window's.
type Baselines struct {
	mu sync.Mutex

	history     map[string][]float64
	movingAvg   map[string]float64
	static      map[string]float64
	connections map[string]map[string]int
}

// NewBaselines creates a store seeded with the static baselines: cpu 70%,
// mem 80%, disk 90%, error rate 1%, network rates 1 MiB/s. Only the z-score
// path adapts; these constants never change.
func NewBaselines() *Baselines {
	return &Baselines{
		history:   make(map[string][]float64),
		movingAvg: make(map[string]float64),
		static: map[string]float64{
			BaselineCPU:       70.0,
			BaselineMemory:    80.0,
			BaselineDisk:      90.0,
			BaselineRxRate:    1024.0 * 1024.0,
			BaselineTxRate:    1024.0 * 1024.0,
			BaselineErrorRate: 0.01,
		},
		connections: make(map[string]map[string]int),
	}
}

// Static returns the static baseline for a key, 0 if unknown.
func (b *Baselines) Static(key string) float64 {
	return b.static[key]
}

// Observe appends a value to the key's history, evicting from the front past
// the cap, and recomputes the moving average once enough points exist.
func (b *Baselines) Observe(key string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values := append(b.history[key], value)
	if over := len(values) - historyCap; over > 0 {
		values = append(values[:0], values[over:]...)
	}
	b.history[key] = values

	if len(values) >= movingAvgSpan {
		var sum float64
		for _, v := range values[len(values)-movingAvgSpan:] {
			sum += v
		}
		b.movingAvg[key] = sum / movingAvgSpan
	}
}

// MovingAverage returns the moving average for a key and whether one has
// been computed yet.
func (b *Baselines) MovingAverage(key string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	avg, ok := b.movingAvg[key]
	return avg, ok
}

// HistoryLen returns the number of observations stored for a key.
func (b *Baselines) HistoryLen(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history[key])
}

// ZScore returns how many standard deviations value lies from the key's
// historical mean. Fewer than 10 observations, or zero variance, yields 0 —
// insufficient data is not an anomaly.
func (b *Baselines) ZScore(key string, value float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	values := b.history[key]
	if len(values) < movingAvgSpan {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var varianceSum float64
	for _, v := range values {
		d := v - mean
		varianceSum += d * d
	}
	stdDev := math.Sqrt(varianceSum / float64(len(values)))
	if stdDev == 0 {
		return 0
	}

	return math.Abs(value-mean) / stdDev
}

// ObserveConnection bumps the per-protocol and total counters for the
// "{src}_{dst}" connection key. Keys are created lazily.
func (b *Baselines) ObserveConnection(sourceIP, destIP, proto string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	connKey := sourceIP + "_" + destIP
	counters, ok := b.connections[connKey]
	if !ok {
		counters = make(map[string]int)
		b.connections[connKey] = counters
	}
	if proto != "" {
		counters[proto]++
	}
	counters["TOTAL"]++
}

// ConnectionCounts returns a copy of the counters for a connection key.
func (b *Baselines) ConnectionCounts(sourceIP, destIP string) map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counters := b.connections[sourceIP+"_"+destIP]
	if counters == nil {
		return nil
	}
	out := make(map[string]int, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}
