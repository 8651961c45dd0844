// internal/agent/sampler.go
package agent

import (
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/signalnine/auspex/internal/protocol"
)

// SystemSample collects one SYSTEM sample from the local host. Individual
// collectors failing leave their fields zero rather than failing the sample.
func SystemSample(hostname string) (*protocol.MetricSample, error) {
	sample := &protocol.MetricSample{
		Host:      hostname,
		Timestamp: time.Now(),
		Kind:      protocol.KindSystem,
		Ext:       make(map[string]any),
	}

	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		sample.CPUUsage = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryTotal = vm.Total
		sample.MemoryUsed = vm.Used
	}

	if du, err := disk.Usage("/"); err == nil {
		sample.DiskTotal = du.Total
		sample.DiskUsed = du.Used
	}

	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		c := counters[0]
		sample.NetworkRx = c.BytesRecv
		sample.NetworkTx = c.BytesSent
		sample.Packets = int64(c.PacketsRecv + c.PacketsSent)
		sample.Errors = int64(c.Errin + c.Errout)
	}

	sample.Ext["os"] = runtime.GOOS
	sample.Ext["cpu_cores"] = runtime.NumCPU()
	if uptime, err := host.Uptime(); err == nil {
		sample.Ext["uptime_s"] = uptime
	}

	if sample.CPUUsage == 0 && sample.MemoryTotal == 0 && sample.DiskTotal == 0 {
		return nil, fmt.Errorf("no system collectors available")
	}
	return sample, nil
}

// SimulatedPacket fabricates one NETWORK sample in place of live capture:
// random private addresses, TCP or UDP, ~5% error rate.
func SimulatedPacket(hostname string) *protocol.MetricSample {
	proto := "TCP"
	if rand.Intn(2) == 0 {
		proto = "UDP"
	}

	var errors int64
	if rand.Float64() < 0.05 {
		errors = 1
	}

	return &protocol.MetricSample{
		Host:       hostname,
		Timestamp:  time.Now(),
		Kind:       protocol.KindNetwork,
		Bytes:      int64(rand.Intn(1500)) + 64,
		Packets:    1,
		Errors:     errors,
		Protocol:   proto,
		SourceIP:   fmt.Sprintf("192.168.1.%d", rand.Intn(254)+1),
		DestIP:     fmt.Sprintf("10.0.0.%d", rand.Intn(254)+1),
		SourcePort: rand.Intn(60000) + 1024,
		DestPort:   rand.Intn(65000) + 1,
	}
}
