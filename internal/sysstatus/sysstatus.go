// Package sysstatus captures and renders host resource snapshots.
package sysstatus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/opencode-ai/streamd/pkg/types"
)

// DefaultSampleInterval is how long CPU usage is sampled for.
const DefaultSampleInterval = 200 * time.Millisecond

// Sampler produces system status snapshots.
type Sampler interface {
	Capture(ctx context.Context) (*types.SystemStatus, error)
}

// HostSampler reads CPU and memory usage of the local host.
type HostSampler struct {
	Interval time.Duration
}

// NewHostSampler returns a sampler using DefaultSampleInterval.
func NewHostSampler() *HostSampler {
	return &HostSampler{Interval: DefaultSampleInterval}
}

// Capture samples CPU utilisation over the interval and reads memory usage.
func (h *HostSampler) Capture(ctx context.Context) (*types.SystemStatus, error) {
	percents, err := cpu.PercentWithContext(ctx, h.Interval, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("cpu count: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}

	status := &types.SystemStatus{
		CPUCores:    cores,
		MemoryUsed:  vm.Used,
		MemoryTotal: vm.Total,
		CapturedAt:  time.Now().UnixMilli(),
	}
	if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	return status, nil
}

// StaticSampler always returns the same snapshot.
type StaticSampler struct {
	Status types.SystemStatus
}

// Capture returns a copy of the fixed status.
func (s StaticSampler) Capture(context.Context) (*types.SystemStatus, error) {
	st := s.Status
	return &st, nil
}

// Render formats a snapshot for inclusion in model context.
// The output depends only on the snapshot, never on the current time.
func Render(s *types.SystemStatus) string {
	if s == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("<system_status>\n")
	if s.CapturedAt > 0 {
		fmt.Fprintf(&b, "Captured: %s\n", time.UnixMilli(s.CapturedAt).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "CPU: %.1f%% of %d cores\n", s.CPUPercent, s.CPUCores)
	if s.MemoryTotal > 0 {
		fmt.Fprintf(&b, "Memory: %s / %s (%.1f%%)\n",
			formatBytes(s.MemoryUsed), formatBytes(s.MemoryTotal),
			float64(s.MemoryUsed)/float64(s.MemoryTotal)*100)
	}
	b.WriteString("</system_status>")
	return b.String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
