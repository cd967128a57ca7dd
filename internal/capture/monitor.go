package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResourceMetrics is a point-in-time snapshot of a subprocess's
// resource usage, read from /proc.
type ResourceMetrics struct {
	PID             int
	FileDescriptors int
	MemoryBytes     int64
	ThreadCount     int
	Uptime          time.Duration
	Timestamp       time.Time
}

// ResourceThresholds defines warning and critical thresholds.
type ResourceThresholds struct {
	FDWarning      int
	FDCritical     int
	MemoryWarning  int64
	MemoryCritical int64
}

// DefaultThresholds returns sensible default resource thresholds.
func DefaultThresholds() ResourceThresholds {
	return ResourceThresholds{
		FDWarning:      500,
		FDCritical:     1000,
		MemoryWarning:  512 * 1024 * 1024,
		MemoryCritical: 1024 * 1024 * 1024,
	}
}

// AlertLevel indicates the severity of a resource alert.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertWarning
	AlertCritical
)

func (a AlertLevel) String() string {
	switch a {
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	default:
		return "ok"
	}
}

// ResourceAlert reports a single threshold breach.
type ResourceAlert struct {
	Level    AlertLevel
	Resource string
	Message  string
	Value    any
}

// ResourceMonitor polls /proc for a running subprocess's resource usage
// and raises alerts when configured thresholds are crossed. It is
// attached per-channel by the pipeline once a decoder process starts,
// and torn down when that process exits.
type ResourceMonitor struct {
	thresholds ResourceThresholds
	procPath   string

	mu      sync.RWMutex
	metrics map[int]*ResourceMetrics
}

// MonitorOption configures a ResourceMonitor.
type MonitorOption func(*ResourceMonitor)

// WithThresholds overrides the default resource thresholds.
func WithThresholds(t ResourceThresholds) MonitorOption {
	return func(m *ResourceMonitor) { m.thresholds = t }
}

// WithProcPath overrides the /proc mount point, for testing against a
// fixture directory tree.
func WithProcPath(path string) MonitorOption {
	return func(m *ResourceMonitor) { m.procPath = path }
}

// NewResourceMonitor builds a ResourceMonitor.
func NewResourceMonitor(opts ...MonitorOption) *ResourceMonitor {
	m := &ResourceMonitor{
		thresholds: DefaultThresholds(),
		metrics:    make(map[int]*ResourceMetrics),
		procPath:   "/proc",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetMetrics collects current resource metrics for pid from /proc.
func (m *ResourceMonitor) GetMetrics(pid int) (*ResourceMetrics, error) {
	procDir := filepath.Join(m.procPath, strconv.Itoa(pid))
	if _, err := os.Stat(procDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("capture: process %d not found", pid)
	}

	metrics := &ResourceMetrics{PID: pid, Timestamp: time.Now()}

	if entries, err := os.ReadDir(filepath.Join(procDir, "fd")); err == nil {
		metrics.FileDescriptors = len(entries)
	}

	if data, err := os.ReadFile(filepath.Join(procDir, "stat")); err == nil {
		metrics.ThreadCount = parseThreadCount(string(data))
	}

	if data, err := os.ReadFile(filepath.Join(procDir, "statm")); err == nil {
		metrics.MemoryBytes = parseMemoryBytes(string(data))
	}

	if startTime, err := m.getProcessStartTime(pid); err == nil {
		metrics.Uptime = time.Since(startTime)
	}

	m.mu.Lock()
	m.metrics[pid] = metrics
	m.mu.Unlock()

	return metrics, nil
}

// CheckThresholds compares metrics against the configured thresholds.
func (m *ResourceMonitor) CheckThresholds(metrics *ResourceMetrics) []ResourceAlert {
	var alerts []ResourceAlert

	switch {
	case metrics.FileDescriptors >= m.thresholds.FDCritical:
		alerts = append(alerts, ResourceAlert{AlertCritical, "fd",
			fmt.Sprintf("file descriptors at critical level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDCritical),
			metrics.FileDescriptors})
	case metrics.FileDescriptors >= m.thresholds.FDWarning:
		alerts = append(alerts, ResourceAlert{AlertWarning, "fd",
			fmt.Sprintf("file descriptors at warning level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDWarning),
			metrics.FileDescriptors})
	}

	switch {
	case metrics.MemoryBytes >= m.thresholds.MemoryCritical:
		alerts = append(alerts, ResourceAlert{AlertCritical, "memory",
			fmt.Sprintf("memory usage at critical level: %d bytes >= %d bytes", metrics.MemoryBytes, m.thresholds.MemoryCritical),
			metrics.MemoryBytes})
	case metrics.MemoryBytes >= m.thresholds.MemoryWarning:
		alerts = append(alerts, ResourceAlert{AlertWarning, "memory",
			fmt.Sprintf("memory usage at warning level: %d bytes >= %d bytes", metrics.MemoryBytes, m.thresholds.MemoryWarning),
			metrics.MemoryBytes})
	}

	return alerts
}

// MonitorProcess polls pid every interval until ctx is cancelled or the
// process can no longer be found, invoking alertCallback with any
// threshold breaches observed each tick.
func (m *ResourceMonitor) MonitorProcess(ctx context.Context, pid int, interval time.Duration, alertCallback func([]ResourceAlert)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics, err := m.GetMetrics(pid)
			if err != nil {
				return
			}
			if alerts := m.CheckThresholds(metrics); len(alerts) > 0 && alertCallback != nil {
				alertCallback(alerts)
			}
		}
	}
}

// ClearMetrics drops cached metrics for pid, e.g. once its process exits.
func (m *ResourceMonitor) ClearMetrics(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, pid)
}

func (m *ResourceMonitor) getProcessStartTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(m.procPath, strconv.Itoa(pid), "stat"))
	if err != nil {
		return time.Time{}, err
	}

	content := string(data)
	idx := strings.LastIndex(content, ")")
	if idx == -1 {
		return time.Time{}, fmt.Errorf("capture: invalid stat format")
	}

	fields := strings.Fields(content[idx+1:])
	if len(fields) < 20 {
		return time.Time{}, fmt.Errorf("capture: insufficient fields in stat")
	}

	startTicks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	bootTime := getSystemBootTime(m.procPath)
	const ticksPerSecond = int64(100)
	return bootTime.Add(time.Duration(startTicks/ticksPerSecond) * time.Second), nil
}

func parseThreadCount(stat string) int {
	idx := strings.LastIndex(stat, ")")
	if idx == -1 {
		return 0
	}
	fields := strings.Fields(stat[idx+1:])
	if len(fields) < 18 {
		return 0
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return 0
	}
	return threads
}

func parseMemoryBytes(statm string) int64 {
	fields := strings.Fields(statm)
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}

func getSystemBootTime(procPath string) time.Time {
	data, err := os.ReadFile(filepath.Join(procPath, "stat"))
	if err != nil {
		return time.Now()
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if bootSecs, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					return time.Unix(bootSecs, 0)
				}
			}
		}
	}
	return time.Now()
}
