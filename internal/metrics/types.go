package metrics

import "time"

const (
	// DefaultInterval is the polling interval used when none is configured.
	DefaultInterval = 1000 * time.Millisecond
	// DefaultMaxDiskThroughput is 200 MiB/s.
	DefaultMaxDiskThroughput = 200.0 * 1024 * 1024

	bytesInMiB = 1024 * 1024
)

type CPUMode string

const (
	// CPUModeCarried computes load between the previous poll's tick snapshot
	// and the current one. Initialize captures the first baseline.
	CPUModeCarried CPUMode = "carried"
	// CPUModeBlocking snapshots ticks, waits one interval, then snapshots again.
	CPUModeBlocking CPUMode = "blocking"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Options struct {
	Interval time.Duration
	// MaxDiskThroughput is the per-disk throughput baseline in bytes/sec.
	MaxDiskThroughput float64
	CPUMode           CPUMode
}

func DefaultOptions() Options {
	return Options{
		Interval:          DefaultInterval,
		MaxDiskThroughput: DefaultMaxDiskThroughput,
		CPUMode:           CPUModeCarried,
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxDiskThroughput <= 0 {
		o.MaxDiskThroughput = DefaultMaxDiskThroughput
	}
	if o.CPUMode == "" {
		o.CPUMode = CPUModeCarried
	}
	return o
}

// CPUTicks is a cumulative CPU time snapshot. Only differences between two
// snapshots are meaningful.
type CPUTicks struct {
	Busy  float64
	Total float64
}

type DiskLoad struct {
	DiskID      string  `json:"disk_id"`
	LoadPercent float64 `json:"load"`
}

// Sample is one derived data point. It is never modified after it has been
// returned, so it can be shared with any number of readers.
type Sample struct {
	Tick           uint64     `json:"tick"`
	CPULoadPercent float64    `json:"cpu_load"`
	MemoryUsedMB   uint64     `json:"memory_used_mb"`
	DiskLoads      []DiskLoad `json:"disks"`
	CPUStale       bool       `json:"cpu_stale,omitempty"`
	MemoryStale    bool       `json:"memory_stale,omitempty"`
}

// DiskState carries the raw counters of one disk between polls.
type DiskState struct {
	DiskID         string `json:"disk_id"`
	Device         string `json:"device"`
	LastReadBytes  uint64 `json:"last_read_bytes"`
	LastWriteBytes uint64 `json:"last_write_bytes"`
}

// Baseline is everything one poll needs from the poll before it.
type Baseline struct {
	Tick     uint64
	CPU      CPUTicks
	CPUValid bool
	Disks    []DiskState
	Last     Sample
}
