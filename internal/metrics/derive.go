package metrics

import (
	"math"
	"time"
)

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CPULoad returns the busy share of the ticks elapsed between prev and cur as
// a percentage in [0, 100].
func CPULoad(prev, cur CPUTicks) float64 {
	total := cur.Total - prev.Total
	if total <= 0 {
		return 0
	}
	return clampPercent((cur.Busy - prev.Busy) / total * 100)
}

// MemoryUsedMB truncates toward zero.
func MemoryUsedMB(total, available uint64) uint64 {
	if available >= total {
		return 0
	}
	return (total - available) / bytesInMiB
}

// counterDelta returns cur-prev, or 0 with ok=false when the counter went
// backwards.
func counterDelta(prev, cur uint64) (delta uint64, ok bool) {
	if cur < prev {
		return 0, false
	}
	return cur - prev, true
}

// DiskLoadPercent converts the bytes moved during one interval into a load
// percentage against maxThroughput bytes/sec.
func DiskLoadPercent(ioBytes uint64, interval time.Duration, maxThroughput float64) float64 {
	capacity := maxThroughput * interval.Seconds()
	if capacity <= 0 {
		return 0
	}
	return clampPercent(float64(ioBytes) / capacity * 100)
}
