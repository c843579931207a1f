package metrics

import (
	"context"
	"time"
)

// Poll runs one sampling cycle against src starting from b. It returns the
// sample, the baseline for the next cycle and any non-fatal problems
// (*CounterReadError, *CounterResetAnomaly) met along the way.
//
// The only error returned is ctx's, when it ends during the blocking-mode
// wait. In that case nothing has been refreshed and b is still current.
func Poll(ctx context.Context, src Source, opts Options, b Baseline) (Sample, Baseline, []error, error) {
	opts = opts.withDefaults()
	var warnings []error

	sample := Sample{
		Tick:           b.Tick,
		CPULoadPercent: b.Last.CPULoadPercent,
		MemoryUsedMB:   b.Last.MemoryUsedMB,
	}
	next := Baseline{
		Tick:     b.Tick + 1,
		CPU:      b.CPU,
		CPUValid: b.CPUValid,
	}

	// CPU
	prev, prevValid := b.CPU, b.CPUValid
	if opts.CPUMode == CPUModeBlocking {
		start, err := src.CPUTicks(ctx)
		prevValid = err == nil
		if err != nil {
			warnings = append(warnings, &CounterReadError{Metric: "cpu", Err: err})
		}
		prev = start

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Sample{}, b, warnings, ctx.Err()
		case <-timer.C:
		}
	}
	cur, err := src.CPUTicks(ctx)
	switch {
	case err != nil:
		warnings = append(warnings, &CounterReadError{Metric: "cpu", Err: err})
		sample.CPUStale = true
	case !prevValid:
		sample.CPUStale = true
		next.CPU, next.CPUValid = cur, true
	default:
		sample.CPULoadPercent = CPULoad(prev, cur)
		next.CPU, next.CPUValid = cur, true
	}

	// Memory
	total, available, err := src.Memory(ctx)
	if err != nil {
		warnings = append(warnings, &CounterReadError{Metric: "memory", Err: err})
		sample.MemoryStale = true
	} else {
		sample.MemoryUsedMB = MemoryUsedMB(total, available)
	}

	// Disks
	next.Disks = make([]DiskState, 0, len(b.Disks))
	sample.DiskLoads = make([]DiskLoad, 0, len(b.Disks))
	for _, d := range b.Disks {
		read, write, err := src.DiskCounters(ctx, d.Device)
		if err != nil {
			warnings = append(warnings, &CounterReadError{Metric: "disk", DiskID: d.DiskID, Err: err})
			continue
		}

		readDelta, ok := counterDelta(d.LastReadBytes, read)
		if !ok {
			warnings = append(warnings, &CounterResetAnomaly{DiskID: d.DiskID, Counter: "read", Previous: d.LastReadBytes, Current: read})
		}
		writeDelta, ok := counterDelta(d.LastWriteBytes, write)
		if !ok {
			warnings = append(warnings, &CounterResetAnomaly{DiskID: d.DiskID, Counter: "write", Previous: d.LastWriteBytes, Current: write})
		}

		sample.DiskLoads = append(sample.DiskLoads, DiskLoad{
			DiskID:      d.DiskID,
			LoadPercent: DiskLoadPercent(readDelta+writeDelta, opts.Interval, opts.MaxDiskThroughput),
		})
		next.Disks = append(next.Disks, DiskState{
			DiskID:         d.DiskID,
			Device:         d.Device,
			LastReadBytes:  read,
			LastWriteBytes: write,
		})
	}

	next.Last = sample
	return sample, next, warnings, nil
}
