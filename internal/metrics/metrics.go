package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
)

// Sampler polls a Source once per interval and pushes each Sample to its
// subscribers. Only one poll runs at a time.
type Sampler struct {
	src  Source
	opts Options
	log  *log.Logger

	// pollMu is held for the whole of a poll cycle.
	pollMu sync.Mutex

	mu      sync.Mutex
	state   State
	base    Baseline
	subs    map[int]chan Sample
	nextSub int

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSampler(src Source, opts Options, logger *log.Logger) *Sampler {
	if logger == nil {
		logger = log.New("metrics")
	}
	return &Sampler{
		src:    src,
		opts:   opts.withDefaults(),
		log:    logger,
		subs:   make(map[int]chan Sample),
		stopCh: make(chan struct{}),
	}
}

func (s *Sampler) Options() Options {
	return s.opts
}

func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Disks returns a copy of the disks still being sampled.
func (s *Sampler) Disks() []DiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DiskState, len(s.base.Disks))
	copy(out, s.base.Disks)
	return out
}

// Initialize discovers the fixed disks and records the first counter
// baselines. On a *DeviceEnumerationError the sampler stays idle and the
// caller may retry, give up, or call InitializeWithoutDisks.
func (s *Sampler) Initialize(ctx context.Context) ([]DiskState, error) {
	return s.initialize(ctx, true)
}

// InitializeWithoutDisks starts the sampler with an empty disk set.
func (s *Sampler) InitializeWithoutDisks(ctx context.Context) error {
	_, err := s.initialize(ctx, false)
	return err
}

func (s *Sampler) initialize(ctx context.Context, withDisks bool) ([]DiskState, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	switch s.State() {
	case StateRunning:
		return nil, ErrAlreadyInitialized
	case StateStopped:
		return nil, ErrStopped
	}

	var disks []DiskState
	if withDisks {
		var err error
		disks, err = s.discoverDisks(ctx)
		if err != nil {
			return nil, err
		}
	}

	base := Baseline{Disks: disks}
	if s.opts.CPUMode == CPUModeCarried {
		if ticks, err := s.src.CPUTicks(ctx); err != nil {
			s.report(&CounterReadError{Metric: "cpu", Err: err})
		} else {
			base.CPU, base.CPUValid = ticks, true
		}
	}

	s.mu.Lock()
	s.base = base
	s.state = StateRunning
	s.mu.Unlock()

	s.log.Infof("sampler running: %d disks, interval %s, cpu mode %s", len(disks), s.opts.Interval, s.opts.CPUMode)
	out := make([]DiskState, len(disks))
	copy(out, disks)
	return out, nil
}

func (s *Sampler) discoverDisks(ctx context.Context) ([]DiskState, error) {
	devices, err := s.src.DiskDevices(ctx)
	if err != nil {
		return nil, &DeviceEnumerationError{Err: err}
	}

	seen := make(map[string]bool)
	var disks []DiskState
	for _, dev := range devices {
		if !IsFixedDisk(dev) {
			continue
		}
		id := NormalizeDiskID(dev)
		if seen[id] {
			continue
		}
		read, write, err := s.src.DiskCounters(ctx, dev)
		if err != nil {
			s.report(&CounterReadError{Metric: "disk", DiskID: id, Err: err})
			continue
		}
		seen[id] = true
		disks = append(disks, DiskState{
			DiskID:         id,
			Device:         dev,
			LastReadBytes:  read,
			LastWriteBytes: write,
		})
		s.log.Debugf("found disk %s (%s)", id, dev)
	}
	return disks, nil
}

// PollOnce runs one poll cycle and publishes the result. It returns
// ErrPollInProgress instead of waiting when another cycle is running.
func (s *Sampler) PollOnce(ctx context.Context) (Sample, error) {
	if !s.pollMu.TryLock() {
		return Sample{}, ErrPollInProgress
	}
	defer s.pollMu.Unlock()

	s.mu.Lock()
	state, base := s.state, s.base
	s.mu.Unlock()

	switch state {
	case StateIdle:
		return Sample{}, ErrNotInitialized
	case StateStopped:
		return Sample{}, ErrStopped
	}

	sample, next, warnings, err := Poll(ctx, s.src, s.opts, base)
	for _, w := range warnings {
		s.report(w)
	}
	if err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	s.base = next
	s.publishLocked(sample)
	s.mu.Unlock()
	return sample, nil
}

// Run polls on a single ticker until ctx is done or Stop is called.
// Stopping is only observed between cycles.
func (s *Sampler) Run(ctx context.Context) error {
	switch s.State() {
	case StateIdle:
		return ErrNotInitialized
	case StateStopped:
		return ErrStopped
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// A blocking poll already spans one interval, so the first one starts
	// right away and the ticker is running while it waits. Otherwise a disk
	// delta would cover two intervals.
	if s.opts.CPUMode == CPUModeBlocking {
		if done := s.runOnce(ctx); done {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if done := s.runOnce(ctx); done {
				return nil
			}
		}
	}
}

// runOnce polls once for Run and reports whether Run should return.
func (s *Sampler) runOnce(ctx context.Context) bool {
	_, err := s.PollOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPollInProgress):
		s.log.Debug("previous poll still running, skipping tick")
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		s.log.Errorf("error polling: %v", err)
	}
	return false
}

// Stop ends sampling. It waits for a running cycle to finish and then closes
// every subscriber channel.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = StateStopped
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.log.Info("sampler stopped")
}

// MaxSubscriberBuffer caps the channel buffer Subscribe allocates.
const MaxSubscriberBuffer = 1024

// Subscribe registers a consumer. Samples that do not fit in the buffer are
// dropped for that consumer rather than holding up the sampler.
func (s *Sampler) Subscribe(buffer int) (<-chan Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	if buffer > MaxSubscriberBuffer {
		buffer = MaxSubscriberBuffer
	}
	ch := make(chan Sample, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Sampler) publishLocked(sample Sample) {
	for id, ch := range s.subs {
		select {
		case ch <- sample:
		default:
			s.log.Debugf("subscriber %d is full, dropping sample %d", id, sample.Tick)
		}
	}
}

func (s *Sampler) report(err error) {
	var reset *CounterResetAnomaly
	var read *CounterReadError
	switch {
	case errors.As(err, &reset):
		s.log.Warnf("%v, clamping delta to 0", err)
	case errors.As(err, &read) && read.DiskID != "":
		s.log.Warnf("%v, dropping disk", err)
	default:
		s.log.Warnf("%v", err)
	}
}
