// Package series keeps the chartable history of samples on the consumer side.
package series

import (
	"fmt"
	"sync"

	"github.com/jeffypooo/resgraph/internal/metrics"
)

const (
	CPUName    = "CPU Load (%)"
	MemoryName = "Memory Usage (MB)"
)

type Point struct {
	Tick  uint64  `json:"tick"`
	Value float64 `json:"value"`
}

type Series struct {
	Key    string  `json:"key"`
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Store is an append-only set of series: cpu, memory and one per disk keyed
// by disk id. It is written by one consumer and may be read concurrently.
type Store struct {
	mu    sync.RWMutex
	limit int
	cpu   *Series
	mem   *Series
	disks map[string]*Series
	order []string
	n     int
}

// NewStore keeps at most limit points per series. A limit of 0 keeps all.
func NewStore(limit int) *Store {
	return &Store{
		limit: limit,
		cpu:   &Series{Key: "cpu", Name: CPUName},
		mem:   &Series{Key: "memory", Name: MemoryName},
		disks: make(map[string]*Series),
	}
}

func (s *Store) Append(sample metrics.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.add(s.cpu, sample.Tick, sample.CPULoadPercent)
	s.add(s.mem, sample.Tick, float64(sample.MemoryUsedMB))
	for _, d := range sample.DiskLoads {
		ds, ok := s.disks[d.DiskID]
		if !ok {
			ds = &Series{Key: "disk:" + d.DiskID, Name: fmt.Sprintf("%s Load (%%)", d.DiskID)}
			s.disks[d.DiskID] = ds
			s.order = append(s.order, d.DiskID)
		}
		s.add(ds, sample.Tick, d.LoadPercent)
	}
	s.n++
}

func (s *Store) add(ser *Series, tick uint64, v float64) {
	ser.Points = append(ser.Points, Point{Tick: tick, Value: v})
	if s.limit > 0 && len(ser.Points) > s.limit {
		ser.Points = append(ser.Points[:0:0], ser.Points[len(ser.Points)-s.limit:]...)
	}
}

// Len is the number of samples appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Snapshot returns deep copies: cpu, memory, then disks in the order they
// were first seen.
func (s *Store) Snapshot() []Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Series, 0, 2+len(s.order))
	out = append(out, clone(s.cpu), clone(s.mem))
	for _, id := range s.order {
		out = append(out, clone(s.disks[id]))
	}
	return out
}

func clone(s *Series) Series {
	c := *s
	c.Points = append([]Point(nil), s.Points...)
	return c
}
