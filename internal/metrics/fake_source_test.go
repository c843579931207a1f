package metrics

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/labstack/gommon/log"
)

type fakeDisk struct {
	read, write uint64
	err         error
}

type fakeSource struct {
	mu sync.Mutex

	devices []string
	devErr  error

	cpu      []CPUTicks
	cpuCalls int
	cpuErr   error
	// entered is signalled on every CPUTicks call when non-nil.
	entered chan struct{}

	total, available uint64
	memErr           error

	disks map[string]*fakeDisk
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		total:     16384 * bytesInMiB,
		available: 10000 * bytesInMiB,
		disks:     make(map[string]*fakeDisk),
	}
}

func (f *fakeSource) addDisk(device string, read, write uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, device)
	f.disks[device] = &fakeDisk{read: read, write: write}
}

func (f *fakeSource) setDisk(device string, read, write uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.disks[device]
	d.read, d.write = read, write
}

func (f *fakeSource) failDisk(device string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disks[device].err = err
}

func (f *fakeSource) DiskDevices(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devErr != nil {
		return nil, f.devErr
	}
	return append([]string(nil), f.devices...), nil
}

func (f *fakeSource) CPUTicks(ctx context.Context) (CPUTicks, error) {
	f.mu.Lock()
	entered := f.entered
	var t CPUTicks
	err := f.cpuErr
	if err == nil {
		if len(f.cpu) == 0 {
			t = CPUTicks{Busy: float64(f.cpuCalls) * 50, Total: float64(f.cpuCalls) * 100}
		} else if f.cpuCalls < len(f.cpu) {
			t = f.cpu[f.cpuCalls]
		} else {
			t = f.cpu[len(f.cpu)-1]
		}
		f.cpuCalls++
	}
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	return t, err
}

func (f *fakeSource) Memory(ctx context.Context) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.available, f.memErr
}

func (f *fakeSource) DiskCounters(ctx context.Context, device string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disks[device]
	if !ok {
		return 0, 0, ErrDiskGone
	}
	if d.err != nil {
		return 0, 0, d.err
	}
	return d.read, d.write, nil
}

var errUnplugged = errors.New("device unplugged")

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}
