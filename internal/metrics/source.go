package metrics

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Source is the set of raw counter reads the sampler depends on.
type Source interface {
	// DiskDevices lists the raw device names of the machine's disks.
	DiskDevices(ctx context.Context) ([]string, error)
	CPUTicks(ctx context.Context) (CPUTicks, error)
	// Memory returns total and available physical memory in bytes.
	Memory(ctx context.Context) (total, available uint64, err error)
	// DiskCounters returns cumulative bytes read and written by device.
	DiskCounters(ctx context.Context, device string) (read, write uint64, err error)
}

// HostSource reads counters of the local machine.
type HostSource struct{}

func NewHostSource() *HostSource {
	return &HostSource{}
}

func (HostSource) DiskDevices(ctx context.Context) ([]string, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]string, 0, len(counters))
	for name := range counters {
		devices = append(devices, name)
	}
	sort.Strings(devices)
	return devices, nil
}

func (HostSource) CPUTicks(ctx context.Context) (CPUTicks, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUTicks{}, err
	}
	if len(times) == 0 {
		return CPUTicks{}, fmt.Errorf("no cpu times reported")
	}
	t := times[0]
	total := t.Total()
	return CPUTicks{
		Busy:  total - t.Idle - t.Iowait,
		Total: total,
	}, nil
}

func (HostSource) Memory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

func (HostSource) DiskCounters(ctx context.Context, device string) (uint64, uint64, error) {
	counters, err := disk.IOCountersWithContext(ctx, device)
	if err != nil {
		return 0, 0, err
	}
	c, ok := counters[device]
	if !ok {
		return 0, 0, ErrDiskGone
	}
	return c.ReadBytes, c.WriteBytes, nil
}

var (
	nvmePartition = regexp.MustCompile(`^nvme\d+n\d+p\d+$`)
	sdPartition   = regexp.MustCompile(`^(sd|hd|vd|xvd)[a-z]+\d+$`)
	mmcPartition  = regexp.MustCompile(`^mmcblk\d+p\d+$`)
	mmcHWArea     = regexp.MustCompile(`^mmcblk\d+(boot\d+|rpmb)$`)
	mdPartition   = regexp.MustCompile(`^md\d+p\d+$`)
	darwinSlice   = regexp.MustCompile(`^disk\d+s\d+$`)

	virtualPrefixes = []string{"loop", "ram", "zram", "dm-", "sr", "fd", "nbd"}

	rawDevicePrefixes = []string{`\\.\PHYSICALDRIVE`, `\\.\PHYSICAL`, "/dev/"}
)

// IsFixedDisk reports whether a raw device name looks like a whole disk
// (including md RAID arrays) rather than a partition, an eMMC boot or rpmb
// area, or a virtual device.
func IsFixedDisk(device string) bool {
	name := NormalizeDiskID(device)
	if name == "" {
		return false
	}
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	return !nvmePartition.MatchString(name) &&
		!sdPartition.MatchString(name) &&
		!mmcPartition.MatchString(name) &&
		!mmcHWArea.MatchString(name) &&
		!mdPartition.MatchString(name) &&
		!darwinSlice.MatchString(name)
}

// NormalizeDiskID strips raw device path prefixes, so `\\.\PHYSICALDRIVE0`
// becomes "0" and "/dev/sda" becomes "sda".
func NormalizeDiskID(device string) string {
	upper := strings.ToUpper(device)
	for _, p := range rawDevicePrefixes {
		if strings.HasPrefix(upper, strings.ToUpper(p)) {
			return device[len(p):]
		}
	}
	return device
}
