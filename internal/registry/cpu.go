package registry

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	cpuOnlinePath = "/sys/devices/system/cpu/online"
	cpuSetBits    = 1024
)

// HighestCPU returns the highest-numbered online CPU. It falls back to the
// highest CPU in this process's affinity mask when sysfs is unreadable.
func HighestCPU() int {
	if b, err := os.ReadFile(cpuOnlinePath); err == nil {
		if n, ok := parseCPUList(string(b)); ok {
			return n
		}
	}
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		for n := cpuSetBits - 1; n >= 0; n-- {
			if set.IsSet(n) {
				return n
			}
		}
	}
	return runtime.NumCPU() - 1
}

// parseCPUList returns the largest id in a kernel cpu list such as
// "0-3,6,8-11".
func parseCPUList(list string) (int, bool) {
	highest, found := -1, false
	for _, part := range strings.Split(strings.TrimSpace(list), ",") {
		if part == "" {
			continue
		}
		if _, hi, ok := strings.Cut(part, "-"); ok {
			part = hi
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, false
		}
		if n > highest {
			highest, found = n, true
		}
	}
	return highest, found
}
