//go:build windows

package sevenzip

import (
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

// setProcessAttrs applies the configured priority class and CPU affinity
// mask to a started 7-Zip process. Failures are ignored; the archive run
// matters more than its scheduling class.
func setProcessAttrs(pid int, priority, affinity string) {
	handle, err := windows.OpenProcess(
		windows.PROCESS_SET_INFORMATION|windows.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return
	}
	defer windows.CloseHandle(handle)

	if class, ok := priorityClass(priority); ok {
		_ = windows.SetPriorityClass(handle, class)
	}

	if affinity != "" {
		// Affinity is a hex bitmask string, e.g. "0xF" or "F".
		mask, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(affinity), "0x"), 16, 64)
		if err == nil && mask != 0 {
			_ = setAffinityMask(handle, uintptr(mask))
		}
	}
}

func priorityClass(priority string) (uint32, bool) {
	switch strings.ToLower(priority) {
	case "idle":
		return windows.IDLE_PRIORITY_CLASS, true
	case "belownormal":
		return windows.BELOW_NORMAL_PRIORITY_CLASS, true
	case "normal":
		return windows.NORMAL_PRIORITY_CLASS, true
	case "abovenormal":
		return windows.ABOVE_NORMAL_PRIORITY_CLASS, true
	case "high":
		return windows.HIGH_PRIORITY_CLASS, true
	default:
		return 0, false
	}
}

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetProcessAffinity = kernel32.NewProc("SetProcessAffinityMask")
)

func setAffinityMask(handle windows.Handle, mask uintptr) error {
	r, _, err := procSetProcessAffinity.Call(uintptr(handle), mask)
	if r == 0 {
		return err
	}
	return nil
}
