//go:build windows

package archive

import "golang.org/x/sys/windows"

// freeSpaceBytes reports the free bytes available to the caller on the
// volume holding path.
func freeSpaceBytes(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var freeAvail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeAvail, &total, &totalFree); err != nil {
		return 0, err
	}
	return freeAvail, nil
}
