//go:build !windows

package ivcfake

import "golang.org/x/sys/unix"

// newSharedMemory backs a fake channel's shared-memory region with a real
// anonymous mmap rather than a plain Go slice, so view-pointer aliasing
// (spec.md §9 Open Question (a): implementers must not assume page
// alignment of the returned view) is exercised against a real kernel
// mapping instead of language-level backing storage.
func newSharedMemory(size int) ([]byte, func(), error) {
	if size == 0 {
		size = 1
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	free := func() {
		_ = unix.Munmap(region)
	}
	return region, free, nil
}
