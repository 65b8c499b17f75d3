//go:build windows

package ivcfake

// newSharedMemory on Windows falls back to a plain heap allocation; the
// named-pipe-backed byte stream in pipe_windows.go is where this platform's
// go-winio wiring lives instead, since a raw mmap-equivalent for anonymous
// shared memory has no direct analog in that package.
func newSharedMemory(size int) ([]byte, func(), error) {
	if size == 0 {
		size = 1
	}
	region := make([]byte, size)
	return region, func() {}, nil
}
