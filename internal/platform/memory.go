// Package platform provides the primitives the rest of the runtime is
// built on: tagged executable/non-executable memory, GUID generation,
// a monotonic clock, and byte-verbatim UTF-8 comparison.
package platform

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/logging"
)

// Purpose tags an allocation for leak diagnostics.
type Purpose string

const (
	PurposeProgramCode Purpose = "program_code"
	PurposeMapStorage  Purpose = "map_storage"
	PurposeScratch     Purpose = "scratch"
)

// Region is a tagged block of mmap'd memory. Non-executable regions are
// used for the INTERPRET path and map storage; executable regions hold
// JIT-compiled machine code.
type Region struct {
	bytes      []byte
	executable bool
	purpose    Purpose
}

// Bytes returns the region's backing slice. For executable regions the
// slice must not be written to after MakeExecutable has been called.
func (r *Region) Bytes() []byte { return r.bytes }

// Len reports the region size in bytes.
func (r *Region) Len() int { return len(r.bytes) }

var (
	diagMu    sync.Mutex
	diagLive  = map[*Region]Purpose{}
	diagTotal = map[Purpose]int{}
)

// Allocate reserves size bytes tagged with purpose. Non-executable
// regions are immediately usable; executable regions start out
// read/write and must be finalized with MakeExecutable before the
// program engine hands them to a caller. allocate never returns a
// partially-initialised region: on any failure it returns a non-nil
// error and a nil region.
func Allocate(size int, executable bool, purpose Purpose) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("platform: invalid allocation size %d", size)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	b, err := unix.Mmap(-1, 0, size, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("platform: out of resources: %w", err)
	}

	r := &Region{bytes: b, executable: executable, purpose: purpose}

	diagMu.Lock()
	diagLive[r] = purpose
	diagTotal[purpose]++
	diagMu.Unlock()

	logging.Default().Debug("allocated memory region", "purpose", purpose, "size", size, "executable", executable)
	return r, nil
}

// MakeExecutable flips a region from read/write to read/execute. Callers
// must have finished writing the code bytes before calling this; a
// region can never be simultaneously writable and executable (W^X).
func (r *Region) MakeExecutable() error {
	if !r.executable {
		return fmt.Errorf("platform: region not marked executable at allocation time")
	}
	if err := unix.Mprotect(r.bytes, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("platform: mprotect failed: %w", err)
	}
	return nil
}

// Free releases the region's pages. Callers are expected to route this
// through the epoch reclaimer rather than calling it directly on a
// region a reader might still be touching.
func Free(r *Region) error {
	if r == nil {
		return nil
	}

	diagMu.Lock()
	if p, ok := diagLive[r]; ok {
		diagTotal[p]--
		delete(diagLive, r)
	}
	diagMu.Unlock()

	if r.bytes == nil {
		return nil
	}
	err := unix.Munmap(r.bytes)
	r.bytes = nil
	return err
}

// LiveCounts returns the number of still-live regions per purpose, for
// leak diagnostics in tests and long-running hosts.
func LiveCounts() map[Purpose]int {
	diagMu.Lock()
	defer diagMu.Unlock()
	out := make(map[Purpose]int, len(diagTotal))
	for p, n := range diagTotal {
		if n != 0 {
			out[p] = n
		}
	}
	return out
}
