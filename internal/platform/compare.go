package platform

import (
	"bytes"
	"time"
)

// CompareUTF8 compares two UTF-8 byte strings verbatim. Names are never
// normalised or case-folded (spec Open Question #2: byte-verbatim is
// the safe default since the source behaviour is untested beyond ASCII).
func CompareUTF8(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// Now returns a monotonic timestamp suitable for lifecycle bookkeeping
// (device/object start/stop times). It is not wall-clock safe across
// process restarts, which matches the "no persisted state" contract.
func Now() time.Time {
	return time.Now()
}
