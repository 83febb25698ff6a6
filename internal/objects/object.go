// Package objects implements the reference-counted object model shared
// by every long-lived entity in the runtime (maps, programs, links) and
// the per-caller handle table that exposes them as opaque 64-bit ids.
package objects

import (
	"fmt"
	"sync/atomic"
)

// Kind tags what an Object actually is.
type Kind int

const (
	KindMap Kind = iota
	KindProgram
	KindLink
	KindPinningEntry
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindProgram:
		return "program"
	case KindLink:
		return "link"
	case KindPinningEntry:
		return "pinning_entry"
	default:
		return "unknown"
	}
}

// Object is the common header every kernel-style entity embeds. A zero
// Object is not usable; construct with New.
//
// Invariant: refcount >= 1 while any handle, table entry, or in-flight
// call references the object; the destructor runs exactly once, the
// instant the count reaches 0.
type Object struct {
	kind       Kind
	refcount   atomic.Int64
	destructor func()
	destroyed  atomic.Bool
}

// New constructs an Object with an initial reference count of 1 (the
// reference returned to whoever is creating it -- typically a handle).
func New(kind Kind, destructor func()) *Object {
	o := &Object{kind: kind, destructor: destructor}
	o.refcount.Store(1)
	return o
}

// Kind returns the object's kind tag.
func (o *Object) Kind() Kind { return o.kind }

// RefCount returns the current reference count, for diagnostics and
// tests; it must never be used to make acquire/release decisions since
// it can change the instant it is read.
func (o *Object) RefCount() int64 { return o.refcount.Load() }

// AcquireReference bumps the reference count. It must only be called by
// a holder that itself already holds a reference (e.g. the handle table
// bumping on behalf of a new handle) -- never from a weak lookup path
// that found the object without already owning a reference, since the
// count may have already reached 0 and the destructor run.
func (o *Object) AcquireReference() {
	if o.refcount.Add(1) <= 1 {
		panic(fmt.Sprintf("objects: AcquireReference on a %s object with a non-positive refcount", o.kind))
	}
}

// ReleaseReference drops the reference count by one, running the
// destructor outside of any lock the moment the count reaches 0. The
// destructor is guaranteed to run exactly once.
func (o *Object) ReleaseReference() {
	n := o.refcount.Add(-1)
	switch {
	case n > 0:
		return
	case n == 0:
		if o.destroyed.CompareAndSwap(false, true) && o.destructor != nil {
			o.destructor()
		}
	default:
		panic(fmt.Sprintf("objects: refcount underflow on a %s object", o.kind))
	}
}
