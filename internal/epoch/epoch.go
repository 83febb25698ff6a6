// Package epoch implements the read-side memory reclamation scheme that
// lets programs run lock-free against maps that may be concurrently
// mutated: frees are deferred until no participating thread still holds
// an epoch older than the retirement.
package epoch

import (
	"sync"
	"sync/atomic"
)

// notEntered is the sentinel value of a ThreadState.entered field: it is
// the ⊥ the spec describes, distinct from any real epoch because the
// global counter starts at 1.
const notEntered uint64 = 0

// Manager owns the process-wide epoch counter and retired-item list.
// One Manager is created per Runtime (spec §9: no global mutable state;
// tests instantiate multiple Managers to parallelise).
type Manager struct {
	global uint64 // atomic

	threadsMu sync.Mutex
	threads   []*ThreadState

	retiredMu sync.Mutex
	retired   []retiredItem

	// Debug enables the reentrant-Enter assertion (panics instead of
	// silently tolerating misuse). Tests and debug builds should set
	// this true; it is the spec's "debug-mode assertion".
	Debug bool
}

type retiredItem struct {
	epoch uint64
	free  func()
}

// New creates a Manager with the global epoch starting at 1, matching
// the spec (epoch 0 is reserved to mean "not entered").
func New() *Manager {
	return &Manager{global: 1}
}

// ThreadState is a single participating thread's "entered epoch" slot.
// Callers create one ThreadState per long-lived worker (a dispatcher
// goroutine, a hook-invoker goroutine) and reuse it across many
// Enter/Exit critical sections, mirroring the systems-language
// "per-thread slot" this is modelled on.
type ThreadState struct {
	mgr     *Manager
	entered uint64 // atomic; notEntered (0) when outside a critical section
}

// NewThreadState registers a new thread slot with the manager.
func (m *Manager) NewThreadState() *ThreadState {
	t := &ThreadState{mgr: m}
	m.threadsMu.Lock()
	m.threads = append(m.threads, t)
	m.threadsMu.Unlock()
	return t
}

// Enter publishes the current epoch into the thread's slot with a full
// fence, so that reads inside the critical section cannot be reordered
// before it. It must be paired with exactly one Exit; reentrant calls
// without an intervening Exit are a programming error.
func (t *ThreadState) Enter() {
	e := atomic.LoadUint64(&t.mgr.global)
	if !atomic.CompareAndSwapUint64(&t.entered, notEntered, e) {
		if t.mgr.Debug {
			panic("epoch: reentrant Enter on a ThreadState without matching Exit")
		}
		return
	}
}

// Exit leaves the critical section, publishing ⊥ (not entered). It may
// opportunistically advance the global epoch; it never frees memory
// synchronously.
func (t *ThreadState) Exit() {
	atomic.StoreUint64(&t.entered, notEntered)
	atomic.AddUint64(&t.mgr.global, 1)
}

// Entered reports the epoch this thread last entered at, or false if it
// is currently outside a critical section.
func (t *ThreadState) Entered() (epoch uint64, inSection bool) {
	e := atomic.LoadUint64(&t.entered)
	if e == notEntered {
		return 0, false
	}
	return e, true
}

// Retire appends a free callback to the retired list, stamped with the
// epoch at the time of the call. It is never run synchronously; Flush
// invokes it once no thread can still observe the freed memory.
func (m *Manager) Retire(free func()) {
	if free == nil {
		return
	}
	e := atomic.LoadUint64(&m.global)
	m.retiredMu.Lock()
	m.retired = append(m.retired, retiredItem{epoch: e, free: free})
	m.retiredMu.Unlock()
}

// minEnteredEpoch returns the minimum entered epoch across all
// registered threads, ignoring threads currently outside a critical
// section (⊥), or one past the current global epoch if none are active,
// so that with no reader every retired item counts as safe to free.
func (m *Manager) minEnteredEpoch() uint64 {
	min := atomic.LoadUint64(&m.global) + 1

	m.threadsMu.Lock()
	threads := m.threads
	m.threadsMu.Unlock()

	for _, t := range threads {
		if e, ok := t.Entered(); ok && e < min {
			min = e
		}
	}
	return min
}

// Flush frees every retired item whose retire-epoch is strictly less
// than the minimum epoch any active thread currently holds. It is safe
// to call concurrently with Enter/Exit on other threads and never
// fails: items not yet safe to free simply remain queued for a later
// Flush.
func (m *Manager) Flush() (freed int) {
	safe := m.minEnteredEpoch()

	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()

	kept := m.retired[:0]
	for _, item := range m.retired {
		if item.epoch < safe {
			item.free()
			freed++
		} else {
			kept = append(kept, item)
		}
	}
	m.retired = kept
	return freed
}

// PendingCount reports how many retired items are still queued.
func (m *Manager) PendingCount() int {
	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()
	return len(m.retired)
}

// CurrentEpoch returns the current global epoch, mostly for tests.
func (m *Manager) CurrentEpoch() uint64 {
	return atomic.LoadUint64(&m.global)
}
