// Package hooks implements the ordered fan-out from a named hook point
// to every program currently attached to it, plus the pluggable rule
// for combining their individual verdicts into the hook's one result.
package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// Invoker is anything a hook can run against a context buffer -- in
// practice a *program.Program, kept as an interface here so hooks
// don't need to import the program package.
type Invoker interface {
	Invoke(ctx []byte) (uint32, error)
}

// CombineFunc reduces the ordered verdicts of every attached client
// into the hook's single result.
type CombineFunc func(results []uint32) uint32

// LastWins keeps only the last attached client's verdict, the shape
// XDP-like hooks want: the most recently attached program owns the
// decision outright.
func LastWins(results []uint32) uint32 {
	return results[len(results)-1]
}

// MostRestrictive returns the smallest verdict value among all
// clients, the shape bind-like hooks want: any one client can veto,
// numerically lower action codes denote more restrictive outcomes.
func MostRestrictive(results []uint32) uint32 {
	min := results[0]
	for _, r := range results[1:] {
		if r < min {
			min = r
		}
	}
	return min
}

// Hook is one named attach point. Attach/Detach mutate the client
// list under a writer lock; Invoke reads a lock-free snapshot inside
// an epoch section so a concurrent detach never frees a client slice
// an in-flight invocation is still walking.
type Hook struct {
	Name          string
	DefaultAction uint32
	Combine       CombineFunc

	mgr     *epoch.Manager
	mu      sync.Mutex
	clients atomic.Pointer[[]Invoker]
}

func New(name string, mgr *epoch.Manager, combine CombineFunc, defaultAction uint32) *Hook {
	h := &Hook{Name: name, DefaultAction: defaultAction, Combine: combine, mgr: mgr}
	empty := []Invoker{}
	h.clients.Store(&empty)
	return h
}

// Attach appends inv to the end of the client list, ordered after
// everything already attached.
func (h *Hook) Attach(inv Invoker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old := *h.clients.Load()
	next := make([]Invoker, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, inv)
	h.clients.Store(&next)
}

// Detach removes inv from the client list. Returns status.NotFound if
// inv was never attached.
func (h *Hook) Detach(inv Invoker) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	old := *h.clients.Load()
	idx := -1
	for i, c := range old {
		if c == inv {
			idx = i
			break
		}
	}
	if idx < 0 {
		return status.New("DETACH_CODE", status.NotFound, "client is not attached to this hook")
	}

	next := make([]Invoker, 0, len(old)-1)
	next = append(next, old[:idx]...)
	next = append(next, old[idx+1:]...)
	h.clients.Store(&next)

	if h.mgr != nil {
		captured := old
		h.mgr.Retire(func() { _ = captured })
	}
	return nil
}

// Invoke runs every attached client against ctx in attach order and
// combines their verdicts. With no clients attached, it returns
// DefaultAction without calling Combine.
func (h *Hook) Invoke(ts *epoch.ThreadState, ctx []byte) (uint32, error) {
	ts.Enter()
	defer ts.Exit()

	clients := *h.clients.Load()
	if len(clients) == 0 {
		return h.DefaultAction, nil
	}

	results := make([]uint32, 0, len(clients))
	for _, c := range clients {
		r, err := c.Invoke(ctx)
		if err != nil {
			return 0, err
		}
		results = append(results, r)
	}
	return h.Combine(results), nil
}

// ClientCount reports how many clients are currently attached, for
// tests and diagnostics.
func (h *Hook) ClientCount() int {
	return len(*h.clients.Load())
}
