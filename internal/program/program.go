// Package program implements the program engine: the state machine
// that takes a caller-supplied blob of code through verification,
// relocation, and either JIT compilation or interpretation, to an
// invokable program that can be attached to one or more hooks.
package program

import (
	"sync"
	"sync/atomic"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/platform"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// State is a program's position in the CREATED -> LOADED -> ATTACHED
// lifecycle (spec §5).
type State int

const (
	StateCreated State = iota
	StateLoaded
	StateAttached
)

// Mode selects how a program's relocated code actually runs.
type Mode int

const (
	ModeInterpret Mode = iota
	ModeJIT
)

// RelocationKind distinguishes the two relocation targets a program's
// code can reference.
type RelocationKind int

const (
	RelocationHelper RelocationKind = iota
	RelocationMap
)

// Relocation is one unresolved reference inside a program's code,
// discovered by an ElfEnumerator and resolved before the program can
// run.
type Relocation struct {
	Offset uint32
	Kind   RelocationKind
	Symbol string // helper name or map name, resolved against the caller's tables
	Target uint64 // resolved helper id or map handle, filled in by Load
}

// Verifier statically validates a program's code before it is ever
// run. Supplied by the caller; the engine treats it as a black box.
type Verifier interface {
	Verify(code []byte) error
}

// ElfEnumerator discovers the relocations a blob of code requires.
type ElfEnumerator interface {
	Enumerate(code []byte) ([]Relocation, error)
}

// Executor runs a fully relocated program and produces its verdict.
// A JIT compiler implements this by returning a Compile step; an
// interpreter implements it directly over bytecode.
type Executor interface {
	// Invoke runs the program against ctx and returns its action
	// code (the per-hook-type verdict, e.g. allow/drop).
	Invoke(ctx []byte) (uint32, error)

	// Release frees any resources (executable memory, compiled
	// state) the executor holds.
	Release()
}

// Compiler turns relocated code into an Executor. JIT compilers
// produce a Region of executable memory; interpreters can ignore code
// layout entirely and just close over the bytecode.
type Compiler interface {
	Compile(code []byte, relocations []Relocation) (Executor, error)
}

// HelperResolver resolves a helper symbol name to a stable helper id.
type HelperResolver interface {
	ResolveHelper(name string) (uint64, error)
}

// MapResolver resolves a map symbol name to its handle.
type MapResolver interface {
	ResolveMap(name string) (uint64, error)
}

// Program is one loaded (and possibly attached) unit of code.
type Program struct {
	mu           sync.Mutex
	mode         Mode
	state        State
	code         []byte
	relocations  []Relocation
	executor     Executor
	attachCount  atomic.Int32
	region       *platform.Region // code copy; executable only for ModeJIT
}

// Engine loads and unloads programs, wiring caller-supplied
// collaborators (spec §6.4) together for each load.
type Engine struct {
	Verifier   Verifier
	Enumerator ElfEnumerator
	Compiler   Compiler
	Helpers    HelperResolver
	Maps       MapResolver

	// Reclaimer, if set, routes a program's code-region free through
	// epoch-based reclamation on Unload rather than freeing it the
	// instant the last attachment drops -- an in-flight Invoke on
	// another thread may still be executing out of it.
	Reclaimer *epoch.Manager
}

// Load verifies code, resolves its relocations, and compiles or
// interprets it into a runnable Program in StateLoaded.
func (e *Engine) Load(code []byte, mode Mode) (*Program, error) {
	if len(code) == 0 {
		return nil, status.New("LOAD_CODE", status.InvalidParameter, "zero-length code")
	}
	if e.Verifier == nil || e.Enumerator == nil || e.Compiler == nil {
		return nil, status.New("LOAD_CODE", status.InvalidState, "engine missing required collaborator")
	}

	if err := e.Verifier.Verify(code); err != nil {
		return nil, status.Wrap("LOAD_CODE", status.InvalidParameter, err)
	}

	relocations, err := e.Enumerator.Enumerate(code)
	if err != nil {
		return nil, status.Wrap("LOAD_CODE", status.InvalidParameter, err)
	}

	for i := range relocations {
		r := &relocations[i]
		switch r.Kind {
		case RelocationHelper:
			if e.Helpers == nil {
				return nil, status.New("LOAD_CODE", status.InvalidState, "no helper resolver configured")
			}
			id, err := e.Helpers.ResolveHelper(r.Symbol)
			if err != nil {
				return nil, status.Wrap("RESOLVE_HELPER", status.NotFound, err)
			}
			r.Target = id
		case RelocationMap:
			if e.Maps == nil {
				return nil, status.New("LOAD_CODE", status.InvalidState, "no map resolver configured")
			}
			h, err := e.Maps.ResolveMap(r.Symbol)
			if err != nil {
				return nil, status.Wrap("RESOLVE_MAP", status.NotFound, err)
			}
			r.Target = h
		}
	}

	// Allocate the code region before compiling: JIT regions start
	// read/write so the compiler's output (or, here, the verified code
	// itself) can be copied in, then get flipped to read/execute once
	// written; INTERPRET regions stay non-executable for the
	// interpreter to read bytecode out of (spec §4.G steps 1 and 4).
	region, err := platform.Allocate(len(code), mode == ModeJIT, platform.PurposeProgramCode)
	if err != nil {
		return nil, status.Wrap("LOAD_CODE", status.OutOfResources, err)
	}
	copy(region.Bytes(), code)

	executor, err := e.Compiler.Compile(code, relocations)
	if err != nil {
		_ = platform.Free(region)
		return nil, status.Wrap("LOAD_CODE", status.ExtensionFailedToLoad, err)
	}

	if mode == ModeJIT {
		if err := region.MakeExecutable(); err != nil {
			executor.Release()
			_ = platform.Free(region)
			return nil, status.Wrap("LOAD_CODE", status.ExtensionFailedToLoad, err)
		}
	}

	p := &Program{
		mode:        mode,
		state:       StateLoaded,
		code:        code,
		relocations: relocations,
		executor:    executor,
		region:      region,
	}
	return p, nil
}

// Unload tears down a program's executor. Fails status.Busy if any
// attachment is still live, and status.InvalidState if called on a
// program that never finished loading.
func (e *Engine) Unload(p *Program) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateCreated {
		return status.New("UNLOAD_CODE", status.InvalidState, "program was never loaded")
	}
	if p.attachCount.Load() > 0 {
		return status.New("UNLOAD_CODE", status.Busy, "program has live attachments")
	}

	p.executor.Release()
	if p.region != nil {
		region := p.region
		if e.Reclaimer != nil {
			e.Reclaimer.Retire(func() { _ = platform.Free(region) })
		} else {
			_ = platform.Free(region)
		}
		p.region = nil
	}
	p.state = StateCreated
	return nil
}

// Attach marks a program as in-use by one more hook attachment.
func (p *Program) Attach() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateCreated {
		return status.New("ATTACH_CODE", status.InvalidState, "program is not loaded")
	}
	p.state = StateAttached
	p.attachCount.Add(1)
	return nil
}

// Detach releases one hook attachment, reverting to StateLoaded once
// the last attachment is gone.
func (p *Program) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attachCount.Load() == 0 {
		return status.New("DETACH_CODE", status.InvalidState, "program is not attached")
	}
	if p.attachCount.Add(-1) == 0 {
		p.state = StateLoaded
	}
	return nil
}

// Invoke runs the program's executor against ctx.
func (p *Program) Invoke(ctx []byte) (uint32, error) {
	p.mu.Lock()
	state := p.state
	executor := p.executor
	p.mu.Unlock()

	if state != StateAttached {
		return 0, status.New("INVOKE", status.InvalidState, "program is not attached")
	}
	return executor.Invoke(ctx)
}

func (p *Program) State() State          { p.mu.Lock(); defer p.mu.Unlock(); return p.state }
func (p *Program) AttachCount() int32    { return p.attachCount.Load() }
func (p *Program) Relocations() []Relocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Relocation, len(p.relocations))
	copy(out, p.relocations)
	return out
}
