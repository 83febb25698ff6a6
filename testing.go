package ebpfcore

import "github.com/darylpeterson1178/ebpf-for-windows/internal/program"

// NopVerifier accepts every program unconditionally -- useful for
// tests that only want to exercise the rest of the load pipeline.
type NopVerifier struct{}

func (NopVerifier) Verify([]byte) error { return nil }

// StaticEnumerator always returns the same fixed relocation set,
// regardless of the code passed in.
type StaticEnumerator struct {
	Relocations []Relocation
}

func (e StaticEnumerator) Enumerate([]byte) ([]Relocation, error) {
	return e.Relocations, nil
}

// ActionFunc is a test program body: given the hook's context bytes,
// it returns the verdict the program would compute.
type ActionFunc func(ctx []byte) (uint32, error)

// ClosureExecutor adapts an ActionFunc to the Executor interface a
// Compiler must return.
type ClosureExecutor struct {
	Fn       ActionFunc
	released bool
}

func (c *ClosureExecutor) Invoke(ctx []byte) (uint32, error) { return c.Fn(ctx) }
func (c *ClosureExecutor) Release()                           { c.released = true }
func (c *ClosureExecutor) Released() bool                     { return c.released }

// ClosureCompiler is a test Compiler that ignores the code bytes and
// relocations entirely, always producing the same ActionFunc-backed
// Executor -- the interpreter-mode analogue of a real bytecode
// interpreter for tests that only care about attach/detach/invoke
// plumbing, not instruction semantics.
type ClosureCompiler struct {
	Fn ActionFunc
}

func (c ClosureCompiler) Compile([]byte, []Relocation) (Executor, error) {
	return &ClosureExecutor{Fn: c.Fn}, nil
}

// NewTestEngine builds a program.Engine around the given ActionFunc,
// wired with no-op verification/enumeration and no helper/map
// resolvers -- enough for any test whose code has no relocations.
func NewTestEngine(fn ActionFunc) *program.Engine {
	return &program.Engine{
		Verifier:   NopVerifier{},
		Enumerator: StaticEnumerator{},
		Compiler:   ClosureCompiler{Fn: fn},
	}
}
