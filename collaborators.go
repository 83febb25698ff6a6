package ebpfcore

import "github.com/darylpeterson1178/ebpf-for-windows/internal/program"

// Re-exported so callers can implement the loader collaborators (spec
// §6.4) without reaching into internal/program themselves.
type (
	Verifier       = program.Verifier
	ElfEnumerator  = program.ElfEnumerator
	Compiler       = program.Compiler
	Executor       = program.Executor
	HelperResolver = program.HelperResolver
	MapResolver    = program.MapResolver
	Relocation     = program.Relocation
)

const (
	RelocationHelper = program.RelocationHelper
	RelocationMap    = program.RelocationMap
)

type ProgramMode = program.Mode

const (
	ModeInterpret = program.ModeInterpret
	ModeJIT       = program.ModeJIT
)
