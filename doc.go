// Package ebpfcore is the in-process runtime core: object/handle
// management, epoch-based reclamation, a typed map engine, a program
// engine that loads and attaches sandboxed code to named hooks, and a
// wire dispatcher for out-of-process callers. Most callers only need
// Runtime; the internal/ subpackages are its building blocks and stay
// independently testable.
package ebpfcore
