package cl

import (
	"fmt"
)

// CompileError is returned by Context.CompileKernel when kernel source fails
// to compile. It carries the offending source and the compiler diagnostic so
// generated-code bugs are debuggable from the error alone.
type CompileError struct {
	// KernelName is the entry point that was requested.
	KernelName string

	// Diagnostic is the compiler's error message.
	Diagnostic string

	// Source is the full kernel source that failed to compile.
	Source string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("kernel %q failed to compile: %s\n--- kernel source ---\n%s", e.KernelName, e.Diagnostic, e.Source)
}
