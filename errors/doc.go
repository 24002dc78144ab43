// Package errors provides structured error types for the linker.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the originating input, notes and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindUndefinedSymbol).
//		Source("main.o").
//		Detail("undefined function: %s", "add").
//		Note("referenced from %s", "_start").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UndefinedSymbol("function", "add", "main.o")
//	err := errors.MissingEntry("_start")
//
// Diagnostics collects errors across a whole pass so that independent problems are
// reported together; Err combines them with go.uber.org/multierr.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
