package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the link the error occurred
type Phase string

const (
	PhaseConfig   Phase = "config"   // configuration validation
	PhaseLoad     Phase = "load"     // input loading
	PhaseResolve  Phase = "resolve"  // symbol resolution and GC
	PhaseLayout   Phase = "layout"   // memory and index-space layout
	PhaseEmit     Phase = "emit"     // binary serialization
	PhaseVerify   Phase = "verify"   // output validation
	PhaseDelegate Phase = "delegate" // external linker
	PhaseParse    Phase = "parse"    // manifest and binary parsing
)

// Kind categorizes the error
type Kind string

const (
	KindUndefinedSymbol   Kind = "undefined_symbol"
	KindMissingEntry      Kind = "missing_entry"
	KindMissingExport     Kind = "missing_export"
	KindDuplicateSymbol   Kind = "duplicate_symbol"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMemoryLayout      Kind = "memory_layout"
	KindFeatureConflict   Kind = "feature_conflict"
	KindUnsupported       Kind = "unsupported"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindOverflow          Kind = "overflow"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
	KindExternal          Kind = "external"
)

// Error is the structured error type used throughout the linker
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Source string
	Detail string
	Path   []string
	Notes  []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Source != "" {
		b.WriteString(" (")
		b.WriteString(e.Source)
		b.WriteByte(')')
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	for _, n := range e.Notes {
		b.WriteString("\n  note: ")
		b.WriteString(n)
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// AddNote appends a note line and returns the error for chaining.
func (e *Error) AddNote(format string, args ...any) *Error {
	if len(args) > 0 {
		e.Notes = append(e.Notes, fmt.Sprintf(format, args...))
	} else {
		e.Notes = append(e.Notes, format)
	}
	return e
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Source sets the originating input
func (b *Builder) Source(src string) *Builder {
	b.err.Source = src
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Note appends a note line
func (b *Builder) Note(format string, args ...any) *Builder {
	b.err.AddNote(format, args...)
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UndefinedSymbol creates an undefined symbol error. kind is the symbol category
// ("function", "global", "table" or "data").
func UndefinedSymbol(kind, name, source string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindUndefinedSymbol,
		Source: source,
		Detail: fmt.Sprintf("undefined %s: %s", kind, name),
		Value:  name,
	}
}

// MissingEntry creates the error reported when the entry symbol does not exist
func MissingEntry(name string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindMissingEntry,
		Detail: fmt.Sprintf("entry symbol '%s' missing", name),
		Value:  name,
		Notes:  []string{"disable the entry point (no-entry) to suppress this error"},
	}
}

// MissingExport creates the error reported for an explicitly requested export
// that names no symbol
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("manually specified export name '%s' undefined", name),
		Value:  name,
	}
}

// DuplicateSymbol creates an error for two strong definitions of one name
func DuplicateSymbol(name, first, second string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindDuplicateSymbol,
		Source: second,
		Detail: fmt.Sprintf("duplicate symbol definition: %s", name),
		Value:  name,
		Notes:  []string{"first definition in " + first},
	}
}

// SignatureMismatch creates an error for a reference whose type disagrees with
// the definition
func SignatureMismatch(kind, name, defined, referenced string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignatureMismatch,
		Source: referenced,
		Detail: fmt.Sprintf("%s signature mismatch: %s", kind, name),
		Value:  name,
		Notes:  []string{"defined in " + defined},
	}
}

// MemoryLayout creates a memory layout configuration error
func MemoryLayout(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseLayout,
		Kind:   KindMemoryLayout,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Internal creates an error for a state that well-formed input can never reach.
// These are returned immediately and never collected as diagnostics.
func Internal(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// UndefinedRef is a single undefined symbol reference
type UndefinedRef struct {
	Source string // input that referenced the symbol
	Kind   string // function, global, table, data
	Name   string
}

// UndefinedSymbolsError summarizes every undefined symbol of a failed link,
// grouped by referencing input
type UndefinedSymbolsError struct {
	Refs []UndefinedRef
}

// CollectUndefined extracts the undefined symbol diagnostics from errs.
// It returns nil when there are none.
func CollectUndefined(errs []*Error) *UndefinedSymbolsError {
	var refs []UndefinedRef
	for _, e := range errs {
		if e.Kind != KindUndefinedSymbol {
			continue
		}
		kind, name, _ := strings.Cut(strings.TrimPrefix(e.Detail, "undefined "), ": ")
		refs = append(refs, UndefinedRef{Source: e.Source, Kind: kind, Name: name})
	}
	if len(refs) == 0 {
		return nil
	}
	return &UndefinedSymbolsError{Refs: refs}
}

// demangleRust attempts to extract readable function name from mangled Rust symbol
func demangleRust(name string) string {
	// Rust mangled names start with _ZN
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// Format: _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		// Skip hash suffixes (17 char hashes starting with 'h')
		if len(part) == 17 && part[0] == 'h' {
			allHex := true
			for i := 1; i < 17; i++ {
				c := part[i]
				if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
					allHex = false
					break
				}
			}
			if allHex {
				continue
			}
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

func (e *UndefinedSymbolsError) Error() string {
	if len(e.Refs) == 0 {
		return "[resolve] undefined_symbol: no symbols specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d undefined symbol(s):\n", len(e.Refs))

	bySource := make(map[string][]string)
	var order []string
	for _, ref := range e.Refs {
		src := ref.Source
		if src == "" {
			src = "<linker>"
		}
		if _, exists := bySource[src]; !exists {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], ref.Kind+" "+demangleRust(ref.Name))
	}

	for _, src := range order {
		b.WriteString("\n  ")
		b.WriteString(src)
		b.WriteString(":\n")
		for _, sym := range bySource[src] {
			b.WriteString("    - ")
			b.WriteString(sym)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UndefinedSymbolsError) Is(target error) bool {
	_, ok := target.(*UndefinedSymbolsError)
	return ok
}
