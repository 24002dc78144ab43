package linker

import "fmt"

// SymbolFlags holds symbol attributes. The low bits use the object file
// symbol flag values so they can be written to a linking section unchanged.
type SymbolFlags uint32

const (
	FlagWeak         SymbolFlags = 0x1
	FlagLocal        SymbolFlags = 0x2
	FlagHidden       SymbolFlags = 0x4
	FlagUndefined    SymbolFlags = 0x10
	FlagExported     SymbolFlags = 0x20
	FlagExplicitName SymbolFlags = 0x40
	FlagNoStrip      SymbolFlags = 0x80
	FlagTLS          SymbolFlags = 0x100
	FlagAbsolute     SymbolFlags = 0x200

	// Linker-private bits, never written to output.
	FlagAlive    SymbolFlags = 1 << 24
	FlagMustLink SymbolFlags = 1 << 25
	FlagPassive  SymbolFlags = 1 << 26

	bindingMask SymbolFlags = FlagWeak | FlagLocal
	objectMask  SymbolFlags = 0xFFFF
)

// Binding is the symbol binding encoded in the two low flag bits.
type Binding uint8

const (
	BindingStrong Binding = 0
	BindingWeak   Binding = 1
	BindingLocal  Binding = 2
)

func (b Binding) String() string {
	switch b {
	case BindingStrong:
		return "strong"
	case BindingWeak:
		return "weak"
	case BindingLocal:
		return "local"
	default:
		return fmt.Sprintf("binding(%d)", uint8(b))
	}
}

func (f SymbolFlags) Binding() Binding   { return Binding(f & bindingMask) }
func (f SymbolFlags) Weak() bool         { return f.Binding() == BindingWeak }
func (f SymbolFlags) Local() bool        { return f.Binding() == BindingLocal }
func (f SymbolFlags) Hidden() bool       { return f&FlagHidden != 0 }
func (f SymbolFlags) Undefined() bool    { return f&FlagUndefined != 0 }
func (f SymbolFlags) Exported() bool     { return f&FlagExported != 0 }
func (f SymbolFlags) ExplicitName() bool { return f&FlagExplicitName != 0 }
func (f SymbolFlags) NoStrip() bool      { return f&FlagNoStrip != 0 }
func (f SymbolFlags) TLS() bool          { return f&FlagTLS != 0 }
func (f SymbolFlags) Alive() bool        { return f&FlagAlive != 0 }
func (f SymbolFlags) MustLink() bool     { return f&FlagMustLink != 0 }
func (f SymbolFlags) Passive() bool      { return f&FlagPassive != 0 }

// validBinding reports whether exactly one binding value is encoded.
func (f SymbolFlags) validBinding() bool {
	return f&bindingMask != bindingMask
}

// SymbolKind is the category of a symbol.
type SymbolKind uint8

const (
	KindFunction SymbolKind = iota
	KindGlobal
	KindTable
	KindData
)

func (k SymbolKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindGlobal:
		return "global"
	case KindTable:
		return "table"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// SyntheticKind names a linker-provided definition.
type SyntheticKind uint8

const (
	SynthNone SyntheticKind = iota

	// Functions
	SynthCallCtors
	SynthInitMemory
	SynthInitTLS
	SynthWeakStub // trap body for an unresolved weak function

	// Globals
	SynthStackPointer
	SynthHeapBaseGlobal
	SynthHeapEndGlobal
	SynthTLSBase
	SynthTLSSize
	SynthTLSAlign

	// Tables
	SynthIndirectFunctionTable

	// Data addresses
	SynthHeapBase
	SynthHeapEnd
	SynthDataEnd
	SynthGlobalBase
	SynthDSOHandle
	SynthStackLow
	SynthStackHigh
	SynthWeakData // zero address for an unresolved weak data symbol
)

var syntheticNames = map[SymbolKind]map[string]SyntheticKind{
	KindFunction: {
		"__wasm_call_ctors":  SynthCallCtors,
		"__wasm_init_memory": SynthInitMemory,
		"__wasm_init_tls":    SynthInitTLS,
	},
	KindGlobal: {
		"__stack_pointer": SynthStackPointer,
		"__heap_base":     SynthHeapBaseGlobal,
		"__heap_end":      SynthHeapEndGlobal,
		"__tls_base":      SynthTLSBase,
		"__tls_size":      SynthTLSSize,
		"__tls_align":     SynthTLSAlign,
	},
	KindTable: {
		"__indirect_function_table": SynthIndirectFunctionTable,
	},
	KindData: {
		"__heap_base":   SynthHeapBase,
		"__heap_end":    SynthHeapEnd,
		"__data_end":    SynthDataEnd,
		"__global_base": SynthGlobalBase,
		"__dso_handle":  SynthDSOHandle,
		"__stack_low":   SynthStackLow,
		"__stack_high":  SynthStackHigh,
	},
}

// LookupSynthetic matches name against the well-known linker symbols of kind.
func LookupSynthetic(kind SymbolKind, name string) (SyntheticKind, bool) {
	k, ok := syntheticNames[kind][name]
	return k, ok
}

func (k SyntheticKind) String() string {
	switch k {
	case SynthCallCtors:
		return "__wasm_call_ctors"
	case SynthInitMemory:
		return "__wasm_init_memory"
	case SynthInitTLS:
		return "__wasm_init_tls"
	case SynthWeakStub:
		return "undefined_weak"
	case SynthStackPointer:
		return "__stack_pointer"
	case SynthHeapBaseGlobal, SynthHeapBase:
		return "__heap_base"
	case SynthHeapEndGlobal, SynthHeapEnd:
		return "__heap_end"
	case SynthTLSBase:
		return "__tls_base"
	case SynthTLSSize:
		return "__tls_size"
	case SynthTLSAlign:
		return "__tls_align"
	case SynthIndirectFunctionTable:
		return "__indirect_function_table"
	case SynthDataEnd:
		return "__data_end"
	case SynthGlobalBase:
		return "__global_base"
	case SynthDSOHandle:
		return "__dso_handle"
	case SynthStackLow:
		return "__stack_low"
	case SynthStackHigh:
		return "__stack_high"
	case SynthWeakData:
		return "undefined_weak_data"
	default:
		return "none"
	}
}

type resolutionState uint8

const (
	stateUnresolved resolutionState = iota
	stateSynthetic
	stateDefined
)

// Resolution is the final binding of a symbol record: unresolved, a
// synthetic linker definition, or the index of a defined fragment.
type Resolution struct {
	state resolutionState
	synth SyntheticKind
	index uint32
}

// Unresolved returns the initial resolution.
func Unresolved() Resolution { return Resolution{} }

// Synthetic returns a resolution to a linker-provided definition.
func Synthetic(k SyntheticKind) Resolution {
	return Resolution{state: stateSynthetic, synth: k}
}

// Defined returns a resolution to the defined fragment at index.
func Defined(index uint32) Resolution {
	return Resolution{state: stateDefined, index: index}
}

// IsUnresolved reports whether no final value has been assigned.
func (r Resolution) IsUnresolved() bool { return r.state == stateUnresolved }

// Synthetic returns the synthetic kind, if r is synthetic.
func (r Resolution) Synthetic() (SyntheticKind, bool) {
	return r.synth, r.state == stateSynthetic
}

// Defined returns the fragment index, if r is a definition.
func (r Resolution) Defined() (uint32, bool) {
	return r.index, r.state == stateDefined
}

func (r Resolution) String() string {
	switch r.state {
	case stateSynthetic:
		return "synthetic(" + r.synth.String() + ")"
	case stateDefined:
		return fmt.Sprintf("defined(%d)", r.index)
	default:
		return "unresolved"
	}
}

// SourceLocation identifies where a symbol record came from.
type SourceLocation struct {
	Object ObjectIndex
	Valid  bool
}

// at returns a location inside object o.
func at(o ObjectIndex) SourceLocation {
	return SourceLocation{Object: o, Valid: true}
}
