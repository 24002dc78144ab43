package linker

import "github.com/wippyai/wasmld/wasm"

// FuncType is a handle to a deduplicated function signature.
type FuncType uint32

// TypeTable deduplicates function signatures.
type TypeTable struct {
	types []wasm.FuncType
	index map[string]FuncType
}

// NewTypeTable creates an empty signature table.
func NewTypeTable() *TypeTable {
	return &TypeTable{index: make(map[string]FuncType)}
}

// Intern returns the handle for ft, adding it on first use.
func (t *TypeTable) Intern(ft wasm.FuncType) FuncType {
	key := ft.Key()
	if h, ok := t.index[key]; ok {
		return h
	}
	h := FuncType(len(t.types))
	t.types = append(t.types, wasm.FuncType{
		Params:  append([]wasm.ValType(nil), ft.Params...),
		Results: append([]wasm.ValType(nil), ft.Results...),
	})
	t.index[key] = h
	return h
}

// Get returns the signature for h.
func (t *TypeTable) Get(h FuncType) wasm.FuncType {
	return t.types[h]
}

// Len returns the number of distinct signatures.
func (t *TypeTable) Len() int {
	return len(t.types)
}
