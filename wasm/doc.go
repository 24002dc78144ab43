// Package wasm provides the WebAssembly binary format primitives used by the linker.
//
// # Encoding
//
// Writer appends LEB128 values, names and fixed-width integers to a growing
// buffer. Section sizes are reserved as padded 5-byte LEB128 fields and
// patched when the section is closed:
//
//	w := wasm.NewWriter()
//	wasm.WriteHeader(w)
//	mark := w.BeginSection(wasm.SectionType)
//	w.WriteU32(1)
//	wasm.WriteFuncType(w, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
//	w.EndSection(mark)
//
// PutPaddedLEB128u and PutPaddedLEB128s rewrite fixed-width fields in place,
// which is how relocations are applied to function bodies and data.
//
// # Relocations
//
// RelocType enumerates the object file relocation kinds. Each type knows its
// storage encoding (Size), whether entries carry an addend, and which index
// or address space it resolves into (Target).
//
// # Parsing
//
// ParseModule decodes a module into a Module for inspection:
//
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, exp := range m.Exports {
//	    fmt.Println(exp.Name)
//	}
//
// The decoder covers the constructs a linked executable or object contains.
// It does not validate instruction streams.
package wasm
