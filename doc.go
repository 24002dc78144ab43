// Package wasmld is a WebAssembly linker.
//
// It takes relocatable module fragments (functions, globals, tables, data
// segments and their relocations), decides which symbols are kept, resolves
// every cross-fragment reference, lays out linear memory and the index
// spaces, applies relocations and serializes one WebAssembly module.
//
// # Architecture Overview
//
//	wasmld/              Root package with version information
//	├── linker/          Resolution, garbage collection, layout and emission
//	├── wasm/            Binary format primitives (LEB128, writer, decoder)
//	├── input/           JSON and CBOR link-input manifests
//	├── errors/          Structured errors and the diagnostics sink
//	└── cmd/wasmld/      Command-line driver and interactive link map viewer
//
// # Quick Start
//
//	l := linker.New(linker.DefaultConfig())
//	if err := l.AddObject(obj); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := l.Link(ctx)
//	if err != nil {
//	    log.Fatal(err) // every accumulated diagnostic
//	}
//	if err := linker.WriteFile("out.wasm", res.Bytes); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// Resolution and layout problems are collected as *errors.Error values and
// returned together once the failing phase completes. Use errors.Flatten to
// walk them individually.
package wasmld
