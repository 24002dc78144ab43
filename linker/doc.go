// Package linker implements WebAssembly link-time resolution and image layout.
//
// # Main Types
//
//   - Linker: owns the fragment tables, string arena and signature table
//   - Object: one relocatable input, added with AddObject
//   - Config: output kind, entry, exports, memory and strip options
//   - Result: the serialized module and its link Map
//
// # Passes
//
//  1. Load: symbol records are created and weak/strong definitions chosen
//  2. Resolve: worklist marking from roots, synthetic symbols, imports
//  3. Layout: segment grouping, stack, TLS, heap and memory limits
//  4. Emit: sections in canonical order with relocations applied
//
// Link reruns resolve, layout and emit from the loaded state each time and
// never mutates fragment payloads.
//
// # Thread Safety
//
// Commit may be called from several goroutines. Everything else, including
// AddObject and Link, must be called from one goroutine.
//
// # Example
//
//	l := New(DefaultConfig())
//	_ = l.AddObject(obj)
//	res, err := l.Link(ctx)
package linker
