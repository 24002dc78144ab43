// Package input decodes link-input manifests into linker objects.
//
// A manifest describes one relocatable object: its signatures, symbols,
// segment payloads, custom sections and relocations. Relocations and data
// symbols refer to their targets by name, so manifests can be written by
// hand or produced by any front end. Manifests are JSON, with payloads as
// hex strings, or CBOR, with payloads as byte strings.
//
//	objs, err := input.LoadAll(ctx, []string{"main.json", "lib.cbor"}, 0)
//	for _, o := range objs {
//		_ = l.AddObject(o)
//	}
package input
