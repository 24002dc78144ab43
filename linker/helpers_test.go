package linker

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

var (
	voidType  = wasm.FuncType{}
	i32Result = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
)

// padded is a five byte LEB128 placeholder.
var padded = []byte{0x80, 0x80, 0x80, 0x80, 0x00}

// body wraps instructions in a code entry with no locals.
func body(instrs ...byte) []byte {
	out := append([]byte{0x00}, instrs...)
	return append(out, wasm.OpEnd)
}

// cat concatenates byte slices.
func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// callBody calls target through a patched index. With drop the i32 result
// of target is discarded.
func callBody(target string, drop bool) ([]byte, []ObjReloc) {
	instrs := cat([]byte{wasm.OpCall}, padded)
	if drop {
		instrs = append(instrs, wasm.OpDrop)
	}
	return body(instrs...), []ObjReloc{{Type: wasm.RelocFunctionIndexLEB, Offset: 2, Symbol: target}}
}

// startObject returns an object whose _start calls target.
func startObject(path, target string, targetType uint32) *Object {
	code, relocs := callBody(target, targetType == 1)
	return &Object{
		Path:  path,
		Types: []wasm.FuncType{voidType, i32Result},
		Functions: []ObjFunction{
			{Name: "_start", Code: code, Relocs: relocs},
			{Name: target, Flags: FlagUndefined, Type: targetType},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StackSize = 4096
	return cfg
}

func newTestLinker(t *testing.T, cfg Config, objs ...*Object) *Linker {
	t.Helper()
	l := New(cfg)
	for _, o := range objs {
		require.NoError(t, l.AddObject(o))
	}
	return l
}

// mustLink links and decodes the output.
func mustLink(t *testing.T, l *Linker) (*Result, *wasm.Module) {
	t.Helper()
	res, err := l.Link(context.Background())
	require.NoError(t, err)
	m, err := wasm.ParseModule(res.Bytes)
	require.NoError(t, err)
	return res, m
}

// linkErrors links expecting failure and returns the individual diagnostics.
func linkErrors(t *testing.T, l *Linker) []*errors.Error {
	t.Helper()
	_, err := l.Link(context.Background())
	require.Error(t, err)
	errs := errors.Flatten(err)
	require.NotEmpty(t, errs)
	return errs
}

func kinds(errs []*errors.Error) []errors.Kind {
	out := make([]errors.Kind, len(errs))
	for i, e := range errs {
		out[i] = e.Kind
	}
	return out
}

// sectionIDs walks the top-level sections of a module.
func sectionIDs(t *testing.T, bin []byte) (ids []byte, customs []string) {
	t.Helper()
	r := bytes.NewReader(bin[8:])
	for r.Len() > 0 {
		id, err := r.ReadByte()
		require.NoError(t, err)
		size, err := wasm.ReadLEB128u(r)
		require.NoError(t, err)
		payload := make([]byte, size)
		_, err = io.ReadFull(r, payload)
		require.NoError(t, err)
		ids = append(ids, id)
		if id == wasm.SectionCustom {
			pr := bytes.NewReader(payload)
			n, err := wasm.ReadLEB128u(pr)
			require.NoError(t, err)
			name := make([]byte, n)
			_, err = io.ReadFull(pr, name)
			require.NoError(t, err)
			customs = append(customs, string(name))
		}
	}
	return ids, customs
}

// readNameMap decodes one subsection of the name section.
func readNameMap(t *testing.T, m *wasm.Module, id byte) map[uint32]string {
	t.Helper()
	cs, ok := m.Custom("name")
	require.True(t, ok, "name section")
	r := bytes.NewReader(cs.Data)
	for r.Len() > 0 {
		sub, err := r.ReadByte()
		require.NoError(t, err)
		size, err := wasm.ReadLEB128u(r)
		require.NoError(t, err)
		payload := make([]byte, size)
		_, err = io.ReadFull(r, payload)
		require.NoError(t, err)
		if sub != id {
			continue
		}
		pr := bytes.NewReader(payload)
		count, err := wasm.ReadLEB128u(pr)
		require.NoError(t, err)
		out := make(map[uint32]string, count)
		var last int64 = -1
		for range count {
			idx, err := wasm.ReadLEB128u(pr)
			require.NoError(t, err)
			require.Greater(t, int64(idx), last, "name map sorted by index")
			last = int64(idx)
			n, err := wasm.ReadLEB128u(pr)
			require.NoError(t, err)
			name := make([]byte, n)
			_, err = io.ReadFull(pr, name)
			require.NoError(t, err)
			out[idx] = string(name)
		}
		return out
	}
	return nil
}
