package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/linker"
	"github.com/wippyai/wasmld/wasm"
)

// answerJSON exports answer, which loads 42 from the data symbol value.
const answerJSON = `{
  "path": "answer.o",
  "types": [{"results": ["i32"]}],
  "functions": [
    {
      "name": "answer",
      "type": 0,
      "code": "004180808080002802000b",
      "relocs": [{"type": "R_WASM_MEMORY_ADDR_SLEB", "offset": 2, "symbol": "value"}]
    }
  ],
  "segments": [{"name": ".rodata.value", "align": 4, "data": "2a000000"}],
  "data": [{"name": "value", "segment": ".rodata.value", "size": 4}],
  "features": ["+mutable-globals"]
}`

func TestDecodeJSON(t *testing.T) {
	obj, err := Decode("answer.json", []byte(answerJSON), FormatAuto)
	require.NoError(t, err)

	require.Equal(t, "answer.o", obj.Path)
	require.Equal(t, []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}}, obj.Types)
	require.Len(t, obj.Functions, 1)
	require.Equal(t, []byte{0x00, 0x41, 0x80, 0x80, 0x80, 0x80, 0x00, 0x28, 0x02, 0x00, 0x0b}, obj.Functions[0].Code)
	require.Equal(t, []linker.ObjReloc{{Type: wasm.RelocMemoryAddrSLEB, Offset: 2, Symbol: "value"}}, obj.Functions[0].Relocs)
	require.Equal(t, []linker.ObjDataSymbol{{Name: "value", Segment: 0, Size: 4}}, obj.DataSymbols)
	require.Equal(t, []linker.Feature{{Prefix: linker.FeatureUsed, Name: "mutable-globals"}}, obj.Features)

	ctx := context.Background()
	cfg := linker.DefaultConfig()
	cfg.StackSize = 4096
	cfg.GlobalBase = 1024
	cfg.Entry = linker.EntryDisabled
	cfg.Exports = []string{"answer"}
	l := linker.New(cfg)
	require.NoError(t, l.AddObject(obj))
	res, err := l.Link(ctx)
	require.NoError(t, err)

	in, ok := res.Map.Input(".rodata.value")
	require.True(t, ok)
	require.Equal(t, uint32(1024), in.Addr)

	rt := wazero.NewRuntimeWithConfig(ctx, linker.RuntimeConfig())
	defer rt.Close(ctx)
	mod, err := rt.Instantiate(ctx, res.Bytes)
	require.NoError(t, err)
	results, err := mod.ExportedFunction("answer").Call(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func libManifest() *Manifest {
	limit := uint64(4)
	return &Manifest{
		Types: []Signature{{}, {Params: []string{"i32"}, Results: []string{"i64"}}},
		Functions: []Function{
			{Name: "init", Type: 0, Code: Hex{0x00, 0x0b}, Flags: []string{"hidden"}},
			{Name: "log", Module: "host", Field: "log_i32", Type: 1, Flags: []string{"undefined", "explicit_name"}},
		},
		Globals: []Global{
			{Name: "counter", Type: "i32", Mutable: true, Init: Hex{0x41, 0x00, 0x0b}},
		},
		Tables: []Table{{Name: "handles", ElemType: "externref", Min: 1, Max: &limit, Flags: []string{"exported"}}},
		Segments: []Segment{
			{Name: ".tbss.slot", Align: 8, Size: 8, Flags: []string{"tls"}},
			{Name: ".data.flag", Data: Hex{1}, Comdat: "flag"},
		},
		Data: []DataSymbol{
			{Name: "slot", Segment: ".tbss.slot", Size: 8, Flags: []string{"tls"}},
			{Name: "environ"},
		},
		Customs: []CustomSection{{
			Name:   ".debug_info",
			Data:   Hex{0, 0, 0, 0},
			Relocs: []Reloc{{Type: "FUNCTION_OFFSET_I32", Symbol: "init"}},
		}},
		InitFuncs: []InitFunc{{Priority: 100, Symbol: "init"}},
		Features:  []string{"-atomics", "=bulk-memory"},
	}
}

func TestDecodeCBOR(t *testing.T) {
	m := libManifest()
	data, err := Marshal(m, FormatCBOR)
	require.NoError(t, err)
	again, err := Marshal(libManifest(), FormatCBOR)
	require.NoError(t, err)
	require.Equal(t, data, again, "canonical encoding")

	got, err := Decode("lib.o", data, FormatAuto)
	require.NoError(t, err)

	m.Path = "lib.o"
	want, err := m.Object()
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.Equal(t, linker.FlagUndefined|linker.FlagExplicitName, got.Functions[1].Flags)
	require.Equal(t, "log_i32", got.Functions[1].ImportName)
	require.Equal(t, wasm.ValExtern, got.Tables[0].Type.ElemType)
	require.Equal(t, uint64(4), *got.Tables[0].Type.Limits.Max)
	require.Equal(t, 0, got.DataSymbols[0].Segment)
	require.Equal(t, -1, got.DataSymbols[1].Segment)
	require.True(t, got.DataSymbols[1].Flags.Undefined())
	require.Equal(t, wasm.RelocFunctionOffsetI32, got.Customs[0].Relocs[0].Type)
	require.Equal(t, []linker.ObjInitFunc{{Priority: 100, Symbol: "init"}}, got.InitFuncs)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		data string
		want Format
	}{
		{"a.json", "", FormatJSON},
		{"a.JSON", "\xa0", FormatJSON},
		{"a.cbor", "{}", FormatCBOR},
		{"a.o", "  \n{}", FormatJSON},
		{"a.o", "\xa1", FormatCBOR},
		{"a", "", FormatCBOR},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path, []byte(tt.data)); got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %v, want %v", tt.path, tt.data, got, tt.want)
		}
	}
}

func TestManifestErrors(t *testing.T) {
	const bad = `{
  "types": [{}],
  "functions": [{"name": "a", "type": 0, "flags": ["bogus"]}],
  "globals": [{"name": "g", "type": "i33", "init": "41000b"}],
  "segments": [{"name": ".data.x", "data": "00", "relocs": [{"type": "R_WASM_BOGUS", "offset": 0}]}],
  "data": [{"name": "x", "segment": ".data.y"}],
  "features": ["atomics"]
}`
	_, err := Decode("bad.json", []byte(bad), FormatAuto)
	require.Error(t, err)

	errs := errors.Flatten(err)
	require.Len(t, errs, 6)
	for _, e := range errs {
		require.Equal(t, errors.PhaseParse, e.Phase)
		require.Equal(t, errors.KindInvalidData, e.Kind)
		require.Equal(t, "bad.json", e.Source)
	}
	require.Equal(t, []string{"functions", "a"}, errs[0].Path)
	require.Contains(t, errs[0].Detail, `unknown flag "bogus"`)
	require.Contains(t, errs[1].Detail, "defined symbol has no code")
	require.Contains(t, errs[2].Detail, `unknown value type "i33"`)
	require.Contains(t, errs[3].Detail, `unknown relocation type "R_WASM_BOGUS"`)
	require.Contains(t, errs[4].Detail, `unknown segment ".data.y"`)
	require.Equal(t, []string{"features"}, errs[5].Path)
}

func TestBadHexPayload(t *testing.T) {
	_, err := Decode("x.json", []byte(`{"segments": [{"name": "s", "data": "zz"}]}`), FormatAuto)
	require.Error(t, err)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData})

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "x.json", e.Source)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	js, err := Marshal(libManifest(), FormatJSON)
	require.NoError(t, err)
	cb, err := Marshal(&Manifest{Path: "main.o", MustLink: true}, FormatCBOR)
	require.NoError(t, err)
	paths := []string{
		write("a.json", []byte(answerJSON)),
		write("lib.json", js),
		write("main.cbor", cb),
	}

	objs, err := LoadAll(context.Background(), paths, 2)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	require.Equal(t, "answer.o", objs[0].Path)
	require.Equal(t, paths[1], objs[1].Path)
	require.Equal(t, "main.o", objs[2].Path)
	require.True(t, objs[2].MustLink)

	t.Run("errors", func(t *testing.T) {
		bad := write("bad.json", []byte("{"))
		missing := filepath.Join(dir, "missing.json")

		_, err := LoadAll(context.Background(), []string{paths[0], bad, missing}, 0)
		require.Error(t, err)
		errs := errors.Flatten(err)
		require.Len(t, errs, 2)
		require.Equal(t, errors.KindInvalidData, errs[0].Kind)
		require.Equal(t, bad, errs[0].Source)
		require.Equal(t, errors.KindNotFound, errs[1].Kind)
	})
}
