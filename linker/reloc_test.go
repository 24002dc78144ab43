package linker

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmld/wasm"
)

func TestPatchEncodings(t *testing.T) {
	tests := []struct {
		typ  wasm.RelocType
		v    int64
		want []byte
	}{
		{wasm.RelocFunctionIndexLEB, 1, []byte{0x81, 0x80, 0x80, 0x80, 0x00}},
		{wasm.RelocTypeIndexLEB, 300, []byte{0xAC, 0x82, 0x80, 0x80, 0x00}},
		{wasm.RelocTableIndexSLEB, -1, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}},
		{wasm.RelocMemoryAddrSLEB, 64, []byte{0xC0, 0x80, 0x80, 0x80, 0x00}},
		{wasm.RelocMemoryAddrI32, 0x01020304, []byte{0x04, 0x03, 0x02, 0x01}},
		{wasm.RelocFunctionOffsetI32, tombstone, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{wasm.RelocMemoryAddrLEB64, 1, []byte{0x81, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}},
		{wasm.RelocMemoryAddrSLEB64, -2, []byte{0xFE, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}},
		{wasm.RelocMemoryAddrI64, 0x0102030405060708, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			require.Equal(t, len(tt.want), tt.typ.Size())
			buf := make([]byte, len(tt.want)+2)
			for i := range buf {
				buf[i] = 0xAA
			}
			patch(buf, 1, tt.typ, tt.v)
			require.Equal(t, byte(0xAA), buf[0])
			require.Equal(t, byte(0xAA), buf[len(buf)-1])
			require.Equal(t, tt.want, buf[1:len(buf)-1])
		})
	}
}

func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

// relocObject exercises every relocation target from code and from a debug
// section.
func relocObject() *Object {
	start := body(cat(
		[]byte{wasm.OpCall}, padded,
		[]byte{wasm.OpI32Const}, padded, []byte{wasm.OpDrop},
		[]byte{wasm.OpI32Const}, padded, []byte{wasm.OpDrop},
		[]byte{wasm.OpGlobalGet}, padded, []byte{wasm.OpDrop},
	)...)

	info := make([]byte, 38)
	return &Object{
		Path:  "main.o",
		Types: []wasm.FuncType{voidType, i32Result},
		Functions: []ObjFunction{
			{Name: "_start", Code: start, Relocs: []ObjReloc{
				{Type: wasm.RelocFunctionIndexLEB, Offset: 2, Symbol: "f"},
				{Type: wasm.RelocTableIndexSLEB, Offset: 8, Symbol: "f"},
				{Type: wasm.RelocMemoryAddrSLEB, Offset: 15, Symbol: "var"},
				{Type: wasm.RelocGlobalIndexLEB, Offset: 22, Symbol: "g"},
			}},
			{Name: "f", Type: 1, Code: body(wasm.OpI32Const, 0x01)},
			{Name: "dead", Code: body()},
		},
		Globals: []ObjGlobal{{
			Name: "g",
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: wasm.I32ConstExpr(0),
		}},
		Tables: []ObjTable{{
			Name:  "t",
			Flags: FlagExported,
			Type:  wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}},
		}},
		Segments:    []ObjSegment{{Name: ".data.var", Align: 4, Data: []byte{0, 0, 0, 0}}},
		DataSymbols: []ObjDataSymbol{{Name: "var", Segment: 0, Size: 4}},
		Customs: []ObjCustom{
			{Name: ".debug_str", Data: []byte("cd\x00")},
			{Name: ".debug_info", Data: info, Relocs: []ObjReloc{
				{Type: wasm.RelocFunctionIndexI32, Offset: 0, Symbol: "f"},
				{Type: wasm.RelocTableIndexI32, Offset: 4, Symbol: "f"},
				{Type: wasm.RelocMemoryAddrI32, Offset: 8, Symbol: "var", Addend: 4},
				{Type: wasm.RelocGlobalIndexI32, Offset: 12, Symbol: "g"},
				{Type: wasm.RelocTypeIndexLEB, Offset: 16, TypeIndex: 1},
				{Type: wasm.RelocFunctionOffsetI32, Offset: 21, Symbol: "f"},
				{Type: wasm.RelocFunctionOffsetI32, Offset: 25, Symbol: "dead"},
				{Type: wasm.RelocSectionOffsetI32, Offset: 29, Section: ".debug_str"},
				{Type: wasm.RelocTableNumberLEB, Offset: 33, Symbol: "t"},
			}},
		},
	}
}

func TestApplyRelocations(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	strs := &Object{Path: "str.o", Customs: []ObjCustom{{Name: ".debug_str", Data: []byte("ab\x00")}}}
	l := newTestLinker(t, cfg, strs, relocObject())
	res, m := mustLink(t, l)

	in, ok := res.Map.Input(".data.var")
	require.True(t, ok)
	require.Equal(t, uint32(1024), in.Addr)

	require.Equal(t, cat(
		[]byte{wasm.OpCall}, paddedU(1),
		[]byte{wasm.OpI32Const}, paddedS(1), []byte{wasm.OpDrop},
		[]byte{wasm.OpI32Const}, paddedS(1024), []byte{wasm.OpDrop},
		[]byte{wasm.OpGlobalGet}, paddedU(0), []byte{wasm.OpDrop, wasm.OpEnd},
	), m.Code[0].Code)

	// The indirect table comes first, then the defined table t.
	require.Len(t, m.Tables, 2)

	info, ok := m.Custom(".debug_info")
	require.True(t, ok)
	require.Equal(t, cat(
		u32(1),    // function index of f
		u32(1),    // table slot of f
		u32(1028), // address of var plus addend
		u32(0),    // global index of g
		paddedU(1),
		u32(36), // body of f: padded count, _start size and body, f size
		u32(tombstone),
		u32(3), // after the .debug_str of str.o
		paddedU(1),
	), info.Data)

	str, ok := m.Custom(".debug_str")
	require.True(t, ok)
	require.Equal(t, []byte("ab\x00cd\x00"), str.Data)
}

func TestStripDebugDropsDebugSections(t *testing.T) {
	cfg := testConfig()
	cfg.Strip = StripDebug
	obj := relocObject()
	obj.Customs = append(obj.Customs, ObjCustom{Name: "vendor.meta", Data: []byte{1}})
	res, _ := mustLink(t, newTestLinker(t, cfg, obj))

	_, customs := sectionIDs(t, res.Bytes)
	require.Equal(t, []string{"vendor.meta"}, customs)

	cfg.BuildID = BuildIDFast
	res, _ = mustLink(t, newTestLinker(t, cfg, relocObject()))
	_, customs = sectionIDs(t, res.Bytes)
	require.Empty(t, customs, "metadata sections follow debug info")
}

func TestRelocationsInData(t *testing.T) {
	start := body(cat([]byte{wasm.OpI32Const}, padded, []byte{wasm.OpDrop})...)
	cfg := testConfig()
	cfg.GlobalBase = 1024
	l := newTestLinker(t, cfg, &Object{
		Path:  "main.o",
		Types: []wasm.FuncType{voidType},
		Functions: []ObjFunction{{Name: "_start", Code: start, Relocs: []ObjReloc{
			{Type: wasm.RelocMemoryAddrSLEB, Offset: 2, Symbol: "a"},
		}}},
		Segments: []ObjSegment{
			{Name: ".data.a", Align: 4, Data: make([]byte, 4), Relocs: []ObjReloc{
				{Type: wasm.RelocMemoryAddrLocRelI32, Offset: 0, Symbol: "b"},
			}},
			{Name: ".data.b", Align: 4, Data: make([]byte, 4), Relocs: []ObjReloc{
				{Type: wasm.RelocMemoryAddrI32, Offset: 0, Symbol: "a", Addend: 2},
			}},
		},
		DataSymbols: []ObjDataSymbol{
			{Name: "a", Segment: 0, Size: 4},
			{Name: "b", Segment: 1, Size: 4},
		},
	})
	_, m := mustLink(t, l)

	require.Len(t, m.Data, 1)
	require.Equal(t, wasm.I32ConstExpr(1024), m.Data[0].Offset)
	require.Equal(t, cat(
		u32(4),    // b relative to the patched word
		u32(1026), // a plus addend
	), m.Data[0].Init)
}

func TestTLSRelocation(t *testing.T) {
	start := body(cat([]byte{wasm.OpI32Const}, padded, []byte{wasm.OpDrop})...)
	cfg := testConfig()
	cfg.GlobalBase = 1024
	l := newTestLinker(t, cfg, &Object{
		Path:  "main.o",
		Types: []wasm.FuncType{voidType},
		Functions: []ObjFunction{{Name: "_start", Code: start, Relocs: []ObjReloc{
			{Type: wasm.RelocMemoryAddrTLSSLEB, Offset: 2, Symbol: "tv"},
		}}},
		Segments: []ObjSegment{
			{Name: ".data.x", Align: 4, Data: []byte{1, 2, 3, 4}, Flags: FlagNoStrip},
			{Name: ".tdata.tv", Align: 4, Data: []byte{0, 0, 0, 0, 9, 0, 0, 0}},
		},
		DataSymbols: []ObjDataSymbol{{Name: "tv", Segment: 1, Offset: 4, Size: 4}},
	})
	res, m := mustLink(t, l)

	require.Equal(t, uint32(1024), res.Map.Memory.TLSBase, "only live segments are placed")
	require.Equal(t, cat([]byte{wasm.OpI32Const}, paddedS(4), []byte{wasm.OpDrop, wasm.OpEnd}), m.Code[0].Code)
}
