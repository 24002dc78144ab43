package linker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// dataObject returns an object whose _start takes the address of one data
// symbol per segment. Symbol names are the segment names.
func dataObject(segs ...ObjSegment) *Object {
	var instrs []byte
	var relocs []ObjReloc
	var syms []ObjDataSymbol
	for i, seg := range segs {
		relocs = append(relocs, ObjReloc{Type: wasm.RelocMemoryAddrSLEB, Offset: uint32(len(instrs) + 2), Symbol: seg.Name})
		instrs = append(instrs, wasm.OpI32Const)
		instrs = append(instrs, padded...)
		instrs = append(instrs, wasm.OpDrop)
		size := max(seg.Size, uint32(len(seg.Data)))
		syms = append(syms, ObjDataSymbol{Name: seg.Name, Segment: i, Size: size})
	}
	return &Object{
		Path:        "data.o",
		Types:       []wasm.FuncType{voidType},
		Functions:   []ObjFunction{{Name: "_start", Code: body(instrs...), Relocs: relocs}},
		Segments:    segs,
		DataSymbols: syms,
	}
}

// Two segments with a common prefix form one output segment.
func TestSegmentsMergeByPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	res, m := mustLink(t, newTestLinker(t, cfg, dataObject(
		ObjSegment{Name: ".data.foo", Align: 4, Data: []byte{1, 2, 3, 4}},
		ObjSegment{Name: ".data.bar", Align: 4, Data: []byte{5, 6, 7, 8}},
	)))

	require.Len(t, res.Map.Segments, 1)
	seg := res.Map.Segments[0]
	require.Equal(t, ".data", seg.Name)
	require.Equal(t, uint32(8), seg.Size)
	require.Equal(t, uint32(1024), seg.Addr)

	// Equal prefix and alignment order by suffix.
	require.Len(t, m.Data, 1)
	require.Equal(t, wasm.I32ConstExpr(1024), m.Data[0].Offset)
	require.Equal(t, []byte{5, 6, 7, 8, 1, 2, 3, 4}, m.Data[0].Init)

	names := readNameMap(t, m, wasm.NameData)
	require.Equal(t, map[uint32]string{0: ".data"}, names)
}

// Zero-fill data occupies memory without being written.
func TestBSSIsNotSerialized(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	obj := dataObject(ObjSegment{Name: ".bss.buf", Align: 16, Size: 64})

	res, m := mustLink(t, newTestLinker(t, cfg, obj))
	require.Empty(t, m.Data)
	require.Nil(t, m.DataCount)
	require.Len(t, res.Map.Segments, 1)
	require.Equal(t, int32(-1), res.Map.Segments[0].Index)

	mem := res.Map.Memory
	require.Equal(t, uint32(1088), mem.DataEnd)
	require.Equal(t, uint32(1088), mem.StackLow)
	require.Equal(t, uint32(1088+4096), mem.HeapBase)
	require.Nil(t, readNameMap(t, m, wasm.NameData))

	// Imported memory has unknown contents, so zero-fill must be written.
	cfg.ImportMemory = true
	_, m = mustLink(t, newTestLinker(t, cfg, obj))
	require.Len(t, m.Data, 1)
	require.Equal(t, make([]byte, 64), m.Data[0].Init)
}

func TestSegmentAlignment(t *testing.T) {
	res, _ := mustLink(t, newTestLinker(t, testConfig(), dataObject(
		ObjSegment{Name: ".rodata.a", Align: 1, Data: []byte{1, 2, 3}},
		ObjSegment{Name: ".data.b", Align: 8, Data: make([]byte, 8)},
		ObjSegment{Name: ".data.c", Align: 2, Data: []byte{1}},
		ObjSegment{Name: ".rodata.d", Align: 16, Data: []byte{1}},
		ObjSegment{Name: ".bss.e", Align: 4, Size: 5},
	)))

	type span struct{ lo, hi uint32 }
	var spans []span
	for _, seg := range res.Map.Segments {
		require.Zero(t, seg.Addr%seg.Align, "segment %s", seg.Name)
		for _, in := range seg.Inputs {
			spans = append(spans, span{in.Addr, in.Addr + in.Size})
			require.GreaterOrEqual(t, in.Addr, seg.Addr)
			require.LessOrEqual(t, in.Addr+in.Size, seg.Addr+seg.Size)
		}
	}
	require.Len(t, spans, 5)
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			require.True(t, a.hi <= b.lo || b.hi <= a.lo, "inputs overlap: %v %v", a, b)
		}
	}

	for _, tc := range []struct {
		name  string
		align uint32
	}{{".rodata.a", 1}, {".data.b", 8}, {".data.c", 2}, {".rodata.d", 16}, {".bss.e", 4}} {
		in, ok := res.Map.Input(tc.name)
		require.True(t, ok)
		require.Zero(t, in.Addr%tc.align, tc.name)
	}

	mem := res.Map.Memory
	require.Zero(t, mem.StackLow%16)
	require.Zero(t, mem.StackHigh%16)
	require.Zero(t, mem.HeapBase%16)
	require.GreaterOrEqual(t, mem.HeapBase, mem.StackHigh)
	require.LessOrEqual(t, uint64(mem.HeapBase), mem.InitialPages*wasm.PageSize)
}

func TestStackFirst(t *testing.T) {
	cfg := testConfig()
	cfg.StackFirst = true
	obj := dataObject(ObjSegment{Name: ".data.x", Align: 4, Data: []byte{1, 2, 3, 4}})
	obj.Functions[0].Code = body(cat(
		[]byte{wasm.OpI32Const}, padded, []byte{wasm.OpDrop},
		[]byte{wasm.OpGlobalGet}, padded, []byte{wasm.OpDrop},
	)...)
	obj.Functions[0].Relocs = append(obj.Functions[0].Relocs,
		ObjReloc{Type: wasm.RelocGlobalIndexLEB, Offset: 9, Symbol: "__stack_pointer"})
	obj.Globals = []ObjGlobal{{
		Name:  "__stack_pointer",
		Flags: FlagUndefined,
		Type:  wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
	}}

	res, m := mustLink(t, newTestLinker(t, cfg, obj))
	mem := res.Map.Memory
	require.Equal(t, uint32(0), mem.StackLow)
	require.Equal(t, uint32(4096), mem.StackHigh)
	in, _ := res.Map.Input(".data.x")
	require.Equal(t, uint32(4096), in.Addr)
	require.Equal(t, uint32(4112), mem.HeapBase)
	require.Equal(t, wasm.I32ConstExpr(4096), m.Globals[0].Init)
}

func TestThreadLocalSegmentsLast(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	res, m := mustLink(t, newTestLinker(t, cfg, dataObject(
		ObjSegment{Name: ".tdata.t", Align: 8, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		ObjSegment{Name: ".data.d", Align: 4, Data: []byte{9, 9, 9, 9}},
	)))

	require.Len(t, res.Map.Segments, 2)
	require.Equal(t, ".data", res.Map.Segments[0].Name)
	tls := res.Map.Segments[1]
	require.Equal(t, ".tdata", tls.Name)
	require.True(t, tls.TLS)

	mem := res.Map.Memory
	require.Equal(t, uint32(1024), res.Map.Segments[0].Addr)
	require.Equal(t, uint32(1032), mem.TLSBase)
	require.Equal(t, uint32(8), mem.TLSSize)
	require.Equal(t, uint32(1040), mem.DataEnd)
	require.Len(t, m.Data, 2)
}

func TestThreadLocalBlockAlignment(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	cfg.SharedMemory = true
	res, _ := mustLink(t, newTestLinker(t, cfg, dataObject(
		ObjSegment{Name: ".data.x", Align: 4, Data: []byte{1, 2, 3, 4}},
		ObjSegment{Name: ".tbss.a", Align: 4, Size: 4},
		ObjSegment{Name: ".tdata.b", Align: 16, Data: make([]byte, 16)},
	)))

	var tls *MapSegment
	for i := range res.Map.Segments {
		if res.Map.Segments[i].TLS {
			tls = &res.Map.Segments[i]
		}
	}
	require.NotNil(t, tls)
	require.Equal(t, uint32(16), tls.Align)

	base := res.Map.Memory.TLSBase
	require.Equal(t, tls.Addr, base)
	require.Zero(t, base%tls.Align, "tls base %d", base)
	for _, tc := range []struct {
		name  string
		align uint32
	}{{".tbss.a", 4}, {".tdata.b", 16}} {
		in, ok := res.Map.Input(tc.name)
		require.True(t, ok)
		require.Zero(t, (in.Addr-base)%tc.align, tc.name)
	}
}

func TestMemoryLimits(t *testing.T) {
	tests := []struct {
		name  string
		stack uint64
		init  uint64
		max   uint64
		want  []string
	}{
		{
			name: "unaligned initial",
			init: wasm.PageSize + 1,
			want: []string{"initial memory value must be 65536-byte aligned"},
		},
		{
			name:  "initial too small",
			stack: 2 * wasm.PageSize,
			init:  wasm.PageSize,
			want:  []string{"initial memory value insufficient; minimum 131072"},
		},
		{
			name: "initial too large",
			init: 1 << 33,
			want: []string{"initial memory value exceeds 32-bit address space"},
		},
		{
			name:  "maximum too small",
			stack: 2 * wasm.PageSize,
			max:   wasm.PageSize,
			want:  []string{"maximum memory insufficient; minimum 131072"},
		},
		{
			name: "maximum unaligned and too large",
			max:  (1 << 33) + 1,
			want: []string{
				"maximum memory value must be 65536-byte aligned",
				"maximum memory value exceeds 32-bit address space",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.stack != 0 {
				cfg.StackSize = tt.stack
			}
			cfg.InitialMemory = tt.init
			cfg.MaxMemory = tt.max
			errs := linkErrors(t, newTestLinker(t, cfg, defObject("main.o", "_start", 0, 0)))

			var got []string
			for _, e := range errs {
				require.Equal(t, errors.KindMemoryLayout, e.Kind)
				got = append(got, e.Detail)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryPages(t *testing.T) {
	cfg := testConfig()
	cfg.InitialMemory = 4 * wasm.PageSize
	cfg.MaxMemory = 16 * wasm.PageSize
	res, m := mustLink(t, newTestLinker(t, cfg, defObject("main.o", "_start", 0, 0)))

	require.Equal(t, uint64(4), res.Map.Memory.InitialPages)
	require.Equal(t, uint64(16), res.Map.Memory.MaxPages)
	require.Equal(t, uint32(4*wasm.PageSize), res.Map.Memory.HeapEnd)
	require.Len(t, m.Memories, 1)
	require.Equal(t, uint64(4), m.Memories[0].Limits.Min)
	require.NotNil(t, m.Memories[0].Limits.Max)
	require.Equal(t, uint64(16), *m.Memories[0].Limits.Max)
}
