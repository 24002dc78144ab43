package linker

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestLinkMap(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	cfg.Exports = []string{"var"}
	strs := &Object{Path: "str.o", Customs: []ObjCustom{{Name: ".debug_str", Data: []byte("ab\x00")}}}
	res, _ := mustLink(t, newTestLinker(t, cfg, strs, relocObject()))
	m := res.Map

	require.Equal(t, len(res.Bytes), m.Size)

	start, ok := m.Function("_start")
	require.True(t, ok)
	require.Equal(t, uint32(0), start.Index)
	require.Equal(t, "defined", start.Origin)
	require.Equal(t, "main.o", start.Object)
	require.Equal(t, uint32(29), start.Size)

	_, ok = m.Function("dead")
	require.False(t, ok)

	v, ok := m.Global("var")
	require.True(t, ok)
	require.Equal(t, "address", v.Origin)

	require.Len(t, m.Segments, 1)
	require.Equal(t, []MapInput{{Name: ".data.var", Object: "main.o", Addr: 1024, Size: 4}}, m.Segments[0].Inputs)

	var names []string
	for _, x := range m.Exports {
		names = append(names, x.Kind+":"+x.Name)
	}
	require.Equal(t, []string{"function:_start", "global:var"}, names)

	mem := m.Memory
	require.Equal(t, uint32(1024), mem.GlobalBase)
	require.Equal(t, uint32(1028), mem.DataEnd)
	require.Equal(t, uint32(1040), mem.StackLow)
	require.Equal(t, uint32(1040+4096), mem.StackHigh)
	require.Equal(t, mem.StackHigh, mem.HeapBase)
	require.Equal(t, uint64(1), mem.InitialPages)
}

func TestLinkMapText(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalBase = 1024
	res, _ := mustLink(t, newTestLinker(t, cfg, relocObject()))

	var b strings.Builder
	n, err := res.Map.WriteTo(&b)
	require.NoError(t, err)
	require.Equal(t, int64(b.Len()), n)

	text := b.String()
	for _, want := range []string{
		"memory\n",
		"global_base  0x00000400",
		"stack        0x00000410-0x00001410 (4.0 KiB)",
		"\nsegments\n",
		".data.var (main.o)",
		"\nfunctions\n",
		"_start",
		"\nglobals\n",
		"\nexports\n",
	} {
		require.Contains(t, text, want)
	}
}

func TestLinkMapJSON(t *testing.T) {
	res, _ := mustLink(t, newTestLinker(t, testConfig(), defObject("main.o", "_start", 0, 7)))
	data, err := json.Marshal(res.Map)
	require.NoError(t, err)

	var back Map
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, res.Map.Functions, back.Functions)
	require.Equal(t, res.Map.Memory, back.Memory)
	require.Contains(t, string(data), `"heap_base":4096`)
}
