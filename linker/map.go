package linker

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/wippyai/wasmld/wasm"
)

// Map describes where every surviving entity ended up in the output.
type Map struct {
	Size      int          `json:"size"`
	Functions []MapEntry   `json:"functions"`
	Globals   []MapEntry   `json:"globals"`
	Segments  []MapSegment `json:"segments"`
	Exports   []MapExport  `json:"exports"`
	Features  []string     `json:"features,omitempty"`
	Memory    MapMemory    `json:"memory"`
}

// MapEntry is one function or global of the output index space.
type MapEntry struct {
	Index  uint32 `json:"index"`
	Name   string `json:"name"`
	Origin string `json:"origin"` // "import", "defined", "synthetic", "stub" or "address"
	Object string `json:"object,omitempty"`
	Size   uint32 `json:"size,omitempty"`
}

// MapSegment is one output data segment with the inputs merged into it.
type MapSegment struct {
	Name    string     `json:"name"`
	Index   int32      `json:"index"` // -1 for zero-fill segments not written
	Addr    uint32     `json:"addr"`
	Size    uint32     `json:"size"`
	Align   uint32     `json:"align"`
	TLS     bool       `json:"tls,omitempty"`
	Passive bool       `json:"passive,omitempty"`
	Inputs  []MapInput `json:"inputs"`
}

// MapInput is an input segment placed inside an output segment.
type MapInput struct {
	Name   string `json:"name"`
	Object string `json:"object"`
	Addr   uint32 `json:"addr"`
	Size   uint32 `json:"size"`
}

// MapExport is one export of the output.
type MapExport struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Index uint32 `json:"index"`
}

// MapMemory is the linear memory layout.
type MapMemory struct {
	GlobalBase   uint32 `json:"global_base"`
	StackLow     uint32 `json:"stack_low"`
	StackHigh    uint32 `json:"stack_high"`
	TLSBase      uint32 `json:"tls_base,omitempty"`
	TLSSize      uint32 `json:"tls_size,omitempty"`
	DataEnd      uint32 `json:"data_end"`
	HeapBase     uint32 `json:"heap_base"`
	HeapEnd      uint32 `json:"heap_end"`
	InitialPages uint64 `json:"initial_pages"`
	MaxPages     uint64 `json:"max_pages,omitempty"`
}

var refOrigin = [...]string{
	refImport:    "import",
	refDefined:   "defined",
	refSynthetic: "synthetic",
	refStub:      "stub",
	refAddress:   "address",
}

// funcName returns the name of an output function and the input that
// defined it.
func (s *linkState) funcName(r ref) (name, object string) {
	l := s.l
	switch r.kind {
	case refImport:
		rec := &l.funcImports[r.index]
		return l.str(rec.Name), l.sourcePath(rec.Source)
	case refStub:
		rec := &l.funcImports[r.index]
		return SynthWeakStub.String() + ":" + l.str(rec.Name), l.sourcePath(rec.Source)
	case refDefined:
		fn := &l.functions[r.index]
		return l.str(fn.Name), l.ObjectPath(fn.Object)
	default:
		return SyntheticKind(r.index).String(), ""
	}
}

func (s *linkState) globalName(r ref) (name, object string) {
	l := s.l
	switch r.kind {
	case refImport:
		rec := &l.globalImports[r.index]
		return l.str(rec.Name), l.sourcePath(rec.Source)
	case refDefined:
		g := &l.globals[r.index]
		return l.str(g.Name), l.ObjectPath(g.Object)
	case refAddress:
		rec := &l.dataImports[r.index]
		return l.str(rec.Name), l.sourcePath(rec.Source)
	default:
		return SyntheticKind(r.index).String(), ""
	}
}

func sortEntries(es []MapEntry) {
	slices.SortFunc(es, func(a, b MapEntry) int { return cmp.Compare(a.Index, b.Index) })
}

func (s *linkState) buildMap(size int) *Map {
	l := s.l
	ml := &s.layout
	m := &Map{
		Size: size,
		Memory: MapMemory{
			GlobalBase:   ml.globalBase,
			StackLow:     ml.stackLow,
			StackHigh:    ml.stackHigh,
			TLSBase:      ml.tlsBase,
			TLSSize:      ml.tlsSize,
			DataEnd:      ml.dataEnd,
			HeapBase:     ml.heapBase,
			HeapEnd:      ml.heapEnd,
			InitialPages: ml.initialPages,
			MaxPages:     ml.maxPages,
		},
	}

	for r, idx := range s.indices.funcs {
		name, obj := s.funcName(r)
		e := MapEntry{Index: idx, Name: name, Origin: refOrigin[r.kind], Object: obj}
		if r.kind == refDefined {
			e.Size = l.functions[r.index].Code.Len
		}
		m.Functions = append(m.Functions, e)
	}
	sortEntries(m.Functions)
	for r, idx := range s.indices.globals {
		name, obj := s.globalName(r)
		m.Globals = append(m.Globals, MapEntry{Index: idx, Name: name, Origin: refOrigin[r.kind], Object: obj})
	}
	sortEntries(m.Globals)

	for _, g := range ml.groups {
		ms := MapSegment{
			Name:    g.name,
			Index:   g.data,
			Addr:    g.addr,
			Size:    g.size,
			Align:   g.align,
			TLS:     g.tls,
			Passive: g.passive,
		}
		for _, si := range g.segs {
			seg := &l.segments[si]
			ms.Inputs = append(ms.Inputs, MapInput{
				Name:   l.str(seg.Name),
				Object: l.ObjectPath(seg.Object),
				Addr:   seg.addr,
				Size:   seg.Size,
			})
		}
		m.Segments = append(m.Segments, ms)
	}

	for _, x := range s.exports {
		e := MapExport{Name: x.name}
		switch x.kind {
		case wasm.KindFunc:
			e.Kind, e.Index = "function", s.indices.funcs[x.ref]
		case wasm.KindGlobal:
			e.Kind, e.Index = "global", s.indices.globals[x.ref]
		}
		m.Exports = append(m.Exports, e)
	}
	for _, f := range s.feats {
		m.Features = append(m.Features, f.String())
	}
	return m
}

// Function returns the map entry for the named output function.
func (m *Map) Function(name string) (MapEntry, bool) {
	for _, e := range m.Functions {
		if e.Name == name {
			return e, true
		}
	}
	return MapEntry{}, false
}

// Global returns the map entry for the named output global.
func (m *Map) Global(name string) (MapEntry, bool) {
	for _, e := range m.Globals {
		if e.Name == name {
			return e, true
		}
	}
	return MapEntry{}, false
}

// Input returns the placement of the named input segment.
func (m *Map) Input(name string) (MapInput, bool) {
	for _, s := range m.Segments {
		for _, in := range s.Inputs {
			if in.Name == name {
				return in, true
			}
		}
	}
	return MapInput{}, false
}

// WriteTo writes the map in a human readable text form.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	mem := m.Memory
	fmt.Fprintf(&b, "output %s\n\n", humanize.IBytes(uint64(m.Size)))

	fmt.Fprintf(&b, "memory\n")
	fmt.Fprintf(&b, "  %-12s 0x%08x\n", "global_base", mem.GlobalBase)
	fmt.Fprintf(&b, "  %-12s 0x%08x-0x%08x (%s)\n", "stack", mem.StackLow, mem.StackHigh,
		humanize.IBytes(uint64(mem.StackHigh-mem.StackLow)))
	if mem.TLSSize > 0 {
		fmt.Fprintf(&b, "  %-12s 0x%08x (%s)\n", "tls", mem.TLSBase, humanize.IBytes(uint64(mem.TLSSize)))
	}
	fmt.Fprintf(&b, "  %-12s 0x%08x\n", "data_end", mem.DataEnd)
	fmt.Fprintf(&b, "  %-12s 0x%08x-0x%08x\n", "heap", mem.HeapBase, mem.HeapEnd)
	if mem.MaxPages > 0 {
		fmt.Fprintf(&b, "  %-12s %d-%d\n", "pages", mem.InitialPages, mem.MaxPages)
	} else {
		fmt.Fprintf(&b, "  %-12s %d\n", "pages", mem.InitialPages)
	}

	if len(m.Segments) > 0 {
		fmt.Fprintf(&b, "\nsegments\n")
		for _, s := range m.Segments {
			idx := fmt.Sprint(s.Index)
			if s.Index < 0 {
				idx = "-"
			}
			fmt.Fprintf(&b, "  %3s 0x%08x %10s  %s", idx, s.Addr, humanize.IBytes(uint64(s.Size)), s.Name)
			if s.TLS {
				b.WriteString(" tls")
			}
			if s.Passive {
				b.WriteString(" passive")
			}
			b.WriteByte('\n')
			for _, in := range s.Inputs {
				fmt.Fprintf(&b, "        0x%08x %10s  %s (%s)\n", in.Addr, humanize.IBytes(uint64(in.Size)), in.Name, in.Object)
			}
		}
	}

	writeEntries := func(title string, es []MapEntry) {
		if len(es) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s\n", title)
		for _, e := range es {
			fmt.Fprintf(&b, "  %5d %-9s %s", e.Index, e.Origin, e.Name)
			if e.Size > 0 {
				fmt.Fprintf(&b, " [%s]", humanize.IBytes(uint64(e.Size)))
			}
			if e.Object != "" && e.Object != "<internal>" {
				fmt.Fprintf(&b, " (%s)", e.Object)
			}
			b.WriteByte('\n')
		}
	}
	writeEntries("functions", m.Functions)
	writeEntries("globals", m.Globals)

	if len(m.Exports) > 0 {
		fmt.Fprintf(&b, "\nexports\n")
		for _, x := range m.Exports {
			fmt.Fprintf(&b, "  %-8s %5d %s\n", x.Kind, x.Index, x.Name)
		}
	}
	if len(m.Features) > 0 {
		fmt.Fprintf(&b, "\nfeatures %s\n", strings.Join(m.Features, " "))
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
