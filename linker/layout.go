package linker

import (
	"cmp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

const stackAlign = 16

// group is a run of merged segments emitted as one data section entry.
type group struct {
	name    string
	tls     bool
	passive bool
	bss     bool
	align   uint32
	addr    uint32
	size    uint32
	segs    []uint32
	data    int32 // data section index, -1 when the group is not emitted
}

// memLayout is the linear memory image computed by layout.
type memLayout struct {
	groups []group

	globalBase uint32
	stackLow   uint32
	stackHigh  uint32
	tlsBase    uint32
	tlsSize    uint32
	tlsAlign   uint32
	tlsGroup   int32
	initFlag   uint32
	dataEnd    uint32
	heapBase   uint32
	heapEnd    uint32

	initialPages uint64
	maxPages     uint64
	hasMax       bool

	numData    uint32
	anyPassive bool
}

// indexSpaces holds the final function, global, table and type indices.
type indexSpaces struct {
	funcs   map[ref]uint32
	globals map[ref]uint32
	tables  map[ref]uint32
	types   map[FuncType]uint32

	typeList []FuncType
	indirect int32 // index of the indirect function table, -1 if absent
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// splitSegmentName splits a segment name into the text before the first
// '.' that follows an optional leading '.', and the rest.
func splitSegmentName(name string) (prefix, suffix string) {
	start := 0
	if strings.HasPrefix(name, ".") {
		start = 1
	}
	if i := strings.IndexByte(name[start:], '.'); i >= 0 {
		return name[:start+i], name[start+i:]
	}
	return name, ""
}

// isBSSName reports whether a segment is zero-fill by naming convention.
func isBSSName(name string) bool {
	prefix, _ := splitSegmentName(name)
	return prefix == ".bss"
}

type segKey struct {
	index  uint32
	tls    bool
	prefix string
	suffix string
	name   string
	align  uint32
}

// sortedSegments orders live segments by TLS, name prefix, descending
// alignment, name suffix and input order.
func (s *linkState) sortedSegments() []segKey {
	keys := make([]segKey, 0, len(s.segments))
	for _, i := range s.segments {
		seg := &s.l.segments[i]
		name := s.l.str(seg.Name)
		prefix, suffix := splitSegmentName(name)
		keys = append(keys, segKey{
			index:  i,
			tls:    seg.Flags.TLS(),
			prefix: prefix,
			suffix: suffix,
			name:   name,
			align:  seg.Align,
		})
	}
	slices.SortFunc(keys, func(a, b segKey) int {
		if a.tls != b.tls {
			if b.tls {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.prefix, b.prefix); c != 0 {
			return c
		}
		if c := cmp.Compare(b.align, a.align); c != 0 {
			return c
		}
		if c := cmp.Compare(a.suffix, b.suffix); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})
	return keys
}

func (s *linkState) mergeable(a, b segKey) bool {
	if a.tls || b.tls {
		return a.tls && b.tls
	}
	if s.passive(&s.l.segments[a.index]) != s.passive(&s.l.segments[b.index]) {
		return false
	}
	return a.name == b.name || a.prefix == b.prefix
}

// layoutMemory assigns every live segment an address and computes the
// stack, TLS and heap regions and the memory size. Size violations are
// all reported before returning.
func (s *linkState) layoutMemory() {
	done := phase("layout")
	ml := &s.layout
	*ml = memLayout{tlsGroup: -1, globalBase: uint32(s.cfg.GlobalBase)}
	object := s.cfg.isObject()

	cursor := s.cfg.GlobalBase
	stack := alignUp(s.cfg.stackSize(), stackAlign)
	if s.cfg.StackFirst && !object {
		cursor = alignUp(cursor, stackAlign)
		ml.stackLow = uint32(cursor)
		cursor += stack
		ml.stackHigh = uint32(cursor)
	}

	keys := s.sortedSegments()
	var tlsAlign uint32
	for _, k := range keys {
		if k.tls {
			tlsAlign = max(tlsAlign, k.align)
		}
	}
	for i, k := range keys {
		seg := &s.l.segments[k.index]
		if k.tls && (i == 0 || !keys[i-1].tls) {
			// The TLS block is copied to a base aligned to __tls_align.
			cursor = alignUp(cursor, uint64(tlsAlign))
		}
		cursor = alignUp(cursor, uint64(seg.Align))
		if i == 0 || !s.mergeable(keys[i-1], k) {
			g := group{
				name:    k.prefix,
				tls:     k.tls,
				passive: s.passive(seg),
				bss:     !k.tls && k.prefix == ".bss",
				addr:    uint32(cursor),
				data:    -1,
			}
			if k.tls {
				g.name = ".tdata"
				g.passive = s.cfg.SharedMemory
				ml.tlsGroup = int32(len(ml.groups))
				ml.tlsBase = uint32(cursor)
			}
			ml.groups = append(ml.groups, g)
		}
		gi := len(ml.groups) - 1
		g := &ml.groups[gi]
		g.align = max(g.align, seg.Align)
		g.segs = append(g.segs, k.index)
		seg.group = int32(gi)
		seg.addr = uint32(cursor)
		seg.offset = uint32(cursor) - g.addr
		cursor += uint64(seg.Size)
		g.size = uint32(cursor) - g.addr
	}
	if ml.tlsGroup >= 0 {
		g := &ml.groups[ml.tlsGroup]
		ml.tlsSize = g.size
		ml.tlsAlign = g.align
	}

	if s.initMemory && s.cfg.SharedMemory {
		cursor = alignUp(cursor, 4)
		ml.initFlag = uint32(cursor)
		cursor += 4
	}
	ml.dataEnd = uint32(cursor)

	if !s.cfg.StackFirst && !object {
		cursor = alignUp(cursor, stackAlign)
		ml.stackLow = uint32(cursor)
		cursor += stack
		ml.stackHigh = uint32(cursor)
	}
	heapBase := alignUp(cursor, stackAlign)
	if heapBase > wasm.MaxMemory32 {
		s.diags.Report(errors.MemoryLayout("total memory size %d exceeds 32-bit address space", heapBase))
		heapBase = wasm.MaxMemory32
	}
	ml.heapBase = uint32(heapBase)

	for gi := range ml.groups {
		g := &ml.groups[gi]
		if g.bss && !s.cfg.ImportMemory && !object {
			continue
		}
		g.data = int32(ml.numData)
		ml.numData++
		if g.passive {
			ml.anyPassive = true
		}
	}

	s.checkMemorySize(heapBase)
	done(
		zap.Int("groups", len(ml.groups)),
		zap.Uint32("data_end", ml.dataEnd),
		zap.Uint32("heap_base", ml.heapBase),
		zap.Uint64("pages", ml.initialPages),
	)
}

func (s *linkState) checkMemorySize(heapBase uint64) {
	ml := &s.layout
	initial := alignUp(heapBase, wasm.PageSize)

	if n := s.cfg.InitialMemory; n != 0 {
		if n%wasm.PageSize != 0 {
			s.diags.Report(errors.MemoryLayout("initial memory value must be %d-byte aligned", wasm.PageSize))
		}
		if n < heapBase {
			s.diags.Report(errors.MemoryLayout("initial memory value insufficient; minimum %d", heapBase))
		}
		if n > wasm.MaxMemory32 {
			s.diags.Report(errors.MemoryLayout("initial memory value exceeds 32-bit address space"))
		}
		initial = n
	}
	ml.initialPages = initial / wasm.PageSize
	ml.heapEnd = uint32(min(ml.initialPages*wasm.PageSize, wasm.MaxMemory32-1))

	if n := s.cfg.MaxMemory; n != 0 {
		if n%wasm.PageSize != 0 {
			s.diags.Report(errors.MemoryLayout("maximum memory value must be %d-byte aligned", wasm.PageSize))
		}
		if need := max(heapBase, initial); n < need {
			s.diags.Report(errors.MemoryLayout("maximum memory insufficient; minimum %d", need))
		}
		if n > wasm.MaxMemory32 {
			s.diags.Report(errors.MemoryLayout("maximum memory value exceeds 32-bit address space"))
		}
		ml.maxPages = n / wasm.PageSize
		ml.hasMax = true
	} else if s.cfg.SharedMemory {
		ml.maxPages = ml.initialPages
		ml.hasMax = true
	}
}

// funcType returns the signature of an output function.
func (s *linkState) funcType(r ref) FuncType {
	l := s.l
	switch r.kind {
	case refImport, refStub:
		return l.funcImports[r.index].Type
	case refDefined:
		return l.functions[r.index].Type
	default:
		return l.types.Intern(syntheticSignature(SyntheticKind(r.index)))
	}
}

// assignIndices numbers the function, global, table and type index spaces.
// Imports come first in each space, then definitions in marking order.
func (s *linkState) assignIndices() {
	ix := &s.indices
	*ix = indexSpaces{
		funcs:    make(map[ref]uint32),
		globals:  make(map[ref]uint32),
		tables:   make(map[ref]uint32),
		types:    make(map[FuncType]uint32),
		indirect: -1,
	}

	useType := func(t FuncType) {
		if _, ok := ix.types[t]; !ok {
			ix.types[t] = uint32(len(ix.typeList))
			ix.typeList = append(ix.typeList, t)
		}
	}

	var n uint32
	for _, ri := range s.funcImports {
		r := ref{kind: refImport, index: ri}
		ix.funcs[r] = n
		useType(s.funcType(r))
		n++
	}
	for _, r := range s.funcs {
		ix.funcs[r] = n
		useType(s.funcType(r))
		n++
	}
	for _, t := range s.typeUses {
		useType(t)
	}

	n = 0
	for _, ri := range s.globalImports {
		ix.globals[ref{kind: refImport, index: ri}] = n
		n++
	}
	for _, r := range s.globals {
		ix.globals[r] = n
		n++
	}

	n = 0
	indirect := synthRef(SynthIndirectFunctionTable)
	if s.indirectTable && s.cfg.ImportTable {
		ix.tables[indirect] = n
		ix.indirect = int32(n)
		n++
	}
	for _, ri := range s.tableImports {
		ix.tables[ref{kind: refImport, index: ri}] = n
		n++
	}
	if s.indirectTable && !s.cfg.ImportTable {
		ix.tables[indirect] = n
		ix.indirect = int32(n)
		n++
	}
	for _, r := range s.tables {
		ix.tables[r] = n
		n++
	}
}

// dataAddress returns the address of a data pointee. ok is false when the
// target has no address in this link.
func (s *linkState) dataAddress(p Pointee) (uint32, bool) {
	l := s.l
	if p.Kind == PointeeData {
		return s.symbolAddress(p.Index)
	}
	ri, ok := l.dataByName[p.Name]
	if !ok {
		return 0, false
	}
	return s.recordAddress(ri)
}

func (s *linkState) recordAddress(ri uint32) (uint32, bool) {
	rec := &s.l.dataImports[ri]
	if si, ok := rec.Resolution.Defined(); ok {
		return s.symbolAddress(si)
	}
	if k, ok := rec.Resolution.Synthetic(); ok {
		return s.syntheticAddress(k), true
	}
	return 0, false
}

func (s *linkState) symbolAddress(si uint32) (uint32, bool) {
	d := &s.l.dataSymbols[si]
	seg := &s.l.segments[d.Segment]
	if !seg.Flags.Alive() {
		return 0, false
	}
	return seg.addr + d.Offset, true
}

func (s *linkState) syntheticAddress(k SyntheticKind) uint32 {
	ml := &s.layout
	switch k {
	case SynthHeapBase:
		return ml.heapBase
	case SynthHeapEnd:
		return ml.heapEnd
	case SynthDataEnd:
		return ml.dataEnd
	case SynthGlobalBase:
		return ml.globalBase
	case SynthStackLow:
		return ml.stackLow
	case SynthStackHigh:
		return ml.stackHigh
	default:
		// __dso_handle and unresolved weak data
		return 0
	}
}
