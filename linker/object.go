package linker

import (
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/wasm"
)

// symtab maps output entities to their symbol table indices.
type symtab struct {
	funcs   map[ref]uint32
	globals map[ref]uint32
	tables  map[ref]uint32
	data    map[uint32]uint32 // defined data symbol -> index
	extData map[uint32]uint32 // undefined data record -> index
	count   uint32
}

// writeSymbols writes the symbol table subsection payload and returns the
// symbol indices.
func (e *emitter) writeSymbols(w *wasm.Writer) *symtab {
	s, l := e.s, e.l
	st := &symtab{
		funcs:   make(map[ref]uint32),
		globals: make(map[ref]uint32),
		tables:  make(map[ref]uint32),
		data:    make(map[uint32]uint32),
		extData: make(map[uint32]uint32),
	}
	body := wasm.NewWriter()

	indexed := func(kind byte, flags SymbolFlags, index uint32, name string) {
		flags &= objectMask
		body.Byte(kind)
		body.WriteU32(uint32(flags))
		body.WriteU32(index)
		if !flags.Undefined() || flags.ExplicitName() {
			body.WriteName(name)
		}
		st.count++
	}
	importFlags := func(flags SymbolFlags, name, field String) SymbolFlags {
		flags |= FlagUndefined
		if name != field {
			flags |= FlagExplicitName
		}
		return flags
	}

	for _, ri := range s.funcImports {
		rec := &l.funcImports[ri]
		r := ref{kind: refImport, index: ri}
		st.funcs[r] = st.count
		indexed(wasm.SymtabFunction, importFlags(rec.Flags, rec.Name, rec.Field), s.indices.funcs[r], l.str(rec.Name))
	}
	for _, r := range s.funcs {
		if r.kind != refDefined {
			continue
		}
		fn := &l.functions[r.index]
		st.funcs[r] = st.count
		indexed(wasm.SymtabFunction, fn.Flags, s.indices.funcs[r], l.str(fn.Name))
	}
	for _, ri := range s.globalImports {
		rec := &l.globalImports[ri]
		r := ref{kind: refImport, index: ri}
		st.globals[r] = st.count
		indexed(wasm.SymtabGlobal, importFlags(rec.Flags, rec.Name, rec.Field), s.indices.globals[r], l.str(rec.Name))
	}
	for _, r := range s.globals {
		if r.kind != refDefined {
			continue
		}
		g := &l.globals[r.index]
		st.globals[r] = st.count
		indexed(wasm.SymtabGlobal, g.Flags, s.indices.globals[r], l.str(g.Name))
	}
	for _, ri := range s.tableImports {
		rec := &l.tableImports[ri]
		r := ref{kind: refImport, index: ri}
		st.tables[r] = st.count
		indexed(wasm.SymtabTable, importFlags(rec.Flags, rec.Name, rec.Field), s.indices.tables[r], l.str(rec.Name))
	}
	for _, r := range s.tables {
		t := &l.tables[r.index]
		st.tables[r] = st.count
		indexed(wasm.SymtabTable, t.Flags, s.indices.tables[r], l.str(t.Name))
	}

	for _, si := range s.symbols {
		d := &l.dataSymbols[si]
		seg := &l.segments[d.Segment]
		g := &s.layout.groups[seg.group]
		st.data[si] = st.count
		body.Byte(wasm.SymtabData)
		body.WriteU32(uint32(d.Flags & objectMask))
		body.WriteName(l.str(d.Name))
		body.WriteU32(uint32(g.data))
		body.WriteU32(seg.offset + d.Offset)
		body.WriteU32(d.Size)
		st.count++
	}
	for _, ri := range s.dataImports {
		rec := &l.dataImports[ri]
		st.extData[ri] = st.count
		body.Byte(wasm.SymtabData)
		body.WriteU32(uint32((rec.Flags | FlagUndefined) & objectMask))
		body.WriteName(l.str(rec.Name))
		st.count++
	}

	w.WriteU32(st.count)
	w.WriteBytes(body.Bytes())
	return st
}

// symbolIndex returns the symbol table index a relocation refers to.
func (e *emitter) symbolIndex(st *symtab, r outReloc) (uint32, bool) {
	s := e.s
	p := r.target
	switch r.typ.Target() {
	case wasm.TargetTypeIndex:
		idx, ok := s.indices.types[FuncType(p.Index)]
		return idx, ok
	case wasm.TargetFunctionIndex, wasm.TargetTableIndex, wasm.TargetFunctionOffset:
		fr, ok := s.funcRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := st.funcs[fr]
		return idx, ok
	case wasm.TargetGlobalIndex:
		gr, ok := s.globalRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := st.globals[gr]
		return idx, ok
	case wasm.TargetTableNumber:
		tr, ok := s.tableRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := st.tables[tr]
		return idx, ok
	case wasm.TargetMemoryAddr:
		if p.Kind == PointeeData {
			idx, ok := st.data[p.Index]
			return idx, ok
		}
		ri, ok := e.l.dataByName[p.Name]
		if !ok {
			return 0, false
		}
		if si, ok := e.l.dataImports[ri].Resolution.Defined(); ok {
			idx, ok := st.data[si]
			return idx, ok
		}
		idx, ok := st.extData[ri]
		return idx, ok
	}
	return 0, false
}

func writeSubsection(w *wasm.Writer, id byte, body func(*wasm.Writer)) {
	sub := wasm.NewWriter()
	body(sub)
	w.Byte(id)
	w.WriteU32(uint32(sub.Len()))
	w.WriteBytes(sub.Bytes())
}

// linkingSection writes the object metadata: symbol table, segment info,
// init functions and comdats.
func (e *emitter) linkingSection() {
	s, l, w := e.s, e.l, e.w
	mark := e.beginCustom("linking")
	w.WriteU32(wasm.LinkingVersion)

	var st *symtab
	writeSubsection(w, wasm.LinkingSymbolTable, func(sub *wasm.Writer) {
		st = e.writeSymbols(sub)
	})
	e.symbols = st

	if s.layout.numData > 0 {
		writeSubsection(w, wasm.LinkingSegmentInfo, func(sub *wasm.Writer) {
			sub.WriteU32(s.layout.numData)
			for _, g := range s.layout.groups {
				if g.data < 0 {
					continue
				}
				var flags uint32
				if g.tls {
					flags |= wasm.SegmentFlagTLS
				}
				sub.WriteName(g.name)
				sub.WriteU32(uint32(bits.TrailingZeros32(max(g.align, 1))))
				sub.WriteU32(flags)
			}
		})
	}

	type initEntry struct{ priority, symbol uint32 }
	var inits []initEntry
	for _, f := range l.initFuncs {
		fr, ok := s.funcRef(f.Target)
		if !ok {
			continue
		}
		if idx, ok := st.funcs[fr]; ok {
			inits = append(inits, initEntry{f.Priority, idx})
		}
	}
	if len(inits) > 0 {
		writeSubsection(w, wasm.LinkingInitFuncs, func(sub *wasm.Writer) {
			sub.WriteU32(uint32(len(inits)))
			for _, in := range inits {
				sub.WriteU32(in.priority)
				sub.WriteU32(in.symbol)
			}
		})
	}

	if len(l.comdats) > 0 {
		writeSubsection(w, wasm.LinkingComdatInfo, func(sub *wasm.Writer) {
			sub.WriteU32(uint32(len(l.comdats)))
			for _, c := range l.comdats {
				type member struct {
					kind  byte
					index uint32
				}
				var members []member
				for _, r := range s.funcs {
					if r.kind == refDefined && l.functions[r.index].Comdat == c.Name {
						members = append(members, member{wasm.ComdatFunction, s.indices.funcs[r]})
					}
				}
				seen := make(map[int32]bool)
				for _, g := range s.layout.groups {
					for _, si := range g.segs {
						if l.segments[si].Comdat == c.Name && g.data >= 0 && !seen[g.data] {
							seen[g.data] = true
							members = append(members, member{wasm.ComdatData, uint32(g.data)})
						}
					}
				}
				sub.WriteName(l.str(c.Name))
				sub.WriteU32(0)
				sub.WriteU32(uint32(len(members)))
				for _, m := range members {
					sub.Byte(m.kind)
					sub.WriteU32(m.index)
				}
			}
		})
	}
	w.EndSection(mark)
}

// relocSection writes a reloc.* section for the section at index target.
func (e *emitter) relocSection(name string, target uint32, relocs []outReloc) {
	if len(relocs) == 0 || e.symbols == nil {
		return
	}
	w := e.w
	mark := e.beginCustom(name)
	w.WriteU32(target)
	count := e.vec()
	var n uint32
	for _, r := range relocs {
		idx, ok := e.symbolIndex(e.symbols, r)
		if !ok {
			Logger().Warn("relocation without symbol dropped from object output",
				zap.String("section", name),
				zap.String("type", r.typ.String()),
				zap.Uint32("offset", r.offset))
			continue
		}
		w.Byte(byte(r.typ))
		w.WriteU32(r.offset)
		w.WriteU32(idx)
		if r.typ.HasAddend() {
			w.WriteS64(r.addend)
		}
		n++
	}
	w.PatchU32(count, n)
	w.EndSection(mark)
}
