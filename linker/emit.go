package linker

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// emitter serializes one link pass. Section sizes and vector counts are
// written as padded LEB128 placeholders and patched once known.
type emitter struct {
	s *linkState
	l *Linker
	w *wasm.Writer

	next      uint32 // index of the next section
	codeIndex uint32
	dataIndex uint32

	codeOff   map[ref]uint32 // function body offsets within the code section payload
	customOff []uint32       // custom segment offsets within their output section

	codeRelocs []outReloc
	dataRelocs []outReloc
	symbols    *symtab // object output only
}

func (e *emitter) begin(id byte) (mark int, index uint32) {
	index = e.next
	e.next++
	return e.w.BeginSection(id), index
}

func (e *emitter) beginCustom(name string) int {
	e.next++
	return e.w.BeginCustomSection(name)
}

// vec reserves a padded element count.
func (e *emitter) vec() int { return e.w.ReserveU32() }

// emit writes the output module.
func (s *linkState) emit() ([]byte, error) {
	done := phase("emit")
	e := &emitter{
		s:       s,
		l:       s.l,
		w:       wasm.NewWriter(),
		codeOff: make(map[ref]uint32),
	}
	e.planCode()
	e.planCustoms()

	wasm.WriteHeader(e.w)
	e.typeSection()
	e.importSection()
	e.functionSection()
	e.tableSection()
	e.memorySection()
	if err := e.globalSection(); err != nil {
		return nil, err
	}
	e.exportSection()
	e.startSection()
	e.elementSection()
	e.dataCountSection()
	if err := e.codeSection(); err != nil {
		return nil, err
	}
	if err := e.dataSection(); err != nil {
		return nil, err
	}
	if s.cfg.isObject() {
		e.linkingSection()
		e.relocSection("reloc.CODE", e.codeIndex, e.codeRelocs)
		e.relocSection("reloc.DATA", e.dataIndex, e.dataRelocs)
	}
	if err := e.customSections(); err != nil {
		return nil, err
	}
	if err := e.buildIDSection(); err != nil {
		return nil, err
	}
	done(zap.Int("bytes", e.w.Len()), zap.Uint32("sections", e.next))
	return e.w.Bytes(), nil
}

// planCode computes every function body offset before any code is written,
// so FUNCTION_OFFSET relocations can refer forward.
func (e *emitter) planCode() {
	off := uint32(wasm.PaddedLEB32)
	for _, r := range e.s.funcs {
		n := e.bodyLen(r)
		off += uint32(wasm.SizeLEB128u(uint64(n)))
		e.codeOff[r] = off
		off += n
	}
}

func (e *emitter) bodyLen(r ref) uint32 {
	if r.kind == refDefined {
		return e.l.functions[r.index].Code.Len
	}
	if r.kind == refStub {
		return uint32(len(stubBody))
	}
	return uint32(len(e.s.syntheticBody(SyntheticKind(r.index))))
}

func (e *emitter) planCustoms() {
	sizes := make(map[String]uint32)
	e.customOff = make([]uint32, len(e.l.customs))
	for i, c := range e.l.customs {
		e.customOff[i] = sizes[c.Name]
		sizes[c.Name] += c.Payload.Len
	}
}

func (e *emitter) typeSection() {
	ix := &e.s.indices
	if len(ix.typeList) == 0 {
		return
	}
	mark, _ := e.begin(wasm.SectionType)
	e.w.WriteU32(uint32(len(ix.typeList)))
	for _, t := range ix.typeList {
		wasm.WriteFuncType(e.w, e.l.types.Get(t))
	}
	e.w.EndSection(mark)
}

func (e *emitter) memoryLimits() wasm.Limits {
	ml := &e.s.layout
	lim := wasm.Limits{Min: ml.initialPages, Shared: e.s.cfg.SharedMemory}
	if ml.hasMax {
		m := ml.maxPages
		lim.Max = &m
	}
	return lim
}

func (e *emitter) indirectLimits(imported bool) wasm.Limits {
	n := uint64(len(e.s.indirect) + 1)
	lim := wasm.Limits{Min: n}
	if !imported && !e.s.cfg.GrowableTable {
		lim.Max = &n
	}
	return lim
}

func (e *emitter) importSection() {
	s, l, w := e.s, e.l, e.w
	importTable := s.indirectTable && s.cfg.ImportTable
	importMemory := s.cfg.ImportMemory || s.cfg.isObject()
	n := len(s.funcImports) + len(s.tableImports) + len(s.globalImports)
	if importTable {
		n++
	}
	if importMemory {
		n++
	}
	if n == 0 {
		return
	}

	mark, _ := e.begin(wasm.SectionImport)
	w.WriteU32(uint32(n))
	for _, ri := range s.funcImports {
		rec := &l.funcImports[ri]
		w.WriteName(l.str(rec.Module))
		w.WriteName(l.str(rec.Field))
		w.Byte(wasm.KindFunc)
		w.WriteU32(s.indices.types[rec.Type])
	}
	if importTable {
		w.WriteName(s.cfg.importModule())
		w.WriteName(SynthIndirectFunctionTable.String())
		w.Byte(wasm.KindTable)
		wasm.WriteTableType(w, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: e.indirectLimits(true)})
	}
	for _, ri := range s.tableImports {
		rec := &l.tableImports[ri]
		w.WriteName(l.str(rec.Module))
		w.WriteName(l.str(rec.Field))
		w.Byte(wasm.KindTable)
		wasm.WriteTableType(w, rec.Type)
	}
	if importMemory {
		w.WriteName("env")
		if s.cfg.isObject() {
			w.WriteName("__linear_memory")
		} else {
			w.WriteName("memory")
		}
		w.Byte(wasm.KindMemory)
		wasm.WriteMemoryType(w, wasm.MemoryType{Limits: e.memoryLimits()})
	}
	for _, ri := range s.globalImports {
		rec := &l.globalImports[ri]
		w.WriteName(l.str(rec.Module))
		w.WriteName(l.str(rec.Field))
		w.Byte(wasm.KindGlobal)
		wasm.WriteGlobalType(w, rec.Type)
	}
	e.w.EndSection(mark)
}

func (e *emitter) functionSection() {
	s := e.s
	if len(s.funcs) == 0 {
		return
	}
	mark, _ := e.begin(wasm.SectionFunction)
	e.w.WriteU32(uint32(len(s.funcs)))
	for _, r := range s.funcs {
		e.w.WriteU32(s.indices.types[s.funcType(r)])
	}
	e.w.EndSection(mark)
}

func (e *emitter) tableSection() {
	s := e.s
	defineIndirect := s.indirectTable && !s.cfg.ImportTable
	n := len(s.tables)
	if defineIndirect {
		n++
	}
	if n == 0 {
		return
	}
	mark, _ := e.begin(wasm.SectionTable)
	e.w.WriteU32(uint32(n))
	if defineIndirect {
		wasm.WriteTableType(e.w, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: e.indirectLimits(false)})
	}
	for _, r := range s.tables {
		wasm.WriteTableType(e.w, e.l.tables[r.index].Type)
	}
	e.w.EndSection(mark)
}

func (e *emitter) memorySection() {
	if e.s.cfg.ImportMemory || e.s.cfg.isObject() {
		return
	}
	mark, _ := e.begin(wasm.SectionMemory)
	e.w.WriteU32(1)
	wasm.WriteMemoryType(e.w, wasm.MemoryType{Limits: e.memoryLimits()})
	e.w.EndSection(mark)
}

func (e *emitter) globalSection() error {
	s, l, w := e.s, e.l, e.w
	if len(s.globals) == 0 {
		return nil
	}
	mark, _ := e.begin(wasm.SectionGlobal)
	w.WriteU32(uint32(len(s.globals)))
	for _, r := range s.globals {
		switch r.kind {
		case refDefined:
			g := &l.globals[r.index]
			init := append([]byte(nil), l.arena.Bytes(g.Init)...)
			if err := s.applyRelocs(g.Relocs, relocSite{buf: init}, e.codeOff, e.customOff); err != nil {
				return err
			}
			wasm.WriteGlobalType(w, g.Type)
			w.WriteBytes(init)
		case refSynthetic:
			k := SyntheticKind(r.index)
			wasm.WriteGlobalType(w, syntheticGlobalType(k))
			w.WriteBytes(s.syntheticGlobalInit(k))
		case refAddress:
			addr, ok := s.recordAddress(r.index)
			if !ok {
				return errors.Internal(errors.PhaseEmit, "exported data symbol %s has no address",
					l.str(l.dataImports[r.index].Name))
			}
			wasm.WriteGlobalType(w, wasm.GlobalType{ValType: wasm.ValI32})
			w.WriteBytes(wasm.I32ConstExpr(int32(addr)))
		default:
			return errors.Internal(errors.PhaseEmit, "global entry of kind %d", r.kind)
		}
	}
	w.EndSection(mark)
	return nil
}

func (e *emitter) exportSection() {
	s, w := e.s, e.w
	if s.cfg.isObject() {
		return
	}
	type entry struct {
		name  string
		kind  byte
		index uint32
	}
	var list []entry
	for _, x := range s.exports {
		var idx uint32
		switch x.kind {
		case wasm.KindFunc:
			idx = s.indices.funcs[x.ref]
		case wasm.KindGlobal:
			idx = s.indices.globals[x.ref]
		}
		list = append(list, entry{x.name, x.kind, idx})
	}
	if s.cfg.ExportMemory {
		list = append(list, entry{"memory", wasm.KindMemory, 0})
	}
	if s.cfg.ExportTable && s.indices.indirect >= 0 {
		list = append(list, entry{SynthIndirectFunctionTable.String(), wasm.KindTable, uint32(s.indices.indirect)})
	}
	if len(list) == 0 {
		return
	}
	mark, _ := e.begin(wasm.SectionExport)
	w.WriteU32(uint32(len(list)))
	for _, x := range list {
		w.WriteName(x.name)
		w.Byte(x.kind)
		w.WriteU32(x.index)
	}
	w.EndSection(mark)
}

func (e *emitter) startSection() {
	if !e.s.initMemory {
		return
	}
	mark, _ := e.begin(wasm.SectionStart)
	e.w.WriteU32(e.s.indices.funcs[synthRef(SynthInitMemory)])
	e.w.EndSection(mark)
}

// elementSection fills the indirect function table from slot 1. Slot 0 is
// left null.
func (e *emitter) elementSection() {
	s, w := e.s, e.w
	if s.indices.indirect < 0 || len(s.indirect) == 0 {
		return
	}
	mark, _ := e.begin(wasm.SectionElement)
	w.WriteU32(1)
	if s.indices.indirect == 0 {
		w.WriteU32(0)
		w.WriteBytes(wasm.I32ConstExpr(1))
	} else {
		w.WriteU32(2)
		w.WriteU32(uint32(s.indices.indirect))
		w.WriteBytes(wasm.I32ConstExpr(1))
		w.Byte(0x00) // elemkind funcref
	}
	w.WriteU32(uint32(len(s.indirect)))
	for _, r := range s.indirect {
		w.WriteU32(s.indices.funcs[r])
	}
	w.EndSection(mark)
}

func (e *emitter) dataCountSection() {
	ml := &e.s.layout
	if !ml.anyPassive {
		return
	}
	mark, _ := e.begin(wasm.SectionDataCount)
	e.w.WriteU32(ml.numData)
	e.w.EndSection(mark)
}

func (e *emitter) codeSection() error {
	s, l, w := e.s, e.l, e.w
	if len(s.funcs) == 0 {
		return nil
	}
	mark, idx := e.begin(wasm.SectionCode)
	e.codeIndex = idx
	payload := mark + wasm.PaddedLEB32
	count := e.vec()

	var keep *[]outReloc
	if s.cfg.isObject() {
		keep = &e.codeRelocs
	}
	for _, r := range s.funcs {
		var body []byte
		switch r.kind {
		case refDefined:
			fn := &l.functions[r.index]
			body = append([]byte(nil), l.arena.Bytes(fn.Code)...)
			site := relocSite{buf: body, secOff: e.codeOff[r], keep: keep}
			if err := s.applyRelocs(fn.Relocs, site, e.codeOff, e.customOff); err != nil {
				return err
			}
		case refStub:
			body = stubBody
		default:
			body = s.syntheticBody(SyntheticKind(r.index))
		}
		w.WriteU32(uint32(len(body)))
		if got := uint32(w.Len() - payload); got != e.codeOff[r] {
			return errors.Internal(errors.PhaseEmit, "function body at %d, planned %d", got, e.codeOff[r])
		}
		w.WriteBytes(body)
	}
	w.PatchU32(count, uint32(len(s.funcs)))
	w.EndSection(mark)
	return nil
}

// groupBytes returns the merged, relocated contents of group g.
func (e *emitter) groupBytes(g *group, secOff uint32) ([]byte, error) {
	s, l := e.s, e.l
	buf := make([]byte, g.size)
	var keep *[]outReloc
	if s.cfg.isObject() {
		keep = &e.dataRelocs
	}
	for _, si := range g.segs {
		seg := &l.segments[si]
		copy(buf[seg.offset:], l.arena.Bytes(seg.Payload))
		site := relocSite{
			buf:    buf,
			base:   seg.offset,
			addr:   seg.addr,
			secOff: secOff,
			keep:   keep,
		}
		if err := s.applyRelocs(seg.Relocs, site, e.codeOff, e.customOff); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (e *emitter) dataSection() error {
	s, w := e.s, e.w
	ml := &s.layout
	if ml.numData == 0 {
		return nil
	}
	mark, idx := e.begin(wasm.SectionData)
	e.dataIndex = idx
	payload := mark + wasm.PaddedLEB32
	count := e.vec()

	for gi := range ml.groups {
		g := &ml.groups[gi]
		if g.data < 0 {
			continue
		}
		if g.passive {
			w.WriteU32(wasm.SegmentPassive)
		} else {
			w.WriteU32(wasm.SegmentActive)
			w.WriteBytes(wasm.I32ConstExpr(int32(g.addr)))
		}
		w.WriteU32(g.size)
		b, err := e.groupBytes(g, uint32(w.Len()-payload))
		if err != nil {
			return err
		}
		w.WriteBytes(b)
	}
	w.PatchU32(count, ml.numData)
	w.EndSection(mark)
	return nil
}

// customSections writes input custom sections according to the strip mode.
// The name, producers and target_features sections are written only when
// nothing is stripped.
func (e *emitter) customSections() error {
	s, l, w := e.s, e.l, e.w
	strip := s.cfg.Strip
	if strip == StripAll {
		return nil
	}

	var order []String
	byName := make(map[String][]uint32)
	for i, c := range l.customs {
		if strip == StripDebug && strings.HasPrefix(l.str(c.Name), ".debug_") {
			continue
		}
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = append(byName[c.Name], uint32(i))
	}
	for _, name := range order {
		mark := e.beginCustom(l.str(name))
		for _, ci := range byName[name] {
			c := &l.customs[ci]
			buf := append([]byte(nil), l.arena.Bytes(c.Payload)...)
			site := relocSite{buf: buf, debug: true}
			if err := s.applyRelocs(c.Relocs, site, e.codeOff, e.customOff); err != nil {
				return err
			}
			w.WriteBytes(buf)
		}
		w.EndSection(mark)
	}

	// Names and toolchain metadata are debug information.
	if strip != StripNone && strip != "" {
		return nil
	}
	funcs, globals, data := s.names()
	if len(funcs)+len(globals)+len(data) > 0 {
		mark := e.beginCustom("name")
		writeNameSubsection(w, wasm.NameFunction, funcs)
		writeNameSubsection(w, wasm.NameGlobal, globals)
		writeNameSubsection(w, wasm.NameData, data)
		w.EndSection(mark)
	}

	mark := e.beginCustom("producers")
	writeProducers(w)
	w.EndSection(mark)

	if len(s.feats) > 0 {
		mark := e.beginCustom("target_features")
		writeFeatures(w, s.feats)
		w.EndSection(mark)
	}
	return nil
}

// buildIDSection appends the build_id section, hashed over every byte
// written before it.
func (e *emitter) buildIDSection() error {
	cfg := e.s.cfg
	if cfg.BuildID == "" || cfg.BuildID == BuildIDNone || (cfg.Strip != StripNone && cfg.Strip != "") {
		return nil
	}
	id, err := buildID(cfg, e.w.Bytes())
	if err != nil {
		return err
	}
	mark := e.beginCustom("build_id")
	e.w.WriteU32(uint32(len(id)))
	e.w.WriteBytes(id)
	e.w.EndSection(mark)
	return nil
}
