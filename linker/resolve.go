package linker

import (
	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

type refKind uint8

const (
	refImport    refKind = iota // external import, index is the symbol record
	refDefined                  // index is the defined fragment
	refSynthetic                // index is a SyntheticKind
	refStub                     // trap body for a weak undefined function, index is the symbol record
	refAddress                  // global holding a data address, index is the data record
)

// ref identifies one entry of an output index space.
type ref struct {
	kind  refKind
	index uint32
}

func synthRef(k SyntheticKind) ref { return ref{kind: refSynthetic, index: uint32(k)} }

type workItem struct {
	kind  SymbolKind
	local bool // index is a defined fragment, otherwise a symbol record
	index uint32
}

// recordKey names one symbol record of a kind.
type recordKey struct {
	kind  SymbolKind
	index uint32
}

type export struct {
	name string
	kind byte
	ref  ref
}

// linkState is the scratch state of one link pass. It is rebuilt from zero
// by every Link call and discarded afterwards.
type linkState struct {
	l     *Linker
	cfg   Config
	diags errors.Diagnostics
	err   error // first internal error

	work []workItem
	head int

	funcImports   []uint32
	globalImports []uint32
	tableImports  []uint32
	dataImports   []uint32 // object output only

	funcs    []ref
	globals  []ref
	tables   []ref
	segments []uint32
	symbols  []uint32 // live data symbols
	exports  []export

	requested map[recordKey]bool // configured exports and the entry

	synthLive     map[SyntheticKind]bool
	indirectTable bool
	tableUses     []Pointee
	indirect      []ref
	slots         map[ref]uint32
	typeUses      []FuncType

	initMemory bool
	initTLS    bool
	hasTLS     bool

	layout  memLayout
	indices indexSpaces
	feats   []Feature
}

func newLinkState(l *Linker) *linkState {
	return &linkState{
		l:         l,
		cfg:       l.cfg,
		synthLive: make(map[SyntheticKind]bool),
		slots:     make(map[ref]uint32),
		requested: make(map[recordKey]bool),
	}
}

func (s *linkState) internal(format string, args ...any) {
	if s.err == nil {
		s.err = errors.Internal(errors.PhaseResolve, format, args...)
	}
}

// reset clears the alive bits and resolutions left by a previous pass.
func (l *Linker) reset() {
	for i := range l.funcImports {
		l.funcImports[i].Flags &^= FlagAlive
		l.funcImports[i].Resolution = Unresolved()
	}
	for i := range l.globalImports {
		l.globalImports[i].Flags &^= FlagAlive
		l.globalImports[i].Resolution = Unresolved()
	}
	for i := range l.tableImports {
		l.tableImports[i].Flags &^= FlagAlive
		l.tableImports[i].Resolution = Unresolved()
	}
	for i := range l.dataImports {
		l.dataImports[i].Flags &^= FlagAlive
		l.dataImports[i].Resolution = Unresolved()
	}
	for i := range l.functions {
		l.functions[i].Flags &^= FlagAlive
	}
	for i := range l.globals {
		l.globals[i].Flags &^= FlagAlive
	}
	for i := range l.tables {
		l.tables[i].Flags &^= FlagAlive
	}
	for i := range l.segments {
		l.segments[i].Flags &^= FlagAlive
	}
	for i := range l.dataSymbols {
		l.dataSymbols[i].Flags &^= FlagAlive
	}
}

// included is the root predicate applied to every symbol record.
func (s *linkState) included(flags SymbolFlags, defined bool) bool {
	if flags.Exported() {
		return true
	}
	if defined && s.cfg.ExportDynamic && !flags.Hidden() {
		return true
	}
	return flags.NoStrip() && flags.MustLink()
}

// exportable is the export predicate for a resolved record.
func (s *linkState) exportable(flags SymbolFlags) bool {
	if flags.Local() || flags.Undefined() {
		return false
	}
	return (s.cfg.ExportDynamic && !flags.Hidden()) || flags.Exported()
}

// permitted reports whether an unmatched undefined symbol may become an import.
func (s *linkState) permitted(kind SymbolKind, flags SymbolFlags) bool {
	if s.cfg.isObject() || (s.cfg.AllowUndefined && kind != KindData) {
		return true
	}
	return flags.ExplicitName() && (kind == KindFunction || kind == KindGlobal)
}

// resolve computes the alive set and the final resolution of every reachable
// symbol record. Problems are reported to s.diags and traversal continues.
func (s *linkState) resolve() {
	done := phase("resolve")
	l := s.l
	l.reset()

	if s.cfg.isObject() {
		s.rootEverything()
	} else {
		for _, name := range s.cfg.Exports {
			s.exportRoot(name)
		}
		if entry := s.cfg.EntrySymbol(); entry != "" {
			s.entryRoot(entry)
		}
		s.predicateRoots()
	}
	s.drain()

	s.runtimeSupport()
	s.drain()

	s.assignSlots()
	if !s.cfg.isObject() {
		s.collectExports()
	}
	done()
}

func (s *linkState) push(kind SymbolKind, local bool, index uint32) {
	s.work = append(s.work, workItem{kind: kind, local: local, index: index})
}

func (s *linkState) rootEverything() {
	l := s.l
	for i := range l.funcImports {
		s.push(KindFunction, false, uint32(i))
	}
	for i := range l.globalImports {
		s.push(KindGlobal, false, uint32(i))
	}
	for i := range l.tableImports {
		s.push(KindTable, false, uint32(i))
	}
	for i := range l.dataImports {
		s.push(KindData, false, uint32(i))
	}
	for i := range l.functions {
		s.push(KindFunction, true, uint32(i))
	}
	for i := range l.globals {
		s.push(KindGlobal, true, uint32(i))
	}
	for i := range l.tables {
		s.push(KindTable, true, uint32(i))
	}
	for i := range l.dataSymbols {
		s.push(KindData, true, uint32(i))
	}
	for i := range l.segments {
		s.markSegment(uint32(i))
	}
}

// request roots a record that the configuration asks to export.
func (s *linkState) request(kind SymbolKind, ri uint32) {
	s.requested[recordKey{kind, ri}] = true
	s.push(kind, false, ri)
}

// exportFlags returns the record flags with FlagExported added when the
// configuration requested the record in this pass.
func (s *linkState) exportFlags(kind SymbolKind, ri uint32, flags SymbolFlags) SymbolFlags {
	if s.requested[recordKey{kind, ri}] {
		flags |= FlagExported
	}
	return flags
}

// exportRoot marks an explicitly exported name. Well-known linker symbols
// that no input mentions get a record on demand.
func (s *linkState) exportRoot(name string) {
	l := s.l
	h, ok := l.arena.Lookup(name)
	if ok {
		if ri, ok := l.funcByName[h]; ok {
			s.request(KindFunction, ri)
			return
		}
		if ri, ok := l.globalByName[h]; ok {
			s.request(KindGlobal, ri)
			return
		}
		if ri, ok := l.dataByName[h]; ok {
			s.request(KindData, ri)
			return
		}
	}
	if k, ok := LookupSynthetic(KindFunction, name); ok {
		s.request(KindFunction, l.syntheticFunctionRecord(name, k))
		return
	}
	if k, ok := LookupSynthetic(KindGlobal, name); ok {
		s.request(KindGlobal, l.syntheticGlobalRecord(name, k))
		return
	}
	s.diags.Report(errors.MissingExport(name))
}

func (s *linkState) entryRoot(name string) {
	l := s.l
	h, ok := l.arena.Lookup(name)
	var ri uint32
	if ok {
		ri, ok = l.funcByName[h]
	}
	if !ok {
		s.diags.Report(errors.MissingEntry(name))
		return
	}
	s.request(KindFunction, ri)
}

func (s *linkState) predicateRoots() {
	l := s.l
	for i := range l.funcImports {
		if s.included(l.funcImports[i].Flags, l.funcImports[i].def >= 0) {
			s.push(KindFunction, false, uint32(i))
		}
	}
	for i := range l.globalImports {
		if s.included(l.globalImports[i].Flags, l.globalImports[i].def >= 0) {
			s.push(KindGlobal, false, uint32(i))
		}
	}
	for i := range l.tableImports {
		if s.included(l.tableImports[i].Flags, l.tableImports[i].def >= 0) {
			s.push(KindTable, false, uint32(i))
		}
	}
	for i := range l.dataImports {
		if s.included(l.dataImports[i].Flags, l.dataImports[i].def >= 0) {
			s.push(KindData, false, uint32(i))
		}
	}

	// Local definitions are reachable only through the retain rule.
	for i, fn := range l.functions {
		if fn.Flags.Local() && fn.Flags.NoStrip() && fn.Flags.MustLink() {
			s.push(KindFunction, true, uint32(i))
		}
	}
	for i, g := range l.globals {
		if g.Flags.Local() && g.Flags.NoStrip() && g.Flags.MustLink() {
			s.push(KindGlobal, true, uint32(i))
		}
	}
	for i, seg := range l.segments {
		if seg.Flags.NoStrip() && seg.Flags.MustLink() {
			s.markSegment(uint32(i))
		}
	}
}

// drain processes the worklist in FIFO order until it is empty, so index
// spaces follow the order in which roots and references were found.
func (s *linkState) drain() {
	for s.head < len(s.work) && s.err == nil {
		it := s.work[s.head]
		s.head++
		switch {
		case it.local && it.kind == KindFunction:
			s.markFunction(it.index)
		case it.local && it.kind == KindGlobal:
			s.markGlobal(it.index)
		case it.local && it.kind == KindTable:
			s.markTable(it.index)
		case it.local:
			s.markDataSymbol(it.index)
		case it.kind == KindFunction:
			s.markFunctionRecord(it.index)
		case it.kind == KindGlobal:
			s.markGlobalRecord(it.index)
		case it.kind == KindTable:
			s.markTableRecord(it.index)
		default:
			s.markDataRecord(it.index)
		}
	}
}

func (s *linkState) matchSynthetic(kind SymbolKind, name String) (SyntheticKind, bool) {
	if s.cfg.isObject() {
		return SynthNone, false
	}
	return LookupSynthetic(kind, s.l.str(name))
}

func (s *linkState) undefined(kind SymbolKind, name String, src SourceLocation) {
	s.diags.Report(errors.UndefinedSymbol(kind.String(), s.l.str(name), s.l.sourcePath(src)))
}

func (s *linkState) markFunctionRecord(ri uint32) {
	rec := &s.l.funcImports[ri]
	if rec.Flags.Alive() {
		return
	}
	rec.Flags |= FlagAlive

	if rec.def >= 0 {
		rec.Resolution = Defined(uint32(rec.def))
		s.markFunction(uint32(rec.def))
		return
	}
	if k, ok := s.matchSynthetic(KindFunction, rec.Name); ok {
		rec.Resolution = Synthetic(k)
		s.addSyntheticFunction(k)
		return
	}
	if s.permitted(KindFunction, rec.Flags) {
		s.funcImports = append(s.funcImports, ri)
		return
	}
	if rec.Flags.Weak() {
		rec.Resolution = Synthetic(SynthWeakStub)
		s.funcs = append(s.funcs, ref{kind: refStub, index: ri})
		return
	}
	s.undefined(KindFunction, rec.Name, rec.Source)
}

func (s *linkState) markGlobalRecord(ri uint32) {
	rec := &s.l.globalImports[ri]
	if rec.Flags.Alive() {
		return
	}
	rec.Flags |= FlagAlive

	if rec.def >= 0 {
		rec.Resolution = Defined(uint32(rec.def))
		s.markGlobal(uint32(rec.def))
		return
	}
	if k, ok := s.matchSynthetic(KindGlobal, rec.Name); ok {
		rec.Resolution = Synthetic(k)
		s.addSyntheticGlobal(k)
		return
	}
	if s.permitted(KindGlobal, rec.Flags) {
		s.globalImports = append(s.globalImports, ri)
		return
	}
	s.undefined(KindGlobal, rec.Name, rec.Source)
}

func (s *linkState) markTableRecord(ri uint32) {
	rec := &s.l.tableImports[ri]
	if rec.Flags.Alive() {
		return
	}
	rec.Flags |= FlagAlive

	if rec.def >= 0 {
		rec.Resolution = Defined(uint32(rec.def))
		s.markTable(uint32(rec.def))
		return
	}
	if k, ok := s.matchSynthetic(KindTable, rec.Name); ok {
		rec.Resolution = Synthetic(k)
		s.indirectTable = true
		return
	}
	if s.permitted(KindTable, rec.Flags) {
		s.tableImports = append(s.tableImports, ri)
		return
	}
	s.undefined(KindTable, rec.Name, rec.Source)
}

func (s *linkState) markDataRecord(ri uint32) {
	rec := &s.l.dataImports[ri]
	if rec.Flags.Alive() {
		return
	}
	rec.Flags |= FlagAlive

	if rec.def >= 0 {
		rec.Resolution = Defined(uint32(rec.def))
		s.markDataSymbol(uint32(rec.def))
		return
	}
	if k, ok := s.matchSynthetic(KindData, rec.Name); ok {
		rec.Resolution = Synthetic(k)
		return
	}
	if s.cfg.isObject() {
		s.dataImports = append(s.dataImports, ri)
		return
	}
	if rec.Flags.Weak() {
		rec.Resolution = Synthetic(SynthWeakData)
		return
	}
	s.undefined(KindData, rec.Name, rec.Source)
}

func (s *linkState) markFunction(fi uint32) {
	fn := &s.l.functions[fi]
	if fn.Flags.Alive() {
		return
	}
	fn.Flags |= FlagAlive
	s.funcs = append(s.funcs, ref{kind: refDefined, index: fi})
	s.markRelocs(fn.Relocs)
}

func (s *linkState) markGlobal(gi uint32) {
	g := &s.l.globals[gi]
	if g.Flags.Alive() {
		return
	}
	g.Flags |= FlagAlive
	s.globals = append(s.globals, ref{kind: refDefined, index: gi})
	s.markRelocs(g.Relocs)
}

func (s *linkState) markTable(ti uint32) {
	t := &s.l.tables[ti]
	if t.Flags.Alive() {
		return
	}
	t.Flags |= FlagAlive
	s.tables = append(s.tables, ref{kind: refDefined, index: ti})
}

func (s *linkState) markDataSymbol(si uint32) {
	d := &s.l.dataSymbols[si]
	if d.Flags.Alive() {
		return
	}
	d.Flags |= FlagAlive
	s.symbols = append(s.symbols, si)
	s.markSegment(d.Segment)
}

func (s *linkState) markSegment(i uint32) {
	seg := &s.l.segments[i]
	if seg.Flags.Alive() {
		return
	}
	seg.Flags |= FlagAlive
	s.segments = append(s.segments, i)
	if seg.Flags.TLS() {
		s.hasTLS = true
	}
	s.markRelocs(seg.Relocs)
}

// markRelocs queues every symbol referenced by a fragment's relocations.
func (s *linkState) markRelocs(rr RelocRange) {
	for _, r := range s.l.Relocs(rr) {
		p := r.Target
		switch r.Type.Target() {
		case wasm.TargetFunctionIndex, wasm.TargetFunctionOffset:
			s.pushPointee(KindFunction, p)
		case wasm.TargetTableIndex:
			s.pushPointee(KindFunction, p)
			s.tableUses = append(s.tableUses, p)
			s.indirectTable = true
		case wasm.TargetGlobalIndex:
			s.pushPointee(KindGlobal, p)
		case wasm.TargetTableNumber:
			s.pushPointee(KindTable, p)
		case wasm.TargetMemoryAddr:
			s.pushPointee(KindData, p)
		case wasm.TargetTypeIndex:
			s.typeUses = append(s.typeUses, FuncType(p.Index))
		case wasm.TargetSectionOffset:
		default:
			s.internal("relocation %s has no marking rule", r.Type)
		}
	}
}

func (s *linkState) pushPointee(kind SymbolKind, p Pointee) {
	if p.Kind != PointeeSymbol {
		s.push(kind, true, p.Index)
		return
	}
	ri, ok := s.l.recordIndex(kind, p.Name)
	if !ok {
		s.internal("relocation against %s %q without a symbol record", kind, s.l.str(p.Name))
		return
	}
	s.push(kind, false, ri)
}

func (l *Linker) recordIndex(kind SymbolKind, name String) (uint32, bool) {
	var ri uint32
	var ok bool
	switch kind {
	case KindFunction:
		ri, ok = l.funcByName[name]
	case KindGlobal:
		ri, ok = l.globalByName[name]
	case KindTable:
		ri, ok = l.tableByName[name]
	default:
		ri, ok = l.dataByName[name]
	}
	return ri, ok
}

func (s *linkState) addSyntheticFunction(k SyntheticKind) {
	if s.synthLive[k] {
		return
	}
	s.synthLive[k] = true
	s.funcs = append(s.funcs, synthRef(k))
	switch k {
	case SynthCallCtors:
		for _, f := range s.l.initFuncs {
			s.pushPointee(KindFunction, f.Target)
		}
	case SynthInitTLS:
		s.addSyntheticGlobal(SynthTLSBase)
	}
}

func (s *linkState) addSyntheticGlobal(k SyntheticKind) {
	if s.synthLive[k] {
		return
	}
	s.synthLive[k] = true
	s.globals = append(s.globals, synthRef(k))
}

// runtimeSupport adds the linker functions and globals that data layout
// needs: __wasm_init_memory for passive segments and the TLS helpers for
// shared memory.
func (s *linkState) runtimeSupport() {
	if s.cfg.isObject() {
		return
	}
	for _, i := range s.segments {
		seg := &s.l.segments[i]
		if seg.Flags.TLS() || !s.passive(seg) {
			continue
		}
		if isBSSName(s.l.str(seg.Name)) && !s.cfg.ImportMemory {
			continue
		}
		s.initMemory = true
		break
	}
	if s.initMemory {
		s.addSyntheticFunction(SynthInitMemory)
	}
	if s.hasTLS && s.cfg.SharedMemory {
		s.initTLS = true
		s.addSyntheticFunction(SynthInitTLS)
		s.addSyntheticGlobal(SynthTLSSize)
		s.addSyntheticGlobal(SynthTLSAlign)
	}
}

// passive reports whether a segment is initialized by memory.init.
func (s *linkState) passive(seg *DataSegment) bool {
	return seg.Flags.Passive() || s.cfg.SharedMemory
}

// funcRef maps a function pointee to its output entry.
func (s *linkState) funcRef(p Pointee) (ref, bool) {
	if p.Kind == PointeeFunction {
		return ref{kind: refDefined, index: p.Index}, true
	}
	ri, ok := s.l.funcByName[p.Name]
	if !ok {
		return ref{}, false
	}
	return s.funcRecordRef(ri)
}

func (s *linkState) funcRecordRef(ri uint32) (ref, bool) {
	rec := &s.l.funcImports[ri]
	if i, ok := rec.Resolution.Defined(); ok {
		return ref{kind: refDefined, index: i}, true
	}
	if k, ok := rec.Resolution.Synthetic(); ok {
		if k == SynthWeakStub {
			return ref{kind: refStub, index: ri}, true
		}
		return synthRef(k), true
	}
	if rec.Flags.Alive() && s.permitted(KindFunction, rec.Flags) {
		return ref{kind: refImport, index: ri}, true
	}
	return ref{}, false
}

func (s *linkState) globalRef(p Pointee) (ref, bool) {
	if p.Kind == PointeeGlobal {
		return ref{kind: refDefined, index: p.Index}, true
	}
	ri, ok := s.l.globalByName[p.Name]
	if !ok {
		return ref{}, false
	}
	return s.globalRecordRef(ri)
}

func (s *linkState) globalRecordRef(ri uint32) (ref, bool) {
	rec := &s.l.globalImports[ri]
	if i, ok := rec.Resolution.Defined(); ok {
		return ref{kind: refDefined, index: i}, true
	}
	if k, ok := rec.Resolution.Synthetic(); ok {
		return synthRef(k), true
	}
	if rec.Flags.Alive() && s.permitted(KindGlobal, rec.Flags) {
		return ref{kind: refImport, index: ri}, true
	}
	return ref{}, false
}

func (s *linkState) tableRef(p Pointee) (ref, bool) {
	if p.Kind == PointeeTable {
		return ref{kind: refDefined, index: p.Index}, true
	}
	ri, ok := s.l.tableByName[p.Name]
	if !ok {
		return ref{}, false
	}
	rec := &s.l.tableImports[ri]
	if i, ok := rec.Resolution.Defined(); ok {
		return ref{kind: refDefined, index: i}, true
	}
	if k, ok := rec.Resolution.Synthetic(); ok {
		return synthRef(k), true
	}
	if rec.Flags.Alive() && s.permitted(KindTable, rec.Flags) {
		return ref{kind: refImport, index: ri}, true
	}
	return ref{}, false
}

// assignSlots gives every function used through a table index relocation a
// slot in the indirect function table, in first-use order. Slot 0 stays
// empty so a zero function pointer always traps; weak stubs map to it.
func (s *linkState) assignSlots() {
	for _, p := range s.tableUses {
		r, ok := s.funcRef(p)
		if !ok || r.kind == refStub {
			continue
		}
		if _, seen := s.slots[r]; seen {
			continue
		}
		s.indirect = append(s.indirect, r)
		s.slots[r] = uint32(len(s.indirect))
	}
	if s.cfg.ImportTable || s.cfg.ExportTable {
		s.indirectTable = true
	}
	// Objects leave table slots to the final link.
	if s.cfg.isObject() {
		s.indirectTable = false
	}
}

// collectExports builds the export list from live symbol records.
func (s *linkState) collectExports() {
	l := s.l
	seen := make(map[string]bool)
	add := func(name string, kind byte, r ref) {
		if seen[name] {
			return
		}
		seen[name] = true
		s.exports = append(s.exports, export{name: name, kind: kind, ref: r})
	}

	for i := range l.funcImports {
		rec := &l.funcImports[i]
		if !rec.Flags.Alive() {
			continue
		}
		r, ok := s.funcRecordRef(uint32(i))
		if !ok || r.kind == refStub || r.kind == refImport {
			continue
		}
		flags := s.exportFlags(KindFunction, uint32(i), rec.Flags)
		if r.kind == refSynthetic {
			flags &^= FlagUndefined
		}
		if s.exportable(flags) {
			add(l.str(rec.Name), wasm.KindFunc, r)
		}
	}
	for i := range l.globalImports {
		rec := &l.globalImports[i]
		if !rec.Flags.Alive() {
			continue
		}
		r, ok := s.globalRecordRef(uint32(i))
		if !ok || r.kind == refImport {
			continue
		}
		flags := s.exportFlags(KindGlobal, uint32(i), rec.Flags)
		if r.kind == refSynthetic {
			flags &^= FlagUndefined
		}
		if s.exportable(flags) {
			add(l.str(rec.Name), wasm.KindGlobal, r)
		}
	}
	for i := range l.dataImports {
		rec := &l.dataImports[i]
		if !rec.Flags.Alive() || rec.def < 0 || !s.exportable(s.exportFlags(KindData, uint32(i), rec.Flags)) {
			continue
		}
		r := ref{kind: refAddress, index: uint32(i)}
		s.globals = append(s.globals, r)
		add(l.str(rec.Name), wasm.KindGlobal, r)
	}

	if s.initTLS {
		add(SynthInitTLS.String(), wasm.KindFunc, synthRef(SynthInitTLS))
		for _, k := range []SyntheticKind{SynthTLSBase, SynthTLSSize, SynthTLSAlign} {
			add(k.String(), wasm.KindGlobal, synthRef(k))
		}
	}
}
