package linker

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// Object is one relocatable input unit, already parsed into fragment form.
type Object struct {
	Path     string
	MustLink bool

	Types       []wasm.FuncType
	Functions   []ObjFunction
	Globals     []ObjGlobal
	Tables      []ObjTable
	Segments    []ObjSegment
	DataSymbols []ObjDataSymbol
	Customs     []ObjCustom
	InitFuncs   []ObjInitFunc
	Features    []Feature
}

// ObjFunction is a function symbol. Code is nil for undefined symbols.
type ObjFunction struct {
	Name         string
	ImportModule string
	ImportName   string
	Flags        SymbolFlags
	Type         uint32 // index into Object.Types
	Code         []byte
	Relocs       []ObjReloc
	Comdat       string
}

// ObjGlobal is a global symbol. Init is nil for undefined symbols.
type ObjGlobal struct {
	Name         string
	ImportModule string
	ImportName   string
	Flags        SymbolFlags
	Type         wasm.GlobalType
	Init         []byte
	Relocs       []ObjReloc
}

// ObjTable is a table symbol.
type ObjTable struct {
	Name         string
	ImportModule string
	ImportName   string
	Flags        SymbolFlags
	Type         wasm.TableType
}

// ObjSegment is a data segment. Data may be shorter than Size; the
// remainder is zero-filled.
type ObjSegment struct {
	Name   string
	Align  uint32
	Flags  SymbolFlags // FlagTLS, FlagPassive, FlagNoStrip
	Data   []byte
	Size   uint32
	Relocs []ObjReloc
	Comdat string
}

// ObjDataSymbol names a range of a segment. Segment is -1 for undefined symbols.
type ObjDataSymbol struct {
	Name    string
	Flags   SymbolFlags
	Segment int
	Offset  uint32
	Size    uint32
}

// ObjCustom is a custom section carried to the output.
type ObjCustom struct {
	Name   string
	Data   []byte
	Relocs []ObjReloc
}

// ObjInitFunc registers a constructor function symbol.
type ObjInitFunc struct {
	Priority uint32
	Symbol   string
}

// ObjReloc is a relocation that names its target. Symbol is used by symbol
// relocations, TypeIndex by type index relocations and Section by section
// offset relocations.
type ObjReloc struct {
	Type      wasm.RelocType
	Offset    uint32
	Addend    int64
	Symbol    string
	TypeIndex uint32
	Section   string
}

// reservedCustom reports whether a custom section is generated by the
// linker and never copied from inputs.
func reservedCustom(name string) bool {
	switch name {
	case "linking", "name", "producers", "target_features", "build_id":
		return true
	}
	return strings.HasPrefix(name, "reloc.")
}

type loader struct {
	l   *Linker
	o   *Object
	idx ObjectIndex

	typeHandles []FuncType
	discarded   map[string]bool

	localFuncs   map[string]uint32
	localGlobals map[string]uint32
	localTables  map[string]uint32
	localData    map[string]uint32
	globalFuncs  map[string]bool
	globalVars   map[string]bool
	globalTabs   map[string]bool
	globalData   map[string]bool
	customByName map[string]uint32
	customIdx    []int32 // parallel to o.Customs, -1 when reserved

	// fragment indices per object symbol, -1 when not materialized
	funcIdx   []int32
	globalIdx []int32
	segIdx    []int32
}

// AddObject loads o into the fragment tables. Symbol conflicts are recorded
// as diagnostics (see Diagnostics) and do not stop loading; the returned
// error is non-nil only for malformed input that cannot be represented.
func (l *Linker) AddObject(o *Object) error {
	idx := ObjectIndex(len(l.objects))
	l.objects = append(l.objects, objectInfo{Path: o.Path, MustLink: o.MustLink, Features: o.Features})

	ld := &loader{
		l:            l,
		o:            o,
		idx:          idx,
		discarded:    make(map[string]bool),
		localFuncs:   make(map[string]uint32),
		localGlobals: make(map[string]uint32),
		localTables:  make(map[string]uint32),
		localData:    make(map[string]uint32),
		globalFuncs:  make(map[string]bool),
		globalVars:   make(map[string]bool),
		globalTabs:   make(map[string]bool),
		globalData:   make(map[string]bool),
		customByName: make(map[string]uint32),
	}
	if err := ld.load(); err != nil {
		return err
	}
	l.logLoad(idx)
	return nil
}

func (ld *loader) report(e *errors.Error) {
	if e.Source == "" {
		e.Source = ld.o.Path
	}
	ld.l.loadDiags.Report(e)
}

func (ld *loader) mustLink() SymbolFlags {
	if ld.o.MustLink {
		return FlagMustLink
	}
	return 0
}

func (ld *loader) load() error {
	o := ld.o
	for _, ft := range o.Types {
		ld.typeHandles = append(ld.typeHandles, ld.l.types.Intern(ft))
	}
	ld.claimComdats()

	for i := range o.Functions {
		if !o.Functions[i].Flags.validBinding() {
			return errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("%s: function %q has more than one binding", o.Path, o.Functions[i].Name))
		}
		if int(o.Functions[i].Type) >= len(ld.typeHandles) {
			return errors.OutOfBounds(errors.PhaseLoad, []string{o.Path, o.Functions[i].Name},
				int(o.Functions[i].Type), len(ld.typeHandles))
		}
	}

	ld.createCustoms()
	ld.createSegments()
	ld.createFunctions()
	ld.createGlobals()
	ld.createTables()
	ld.createDataSymbols()

	// Relocations are converted once every symbol of the object is known.
	ld.commitFunctions()
	if err := ld.commitGlobals(); err != nil {
		return err
	}
	ld.commitSegments()
	ld.commitCustoms()
	ld.loadInitFuncs()
	return nil
}

// claimComdats records this object as owner of every comdat it names that
// no earlier object claimed. Members of comdats owned elsewhere are discarded.
func (ld *loader) claimComdats() {
	claim := func(name string) {
		if name == "" {
			return
		}
		h := ld.l.arena.Intern(name)
		owner, ok := ld.l.comdatOwner[h]
		switch {
		case !ok:
			ld.l.comdatOwner[h] = ld.idx
			ld.l.comdats = append(ld.l.comdats, Comdat{Name: h, Object: ld.idx})
		case owner != ld.idx:
			ld.discarded[name] = true
		}
	}
	for _, f := range ld.o.Functions {
		claim(f.Comdat)
	}
	for _, s := range ld.o.Segments {
		claim(s.Comdat)
	}
}

func (ld *loader) createCustoms() {
	ld.customIdx = make([]int32, len(ld.o.Customs))
	for i, c := range ld.o.Customs {
		ld.customIdx[i] = -1
		if reservedCustom(c.Name) {
			continue
		}
		ci := uint32(len(ld.l.customs))
		ld.l.customs = append(ld.l.customs, CustomSegment{
			Object: ld.idx,
			Name:   ld.l.arena.Intern(c.Name),
		})
		ld.customIdx[i] = int32(ci)
		if _, ok := ld.customByName[c.Name]; !ok {
			ld.customByName[c.Name] = ci
		}
	}
}

func (ld *loader) createSegments() {
	ld.segIdx = make([]int32, len(ld.o.Segments))
	for i, s := range ld.o.Segments {
		ld.segIdx[i] = -1
		if ld.discarded[s.Comdat] {
			continue
		}
		align := s.Align
		if align == 0 {
			align = 1
		}
		if bits.OnesCount32(align) != 1 {
			ld.report(errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("segment %s alignment %d is not a power of two", s.Name, s.Align)))
			align = 1
		}
		size := s.Size
		if uint32(len(s.Data)) > size {
			size = uint32(len(s.Data))
		}
		flags := s.Flags | ld.mustLink()
		if isTLSName(s.Name) {
			flags |= FlagTLS
		}
		ld.segIdx[i] = int32(len(ld.l.segments))
		ld.l.segments = append(ld.l.segments, DataSegment{
			Object: ld.idx,
			Name:   ld.l.arena.Intern(s.Name),
			Flags:  flags,
			Align:  align,
			Size:   size,
			Comdat: ld.l.arena.Intern(s.Comdat),
		})
	}
}

func (ld *loader) createFunctions() {
	ld.funcIdx = make([]int32, len(ld.o.Functions))
	for i, f := range ld.o.Functions {
		ld.funcIdx[i] = -1
		typ := ld.typeHandles[f.Type]
		defined := !f.Flags.Undefined() && f.Code != nil && !ld.discarded[f.Comdat]

		if f.Flags.Local() {
			if !defined {
				if !ld.discarded[f.Comdat] {
					ld.report(errors.InvalidInput(errors.PhaseLoad,
						fmt.Sprintf("local function %s has no definition", f.Name)))
				}
				continue
			}
			fi := ld.newFunction(f, typ)
			ld.funcIdx[i] = int32(fi)
			ld.localFuncs[f.Name] = fi
			continue
		}

		ld.globalFuncs[f.Name] = true
		ri := ld.functionRecord(f, typ)
		if !defined {
			ld.l.referenceFunction(ri, f.Flags, typ, ld.idx)
			continue
		}
		fi := ld.newFunction(f, typ)
		ld.funcIdx[i] = int32(fi)
		ld.l.defineFunction(ri, fi)
	}
}

func (ld *loader) newFunction(f ObjFunction, typ FuncType) uint32 {
	fi := uint32(len(ld.l.functions))
	ld.l.functions = append(ld.l.functions, Function{
		Object: ld.idx,
		Name:   ld.l.arena.Intern(f.Name),
		Flags:  (f.Flags &^ FlagUndefined) | ld.mustLink(),
		Type:   typ,
		Comdat: ld.l.arena.Intern(f.Comdat),
	})
	return fi
}

func (ld *loader) functionRecord(f ObjFunction, typ FuncType) uint32 {
	l := ld.l
	name := l.arena.Intern(f.Name)
	if ri, ok := l.funcByName[name]; ok {
		return ri
	}
	module, field := f.ImportModule, f.ImportName
	if module == "" {
		module = l.cfg.importModule()
	}
	if field == "" {
		field = f.Name
	}
	ri := uint32(len(l.funcImports))
	l.funcImports = append(l.funcImports, FunctionImport{
		Module: l.arena.Intern(module),
		Name:   name,
		Field:  l.arena.Intern(field),
		Type:   typ,
		Flags:  f.Flags | FlagUndefined,
		Source: at(ld.idx),
		def:    -1,
	})
	l.funcByName[name] = ri
	return ri
}

// referenceFunction merges an undefined reference into record ri.
func (l *Linker) referenceFunction(ri uint32, flags SymbolFlags, typ FuncType, o ObjectIndex) {
	rec := &l.funcImports[ri]
	rec.Flags |= flags & (FlagExplicitName | FlagNoStrip | FlagExported)
	if rec.def < 0 && !flags.Weak() {
		rec.Flags &^= FlagWeak
	}
	if rec.typeFromDef && rec.Type != typ {
		l.loadDiags.Report(errors.SignatureMismatch("function", l.str(rec.Name),
			l.sourcePath(rec.Source), l.ObjectPath(o)).
			AddNote("defined as %s, referenced as %s",
				l.types.Get(rec.Type), l.types.Get(typ)))
	}
}

// defineFunction applies the weak/strong policy for definition fi of record ri:
// a strong definition replaces a weak one, the first of several weak ones is
// kept, and two strong definitions are a duplicate symbol error.
func (l *Linker) defineFunction(ri, fi uint32) {
	rec := &l.funcImports[ri]
	fn := &l.functions[fi]

	if rec.def < 0 {
		if rec.Type != fn.Type {
			l.loadDiags.Report(errors.SignatureMismatch("function", l.str(rec.Name),
				l.ObjectPath(fn.Object), l.sourcePath(rec.Source)).
				AddNote("defined as %s, referenced as %s",
					l.types.Get(fn.Type), l.types.Get(rec.Type)))
		}
		l.installFunction(rec, fi)
		return
	}

	cur := &l.functions[rec.def]
	switch {
	case !cur.Flags.Weak() && !fn.Flags.Weak():
		l.loadDiags.Report(errors.DuplicateSymbol(l.str(rec.Name),
			l.ObjectPath(cur.Object), l.ObjectPath(fn.Object)))
	case cur.Flags.Weak() && !fn.Flags.Weak():
		if cur.Type != fn.Type {
			l.loadDiags.Report(errors.SignatureMismatch("function", l.str(rec.Name),
				l.ObjectPath(fn.Object), l.ObjectPath(cur.Object)))
		}
		l.installFunction(rec, fi)
	}
}

func (l *Linker) installFunction(rec *FunctionImport, fi uint32) {
	fn := &l.functions[fi]
	sticky := rec.Flags & (FlagExplicitName | FlagNoStrip | FlagExported)
	rec.def = int32(fi)
	rec.Flags = (fn.Flags &^ FlagUndefined) | sticky
	rec.Type = fn.Type
	rec.typeFromDef = true
	rec.Source = at(fn.Object)
}

func (ld *loader) createGlobals() {
	ld.globalIdx = make([]int32, len(ld.o.Globals))
	l := ld.l
	for i, g := range ld.o.Globals {
		ld.globalIdx[i] = -1
		defined := !g.Flags.Undefined() && g.Init != nil
		if g.Flags.Local() {
			if !defined {
				ld.report(errors.InvalidInput(errors.PhaseLoad,
					fmt.Sprintf("local global %s has no definition", g.Name)))
				continue
			}
			gi := ld.newGlobal(g)
			ld.globalIdx[i] = int32(gi)
			ld.localGlobals[g.Name] = gi
			continue
		}

		ld.globalVars[g.Name] = true
		name := l.arena.Intern(g.Name)
		ri, ok := l.globalByName[name]
		if !ok {
			module, field := g.ImportModule, g.ImportName
			if module == "" {
				module = l.cfg.importModule()
			}
			if field == "" {
				field = g.Name
			}
			ri = uint32(len(l.globalImports))
			l.globalImports = append(l.globalImports, GlobalImport{
				Module: l.arena.Intern(module),
				Name:   name,
				Field:  l.arena.Intern(field),
				Type:   g.Type,
				Flags:  g.Flags | FlagUndefined,
				Source: at(ld.idx),
				def:    -1,
			})
			l.globalByName[name] = ri
		}
		rec := &l.globalImports[ri]

		if rec.Type != g.Type {
			ld.report(errors.SignatureMismatch("global", g.Name, l.sourcePath(rec.Source), ld.o.Path).
				AddNote("declared as %s (mutable=%t), here %s (mutable=%t)",
					rec.Type.ValType, rec.Type.Mutable, g.Type.ValType, g.Type.Mutable))
		}

		if !defined {
			rec.Flags |= g.Flags & (FlagExplicitName | FlagNoStrip | FlagExported)
			if rec.def < 0 && !g.Flags.Weak() {
				rec.Flags &^= FlagWeak
			}
			continue
		}

		gi := ld.newGlobal(g)
		ld.globalIdx[i] = int32(gi)
		install := func() {
			sticky := rec.Flags & (FlagExplicitName | FlagNoStrip | FlagExported)
			rec.def = int32(gi)
			rec.Flags = (l.globals[gi].Flags &^ FlagUndefined) | sticky
			rec.Source = at(ld.idx)
		}
		switch {
		case rec.def < 0:
			install()
		case !l.globals[rec.def].Flags.Weak() && !g.Flags.Weak():
			ld.report(errors.DuplicateSymbol(g.Name, l.ObjectPath(l.globals[rec.def].Object), ld.o.Path))
		case l.globals[rec.def].Flags.Weak() && !g.Flags.Weak():
			install()
		}
	}
}

func (ld *loader) newGlobal(g ObjGlobal) uint32 {
	gi := uint32(len(ld.l.globals))
	ld.l.globals = append(ld.l.globals, Global{
		Object: ld.idx,
		Name:   ld.l.arena.Intern(g.Name),
		Flags:  (g.Flags &^ FlagUndefined) | ld.mustLink(),
		Type:   g.Type,
	})
	return gi
}

func (ld *loader) createTables() {
	l := ld.l
	for _, t := range ld.o.Tables {
		defined := !t.Flags.Undefined()
		if t.Flags.Local() {
			if defined {
				ti := uint32(len(l.tables))
				l.tables = append(l.tables, Table{Object: ld.idx, Name: l.arena.Intern(t.Name), Flags: t.Flags | ld.mustLink(), Type: t.Type})
				ld.localTables[t.Name] = ti
			}
			continue
		}
		ld.globalTabs[t.Name] = true
		name := l.arena.Intern(t.Name)
		ri, ok := l.tableByName[name]
		if !ok {
			module, field := t.ImportModule, t.ImportName
			if module == "" {
				module = l.cfg.importModule()
			}
			if field == "" {
				field = t.Name
			}
			ri = uint32(len(l.tableImports))
			l.tableImports = append(l.tableImports, TableImport{
				Module: l.arena.Intern(module),
				Name:   name,
				Field:  l.arena.Intern(field),
				Type:   t.Type,
				Flags:  t.Flags | FlagUndefined,
				Source: at(ld.idx),
				def:    -1,
			})
			l.tableByName[name] = ri
		}
		rec := &l.tableImports[ri]
		if !defined {
			rec.Flags |= t.Flags & (FlagExplicitName | FlagNoStrip | FlagExported)
			continue
		}
		ti := uint32(len(l.tables))
		l.tables = append(l.tables, Table{Object: ld.idx, Name: name, Flags: (t.Flags &^ FlagUndefined) | ld.mustLink(), Type: t.Type})
		switch {
		case rec.def < 0 || (l.tables[rec.def].Flags.Weak() && !t.Flags.Weak()):
			rec.def = int32(ti)
			rec.Flags = l.tables[ti].Flags | (rec.Flags & (FlagExplicitName | FlagNoStrip | FlagExported))
			rec.Type = t.Type
			rec.Source = at(ld.idx)
		case !l.tables[rec.def].Flags.Weak() && !t.Flags.Weak():
			ld.report(errors.DuplicateSymbol(t.Name, l.ObjectPath(l.tables[rec.def].Object), ld.o.Path))
		}
	}
}

func (ld *loader) createDataSymbols() {
	l := ld.l
	for _, d := range ld.o.DataSymbols {
		seg := int32(-1)
		if d.Segment >= 0 {
			if d.Segment >= len(ld.o.Segments) {
				ld.report(errors.OutOfBounds(errors.PhaseLoad, []string{ld.o.Path, d.Name}, d.Segment, len(ld.o.Segments)))
				continue
			}
			seg = ld.segIdx[d.Segment]
		}
		defined := !d.Flags.Undefined() && seg >= 0
		if defined && d.Offset+d.Size > l.segments[seg].Size {
			ld.report(errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("data symbol %s exceeds segment %s", d.Name, l.str(l.segments[seg].Name))))
		}

		var si uint32
		if defined {
			si = uint32(len(l.dataSymbols))
			l.dataSymbols = append(l.dataSymbols, DataSymbol{
				Object:  ld.idx,
				Name:    l.arena.Intern(d.Name),
				Flags:   (d.Flags &^ FlagUndefined) | ld.mustLink(),
				Segment: uint32(seg),
				Offset:  d.Offset,
				Size:    d.Size,
			})
		}
		if d.Flags.Local() {
			if defined {
				ld.localData[d.Name] = si
			}
			continue
		}

		ld.globalData[d.Name] = true
		name := l.arena.Intern(d.Name)
		ri, ok := l.dataByName[name]
		if !ok {
			ri = uint32(len(l.dataImports))
			l.dataImports = append(l.dataImports, DataImport{
				Name:   name,
				Flags:  d.Flags | FlagUndefined,
				Source: at(ld.idx),
				def:    -1,
			})
			l.dataByName[name] = ri
		}
		rec := &l.dataImports[ri]
		if !defined {
			rec.Flags |= d.Flags & (FlagNoStrip | FlagExported)
			if rec.def < 0 && !d.Flags.Weak() {
				rec.Flags &^= FlagWeak
			}
			continue
		}
		switch {
		case rec.def < 0 || (l.dataSymbols[rec.def].Flags.Weak() && !d.Flags.Weak()):
			rec.def = int32(si)
			rec.Flags = l.dataSymbols[si].Flags | (rec.Flags & (FlagNoStrip | FlagExported))
			rec.Source = at(ld.idx)
		case !l.dataSymbols[rec.def].Flags.Weak() && !d.Flags.Weak():
			ld.report(errors.DuplicateSymbol(d.Name, l.ObjectPath(l.dataSymbols[rec.def].Object), ld.o.Path))
		}
	}
}

// convert turns object relocations into linker relocations.
func (ld *loader) convert(what string, in []ObjReloc) ([]Reloc, bool) {
	out := make([]Reloc, 0, len(in))
	ok := true
	for _, r := range in {
		p, good := ld.pointee(what, r)
		if !good {
			ok = false
			continue
		}
		out = append(out, Reloc{Type: r.Type, Offset: r.Offset, Addend: r.Addend, Target: p})
	}
	return out, ok
}

func (ld *loader) pointee(what string, r ObjReloc) (Pointee, bool) {
	l := ld.l
	bad := func(format string, args ...any) (Pointee, bool) {
		ld.report(errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Path(what).
			Detail(format, args...).
			Build())
		return Pointee{}, false
	}
	if !r.Type.Valid() {
		return bad("unknown relocation type %d", uint8(r.Type))
	}

	switch r.Type.Target() {
	case wasm.TargetTypeIndex:
		if int(r.TypeIndex) >= len(ld.typeHandles) {
			return bad("%s: type index %d out of range", r.Type, r.TypeIndex)
		}
		return Pointee{Kind: PointeeType, Index: uint32(ld.typeHandles[r.TypeIndex])}, true
	case wasm.TargetSectionOffset:
		ci, ok := ld.customByName[r.Section]
		if !ok {
			return bad("%s: unknown section %q", r.Type, r.Section)
		}
		return Pointee{Kind: PointeeSection, Index: ci}, true
	case wasm.TargetTagIndex:
		return bad("%s: exception tags are not supported", r.Type)
	case wasm.TargetFunctionIndex, wasm.TargetTableIndex, wasm.TargetFunctionOffset:
		if fi, ok := ld.localFuncs[r.Symbol]; ok {
			return Pointee{Kind: PointeeFunction, Index: fi}, true
		}
		if ld.globalFuncs[r.Symbol] {
			return SymbolPointee(l.arena.Intern(r.Symbol)), true
		}
		return bad("%s against unknown function symbol %q", r.Type, r.Symbol)
	case wasm.TargetGlobalIndex:
		if gi, ok := ld.localGlobals[r.Symbol]; ok {
			return Pointee{Kind: PointeeGlobal, Index: gi}, true
		}
		if ld.globalVars[r.Symbol] {
			return SymbolPointee(l.arena.Intern(r.Symbol)), true
		}
		return bad("%s against unknown global symbol %q", r.Type, r.Symbol)
	case wasm.TargetTableNumber:
		if ti, ok := ld.localTables[r.Symbol]; ok {
			return Pointee{Kind: PointeeTable, Index: ti}, true
		}
		if ld.globalTabs[r.Symbol] {
			return SymbolPointee(l.arena.Intern(r.Symbol)), true
		}
		return bad("%s against unknown table symbol %q", r.Type, r.Symbol)
	default:
		if si, ok := ld.localData[r.Symbol]; ok {
			return Pointee{Kind: PointeeData, Index: si}, true
		}
		if ld.globalData[r.Symbol] {
			return SymbolPointee(l.arena.Intern(r.Symbol)), true
		}
		return bad("%s against unknown data symbol %q", r.Type, r.Symbol)
	}
}

func checkReloc(r Reloc, size int) bool {
	return int(r.Offset)+r.Type.Size() <= size
}

// commit stores a payload and its relocations. Relocations that cannot be
// converted are reported and the payload is stored without any.
func (ld *loader) commit(what string, payload []byte, in []ObjReloc) (Span, RelocRange) {
	relocs, ok := ld.convert(what, in)
	for _, r := range relocs {
		if !checkReloc(r, len(payload)) {
			ld.report(errors.OutOfBounds(errors.PhaseLoad, []string{ld.o.Path, what, r.Type.String()},
				int(r.Offset), len(payload)))
			ok = false
		}
	}
	if !ok {
		relocs = nil
	}
	return ld.l.Commit(payload, relocs)
}

func (ld *loader) commitFunctions() {
	for i, f := range ld.o.Functions {
		if fi := ld.funcIdx[i]; fi >= 0 {
			fn := &ld.l.functions[fi]
			fn.Code, fn.Relocs = ld.commit(f.Name, f.Code, f.Relocs)
		}
	}
}

func (ld *loader) commitGlobals() error {
	for i, g := range ld.o.Globals {
		gi := ld.globalIdx[i]
		if gi < 0 {
			continue
		}
		if len(g.Init) == 0 || g.Init[len(g.Init)-1] != wasm.OpEnd {
			return errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("%s: global %s initializer is not terminated by end", ld.o.Path, g.Name))
		}
		gl := &ld.l.globals[gi]
		gl.Init, gl.Relocs = ld.commit(g.Name, g.Init, g.Relocs)
	}
	return nil
}

func (ld *loader) commitSegments() {
	for i, s := range ld.o.Segments {
		si := ld.segIdx[i]
		if si < 0 {
			continue
		}
		if len(s.Data) == 0 {
			if len(s.Relocs) > 0 {
				ld.report(errors.InvalidInput(errors.PhaseLoad,
					fmt.Sprintf("zero-fill segment %s has relocations", s.Name)))
			}
			continue
		}
		seg := &ld.l.segments[si]
		seg.Payload, seg.Relocs = ld.commit(s.Name, s.Data, s.Relocs)
	}
}

func (ld *loader) commitCustoms() {
	for i, c := range ld.o.Customs {
		if ci := ld.customIdx[i]; ci >= 0 {
			cs := &ld.l.customs[ci]
			cs.Payload, cs.Relocs = ld.commit(c.Name, c.Data, c.Relocs)
		}
	}
}

func (ld *loader) loadInitFuncs() {
	for _, f := range ld.o.InitFuncs {
		var target Pointee
		if fi, ok := ld.localFuncs[f.Symbol]; ok {
			target = Pointee{Kind: PointeeFunction, Index: fi}
		} else if ld.globalFuncs[f.Symbol] {
			target = SymbolPointee(ld.l.arena.Intern(f.Symbol))
		} else {
			ld.report(errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("init function %s is not a function symbol", f.Symbol)))
			continue
		}
		ld.l.initFuncs = append(ld.l.initFuncs, InitFunc{Priority: f.Priority, Object: ld.idx, Target: target})
	}
}

// isTLSName reports whether a segment name belongs to thread-local storage.
func isTLSName(name string) bool {
	return strings.HasPrefix(name, ".tdata") || strings.HasPrefix(name, ".tbss")
}
