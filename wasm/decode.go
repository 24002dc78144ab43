package wasm

import (
	"errors"
	"fmt"
	"strings"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module. It understands the
// constructs the linker emits and is used to inspect and test output.
func ParseModule(data []byte) (*Module, error) {
	r := newReader(data, 0)

	magic, err := r.readU32LE()
	if err != nil {
		return nil, r.parseError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.readU32LE()
	if err != nil {
		return nil, r.parseError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for !r.eof() {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.parseError("section header", err)
		}

		// Custom sections can appear anywhere
		if sectionID != SectionCustom {
			order := SectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.readU32()
		if err != nil {
			return nil, r.parseError("section size", err)
		}
		base := r.position()
		sectionData, err := r.readBytes(int(sectionSize))
		if err != nil {
			return nil, r.parseError("section data", err)
		}

		sr := newReader(sectionData, base)
		var perr error
		switch sectionID {
		case SectionCustom:
			perr = parseCustomSection(sr, m)
		case SectionType:
			perr = parseTypeSection(sr, m)
		case SectionImport:
			perr = parseImportSection(sr, m)
		case SectionFunction:
			perr = parseFunctionSection(sr, m)
		case SectionTable:
			perr = parseTableSection(sr, m)
		case SectionMemory:
			perr = parseMemorySection(sr, m)
		case SectionGlobal:
			perr = parseGlobalSection(sr, m)
		case SectionExport:
			perr = parseExportSection(sr, m)
		case SectionStart:
			perr = parseStartSection(sr, m)
		case SectionElement:
			perr = parseElementSection(sr, m)
		case SectionDataCount:
			perr = parseDataCountSection(sr, m)
		case SectionCode:
			perr = parseCodeSection(sr, m)
		case SectionData:
			perr = parseDataSection(sr, m)
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}
		if perr != nil {
			return nil, fmt.Errorf("%s section: %w", sectionLabel(sectionID), perr)
		}
	}

	return m, nil
}

func sectionLabel(id byte) string {
	switch id {
	case SectionDataCount:
		return "data count"
	case SectionElement:
		return "element"
	default:
		return strings.ToLower(SectionName(id))
	}
}

func parseCustomSection(r *reader, m *Module) error {
	name, err := r.readName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.readRemaining(),
	})
	return nil
}

func parseTypeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			return fmt.Errorf("expected functype (0x60), got 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types[i] = FuncType{Params: params, Results: results}
	}
	return nil
}

func readValTypes(r *reader) ([]ValType, error) {
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, n)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = ValType(b)
	}
	return out, nil
}

func parseImportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := r.readName()
		if err != nil {
			return err
		}
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = r.readU32(); err != nil {
				return err
			}
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			l, err := r.readLimits()
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return fmt.Errorf("invalid import kind 0x%02x", kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func readTableType(r *reader) (TableType, error) {
	et, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	l, err := r.readLimits()
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(et), Limits: l}, nil
}

func readGlobalType(r *reader) (GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(vt), Mutable: mut != 0}, nil
}

func parseFunctionSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tt, err := readTableType(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, tt)
	}
	return nil
}

func parseMemorySection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := r.readLimits()
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, MemoryType{Limits: l})
	}
	return nil
}

func parseGlobalSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		expr, err := r.readConstExpr()
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: expr})
	}
	return nil
}

func parseExportSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := r.readName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func parseStartSection(r *reader, m *Module) error {
	idx, err := r.readU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.readU32()
		if err != nil {
			return err
		}
		el := Element{Flags: flags}
		switch flags {
		case 0:
			if el.Offset, err = r.readConstExpr(); err != nil {
				return err
			}
		case 2:
			if el.TableIdx, err = r.readU32(); err != nil {
				return err
			}
			if el.Offset, err = r.readConstExpr(); err != nil {
				return err
			}
			if _, err := r.ReadByte(); err != nil { // elemkind
				return err
			}
		default:
			return fmt.Errorf("unsupported element segment flags %d", flags)
		}
		n, err := r.readU32()
		if err != nil {
			return err
		}
		el.FuncIdxs = make([]uint32, n)
		for j := range el.FuncIdxs {
			if el.FuncIdxs[j], err = r.readU32(); err != nil {
				return err
			}
		}
		m.Elements = append(m.Elements, el)
	}
	return nil
}

func parseDataCountSection(r *reader, m *Module) error {
	n, err := r.readU32()
	if err != nil {
		return err
	}
	m.DataCount = &n
	return nil
}

func parseCodeSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, count)
	for i := uint32(0); i < count; i++ {
		size, err := r.readU32()
		if err != nil {
			return err
		}
		base := r.position()
		body, err := r.readBytes(int(size))
		if err != nil {
			return err
		}
		br := newReader(body, base)
		groups, err := br.readU32()
		if err != nil {
			return err
		}
		fb := FuncBody{}
		for g := uint32(0); g < groups; g++ {
			n, err := br.readU32()
			if err != nil {
				return err
			}
			vt, err := br.ReadByte()
			if err != nil {
				return err
			}
			fb.Locals = append(fb.Locals, LocalEntry{Count: n, ValType: ValType(vt)})
		}
		fb.Code = br.readRemaining()
		m.Code = append(m.Code, fb)
	}
	return nil
}

func parseDataSection(r *reader, m *Module) error {
	count, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.readU32()
		if err != nil {
			return err
		}
		seg := DataSegment{Flags: flags}
		switch flags {
		case 0:
			if seg.Offset, err = r.readConstExpr(); err != nil {
				return err
			}
		case 1:
		case 2:
			if seg.MemIdx, err = r.readU32(); err != nil {
				return err
			}
			if seg.Offset, err = r.readConstExpr(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid data segment flags %d", flags)
		}
		n, err := r.readU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.readBytes(int(n)); err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return fmt.Errorf("data count %d does not match %d segments", *m.DataCount, len(m.Data))
	}
	return nil
}
