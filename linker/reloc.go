package linker

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// tombstone replaces references to discarded code in debug sections.
const tombstone = 0xFFFFFFFF

// outReloc is a relocation kept in object output, with its offset relative
// to the start of the output section payload.
type outReloc struct {
	typ    wasm.RelocType
	offset uint32
	addend int64
	target Pointee
}

// relocSite describes where a fragment's relocations are applied.
type relocSite struct {
	buf  []byte // output bytes of the fragment
	base uint32 // offset of the fragment payload within buf
	addr uint32 // virtual address of the payload, for data fragments

	// section offset of buf[0], and the list collecting relocations kept
	// in object output
	secOff uint32
	keep   *[]outReloc

	debug bool // dead targets become tombstones instead of errors
}

// relocValue computes the value stored at a relocation site. ok is false
// when the target did not survive garbage collection.
func (s *linkState) relocValue(r Reloc, site uint32, codeOff map[ref]uint32, customOff []uint32) (int64, bool) {
	ix := &s.indices
	p := r.Target
	switch r.Type.Target() {
	case wasm.TargetFunctionIndex:
		fr, ok := s.funcRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := ix.funcs[fr]
		return int64(idx), ok

	case wasm.TargetTableIndex:
		fr, ok := s.funcRef(p)
		if !ok {
			return 0, false
		}
		if fr.kind == refStub {
			return 0, true
		}
		slot, ok := s.slots[fr]
		return int64(slot), ok

	case wasm.TargetMemoryAddr:
		addr, ok := s.dataAddress(p)
		if !ok {
			// Undefined data in object output keeps only its addend.
			if s.cfg.isObject() {
				return r.Addend, true
			}
			return 0, false
		}
		v := int64(addr) + r.Addend
		switch r.Type {
		case wasm.RelocMemoryAddrTLSSLEB, wasm.RelocMemoryAddrTLSSLEB64:
			v -= int64(s.layout.tlsBase)
		case wasm.RelocMemoryAddrLocRelI32:
			v -= int64(site)
		}
		return v, true

	case wasm.TargetTypeIndex:
		idx, ok := ix.types[FuncType(p.Index)]
		return int64(idx), ok

	case wasm.TargetGlobalIndex:
		gr, ok := s.globalRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := ix.globals[gr]
		return int64(idx), ok

	case wasm.TargetTableNumber:
		tr, ok := s.tableRef(p)
		if !ok {
			return 0, false
		}
		idx, ok := ix.tables[tr]
		return int64(idx), ok

	case wasm.TargetFunctionOffset:
		fr, ok := s.funcRef(p)
		if !ok {
			return 0, false
		}
		off, ok := codeOff[fr]
		return int64(off) + r.Addend, ok

	case wasm.TargetSectionOffset:
		if int(p.Index) >= len(customOff) {
			return 0, false
		}
		return int64(customOff[p.Index]) + r.Addend, true
	}
	return 0, false
}

// patch stores v at buf[off:] using the relocation's encoding.
func patch(buf []byte, off uint32, typ wasm.RelocType, v int64) {
	dst := buf[off : int(off)+typ.Size()]
	switch typ.Encoding() {
	case wasm.EncodingULEB32:
		wasm.PutPaddedLEB128u(dst, uint64(uint32(v)), wasm.PaddedLEB32)
	case wasm.EncodingSLEB32:
		wasm.PutPaddedLEB128s(dst, int64(int32(v)), wasm.PaddedLEB32)
	case wasm.EncodingI32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case wasm.EncodingULEB64:
		wasm.PutPaddedLEB128u(dst, uint64(v), wasm.PaddedLEB64)
	case wasm.EncodingSLEB64:
		wasm.PutPaddedLEB128s(dst, v, wasm.PaddedLEB64)
	case wasm.EncodingI64:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	}
}

// applyRelocs patches every relocation of rr into site.buf.
func (s *linkState) applyRelocs(rr RelocRange, site relocSite, codeOff map[ref]uint32, customOff []uint32) error {
	for _, r := range s.l.Relocs(rr) {
		off := site.base + r.Offset
		if int(off)+r.Type.Size() > len(site.buf) {
			return errors.Internal(errors.PhaseEmit, "%s at offset %d outside fragment of %d bytes",
				r.Type, r.Offset, len(site.buf)-int(site.base))
		}
		v, ok := s.relocValue(r, site.addr+r.Offset, codeOff, customOff)
		if !ok {
			if !site.debug {
				return errors.Internal(errors.PhaseEmit, "%s target %s has no output value",
					r.Type, s.describe(r.Target))
			}
			v = tombstone
			if r.Type.Size() == 8 || r.Type.Size() == wasm.PaddedLEB64 {
				v = -1
			}
		}
		patch(site.buf, off, r.Type, v)
		if site.keep != nil {
			if r.Type.Target() == wasm.TargetSectionOffset {
				Logger().Warn("section offset relocation dropped from object output",
					zap.String("type", r.Type.String()))
				continue
			}
			*site.keep = append(*site.keep, outReloc{
				typ:    r.Type,
				offset: site.secOff + off,
				addend: r.Addend,
				target: r.Target,
			})
		}
	}
	return nil
}

func (s *linkState) describe(p Pointee) string {
	switch p.Kind {
	case PointeeSymbol:
		return "symbol " + s.l.str(p.Name)
	case PointeeFunction:
		return "function " + s.l.str(s.l.functions[p.Index].Name)
	case PointeeGlobal:
		return "global " + s.l.str(s.l.globals[p.Index].Name)
	case PointeeTable:
		return "table " + s.l.str(s.l.tables[p.Index].Name)
	case PointeeData:
		return "data " + s.l.str(s.l.dataSymbols[p.Index].Name)
	case PointeeType:
		return "type " + s.l.types.Get(FuncType(p.Index)).String()
	default:
		return "section"
	}
}
