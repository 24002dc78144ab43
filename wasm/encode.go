package wasm

// WriteHeader writes the module magic number and version.
func WriteHeader(w *Writer) {
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
}

// WriteSection writes a complete section whose payload is already encoded.
func WriteSection(w *Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

// WriteValTypes writes a length-prefixed value type vector.
func WriteValTypes(w *Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// WriteFuncType writes a function type including its 0x60 form byte.
func WriteFuncType(w *Writer, ft FuncType) {
	w.Byte(FuncTypeByte)
	WriteValTypes(w, ft.Params)
	WriteValTypes(w, ft.Results)
}

// WriteLimits writes table or memory limits.
func WriteLimits(w *Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)

	if l.Memory64 {
		w.WriteU64(l.Min)
		if l.Max != nil {
			w.WriteU64(*l.Max)
		}
	} else {
		w.WriteU32(uint32(l.Min))
		if l.Max != nil {
			w.WriteU32(uint32(*l.Max))
		}
	}
}

// WriteTableType writes a table type.
func WriteTableType(w *Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	WriteLimits(w, t.Limits)
}

// WriteMemoryType writes a memory type.
func WriteMemoryType(w *Writer, m MemoryType) {
	WriteLimits(w, m.Limits)
}

// WriteGlobalType writes a global type.
func WriteGlobalType(w *Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// I32ConstExpr returns the init expression "i32.const v; end".
func I32ConstExpr(v int32) []byte {
	out := []byte{OpI32Const}
	out = AppendLEB128s(out, int64(v))
	return append(out, OpEnd)
}

// I64ConstExpr returns the init expression "i64.const v; end".
func I64ConstExpr(v int64) []byte {
	out := []byte{OpI64Const}
	out = AppendLEB128s(out, v)
	return append(out, OpEnd)
}
