package linker

import "github.com/wippyai/wasmld/wasm"

// ObjectIndex identifies a loaded input object.
type ObjectIndex uint32

// FunctionImport is the global symbol record for a function name. Every
// non-local function symbol, defined or not, is represented by one record;
// def is the definition chosen while loading inputs.
type FunctionImport struct {
	Module     String
	Name       String
	Field      String // import field name, defaults to Name
	Type       FuncType
	Flags      SymbolFlags
	Source     SourceLocation
	Resolution Resolution

	def         int32
	typeFromDef bool
}

// GlobalImport is the global symbol record for a global name.
type GlobalImport struct {
	Module     String
	Name       String
	Field      String // import field name, defaults to Name
	Type       wasm.GlobalType
	Flags      SymbolFlags
	Source     SourceLocation
	Resolution Resolution

	def int32
}

// TableImport is the global symbol record for a table name.
type TableImport struct {
	Module     String
	Name       String
	Field      String // import field name, defaults to Name
	Type       wasm.TableType
	Flags      SymbolFlags
	Source     SourceLocation
	Resolution Resolution

	def int32
}

// DataImport is the global symbol record for a data symbol name.
// A definition is a DataSymbol.
type DataImport struct {
	Name       String
	Flags      SymbolFlags
	Source     SourceLocation
	Resolution Resolution

	def int32
}

// MemoryImport describes the imported linear memory.
type MemoryImport struct {
	Module String
	Name   String
	Limits wasm.Limits
}

// Function is a defined function. Code is the complete code entry
// (locals declaration, instructions and end) without its size prefix.
type Function struct {
	Object ObjectIndex
	Name   String
	Flags  SymbolFlags
	Type   FuncType
	Code   Span
	Relocs RelocRange
	Comdat String
}

// Global is a defined global. Init is a constant expression including end.
type Global struct {
	Object ObjectIndex
	Name   String
	Flags  SymbolFlags
	Type   wasm.GlobalType
	Init   Span
	Relocs RelocRange
}

// Table is a defined table.
type Table struct {
	Object ObjectIndex
	Name   String
	Flags  SymbolFlags
	Type   wasm.TableType
}

// DataSegment is a data segment. Payload is empty for zero-fill segments,
// whose extent is Size.
type DataSegment struct {
	Object  ObjectIndex
	Name    String
	Flags   SymbolFlags
	Align   uint32 // bytes, a power of two
	Size    uint32
	Payload Span
	Relocs  RelocRange
	Comdat  String

	// layout results
	addr   uint32
	group  int32
	offset uint32
}

// DataSymbol names a range inside a data segment.
type DataSymbol struct {
	Object  ObjectIndex
	Name    String
	Flags   SymbolFlags
	Segment uint32
	Offset  uint32
	Size    uint32
}

// CustomSegment is an input custom section, copied to the output
// custom section of the same name.
type CustomSegment struct {
	Object  ObjectIndex
	Name    String
	Payload Span
	Relocs  RelocRange
}

// InitFunc is a constructor to be called from __wasm_call_ctors.
type InitFunc struct {
	Priority uint32
	Object   ObjectIndex
	Target   Pointee
}

// Comdat is a named group whose members are kept from the first object only.
type Comdat struct {
	Name   String
	Object ObjectIndex
}

// RelocRange is a contiguous range in the shared relocation list.
type RelocRange struct {
	Start uint32
	Len   uint32
}

// PointeeKind selects which field of a Pointee is meaningful.
type PointeeKind uint8

const (
	// PointeeSymbol refers to a global symbol record by name. The record
	// table is chosen by the relocation type's target.
	PointeeSymbol PointeeKind = iota
	PointeeFunction
	PointeeGlobal
	PointeeTable
	PointeeData
	PointeeType
	PointeeSection
)

// Pointee is the target of a relocation.
type Pointee struct {
	Kind  PointeeKind
	Index uint32 // fragment index, FuncType handle or custom segment index
	Name  String // PointeeSymbol
}

// SymbolPointee refers to the global symbol record named name.
func SymbolPointee(name String) Pointee {
	return Pointee{Kind: PointeeSymbol, Name: name}
}

// Reloc is one relocation. Offset is relative to the start of the owning
// fragment's payload.
type Reloc struct {
	Type   wasm.RelocType
	Offset uint32
	Addend int64
	Target Pointee
}
