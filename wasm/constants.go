package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// PageSize is the size of one linear memory page.
const PageSize = 65536

// MaxMemory32 is the largest linear memory a 32-bit module can address.
const MaxMemory32 uint64 = 1 << 32

// Section IDs define the binary identifiers for each module section.
// Sections must appear in canonical order (see SectionOrder), custom sections anywhere.
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
)

// SectionOrder returns the canonical position of a known section ID.
// DataCount sorts between Element and Code even though its ID is larger.
func SectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 100
	}
}

// SectionName returns the conventional name of a section ID, used in
// relocation section names ("reloc.CODE").
func SectionName(id byte) string {
	switch id {
	case SectionType:
		return "TYPE"
	case SectionImport:
		return "IMPORT"
	case SectionFunction:
		return "FUNCTION"
	case SectionTable:
		return "TABLE"
	case SectionMemory:
		return "MEMORY"
	case SectionGlobal:
		return "GLOBAL"
	case SectionExport:
		return "EXPORT"
	case SectionStart:
		return "START"
	case SectionElement:
		return "ELEM"
	case SectionCode:
		return "CODE"
	case SectionData:
		return "DATA"
	case SectionDataCount:
		return "DATACOUNT"
	default:
		return "CUSTOM"
	}
}

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
)

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32     ValType = 0x7F // 32-bit integer
	ValI64     ValType = 0x7E // 64-bit integer
	ValF32     ValType = 0x7D // 32-bit float
	ValF64     ValType = 0x7C // 64-bit float
	ValV128    ValType = 0x7B // 128-bit vector (SIMD)
	ValFuncRef ValType = 0x70 // Function reference
	ValExtern  ValType = 0x6F // External reference
)

// Type constructor bytes
const (
	FuncTypeByte  byte = 0x60
	BlockTypeVoid byte = 0x40
)

// Limits flag bits
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Data segment and element segment flags
const (
	SegmentActive  uint32 = 0
	SegmentPassive uint32 = 1
)

// Control flow opcodes
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
)

// Variable access opcodes
const (
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
)

// Memory, constant and numeric opcodes
const (
	OpI32Load  byte = 0x28
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
	OpI32Add   byte = 0x6A
)

// Prefixed opcodes (0xFC misc, 0xFE atomics)
const (
	OpPrefixMisc   byte = 0xFC
	OpPrefixAtomic byte = 0xFE

	MiscMemoryInit uint32 = 0x08
	MiscDataDrop   uint32 = 0x09

	AtomicNotify        uint32 = 0x00
	AtomicWait32        uint32 = 0x01
	AtomicI32Store      uint32 = 0x17
	AtomicI32RmwCmpxchg uint32 = 0x48
)

// Symbol kinds in the linking section symbol table
const (
	SymtabFunction byte = 0
	SymtabData     byte = 1
	SymtabGlobal   byte = 2
	SymtabSection  byte = 3
	SymtabTag      byte = 4
	SymtabTable    byte = 5
)

// Linking section subsection IDs and metadata version
const (
	LinkingVersion uint32 = 2

	LinkingSegmentInfo byte = 5
	LinkingInitFuncs   byte = 6
	LinkingComdatInfo  byte = 7
	LinkingSymbolTable byte = 8
)

// Comdat member kinds
const (
	ComdatData     byte = 0
	ComdatFunction byte = 1
	ComdatGlobal   byte = 2
	ComdatSection  byte = 5
)

// Segment flags in the linking section segment info
const (
	SegmentFlagStrings uint32 = 0x1
	SegmentFlagTLS     uint32 = 0x2
)

// Name section subsection IDs
const (
	NameModule   byte = 0
	NameFunction byte = 1
	NameLocal    byte = 2
	NameGlobal   byte = 7
	NameData     byte = 9
)
