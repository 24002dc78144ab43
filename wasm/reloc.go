package wasm

import (
	"fmt"
	"strings"
)

// RelocType identifies a relocation entry kind from the object file format.
type RelocType uint8

// Relocation types. Values match the reloc.* custom section encoding.
const (
	RelocFunctionIndexLEB    RelocType = 0
	RelocTableIndexSLEB      RelocType = 1
	RelocTableIndexI32       RelocType = 2
	RelocMemoryAddrLEB       RelocType = 3
	RelocMemoryAddrSLEB      RelocType = 4
	RelocMemoryAddrI32       RelocType = 5
	RelocTypeIndexLEB        RelocType = 6
	RelocGlobalIndexLEB      RelocType = 7
	RelocFunctionOffsetI32   RelocType = 8
	RelocSectionOffsetI32    RelocType = 9
	RelocTagIndexLEB         RelocType = 10
	RelocMemoryAddrRelSLEB   RelocType = 11
	RelocTableIndexRelSLEB   RelocType = 12
	RelocGlobalIndexI32      RelocType = 13
	RelocMemoryAddrLEB64     RelocType = 14
	RelocMemoryAddrSLEB64    RelocType = 15
	RelocMemoryAddrI64       RelocType = 16
	RelocMemoryAddrRelSLEB64 RelocType = 17
	RelocTableIndexSLEB64    RelocType = 18
	RelocTableIndexI64       RelocType = 19
	RelocTableNumberLEB      RelocType = 20
	RelocMemoryAddrTLSSLEB   RelocType = 21
	RelocFunctionOffsetI64   RelocType = 22
	RelocMemoryAddrLocRelI32 RelocType = 23
	RelocTableIndexRelSLEB64 RelocType = 24
	RelocMemoryAddrTLSSLEB64 RelocType = 25
	RelocFunctionIndexI32    RelocType = 26
)

const relocTypeCount = 27

var relocNames = [relocTypeCount]string{
	"R_WASM_FUNCTION_INDEX_LEB",
	"R_WASM_TABLE_INDEX_SLEB",
	"R_WASM_TABLE_INDEX_I32",
	"R_WASM_MEMORY_ADDR_LEB",
	"R_WASM_MEMORY_ADDR_SLEB",
	"R_WASM_MEMORY_ADDR_I32",
	"R_WASM_TYPE_INDEX_LEB",
	"R_WASM_GLOBAL_INDEX_LEB",
	"R_WASM_FUNCTION_OFFSET_I32",
	"R_WASM_SECTION_OFFSET_I32",
	"R_WASM_TAG_INDEX_LEB",
	"R_WASM_MEMORY_ADDR_REL_SLEB",
	"R_WASM_TABLE_INDEX_REL_SLEB",
	"R_WASM_GLOBAL_INDEX_I32",
	"R_WASM_MEMORY_ADDR_LEB64",
	"R_WASM_MEMORY_ADDR_SLEB64",
	"R_WASM_MEMORY_ADDR_I64",
	"R_WASM_MEMORY_ADDR_REL_SLEB64",
	"R_WASM_TABLE_INDEX_SLEB64",
	"R_WASM_TABLE_INDEX_I64",
	"R_WASM_TABLE_NUMBER_LEB",
	"R_WASM_MEMORY_ADDR_TLS_SLEB",
	"R_WASM_FUNCTION_OFFSET_I64",
	"R_WASM_MEMORY_ADDR_LOCREL_I32",
	"R_WASM_TABLE_INDEX_REL_SLEB64",
	"R_WASM_MEMORY_ADDR_TLS_SLEB64",
	"R_WASM_FUNCTION_INDEX_I32",
}

func (t RelocType) String() string {
	if t.Valid() {
		return relocNames[t]
	}
	return fmt.Sprintf("R_WASM_UNKNOWN(%d)", uint8(t))
}

// ParseRelocType returns the relocation type named name. The R_WASM_
// prefix is optional.
func ParseRelocType(name string) (RelocType, bool) {
	if !strings.HasPrefix(name, "R_WASM_") {
		name = "R_WASM_" + name
	}
	for i, n := range relocNames {
		if n == name {
			return RelocType(i), true
		}
	}
	return 0, false
}

// Valid reports whether t is a known relocation type.
func (t RelocType) Valid() bool {
	return t < relocTypeCount
}

// RelocEncoding describes how a relocated value is stored in the byte stream.
type RelocEncoding uint8

const (
	EncodingULEB32 RelocEncoding = iota // 5-byte padded unsigned LEB128
	EncodingSLEB32                      // 5-byte padded signed LEB128
	EncodingI32                         // 4-byte little endian
	EncodingULEB64                      // 10-byte padded unsigned LEB128
	EncodingSLEB64                      // 10-byte padded signed LEB128
	EncodingI64                         // 8-byte little endian
)

// Size returns the number of bytes the encoding occupies.
func (e RelocEncoding) Size() int {
	switch e {
	case EncodingULEB32, EncodingSLEB32:
		return PaddedLEB32
	case EncodingI32:
		return 4
	case EncodingULEB64, EncodingSLEB64:
		return PaddedLEB64
	default:
		return 8
	}
}

// Encoding returns the storage encoding of the relocated value.
func (t RelocType) Encoding() RelocEncoding {
	switch t {
	case RelocFunctionIndexLEB, RelocMemoryAddrLEB, RelocTypeIndexLEB,
		RelocGlobalIndexLEB, RelocTagIndexLEB, RelocTableNumberLEB:
		return EncodingULEB32
	case RelocTableIndexSLEB, RelocMemoryAddrSLEB, RelocMemoryAddrRelSLEB,
		RelocTableIndexRelSLEB, RelocMemoryAddrTLSSLEB:
		return EncodingSLEB32
	case RelocTableIndexI32, RelocMemoryAddrI32, RelocFunctionOffsetI32,
		RelocSectionOffsetI32, RelocGlobalIndexI32, RelocMemoryAddrLocRelI32,
		RelocFunctionIndexI32:
		return EncodingI32
	case RelocMemoryAddrLEB64:
		return EncodingULEB64
	case RelocMemoryAddrSLEB64, RelocMemoryAddrRelSLEB64, RelocTableIndexSLEB64,
		RelocMemoryAddrTLSSLEB64, RelocTableIndexRelSLEB64:
		return EncodingSLEB64
	default:
		return EncodingI64
	}
}

// Size returns the number of bytes patched by a relocation of this type.
func (t RelocType) Size() int {
	return t.Encoding().Size()
}

// HasAddend reports whether the relocation entry carries an addend.
func (t RelocType) HasAddend() bool {
	switch t {
	case RelocMemoryAddrLEB, RelocMemoryAddrSLEB, RelocMemoryAddrI32,
		RelocMemoryAddrLEB64, RelocMemoryAddrSLEB64, RelocMemoryAddrI64,
		RelocMemoryAddrRelSLEB, RelocMemoryAddrRelSLEB64,
		RelocMemoryAddrTLSSLEB, RelocMemoryAddrTLSSLEB64,
		RelocMemoryAddrLocRelI32,
		RelocFunctionOffsetI32, RelocFunctionOffsetI64,
		RelocSectionOffsetI32:
		return true
	}
	return false
}

// RelocTarget is the index space or address space a relocation resolves into.
type RelocTarget uint8

const (
	TargetFunctionIndex RelocTarget = iota
	TargetTableIndex
	TargetMemoryAddr
	TargetTypeIndex
	TargetGlobalIndex
	TargetFunctionOffset
	TargetSectionOffset
	TargetTagIndex
	TargetTableNumber
)

// Target returns what the relocated value refers to.
func (t RelocType) Target() RelocTarget {
	switch t {
	case RelocFunctionIndexLEB, RelocFunctionIndexI32:
		return TargetFunctionIndex
	case RelocTableIndexSLEB, RelocTableIndexI32, RelocTableIndexRelSLEB,
		RelocTableIndexSLEB64, RelocTableIndexI64, RelocTableIndexRelSLEB64:
		return TargetTableIndex
	case RelocTypeIndexLEB:
		return TargetTypeIndex
	case RelocGlobalIndexLEB, RelocGlobalIndexI32:
		return TargetGlobalIndex
	case RelocFunctionOffsetI32, RelocFunctionOffsetI64:
		return TargetFunctionOffset
	case RelocSectionOffsetI32:
		return TargetSectionOffset
	case RelocTagIndexLEB:
		return TargetTagIndex
	case RelocTableNumberLEB:
		return TargetTableNumber
	default:
		return TargetMemoryAddr
	}
}

// Relative reports whether the value is relative to a base global
// (__memory_base, __table_base or __tls_base) rather than absolute.
func (t RelocType) Relative() bool {
	switch t {
	case RelocMemoryAddrRelSLEB, RelocMemoryAddrRelSLEB64,
		RelocTableIndexRelSLEB, RelocTableIndexRelSLEB64,
		RelocMemoryAddrTLSSLEB, RelocMemoryAddrTLSSLEB64:
		return true
	}
	return false
}
