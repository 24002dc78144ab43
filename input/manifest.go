package input

import (
	"encoding/hex"

	json "github.com/goccy/go-json"
)

// Manifest is the serialized description of one relocatable object.
// Symbols refer to each other by name; payload bytes are hex strings in
// JSON and byte strings in CBOR.
type Manifest struct {
	Path      string          `json:"path,omitempty" cbor:"path,omitempty"`
	MustLink  bool            `json:"must_link,omitempty" cbor:"must_link,omitempty"`
	Types     []Signature     `json:"types,omitempty" cbor:"types,omitempty"`
	Functions []Function      `json:"functions,omitempty" cbor:"functions,omitempty"`
	Globals   []Global        `json:"globals,omitempty" cbor:"globals,omitempty"`
	Tables    []Table         `json:"tables,omitempty" cbor:"tables,omitempty"`
	Segments  []Segment       `json:"segments,omitempty" cbor:"segments,omitempty"`
	Data      []DataSymbol    `json:"data,omitempty" cbor:"data,omitempty"`
	Customs   []CustomSection `json:"customs,omitempty" cbor:"customs,omitempty"`
	InitFuncs []InitFunc      `json:"init_funcs,omitempty" cbor:"init_funcs,omitempty"`
	Features  []string        `json:"features,omitempty" cbor:"features,omitempty"`
}

// Signature is a function type. Value types are spelled as in the text
// format: i32, i64, f32, f64, v128, funcref, externref.
type Signature struct {
	Params  []string `json:"params,omitempty" cbor:"params,omitempty"`
	Results []string `json:"results,omitempty" cbor:"results,omitempty"`
}

// Function is a function symbol. Undefined functions carry no code.
type Function struct {
	Name   string   `json:"name" cbor:"name"`
	Module string   `json:"module,omitempty" cbor:"module,omitempty"`
	Field  string   `json:"field,omitempty" cbor:"field,omitempty"`
	Flags  []string `json:"flags,omitempty" cbor:"flags,omitempty"`
	Type   uint32   `json:"type" cbor:"type"`
	Code   Hex      `json:"code,omitempty" cbor:"code,omitempty"`
	Relocs []Reloc  `json:"relocs,omitempty" cbor:"relocs,omitempty"`
	Comdat string   `json:"comdat,omitempty" cbor:"comdat,omitempty"`
}

// Global is a global symbol. Init is the constant expression including
// its end opcode.
type Global struct {
	Name    string   `json:"name" cbor:"name"`
	Module  string   `json:"module,omitempty" cbor:"module,omitempty"`
	Field   string   `json:"field,omitempty" cbor:"field,omitempty"`
	Flags   []string `json:"flags,omitempty" cbor:"flags,omitempty"`
	Type    string   `json:"type" cbor:"type"`
	Mutable bool     `json:"mutable,omitempty" cbor:"mutable,omitempty"`
	Init    Hex      `json:"init,omitempty" cbor:"init,omitempty"`
	Relocs  []Reloc  `json:"relocs,omitempty" cbor:"relocs,omitempty"`
}

// Table is a table symbol.
type Table struct {
	Name     string   `json:"name" cbor:"name"`
	Module   string   `json:"module,omitempty" cbor:"module,omitempty"`
	Field    string   `json:"field,omitempty" cbor:"field,omitempty"`
	Flags    []string `json:"flags,omitempty" cbor:"flags,omitempty"`
	ElemType string   `json:"elem_type,omitempty" cbor:"elem_type,omitempty"` // defaults to funcref
	Min      uint64   `json:"min" cbor:"min"`
	Max      *uint64  `json:"max,omitempty" cbor:"max,omitempty"`
}

// Segment is an input data segment. Size may exceed len(Data); the rest
// is zero-filled.
type Segment struct {
	Name   string   `json:"name" cbor:"name"`
	Align  uint32   `json:"align,omitempty" cbor:"align,omitempty"`
	Flags  []string `json:"flags,omitempty" cbor:"flags,omitempty"`
	Data   Hex      `json:"data,omitempty" cbor:"data,omitempty"`
	Size   uint32   `json:"size,omitempty" cbor:"size,omitempty"`
	Relocs []Reloc  `json:"relocs,omitempty" cbor:"relocs,omitempty"`
	Comdat string   `json:"comdat,omitempty" cbor:"comdat,omitempty"`
}

// DataSymbol names a range inside a segment of the same manifest. An empty
// Segment makes the symbol undefined.
type DataSymbol struct {
	Name    string   `json:"name" cbor:"name"`
	Flags   []string `json:"flags,omitempty" cbor:"flags,omitempty"`
	Segment string   `json:"segment,omitempty" cbor:"segment,omitempty"`
	Offset  uint32   `json:"offset,omitempty" cbor:"offset,omitempty"`
	Size    uint32   `json:"size,omitempty" cbor:"size,omitempty"`
}

// CustomSection is carried into the output, relocated.
type CustomSection struct {
	Name   string  `json:"name" cbor:"name"`
	Data   Hex     `json:"data,omitempty" cbor:"data,omitempty"`
	Relocs []Reloc `json:"relocs,omitempty" cbor:"relocs,omitempty"`
}

// InitFunc registers a constructor.
type InitFunc struct {
	Priority uint32 `json:"priority" cbor:"priority"`
	Symbol   string `json:"symbol" cbor:"symbol"`
}

// Reloc patches Offset bytes into its owner's payload. Type is a relocation
// name such as R_WASM_FUNCTION_INDEX_LEB or FUNCTION_INDEX_LEB.
type Reloc struct {
	Type      string `json:"type" cbor:"type"`
	Offset    uint32 `json:"offset" cbor:"offset"`
	Addend    int64  `json:"addend,omitempty" cbor:"addend,omitempty"`
	Symbol    string `json:"symbol,omitempty" cbor:"symbol,omitempty"`
	TypeIndex uint32 `json:"type_index,omitempty" cbor:"type_index,omitempty"`
	Section   string `json:"section,omitempty" cbor:"section,omitempty"`
}

// Hex is a byte payload written as a hex string in JSON.
type Hex []byte

func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}
