package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// reader walks a byte slice with position tracking and WASM-specific read methods.
type reader struct {
	data []byte
	pos  int
	base int // absolute offset of data[0], for error positions
}

func newReader(data []byte, base int) *reader {
	return &reader{data: data, base: base}
}

func (r *reader) eof() bool {
	return r.pos >= len(r.data)
}

func (r *reader) position() int {
	return r.base + r.pos
}

// ReadByte reads a single byte and advances the position.
func (r *reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// readBytes returns the next n bytes without copying.
func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *reader) readU32() (uint32, error) {
	v, err := ReadLEB128u(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

func (r *reader) readU64() (uint64, error) {
	v, err := ReadLEB128u64(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

func (r *reader) readS64() (int64, error) {
	v, err := ReadLEB128s64(r)
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

func (r *reader) readU32LE() (uint32, error) {
	buf, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// readName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *reader) readName() (string, error) {
	length, err := r.readU32()
	if err != nil {
		return "", err
	}
	data, err := r.readBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrap(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

// readConstExpr returns the raw bytes of an init expression through its end opcode.
// Only the constant and global.get forms the linker emits are understood.
func (r *reader) readConstExpr() ([]byte, error) {
	start := r.pos
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return r.data[start:r.pos], nil
		case OpI32Const, OpI64Const:
			if _, err := r.readS64(); err != nil {
				return nil, err
			}
		case OpF32Const:
			if _, err := r.readBytes(4); err != nil {
				return nil, err
			}
		case OpF64Const:
			if _, err := r.readBytes(8); err != nil {
				return nil, err
			}
		case OpGlobalGet:
			if _, err := r.readU32(); err != nil {
				return nil, err
			}
		case OpI32Add:
		default:
			return nil, r.wrap(fmt.Errorf("unsupported opcode 0x%02x in constant expression", op))
		}
	}
}

func (r *reader) readLimits() (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}
	if l.Min, err = r.readU64(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		hi, err := r.readU64()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &hi
	}
	return l, nil
}

func (r *reader) wrap(err error) error {
	return fmt.Errorf("at position %d: %w", r.position(), err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (r *reader) parseError(section string, err error) error {
	return &ParseError{
		Position: r.position(),
		Section:  section,
		Err:      err,
	}
}
