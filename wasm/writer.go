package wasm

import (
	"bytes"
	"encoding/binary"
)

// Writer provides buffered writing utilities for WASM binary encoding.
//
// Sizes and indices that are not known until later can be reserved as
// padded LEB128 fields and patched in place, so that no section ever needs
// to be re-encoded after its contents are written.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes. The slice aliases the writer's buffer
// until the next write.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU32 writes an unsigned LEB128 encoded uint32.
func (w *Writer) WriteU32(v uint32) {
	w.WriteU64(uint64(v))
}

// WriteU64 writes an unsigned LEB128 encoded uint64.
func (w *Writer) WriteU64(v uint64) {
	var tmp [PaddedLEB64]byte
	w.buf.Write(AppendLEB128u(tmp[:0], v))
}

// WriteS32 writes a signed LEB128 encoded int32.
func (w *Writer) WriteS32(v int32) {
	w.WriteS64(int64(v))
}

// WriteS64 writes a signed LEB128 encoded int64.
func (w *Writer) WriteS64(v int64) {
	var tmp [PaddedLEB64]byte
	w.buf.Write(AppendLEB128s(tmp[:0], v))
}

// WriteName writes a UTF-8 encoded name (length-prefixed).
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU64LE writes a little-endian uint64 (fixed 8 bytes).
func (w *Writer) WriteU64LE(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.buf.Write(buf[:])
}

// WritePaddedU32 writes v as a 5-byte padded unsigned LEB128.
func (w *Writer) WritePaddedU32(v uint32) {
	var tmp [PaddedLEB32]byte
	PutPaddedLEB128u(tmp[:], uint64(v), PaddedLEB32)
	w.buf.Write(tmp[:])
}

// WritePaddedS32 writes v as a 5-byte padded signed LEB128.
func (w *Writer) WritePaddedS32(v int32) {
	var tmp [PaddedLEB32]byte
	PutPaddedLEB128s(tmp[:], int64(v), PaddedLEB32)
	w.buf.Write(tmp[:])
}

// ReserveU32 writes a zeroed 5-byte padded field and returns its offset
// for a later PatchU32.
func (w *Writer) ReserveU32() int {
	off := w.buf.Len()
	w.WritePaddedU32(0)
	return off
}

// PatchU32 overwrites the padded field at off with v.
func (w *Writer) PatchU32(off int, v uint32) {
	PutPaddedLEB128u(w.buf.Bytes()[off:off+PaddedLEB32], uint64(v), PaddedLEB32)
}

// BeginSection writes a section id and a reserved size field. The returned
// mark is passed to EndSection once the payload is written.
func (w *Writer) BeginSection(id byte) int {
	w.Byte(id)
	return w.ReserveU32()
}

// BeginCustomSection starts a custom section named name.
func (w *Writer) BeginCustomSection(name string) int {
	mark := w.BeginSection(SectionCustom)
	w.WriteName(name)
	return mark
}

// EndSection patches the size field reserved by BeginSection.
func (w *Writer) EndSection(mark int) {
	w.PatchU32(mark, uint32(w.buf.Len()-mark-PaddedLEB32))
}
