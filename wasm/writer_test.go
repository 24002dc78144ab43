package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasmld/wasm"
)

func TestWriter_Section(t *testing.T) {
	w := wasm.NewWriter()
	mark := w.BeginSection(wasm.SectionType)
	w.WriteU32(1)
	wasm.WriteFuncType(w, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
	w.EndSection(mark)

	want := []byte{
		wasm.SectionType,
		0x85, 0x80, 0x80, 0x80, 0x00, // padded size 5
		0x01, 0x60, 0x00, 0x01, 0x7f,
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("section = % x, want % x", w.Bytes(), want)
	}
}

func TestWriter_ReservePatch(t *testing.T) {
	w := wasm.NewWriter()
	w.Byte(0xAA)
	off := w.ReserveU32()
	w.Byte(0xBB)
	w.PatchU32(off, 300)

	got := w.Bytes()
	if len(got) != 7 {
		t.Fatalf("len = %d, want 7", len(got))
	}
	v, err := wasm.ReadLEB128u(bytes.NewReader(got[1:6]))
	if err != nil || v != 300 {
		t.Errorf("patched value = %d, %v", v, err)
	}
	if got[6] != 0xBB {
		t.Errorf("trailing byte clobbered: %x", got[6])
	}
}

func TestWriter_Scalars(t *testing.T) {
	w := wasm.NewWriter()
	w.WriteName("env")
	w.WriteU32LE(0x01020304)
	w.WriteS32(-1)
	w.WritePaddedS32(-2)

	want := []byte{
		0x03, 'e', 'n', 'v',
		0x04, 0x03, 0x02, 0x01,
		0x7f,
		0xfe, 0xff, 0xff, 0xff, 0x7f,
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("bytes = % x, want % x", w.Bytes(), want)
	}
}

func TestWriteLimits(t *testing.T) {
	hi := uint64(4)
	tests := []struct {
		name   string
		limits wasm.Limits
		want   []byte
	}{
		{"min only", wasm.Limits{Min: 2}, []byte{0x00, 0x02}},
		{"min max", wasm.Limits{Min: 2, Max: &hi}, []byte{0x01, 0x02, 0x04}},
		{"shared", wasm.Limits{Min: 2, Max: &hi, Shared: true}, []byte{0x03, 0x02, 0x04}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := wasm.NewWriter()
			wasm.WriteLimits(w, tt.limits)
			if !bytes.Equal(w.Bytes(), tt.want) {
				t.Errorf("WriteLimits = % x, want % x", w.Bytes(), tt.want)
			}
		})
	}
}

func TestConstExpr(t *testing.T) {
	if got := wasm.I32ConstExpr(1024); !bytes.Equal(got, []byte{0x41, 0x80, 0x08, 0x0b}) {
		t.Errorf("I32ConstExpr(1024) = % x", got)
	}
	if got := wasm.I64ConstExpr(-1); !bytes.Equal(got, []byte{0x42, 0x7f, 0x0b}) {
		t.Errorf("I64ConstExpr(-1) = % x", got)
	}
}
