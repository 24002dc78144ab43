package wasm_test

import (
	"errors"
	"testing"

	"github.com/wippyai/wasmld/wasm"
)

func buildModule() []byte {
	w := wasm.NewWriter()
	wasm.WriteHeader(w)

	m := w.BeginSection(wasm.SectionType)
	w.WriteU32(1)
	wasm.WriteFuncType(w, wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionImport)
	w.WriteU32(1)
	w.WriteName("env")
	w.WriteName("ext")
	w.Byte(wasm.KindFunc)
	w.WriteU32(0)
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionFunction)
	w.WriteU32(1)
	w.WriteU32(0)
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionMemory)
	w.WriteU32(1)
	wasm.WriteLimits(w, wasm.Limits{Min: 2})
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionGlobal)
	w.WriteU32(1)
	wasm.WriteGlobalType(w, wasm.GlobalType{ValType: wasm.ValI32, Mutable: true})
	w.WriteBytes(wasm.I32ConstExpr(65536))
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionExport)
	w.WriteU32(1)
	w.WriteName("id")
	w.Byte(wasm.KindFunc)
	w.WriteU32(1)
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionDataCount)
	w.WriteU32(1)
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionCode)
	w.WriteU32(1)
	w.WriteU32(4)
	w.WriteBytes([]byte{0x00, wasm.OpLocalGet, 0x00, wasm.OpEnd})
	w.EndSection(m)

	m = w.BeginSection(wasm.SectionData)
	w.WriteU32(1)
	w.WriteU32(wasm.SegmentActive)
	w.WriteBytes(wasm.I32ConstExpr(1024))
	w.WriteU32(2)
	w.WriteBytes([]byte("hi"))
	w.EndSection(m)

	m = w.BeginCustomSection("producers")
	w.WriteU32(0)
	w.EndSection(m)

	return w.Bytes()
}

func TestParseModule(t *testing.T) {
	m, err := wasm.ParseModule(buildModule())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if len(m.Types) != 1 || m.Types[0].String() != "(i32) -> (i32)" {
		t.Errorf("Types = %v", m.Types)
	}
	if m.NumImportedFuncs() != 1 || m.Imports[0].Module != "env" || m.Imports[0].Name != "ext" {
		t.Errorf("Imports = %+v", m.Imports)
	}
	if len(m.Funcs) != 1 || len(m.Code) != 1 {
		t.Fatalf("Funcs = %v, Code = %d", m.Funcs, len(m.Code))
	}
	if got := m.Code[0].Code; len(got) != 3 || got[0] != wasm.OpLocalGet {
		t.Errorf("Code = % x", got)
	}
	if len(m.Memories) != 1 || m.Memories[0].Limits.Min != 2 || m.Memories[0].Limits.Max != nil {
		t.Errorf("Memories = %+v", m.Memories)
	}
	if len(m.Globals) != 1 || !m.Globals[0].Type.Mutable {
		t.Errorf("Globals = %+v", m.Globals)
	}
	if exp, ok := m.ExportByName("id"); !ok || exp.Idx != 1 {
		t.Errorf("export id = %+v, %v", exp, ok)
	}
	if m.DataCount == nil || *m.DataCount != 1 {
		t.Errorf("DataCount = %v", m.DataCount)
	}
	if len(m.Data) != 1 || string(m.Data[0].Init) != "hi" || m.Data[0].Passive() {
		t.Errorf("Data = %+v", m.Data)
	}
	if _, ok := m.Custom("producers"); !ok {
		t.Error("missing producers custom section")
	}
}

func TestParseModule_Errors(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		_, err := wasm.ParseModule([]byte{0, 'a', 's', 'n', 1, 0, 0, 0})
		if !errors.Is(err, wasm.ErrInvalidMagic) {
			t.Errorf("err = %v, want ErrInvalidMagic", err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		_, err := wasm.ParseModule([]byte{0, 'a', 's', 'm', 2, 0, 0, 0})
		if !errors.Is(err, wasm.ErrInvalidVersion) {
			t.Errorf("err = %v, want ErrInvalidVersion", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		data := buildModule()
		if _, err := wasm.ParseModule(data[:len(data)-3]); err == nil {
			t.Error("expected error for truncated module")
		}
	})

	t.Run("out of order", func(t *testing.T) {
		w := wasm.NewWriter()
		wasm.WriteHeader(w)
		wasm.WriteSection(w, wasm.SectionFunction, []byte{0})
		wasm.WriteSection(w, wasm.SectionType, []byte{0})
		if _, err := wasm.ParseModule(w.Bytes()); err == nil {
			t.Error("expected ordering error")
		}
	})
}

func TestSectionOrder(t *testing.T) {
	if wasm.SectionOrder(wasm.SectionDataCount) >= wasm.SectionOrder(wasm.SectionCode) {
		t.Error("data count must precede code")
	}
	if wasm.SectionOrder(wasm.SectionElement) >= wasm.SectionOrder(wasm.SectionDataCount) {
		t.Error("element must precede data count")
	}
}
