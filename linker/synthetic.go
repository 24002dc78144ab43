package linker

import (
	"cmp"
	"slices"

	"github.com/wippyai/wasmld/wasm"
)

var i32 = []wasm.ValType{wasm.ValI32}

// syntheticSignature returns the type of a linker-provided function.
func syntheticSignature(k SyntheticKind) wasm.FuncType {
	if k == SynthInitTLS {
		return wasm.FuncType{Params: i32}
	}
	return wasm.FuncType{}
}

// syntheticGlobalType returns the type of a linker-provided global.
func syntheticGlobalType(k SyntheticKind) wasm.GlobalType {
	switch k {
	case SynthStackPointer, SynthTLSBase:
		return wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}
	default:
		return wasm.GlobalType{ValType: wasm.ValI32}
	}
}

// syntheticFunctionRecord creates the record for a linker function that is
// exported by name without being referenced by any input.
func (l *Linker) syntheticFunctionRecord(name string, k SyntheticKind) uint32 {
	h := l.arena.Intern(name)
	ri := uint32(len(l.funcImports))
	l.funcImports = append(l.funcImports, FunctionImport{
		Module: l.arena.Intern(l.cfg.importModule()),
		Name:   h,
		Field:  h,
		Type:   l.types.Intern(syntheticSignature(k)),
		Flags:  FlagUndefined,
		def:    -1,
	})
	l.funcByName[h] = ri
	return ri
}

func (l *Linker) syntheticGlobalRecord(name string, k SyntheticKind) uint32 {
	h := l.arena.Intern(name)
	ri := uint32(len(l.globalImports))
	l.globalImports = append(l.globalImports, GlobalImport{
		Module: l.arena.Intern(l.cfg.importModule()),
		Name:   h,
		Field:  h,
		Type:   syntheticGlobalType(k),
		Flags:  FlagUndefined,
		def:    -1,
	})
	l.globalByName[h] = ri
	return ri
}

// syntheticGlobalInit returns the constant initializer of a linker global.
func (s *linkState) syntheticGlobalInit(k SyntheticKind) []byte {
	ml := &s.layout
	var v uint32
	switch k {
	case SynthStackPointer:
		v = ml.stackHigh
	case SynthHeapBaseGlobal:
		v = ml.heapBase
	case SynthHeapEndGlobal:
		v = ml.heapEnd
	case SynthTLSBase:
		// Set per thread by __wasm_init_tls when memory is shared.
		if !s.cfg.SharedMemory {
			v = ml.tlsBase
		}
	case SynthTLSSize:
		v = ml.tlsSize
	case SynthTLSAlign:
		v = max(ml.tlsAlign, 1)
	}
	return wasm.I32ConstExpr(int32(v))
}

// stubBody is the code of a weak undefined function: no locals, unreachable.
var stubBody = []byte{0x00, wasm.OpUnreachable, wasm.OpEnd}

// syntheticBody returns the code entry of a linker function.
func (s *linkState) syntheticBody(k SyntheticKind) []byte {
	switch k {
	case SynthCallCtors:
		return s.callCtorsBody()
	case SynthInitMemory:
		return s.initMemoryBody()
	case SynthInitTLS:
		return s.initTLSBody()
	default:
		return stubBody
	}
}

func (s *linkState) callCtorsBody() []byte {
	w := wasm.NewWriter()
	w.WriteU32(0)

	ctors := slices.Clone(s.l.initFuncs)
	slices.SortStableFunc(ctors, func(a, b InitFunc) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	for _, f := range ctors {
		r, ok := s.funcRef(f.Target)
		if !ok || r.kind == refStub {
			continue
		}
		w.Byte(wasm.OpCall)
		w.WriteU32(s.indices.funcs[r])
		for range s.l.types.Get(s.funcType(r)).Results {
			w.Byte(wasm.OpDrop)
		}
	}
	w.Byte(wasm.OpEnd)
	return w.Bytes()
}

func writeMemArg(w *wasm.Writer) {
	w.WriteU32(2) // align 4
	w.WriteU32(0) // offset
}

func writeI32Const(w *wasm.Writer, v uint32) {
	w.Byte(wasm.OpI32Const)
	w.WriteS32(int32(v))
}

func writeMemoryInit(w *wasm.Writer, data uint32) {
	w.Byte(wasm.OpPrefixMisc)
	w.WriteU32(wasm.MiscMemoryInit)
	w.WriteU32(data)
	w.Byte(0)
}

func writeDataDrop(w *wasm.Writer, data uint32) {
	w.Byte(wasm.OpPrefixMisc)
	w.WriteU32(wasm.MiscDataDrop)
	w.WriteU32(data)
}

// passiveGroups returns the emitted passive groups initialized by
// __wasm_init_memory. The TLS block is left to __wasm_init_tls.
func (s *linkState) passiveGroups() []*group {
	var out []*group
	for i := range s.layout.groups {
		g := &s.layout.groups[i]
		if g.passive && !g.tls && g.data >= 0 {
			out = append(out, g)
		}
	}
	return out
}

func (s *linkState) initMemoryBody() []byte {
	groups := s.passiveGroups()
	w := wasm.NewWriter()
	w.WriteU32(0)

	initAll := func() {
		for _, g := range groups {
			writeI32Const(w, g.addr)
			writeI32Const(w, 0)
			writeI32Const(w, g.size)
			writeMemoryInit(w, uint32(g.data))
		}
	}

	if !s.cfg.SharedMemory {
		initAll()
	} else {
		// The flag word moves 0 -> 1 -> 2. The thread that wins the
		// exchange initializes memory; others wait until it reaches 2.
		flag := s.layout.initFlag
		w.Byte(wasm.OpBlock)
		w.Byte(wasm.BlockTypeVoid)
		w.Byte(wasm.OpBlock)
		w.Byte(wasm.BlockTypeVoid)
		w.Byte(wasm.OpBlock)
		w.Byte(wasm.BlockTypeVoid)
		writeI32Const(w, flag)
		writeI32Const(w, 0)
		writeI32Const(w, 1)
		w.Byte(wasm.OpPrefixAtomic)
		w.WriteU32(wasm.AtomicI32RmwCmpxchg)
		writeMemArg(w)
		w.Byte(wasm.OpBrTable)
		w.WriteU32(2)
		w.WriteU32(0)
		w.WriteU32(1)
		w.WriteU32(2)
		w.Byte(wasm.OpEnd)

		initAll()
		writeI32Const(w, flag)
		writeI32Const(w, 2)
		w.Byte(wasm.OpPrefixAtomic)
		w.WriteU32(wasm.AtomicI32Store)
		writeMemArg(w)
		writeI32Const(w, flag)
		w.Byte(wasm.OpI32Const)
		w.WriteS32(-1)
		w.Byte(wasm.OpPrefixAtomic)
		w.WriteU32(wasm.AtomicNotify)
		writeMemArg(w)
		w.Byte(wasm.OpDrop)
		w.Byte(wasm.OpBr)
		w.WriteU32(1)
		w.Byte(wasm.OpEnd)

		writeI32Const(w, flag)
		writeI32Const(w, 1)
		w.Byte(wasm.OpI64Const)
		w.WriteS64(-1)
		w.Byte(wasm.OpPrefixAtomic)
		w.WriteU32(wasm.AtomicWait32)
		writeMemArg(w)
		w.Byte(wasm.OpDrop)
		w.Byte(wasm.OpEnd)
	}

	for _, g := range groups {
		writeDataDrop(w, uint32(g.data))
	}
	w.Byte(wasm.OpEnd)
	return w.Bytes()
}

func (s *linkState) initTLSBody() []byte {
	w := wasm.NewWriter()
	w.WriteU32(0)
	w.Byte(wasm.OpLocalGet)
	w.WriteU32(0)
	w.Byte(wasm.OpGlobalSet)
	w.WriteU32(s.indices.globals[synthRef(SynthTLSBase)])
	if gi := s.layout.tlsGroup; gi >= 0 && s.layout.groups[gi].data >= 0 {
		g := &s.layout.groups[gi]
		w.Byte(wasm.OpLocalGet)
		w.WriteU32(0)
		writeI32Const(w, 0)
		writeI32Const(w, g.size)
		writeMemoryInit(w, uint32(g.data))
	}
	w.Byte(wasm.OpEnd)
	return w.Bytes()
}
