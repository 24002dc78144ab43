package linker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
)

type objectInfo struct {
	Path     string
	MustLink bool
	Features []Feature
}

// Linker owns the fragment tables, the string arena and the type table for
// the lifetime of a link. Inputs are added with AddObject; Link runs the
// resolve, layout and emit passes and can be called repeatedly.
//
// Only Commit is safe for concurrent use. All other methods must be called
// from one goroutine.
type Linker struct {
	cfg   Config
	arena *Arena
	types *TypeTable

	// mu guards relocs and serializes Commit.
	mu     sync.Mutex
	relocs []Reloc

	objects []objectInfo

	funcImports   []FunctionImport
	funcByName    map[String]uint32
	globalImports []GlobalImport
	globalByName  map[String]uint32
	tableImports  []TableImport
	tableByName   map[String]uint32
	dataImports   []DataImport
	dataByName    map[String]uint32

	functions   []Function
	globals     []Global
	tables      []Table
	segments    []DataSegment
	dataSymbols []DataSymbol
	customs     []CustomSegment
	initFuncs   []InitFunc
	comdats     []Comdat
	comdatOwner map[String]ObjectIndex

	loadDiags errors.Diagnostics
}

// New creates a linker with the given configuration.
func New(cfg Config) *Linker {
	return &Linker{
		cfg:          cfg,
		arena:        NewArena(),
		types:        NewTypeTable(),
		funcByName:   make(map[String]uint32),
		globalByName: make(map[String]uint32),
		tableByName:  make(map[String]uint32),
		dataByName:   make(map[String]uint32),
		comdatOwner:  make(map[String]ObjectIndex),
	}
}

// NewWithDefaults creates a linker with DefaultConfig.
func NewWithDefaults() *Linker {
	return New(DefaultConfig())
}

// Config returns the configuration.
func (l *Linker) Config() Config { return l.cfg }

// SetConfig replaces the configuration used by subsequent links.
func (l *Linker) SetConfig(cfg Config) { l.cfg = cfg }

// Arena returns the shared byte arena.
func (l *Linker) Arena() *Arena { return l.arena }

// Types returns the signature table.
func (l *Linker) Types() *TypeTable { return l.types }

// Diagnostics returns the errors recorded while loading inputs.
func (l *Linker) Diagnostics() *errors.Diagnostics { return &l.loadDiags }

// Commit appends a producer's payload and relocations in one critical
// section. Relocation offsets are relative to the start of code. The
// returned ranges are contiguous and never interleave with other commits.
func (l *Linker) Commit(code []byte, relocs []Reloc) (Span, RelocRange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sp := l.arena.Append(code)
	rr := RelocRange{Start: uint32(len(l.relocs)), Len: uint32(len(relocs))}
	l.relocs = append(l.relocs, relocs...)
	return sp, rr
}

// Relocs returns the relocations in rr.
func (l *Linker) Relocs(rr RelocRange) []Reloc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.relocs[rr.Start : rr.Start+rr.Len : rr.Start+rr.Len]
}

// NumObjects returns the number of loaded inputs.
func (l *Linker) NumObjects() int { return len(l.objects) }

// ObjectPath returns the path of a loaded input.
func (l *Linker) ObjectPath(o ObjectIndex) string {
	if int(o) < len(l.objects) {
		return l.objects[o].Path
	}
	return ""
}

func (l *Linker) sourcePath(loc SourceLocation) string {
	if !loc.Valid {
		return "<internal>"
	}
	return l.ObjectPath(loc.Object)
}

func (l *Linker) str(h String) string { return l.arena.Str(h) }

// FunctionRecord returns the global function record named name.
func (l *Linker) FunctionRecord(name string) (*FunctionImport, bool) {
	h, ok := l.arena.Lookup(name)
	if !ok {
		return nil, false
	}
	i, ok := l.funcByName[h]
	if !ok {
		return nil, false
	}
	return &l.funcImports[i], true
}

// GlobalRecord returns the global symbol record named name.
func (l *Linker) GlobalRecord(name string) (*GlobalImport, bool) {
	h, ok := l.arena.Lookup(name)
	if !ok {
		return nil, false
	}
	i, ok := l.globalByName[h]
	if !ok {
		return nil, false
	}
	return &l.globalImports[i], true
}

// DataRecord returns the data symbol record named name.
func (l *Linker) DataRecord(name string) (*DataImport, bool) {
	h, ok := l.arena.Lookup(name)
	if !ok {
		return nil, false
	}
	i, ok := l.dataByName[h]
	if !ok {
		return nil, false
	}
	return &l.dataImports[i], true
}

// Function returns the defined function at index i.
func (l *Linker) Function(i uint32) *Function { return &l.functions[i] }

// Segment returns the data segment at index i.
func (l *Linker) Segment(i uint32) *DataSegment { return &l.segments[i] }

// NumSegments returns the number of loaded data segments.
func (l *Linker) NumSegments() int { return len(l.segments) }

func (l *Linker) logLoad(o ObjectIndex) {
	Logger().Debug("object loaded",
		zap.String("path", l.objects[o].Path),
		zap.Int("functions", len(l.functions)),
		zap.Int("segments", len(l.segments)),
		zap.Int("arena_bytes", l.arena.Len()),
	)
}
