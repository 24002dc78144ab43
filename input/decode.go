package input

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/linker"
	"github.com/wippyai/wasmld/wasm"
)

// Format selects the manifest encoding.
type Format int

const (
	FormatAuto Format = iota // by extension, then by content
	FormatJSON
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "auto"
	}
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("input: create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DetectFormat picks the encoding of a manifest from its file name and,
// when the extension says nothing, from its first significant byte.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".cbor":
		return FormatCBOR
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatCBOR
}

// Unmarshal decodes a manifest without converting it.
func Unmarshal(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &m)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &m)
	default:
		return nil, errors.InvalidInput(errors.PhaseParse, "manifest format not set")
	}
	if err != nil {
		return nil, errors.ParseFailed(format.String()+" manifest", err)
	}
	return &m, nil
}

// Marshal encodes m. CBOR output uses canonical encoding so equal
// manifests produce equal bytes.
func Marshal(m *Manifest, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(m, "", "  ")
	case FormatCBOR:
		return cborEncMode.Marshal(m)
	default:
		return nil, errors.InvalidInput(errors.PhaseParse, "manifest format not set")
	}
}

// Decode decodes a manifest and converts it into a linker object. path
// names the object when the manifest does not.
func Decode(path string, data []byte, format Format) (*linker.Object, error) {
	if format == FormatAuto {
		format = DetectFormat(path, data)
	}
	m, err := Unmarshal(data, format)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			e.Source = path
		}
		return nil, err
	}
	if m.Path == "" {
		m.Path = path
	}
	return m.Object()
}

// LoadFile reads and decodes one manifest.
func LoadFile(path string) (*linker.Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindNotFound, err, "read manifest "+path)
	}
	obj, err := Decode(path, data, FormatAuto)
	if err != nil {
		return nil, err
	}
	linker.Logger().Debug("manifest loaded",
		zap.String("path", path),
		zap.Int("functions", len(obj.Functions)),
		zap.Int("segments", len(obj.Segments)),
	)
	return obj, nil
}

// LoadAll decodes manifests concurrently with at most limit files in
// flight, or unbounded when limit <= 0. Objects come back in path order.
// Every failing file is reported; the errors are combined in path order.
func LoadAll(ctx context.Context, paths []string, limit int) ([]*linker.Object, error) {
	objs := make([]*linker.Object, len(paths))
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			objs[i], errs[i] = LoadFile(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return objs, nil
}

// Object converts the manifest into a linker object, resolving segment
// names, flags, value types and relocation names. All problems are
// reported together.
func (m *Manifest) Object() (*linker.Object, error) {
	c := converter{path: m.Path}
	obj := &linker.Object{Path: m.Path, MustLink: m.MustLink}

	for i, sig := range m.Types {
		obj.Types = append(obj.Types, wasm.FuncType{
			Params:  c.valTypes(sig.Params, "types", fmt.Sprint(i), "params"),
			Results: c.valTypes(sig.Results, "types", fmt.Sprint(i), "results"),
		})
	}

	for _, f := range m.Functions {
		where := []string{"functions", f.Name}
		fn := linker.ObjFunction{
			Name:         f.Name,
			ImportModule: f.Module,
			ImportName:   f.Field,
			Flags:        c.flags(f.Flags, where),
			Type:         f.Type,
			Code:         f.Code,
			Relocs:       c.relocs(f.Relocs, where),
			Comdat:       f.Comdat,
		}
		c.checkBody(where, fn.Flags, len(f.Code) > 0, "code")
		obj.Functions = append(obj.Functions, fn)
	}

	for _, g := range m.Globals {
		where := []string{"globals", g.Name}
		og := linker.ObjGlobal{
			Name:         g.Name,
			ImportModule: g.Module,
			ImportName:   g.Field,
			Flags:        c.flags(g.Flags, where),
			Type:         wasm.GlobalType{ValType: c.valType(g.Type, where...), Mutable: g.Mutable},
			Init:         g.Init,
			Relocs:       c.relocs(g.Relocs, where),
		}
		c.checkBody(where, og.Flags, len(g.Init) > 0, "init")
		obj.Globals = append(obj.Globals, og)
	}

	for _, t := range m.Tables {
		where := []string{"tables", t.Name}
		elem := wasm.ValFuncRef
		if t.ElemType != "" {
			elem = c.valType(t.ElemType, where...)
		}
		obj.Tables = append(obj.Tables, linker.ObjTable{
			Name:         t.Name,
			ImportModule: t.Module,
			ImportName:   t.Field,
			Flags:        c.flags(t.Flags, where),
			Type:         wasm.TableType{ElemType: elem, Limits: wasm.Limits{Min: t.Min, Max: t.Max}},
		})
	}

	segIndex := make(map[string]int, len(m.Segments))
	for i, s := range m.Segments {
		where := []string{"segments", s.Name}
		if _, dup := segIndex[s.Name]; dup {
			c.fail(where, "duplicate segment name")
		}
		segIndex[s.Name] = i
		obj.Segments = append(obj.Segments, linker.ObjSegment{
			Name:   s.Name,
			Align:  s.Align,
			Flags:  c.flags(s.Flags, where),
			Data:   s.Data,
			Size:   s.Size,
			Relocs: c.relocs(s.Relocs, where),
			Comdat: s.Comdat,
		})
	}

	for _, d := range m.Data {
		where := []string{"data", d.Name}
		ds := linker.ObjDataSymbol{
			Name:    d.Name,
			Flags:   c.flags(d.Flags, where),
			Segment: -1,
			Offset:  d.Offset,
			Size:    d.Size,
		}
		if d.Segment != "" {
			si, ok := segIndex[d.Segment]
			if !ok {
				c.fail(where, "unknown segment %q", d.Segment)
			} else {
				ds.Segment = si
			}
		} else {
			ds.Flags |= linker.FlagUndefined
		}
		obj.DataSymbols = append(obj.DataSymbols, ds)
	}

	for _, cs := range m.Customs {
		obj.Customs = append(obj.Customs, linker.ObjCustom{
			Name:   cs.Name,
			Data:   cs.Data,
			Relocs: c.relocs(cs.Relocs, []string{"customs", cs.Name}),
		})
	}

	for _, f := range m.InitFuncs {
		obj.InitFuncs = append(obj.InitFuncs, linker.ObjInitFunc{Priority: f.Priority, Symbol: f.Symbol})
	}

	for _, s := range m.Features {
		f, err := linker.ParseFeature(s)
		if err != nil {
			c.fail([]string{"features"}, "%s", err.Error())
			continue
		}
		obj.Features = append(obj.Features, f)
	}

	if err := c.diags.Err(); err != nil {
		return nil, err
	}
	return obj, nil
}

var flagNames = map[string]linker.SymbolFlags{
	"weak":          linker.FlagWeak,
	"local":         linker.FlagLocal,
	"hidden":        linker.FlagHidden,
	"undefined":     linker.FlagUndefined,
	"exported":      linker.FlagExported,
	"explicit_name": linker.FlagExplicitName,
	"no_strip":      linker.FlagNoStrip,
	"tls":           linker.FlagTLS,
	"absolute":      linker.FlagAbsolute,
	"passive":       linker.FlagPassive,
}

var valTypeNames = map[string]wasm.ValType{
	"i32":       wasm.ValI32,
	"i64":       wasm.ValI64,
	"f32":       wasm.ValF32,
	"f64":       wasm.ValF64,
	"v128":      wasm.ValV128,
	"funcref":   wasm.ValFuncRef,
	"externref": wasm.ValExtern,
}

type converter struct {
	path  string
	diags errors.Diagnostics
}

func (c *converter) fail(where []string, format string, args ...any) {
	e := errors.InvalidData(errors.PhaseParse, where, fmt.Sprintf(format, args...))
	e.Source = c.path
	c.diags.Report(e)
}

func (c *converter) flags(names []string, where []string) linker.SymbolFlags {
	var f linker.SymbolFlags
	for _, n := range names {
		bit, ok := flagNames[n]
		if !ok {
			c.fail(where, "unknown flag %q", n)
			continue
		}
		f |= bit
	}
	return f
}

func (c *converter) valType(name string, where ...string) wasm.ValType {
	v, ok := valTypeNames[name]
	if !ok {
		c.fail(where, "unknown value type %q", name)
	}
	return v
}

func (c *converter) valTypes(names []string, where ...string) []wasm.ValType {
	if len(names) == 0 {
		return nil
	}
	out := make([]wasm.ValType, len(names))
	for i, n := range names {
		out[i] = c.valType(n, where...)
	}
	return out
}

func (c *converter) relocs(rs []Reloc, where []string) []linker.ObjReloc {
	if len(rs) == 0 {
		return nil
	}
	out := make([]linker.ObjReloc, 0, len(rs))
	for _, r := range rs {
		typ, ok := wasm.ParseRelocType(r.Type)
		if !ok {
			c.fail(where, "unknown relocation type %q", r.Type)
			continue
		}
		out = append(out, linker.ObjReloc{
			Type:      typ,
			Offset:    r.Offset,
			Addend:    r.Addend,
			Symbol:    r.Symbol,
			TypeIndex: r.TypeIndex,
			Section:   r.Section,
		})
	}
	return out
}

// checkBody enforces that definitions carry a payload and imports do not.
func (c *converter) checkBody(where []string, flags linker.SymbolFlags, has bool, what string) {
	switch {
	case flags.Undefined() && has:
		c.fail(where, "undefined symbol has %s", what)
	case !flags.Undefined() && !has:
		c.fail(where, "defined symbol has no %s", what)
	}
}
