package linker

import (
	"cmp"
	"crypto/sha1"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/wippyai/wasmld"
	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// Feature prefixes of the target_features section.
const (
	FeatureUsed       byte = '+' // used by this object
	FeatureDisallowed byte = '-' // must not be used by any object
	FeatureRequired   byte = '=' // must be used by every object
)

// Feature is one target_features entry.
type Feature struct {
	Prefix byte
	Name   string
}

func (f Feature) String() string { return string(f.Prefix) + f.Name }

// ParseFeature parses "+name", "-name" or "=name".
func ParseFeature(s string) (Feature, error) {
	if len(s) < 2 {
		return Feature{}, fmt.Errorf("invalid feature %q", s)
	}
	switch s[0] {
	case FeatureUsed, FeatureDisallowed, FeatureRequired:
		return Feature{Prefix: s[0], Name: s[1:]}, nil
	}
	return Feature{}, fmt.Errorf("invalid feature prefix in %q", s)
}

// checkFeatures validates the feature sets of all inputs against each
// other and against the output configuration, and returns the features of
// the output sorted by prefix and name.
func (s *linkState) checkFeatures() []Feature {
	l := s.l
	used := make(map[string]string)       // feature -> first object using it
	disallowed := make(map[string]string) // feature -> first object disallowing it
	required := make(map[string]string)
	var order []string

	for _, o := range l.objects {
		for _, f := range o.Features {
			switch f.Prefix {
			case FeatureUsed, FeatureRequired:
				if _, ok := used[f.Name]; !ok {
					used[f.Name] = o.Path
					order = append(order, f.Name)
				}
				if f.Prefix == FeatureRequired {
					if _, ok := required[f.Name]; !ok {
						required[f.Name] = o.Path
					}
				}
			case FeatureDisallowed:
				if _, ok := disallowed[f.Name]; !ok {
					disallowed[f.Name] = o.Path
				}
			}
		}
	}

	conflict := func(format string, args ...any) {
		s.diags.Report(errors.New(errors.PhaseResolve, errors.KindFeatureConflict).
			Detail(format, args...).
			Build())
	}

	for _, name := range order {
		if by, ok := disallowed[name]; ok {
			conflict("feature %s is disallowed by %s, but used by %s", name, by, used[name])
		}
	}
	for _, name := range order {
		by, ok := required[name]
		if !ok {
			continue
		}
		for _, o := range l.objects {
			if !hasFeature(o.Features, name) {
				conflict("feature %s is required by %s, but missing in %s", name, by, o.Path)
			}
		}
	}

	implied := func(name, why string) {
		if by, ok := disallowed[name]; ok {
			conflict("%s requires feature %s, which is disallowed by %s", why, name, by)
		}
		if _, ok := used[name]; !ok {
			used[name] = "<linker>"
			order = append(order, name)
		}
	}
	if s.cfg.SharedMemory {
		implied("atomics", "shared memory")
		implied("bulk-memory", "shared memory")
	}
	if s.layout.anyPassive {
		implied("bulk-memory", "passive segments")
	}

	out := make([]Feature, 0, len(order)+len(disallowed))
	for _, name := range order {
		out = append(out, Feature{Prefix: FeatureUsed, Name: name})
	}
	for name := range disallowed {
		if _, ok := used[name]; !ok {
			out = append(out, Feature{Prefix: FeatureDisallowed, Name: name})
		}
	}
	slices.SortFunc(out, func(a, b Feature) int {
		if c := cmp.Compare(a.Prefix, b.Prefix); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func hasFeature(fs []Feature, name string) bool {
	for _, f := range fs {
		if f.Name == name && f.Prefix != FeatureDisallowed {
			return true
		}
	}
	return false
}

// buildID computes the build identifier for the configured mode over the
// bytes written so far.
func buildID(cfg Config, preceding []byte) ([]byte, error) {
	switch cfg.BuildID {
	case BuildIDFast:
		sum := xxh3.Hash128(preceding).Bytes()
		return sum[:], nil
	case BuildIDSHA1:
		sum := sha1.Sum(preceding)
		return sum[:], nil
	case BuildIDUUID:
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEmit, errors.KindExternal, err, "generate build id")
		}
		return id[:], nil
	case BuildIDHex:
		return cfg.BuildIDBytes()
	}
	return nil, nil
}

// writeProducers writes the producers section payload.
func writeProducers(w *wasm.Writer) {
	w.WriteU32(1)
	w.WriteName("processed-by")
	w.WriteU32(1)
	w.WriteName(wasmld.Name)
	w.WriteName(wasmld.Version)
}

// writeFeatures writes the target_features section payload.
func writeFeatures(w *wasm.Writer, feats []Feature) {
	w.WriteU32(uint32(len(feats)))
	for _, f := range feats {
		w.Byte(f.Prefix)
		w.WriteName(f.Name)
	}
}

type nameEntry struct {
	index uint32
	name  string
}

// nameMap collects index names. The first name given to an index wins, so
// aliases of one function appear once.
type nameMap map[uint32]string

func (m nameMap) add(index uint32, name string) {
	if name == "" {
		return
	}
	if _, ok := m[index]; !ok {
		m[index] = name
	}
}

func (m nameMap) sorted() []nameEntry {
	out := make([]nameEntry, 0, len(m))
	for i, n := range m {
		out = append(out, nameEntry{index: i, name: n})
	}
	slices.SortFunc(out, func(a, b nameEntry) int { return cmp.Compare(a.index, b.index) })
	return out
}

func writeNameSubsection(w *wasm.Writer, id byte, m nameMap) {
	if len(m) == 0 {
		return
	}
	w.Byte(id)
	mark := w.ReserveU32()
	entries := m.sorted()
	w.WriteU32(uint32(len(entries)))
	for _, e := range entries {
		w.WriteU32(e.index)
		w.WriteName(e.name)
	}
	w.PatchU32(mark, uint32(w.Len()-mark-wasm.PaddedLEB32))
}

// names builds the function, global and data segment name maps.
func (s *linkState) names() (funcs, globals, data nameMap) {
	funcs, globals, data = nameMap{}, nameMap{}, nameMap{}
	for r, idx := range s.indices.funcs {
		name, _ := s.funcName(r)
		funcs.add(idx, name)
	}
	for r, idx := range s.indices.globals {
		name, _ := s.globalName(r)
		globals.add(idx, name)
	}
	for _, g := range s.layout.groups {
		if g.data >= 0 {
			data.add(uint32(g.data), g.name)
		}
	}
	return funcs, globals, data
}
