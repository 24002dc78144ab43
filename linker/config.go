package linker

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/wasm"
)

// OutputKind selects what Link produces.
type OutputKind string

const (
	OutputExecutable OutputKind = "executable" // command with an entry point
	OutputReactor    OutputKind = "reactor"    // library module, no entry by default
	OutputObject     OutputKind = "object"     // relocatable object with linking metadata
)

// EntryPolicy selects how the entry symbol is chosen.
type EntryPolicy string

const (
	EntryDefault  EntryPolicy = "default"  // "_start" for executables, none otherwise
	EntryDisabled EntryPolicy = "disabled" // no entry symbol
	EntryEnabled  EntryPolicy = "enabled"  // "_start" regardless of output kind
	EntryNamed    EntryPolicy = "named"    // Config.EntryName
)

// StripMode selects which custom sections are dropped.
type StripMode string

const (
	StripNone  StripMode = "none"  // keep names, debug info and metadata
	StripDebug StripMode = "debug" // drop .debug_* sections and names
	StripAll   StripMode = "all"   // no custom sections
)

// BuildIDMode selects how the build_id custom section is produced.
type BuildIDMode string

const (
	BuildIDNone BuildIDMode = "none"
	BuildIDFast BuildIDMode = "fast" // xxh3-128 over the preceding bytes
	BuildIDSHA1 BuildIDMode = "sha1"
	BuildIDUUID BuildIDMode = "uuid" // random version 4 UUID
	BuildIDHex  BuildIDMode = "hex"  // Config.BuildIDHex
)

// DefaultEntry is the entry symbol used by EntryDefault and EntryEnabled.
const DefaultEntry = "_start"

// DefaultStackSize is the stack reservation when none is configured.
const DefaultStackSize = 1 << 20

// Config configures a link.
type Config struct {
	Output    OutputKind  `toml:"output"`
	Entry     EntryPolicy `toml:"entry"`
	EntryName string      `toml:"entry_name"`

	// Exports lists symbol names to export explicitly.
	Exports       []string `toml:"exports"`
	ExportDynamic bool     `toml:"export_dynamic"`

	// AllowUndefined turns undefined functions and globals into imports.
	AllowUndefined bool   `toml:"allow_undefined"`
	ImportModule   string `toml:"import_module"`

	ImportMemory  bool `toml:"import_memory"`
	ExportMemory  bool `toml:"export_memory"`
	ImportTable   bool `toml:"import_table"`
	ExportTable   bool `toml:"export_table"`
	GrowableTable bool `toml:"growable_table"`

	// Memory sizes in bytes; zero means computed from the layout.
	InitialMemory uint64 `toml:"initial_memory"`
	MaxMemory     uint64 `toml:"max_memory"`
	GlobalBase    uint64 `toml:"global_base"`
	StackSize     uint64 `toml:"stack_size"`
	StackFirst    bool   `toml:"stack_first"`
	SharedMemory  bool   `toml:"shared_memory"`

	Strip      StripMode   `toml:"strip"`
	BuildID    BuildIDMode `toml:"build_id"`
	BuildIDHex string      `toml:"build_id_hex"`

	// Verify compiles the output with wazero before returning it.
	Verify bool `toml:"verify"`
}

// DefaultConfig returns the default link configuration.
func DefaultConfig() Config {
	return Config{
		Output:       OutputExecutable,
		Entry:        EntryDefault,
		ImportModule: "env",
		ExportMemory: true,
		StackSize:    DefaultStackSize,
		Strip:        StripNone,
		BuildID:      BuildIDNone,
	}
}

// LoadConfigFile reads a TOML config file on top of DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Source(path).
			Cause(err).
			Detail("cannot read config").
			Build()
	}
	return cfg, nil
}

// EntrySymbol returns the entry symbol name, or "" when there is none.
func (c Config) EntrySymbol() string {
	switch c.Entry {
	case EntryDisabled:
		return ""
	case EntryEnabled:
		return DefaultEntry
	case EntryNamed:
		return c.EntryName
	default:
		if c.Output == OutputExecutable || c.Output == "" {
			return DefaultEntry
		}
		return ""
	}
}

func (c Config) isObject() bool { return c.Output == OutputObject }

func (c Config) importModule() string {
	if c.ImportModule == "" {
		return "env"
	}
	return c.ImportModule
}

func (c Config) stackSize() uint64 {
	if c.StackSize == 0 {
		return DefaultStackSize
	}
	return c.StackSize
}

// BuildIDBytes decodes BuildIDHex. Separators ':' and '-' are ignored.
func (c Config) BuildIDBytes() ([]byte, error) {
	s := strings.NewReplacer(":", "", "-", "").Replace(c.BuildIDHex)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// Validate checks option values that do not depend on the inputs.
// Memory sizes are checked during layout against the computed image.
func (c Config) Validate() []*errors.Error {
	var errs []*errors.Error
	bad := func(format string, args ...any) {
		errs = append(errs, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail(format, args...).Build())
	}

	switch c.Output {
	case "", OutputExecutable, OutputReactor, OutputObject:
	default:
		bad("unknown output kind '%s'", c.Output)
	}
	switch c.Entry {
	case "", EntryDefault, EntryDisabled, EntryEnabled:
	case EntryNamed:
		if c.EntryName == "" {
			bad("entry policy 'named' requires an entry name")
		}
	default:
		bad("unknown entry policy '%s'", c.Entry)
	}
	switch c.Strip {
	case "", StripNone, StripDebug, StripAll:
	default:
		bad("unknown strip mode '%s'", c.Strip)
	}

	switch c.BuildID {
	case "", BuildIDNone, BuildIDFast, BuildIDSHA1, BuildIDUUID:
	case BuildIDHex:
		b, err := c.BuildIDBytes()
		if err != nil || len(b) == 0 {
			bad("invalid build-id hex string '%s'", c.BuildIDHex)
		}
	case "md5":
		errs = append(errs, errors.Unsupported(errors.PhaseConfig,
			fmt.Sprintf("build-id '%s' is not supported for WebAssembly", c.BuildID)))
	default:
		bad("unknown build-id mode '%s'", c.BuildID)
	}

	if c.ImportTable && c.GrowableTable {
		bad("growable table cannot be combined with an imported table")
	}
	if c.SharedMemory && c.MaxMemory == 0 && c.InitialMemory == 0 {
		Logger().Debug("shared memory without explicit size, maximum follows initial")
	}
	if c.GlobalBase > wasm.MaxMemory32 {
		bad("global base %d exceeds 32-bit address space", c.GlobalBase)
	}
	return errs
}
