package linker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
)

// DefaultDelegate is the external linker used when none is named.
const DefaultDelegate = "wasm-ld"

// DelegateArgs returns the wasm-ld command line equivalent to cfg for the
// given inputs and output path.
func DelegateArgs(cfg Config, inputs []string, output string) []string {
	var args []string
	flag := func(name string, on bool) {
		if on {
			args = append(args, name)
		}
	}

	if cfg.isObject() {
		args = append(args, "--relocatable")
	} else {
		switch entry := cfg.EntrySymbol(); entry {
		case "":
			args = append(args, "--no-entry")
		case DefaultEntry:
		default:
			args = append(args, "--entry="+entry)
		}
	}
	for _, name := range cfg.Exports {
		args = append(args, "--export="+name)
	}
	flag("--export-dynamic", cfg.ExportDynamic)
	flag("--allow-undefined", cfg.AllowUndefined)
	flag("--import-memory", cfg.ImportMemory)
	flag("--export-memory", cfg.ExportMemory && cfg.ImportMemory)
	flag("--import-table", cfg.ImportTable)
	flag("--export-table", cfg.ExportTable)
	flag("--growable-table", cfg.GrowableTable)
	flag("--stack-first", cfg.StackFirst)
	flag("--shared-memory", cfg.SharedMemory)

	if cfg.InitialMemory != 0 {
		args = append(args, fmt.Sprintf("--initial-memory=%d", cfg.InitialMemory))
	}
	if cfg.MaxMemory != 0 {
		args = append(args, fmt.Sprintf("--max-memory=%d", cfg.MaxMemory))
	}
	if cfg.GlobalBase != 0 {
		args = append(args, fmt.Sprintf("--global-base=%d", cfg.GlobalBase))
	}
	if !cfg.isObject() && cfg.StackSize != 0 {
		args = append(args, "-z", fmt.Sprintf("stack-size=%d", cfg.StackSize))
	}

	switch cfg.Strip {
	case StripDebug:
		args = append(args, "--strip-debug")
	case StripAll:
		args = append(args, "--strip-all")
	}
	switch cfg.BuildID {
	case BuildIDFast, BuildIDSHA1, BuildIDUUID:
		args = append(args, "--build-id="+string(cfg.BuildID))
	case BuildIDHex:
		args = append(args, "--build-id=0x"+strings.TrimPrefix(cfg.BuildIDHex, "0x"))
	}

	args = append(args, "-o", output)
	return append(args, inputs...)
}

// Delegate runs an external linker. A non-zero exit is an error carrying
// the tool's diagnostics; output on stderr after a successful run is logged
// as a warning.
func Delegate(ctx context.Context, tool string, args []string) error {
	if tool == "" {
		tool = DefaultDelegate
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	Logger().Debug("delegating link", zap.String("tool", tool), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		b := errors.New(errors.PhaseDelegate, errors.KindExternal).
			Source(tool).
			Cause(err).
			Detail("external linker failed")
		for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
			if line != "" {
				b = b.Note("%s", line)
			}
		}
		return b.Build()
	}

	stray := strings.TrimSpace(stderr.String() + stdout.String())
	for _, line := range strings.Split(stray, "\n") {
		if line != "" {
			Logger().Warn("external linker output", zap.String("tool", tool), zap.String("line", line))
		}
	}
	return nil
}
