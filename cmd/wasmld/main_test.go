package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmld/errors"
	"github.com/wippyai/wasmld/linker"
	"github.com/wippyai/wasmld/wasm"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseArgsMergesConfig(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "link.toml", `
stack_size = 8192
global_base = 1024
exports = ["a"]
strip = "debug"
export_memory = false
`)
	opts, err := parseArgs([]string{
		"-config", cfgPath,
		"-stack-size", "64KiB",
		"-export", "b",
		"-build-id", "sha1",
		"-o", "out.wasm",
		"x.json", "y.cbor",
	}, io.Discard)
	require.NoError(t, err)

	cfg := opts.cfg
	require.Equal(t, uint64(65536), cfg.StackSize, "flag overrides config")
	require.Equal(t, uint64(1024), cfg.GlobalBase, "config value kept")
	require.Equal(t, []string{"a", "b"}, cfg.Exports)
	require.Equal(t, linker.StripDebug, cfg.Strip)
	require.False(t, cfg.ExportMemory, "unset flag default does not override config")
	require.Equal(t, linker.BuildIDSHA1, cfg.BuildID)
	require.Equal(t, "out.wasm", opts.output)
	require.Equal(t, []string{"x.json", "y.cbor"}, opts.inputs)
}

func TestParseArgsFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg linker.Config)
	}{
		{"defaults", nil, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.DefaultConfig(), cfg)
		}},
		{"no entry", []string{"-no-entry"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.EntryDisabled, cfg.Entry)
		}},
		{"named entry", []string{"-entry", "main"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.EntryNamed, cfg.Entry)
			require.Equal(t, "main", cfg.EntrySymbol())
		}},
		{"strip all wins", []string{"-strip-debug", "-strip-all"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.StripAll, cfg.Strip)
		}},
		{"hex build id", []string{"-build-id", "0xdead"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.BuildIDHex, cfg.BuildID)
			require.Equal(t, "dead", cfg.BuildIDHex)
		}},
		{"memory", []string{"-export-memory=false", "-import-memory", "-initial-memory", "128KiB", "-max-memory", "1MiB"},
			func(t *testing.T, cfg linker.Config) {
				require.False(t, cfg.ExportMemory)
				require.True(t, cfg.ImportMemory)
				require.Equal(t, uint64(128<<10), cfg.InitialMemory)
				require.Equal(t, uint64(1<<20), cfg.MaxMemory)
			}},
		{"relocatable", []string{"-relocatable"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.OutputObject, cfg.Output)
		}},
		{"reactor", []string{"-reactor", "-export-dynamic"}, func(t *testing.T, cfg linker.Config) {
			require.Equal(t, linker.OutputReactor, cfg.Output)
			require.True(t, cfg.ExportDynamic)
			require.Equal(t, "", cfg.EntrySymbol())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseArgs(append(tt.args, "x.json"), io.Discard)
			require.NoError(t, err)
			tt.check(t, opts.cfg)
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no inputs", nil},
		{"bad size", []string{"-stack-size", "lots", "x.json"}},
		{"bad build id", []string{"-build-id", "md5", "x.json"}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "none.toml"), "x.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, io.Discard)
			require.Error(t, err)
		})
	}
}

const answerManifest = `{
  "types": [{"results": ["i32"]}],
  "functions": [
    {
      "name": "answer",
      "type": 0,
      "code": "004180808080002802000b",
      "relocs": [{"type": "MEMORY_ADDR_SLEB", "offset": 2, "symbol": "value"}]
    }
  ],
  "segments": [{"name": ".rodata.value", "align": 4, "data": "2a000000"}],
  "data": [{"name": "value", "segment": ".rodata.value", "size": 4}]
}`

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "answer.json", answerManifest)
	out := filepath.Join(dir, "answer.wasm")
	mapFile := filepath.Join(dir, "answer.map")

	opts, err := parseArgs([]string{
		"-no-entry", "-export", "answer", "-verify", "-dump",
		"-o", out, "-map", mapFile, in,
	}, io.Discard)
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &stdout, &stderr))

	bin, err := os.ReadFile(out)
	require.NoError(t, err)
	m, err := wasm.ParseModule(bin)
	require.NoError(t, err)
	_, ok := m.ExportByName("answer")
	require.True(t, ok)

	text, err := os.ReadFile(mapFile)
	require.NoError(t, err)
	require.Contains(t, string(text), ".rodata.value")
	require.Contains(t, stdout.String(), `"heap_base"`)
	require.Contains(t, stderr.String(), "wrote "+out)
}

func TestRunReportsLinkErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "main.json", `{
  "types": [{}],
  "functions": [
    {"name": "_start", "type": 0, "code": "001080808080000b", "relocs": [{"type": "FUNCTION_INDEX_LEB", "offset": 2, "symbol": "missing"}]},
    {"name": "missing", "type": 0, "flags": ["undefined"]}
  ]
}`)
	opts, err := parseArgs([]string{"-o", filepath.Join(dir, "out.wasm"), in}, io.Discard)
	require.NoError(t, err)

	err = run(context.Background(), opts, io.Discard, io.Discard)
	require.Error(t, err)

	var buf bytes.Buffer
	printDiagnostics(&buf, newStyles(false), err)
	require.Contains(t, buf.String(), "error: 1 undefined symbol(s):")
	require.Contains(t, buf.String(), "    - function missing")

	_, statErr := os.Stat(filepath.Join(dir, "out.wasm"))
	require.True(t, os.IsNotExist(statErr), "no output on failure")
}

func TestPrintDiagnostics(t *testing.T) {
	var d errors.Diagnostics
	d.Report(errors.UndefinedSymbol("function", "foo", "a.o"))
	d.Report(errors.UndefinedSymbol("data", "bar", "a.o"))
	d.Report(errors.MissingEntry("_start"))

	var buf bytes.Buffer
	printDiagnostics(&buf, newStyles(false), d.Err())
	got := buf.String()
	require.Contains(t, got, "error: 2 undefined symbol(s):")
	require.Contains(t, got, "  a.o:\n    - function foo\n    - data bar\n")
	require.Contains(t, got, "error: [resolve] missing_entry: entry symbol '_start' missing\n")
	require.Contains(t, got, "  note: disable the entry point")
	require.True(t, strings.HasSuffix(got, "3 errors\n"))

	buf.Reset()
	printDiagnostics(&buf, newStyles(false), os.ErrNotExist)
	require.Equal(t, "error: file does not exist\n", buf.String())
}

func TestViewerFilter(t *testing.T) {
	m := &linker.Map{
		Size: 100,
		Functions: []linker.MapEntry{
			{Index: 0, Name: "alpha", Origin: "defined", Object: "a.o"},
			{Index: 1, Name: "beta", Origin: "defined", Object: "b.o"},
		},
	}
	v := newViewerModel("out.wasm", m)
	require.Contains(t, v.content(), "alpha")
	require.Contains(t, v.content(), "memory")

	v.filter.SetValue("beta")
	got := v.content()
	require.Contains(t, got, "beta")
	require.NotContains(t, got, "alpha")
	require.NotContains(t, got, "memory")
	require.Equal(t, "Loading map...", v.View())
}

func TestRunDelegated(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	// The fake linker copies its last argument to the -o path.
	tool := writeFile(t, dir, "fake-ld", `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  last="$1"
  shift
done
cp "$last" "$out"
`)
	require.NoError(t, os.Chmod(tool, 0o755))
	in := writeFile(t, dir, "answer.json", answerManifest)
	out := filepath.Join(dir, "answer.wasm")

	opts, err := parseArgs([]string{"-no-entry", "-delegate", tool, "-o", out, in}, io.Discard)
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), opts, io.Discard, io.Discard))

	bin, err := os.ReadFile(out)
	require.NoError(t, err)
	m, err := wasm.ParseModule(bin)
	require.NoError(t, err)
	_, ok := m.Custom("linking")
	require.True(t, ok, "external linker receives a relocatable object")
}
