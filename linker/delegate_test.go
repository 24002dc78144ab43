package linker

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasmld/errors"
)

func TestDelegateArgs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{
			name: "defaults",
			want: []string{"-z", "stack-size=1048576", "-o", "out.wasm", "a.o", "b.o"},
		},
		{
			name: "reactor",
			modify: func(c *Config) {
				c.Output = OutputReactor
				c.Exports = []string{"run"}
				c.AllowUndefined = true
				c.StackSize = 0
			},
			want: []string{"--no-entry", "--export=run", "--allow-undefined", "-o", "out.wasm", "a.o", "b.o"},
		},
		{
			name: "memory",
			modify: func(c *Config) {
				c.Entry = EntryNamed
				c.EntryName = "main"
				c.ImportMemory = true
				c.SharedMemory = true
				c.InitialMemory = 131072
				c.MaxMemory = 1 << 20
				c.GlobalBase = 1024
				c.StackSize = 0
			},
			want: []string{
				"--entry=main", "--import-memory", "--export-memory", "--shared-memory",
				"--initial-memory=131072", "--max-memory=1048576", "--global-base=1024",
				"-o", "out.wasm", "a.o", "b.o",
			},
		},
		{
			name: "object",
			modify: func(c *Config) {
				c.Output = OutputObject
				c.Strip = StripDebug
			},
			want: []string{"--relocatable", "--strip-debug", "-o", "out.wasm", "a.o", "b.o"},
		},
		{
			name: "build id",
			modify: func(c *Config) {
				c.StackSize = 0
				c.Strip = StripAll
				c.BuildID = BuildIDHex
				c.BuildIDHex = "0xabcd"
			},
			want: []string{"--strip-all", "--build-id=0xabcd", "-o", "out.wasm", "a.o", "b.o"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.modify != nil {
				tt.modify(&cfg)
			}
			require.Equal(t, tt.want, DelegateArgs(cfg, []string{"a.o", "b.o"}, "out.wasm"))
		})
	}
}

func TestDelegateMissingTool(t *testing.T) {
	err := Delegate(context.Background(), "wasmld-no-such-linker", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDelegate, Kind: errors.KindExternal})
}

func TestDelegateFailureCarriesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := Delegate(context.Background(), "sh", []string{"-c", "echo 'undefined symbol: foo' >&2; echo 'link failed' >&2; exit 1"})
	require.Error(t, err)

	errs := errors.Flatten(err)
	require.Len(t, errs, 1)
	require.Equal(t, "sh", errs[0].Source)
	require.Equal(t, []string{"undefined symbol: foo", "link failed"}, errs[0].Notes)
}

func TestDelegateSuccessWithOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	require.NoError(t, Delegate(context.Background(), "sh", []string{"-c", "echo 'warning: unused flag' >&2"}))
}
