package linker

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasmld/errors"
)

// RuntimeConfig is the wazero configuration outputs are checked against.
// Threads are enabled so shared memory and atomics validate.
func RuntimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
}

// Verify decodes and validates a module with wazero without instantiating it.
func Verify(ctx context.Context, bin []byte) error {
	rt := wazero.NewRuntimeWithConfig(ctx, RuntimeConfig())
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "output does not validate")
	}
	return compiled.Close(ctx)
}
