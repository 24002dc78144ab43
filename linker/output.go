package linker

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
)

// WriteFile writes an output module to path. The bytes go to a temporary
// file in the same directory which is renamed over path once complete, so
// a failed write never leaves a partial module behind.
func WriteFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(errors.PhaseEmit, errors.KindExternal, err, "create output")
	}
	tmp := f.Name()
	fail := func(err error, detail string) error {
		f.Close()
		os.Remove(tmp)
		return errors.New(errors.PhaseEmit, errors.KindExternal).
			Source(path).
			Cause(err).
			Detail("%s", detail).
			Build()
	}

	if _, err := f.Write(data); err != nil {
		return fail(err, "write output")
	}
	if err := f.Chmod(0o644); err != nil {
		return fail(err, "set output mode")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.PhaseEmit, errors.KindExternal, err, "close output")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.PhaseEmit, errors.KindExternal, err, "rename output")
	}
	Logger().Debug("output written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}
