package linker

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasmld/errors"
)

// Result is the output of a successful link.
type Result struct {
	Bytes []byte
	Map   *Map
}

// Link resolves, lays out and serializes the loaded inputs. Configuration
// and input problems are collected and returned together as one combined
// error after the phase that found them; see errors.Flatten. Internal
// errors are returned as soon as they occur.
//
// Link may be called again on the same loaded state and yields the same
// output for the same configuration.
func (l *Linker) Link(ctx context.Context) (*Result, error) {
	if errs := l.cfg.Validate(); len(errs) > 0 {
		var d errors.Diagnostics
		for _, e := range errs {
			d.Report(e)
		}
		return nil, d.Err()
	}
	if l.loadDiags.HasErrors() {
		return nil, l.loadDiags.Err()
	}

	s := newLinkState(l)
	s.resolve()
	if s.err != nil {
		return nil, s.err
	}
	if s.diags.HasErrors() {
		return nil, s.diags.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.layoutMemory()
	s.assignIndices()
	s.feats = s.checkFeatures()
	if s.diags.HasErrors() {
		return nil, s.diags.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.emit()
	if err != nil {
		return nil, err
	}
	if l.cfg.Verify {
		if err := Verify(ctx, out); err != nil {
			return nil, err
		}
	}

	Logger().Debug("link complete",
		zap.Int("functions", len(s.funcImports)+len(s.funcs)),
		zap.Int("globals", len(s.globalImports)+len(s.globals)),
		zap.Int("data_segments", int(s.layout.numData)),
		zap.Int("bytes", len(out)),
	)
	return &Result{Bytes: out, Map: s.buildMap(len(out))}, nil
}
