package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasmld"
	"github.com/wippyai/wasmld/input"
	"github.com/wippyai/wasmld/linker"
)

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	st := newStyles(isTerminal(os.Stderr))
	if err != nil {
		printDiagnostics(os.Stderr, st, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		printDiagnostics(os.Stderr, st, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	linker.SetLogger(logger.Named(wasmld.Name))

	objs, err := input.LoadAll(ctx, opts.inputs, opts.jobs)
	if err != nil {
		return err
	}

	if opts.delegate != "" {
		return linkDelegated(ctx, opts, objs)
	}

	l := linker.New(opts.cfg)
	for _, o := range objs {
		if err := l.AddObject(o); err != nil {
			return err
		}
	}
	res, err := l.Link(ctx)
	if err != nil {
		return err
	}
	if err := linker.WriteFile(opts.output, res.Bytes); err != nil {
		return err
	}

	if err := writeMap(opts.mapFile, res.Map, stdout); err != nil {
		return err
	}
	if opts.dump {
		b, err := json.MarshalIndent(res.Map, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\n", b)
	}
	if opts.interactive {
		return runViewer(opts.output, res.Map)
	}

	st := newStyles(isTerminal(stderr))
	fmt.Fprintln(stderr, st.summary(opts.output, res.Map))
	return nil
}

// newLogger returns a debug development logger for -v and a console logger
// that only shows warnings otherwise.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zc.Encoding = "console"
	zc.DisableStacktrace = true
	return zc.Build()
}

func writeMap(path string, m *linker.Map, stdout io.Writer) error {
	switch path {
	case "":
		return nil
	case "-":
		_, err := m.WriteTo(stdout)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// linkDelegated merges the inputs into one relocatable object and hands it
// to the external linker together with the equivalent command line.
func linkDelegated(ctx context.Context, opts *options, objs []*linker.Object) error {
	rel := opts.cfg
	rel.Output = linker.OutputObject
	rel.Strip = linker.StripNone
	rel.BuildID = linker.BuildIDNone
	rel.Verify = false

	l := linker.New(rel)
	for _, o := range objs {
		if err := l.AddObject(o); err != nil {
			return err
		}
	}
	res, err := l.Link(ctx)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "wasmld-*.o")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(res.Bytes); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return linker.Delegate(ctx, opts.delegate, linker.DelegateArgs(opts.cfg, []string{tmp}, opts.output))
}
