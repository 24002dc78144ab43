package main

import (
	"flag"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/wippyai/wasmld"
	"github.com/wippyai/wasmld/linker"
)

// options is the parsed command line.
type options struct {
	cfg         linker.Config
	inputs      []string
	output      string
	mapFile     string
	delegate    string
	jobs        int
	dump        bool
	interactive bool
	verbose     bool
}

// sizeFlag accepts plain byte counts and humanized sizes like 64KiB.
type sizeFlag uint64

func (s *sizeFlag) String() string { return fmt.Sprint(uint64(*s)) }

func (s *sizeFlag) Set(v string) error {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return err
	}
	*s = sizeFlag(n)
	return nil
}

// listFlag collects a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

const usage = `usage: wasmld [flags] input...

Inputs are object manifests (.json or .cbor). Flags override values from
-config; flags not given on the command line keep the config file value.

`

// parseArgs parses args on top of the config file named by -config, or the
// default configuration when there is none.
func parseArgs(args []string, errOut io.Writer) (*options, error) {
	fs := flag.NewFlagSet("wasmld", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() {
		fmt.Fprint(errOut, usage)
		fs.PrintDefaults()
	}

	opts := &options{}
	var (
		configFile = fs.String("config", "", "TOML link configuration")
		entry      = fs.String("entry", "", "entry symbol")
		noEntry    = fs.Bool("no-entry", false, "do not require an entry symbol")
		reactor    = fs.Bool("reactor", false, "produce a reactor module without an entry")
		relocate   = fs.Bool("relocatable", false, "produce a relocatable object")
		exports    listFlag
		exportDyn  = fs.Bool("export-dynamic", false, "export every non-hidden definition")
		allowUndef = fs.Bool("allow-undefined", false, "import undefined functions and globals")
		importMod  = fs.String("import-module", "", "module name for generated imports")
		importMem  = fs.Bool("import-memory", false, "import linear memory")
		exportMem  = fs.Bool("export-memory", true, "export linear memory")
		importTab  = fs.Bool("import-table", false, "import the indirect function table")
		exportTab  = fs.Bool("export-table", false, "export the indirect function table")
		growTab    = fs.Bool("growable-table", false, "leave the indirect function table unbounded")
		initialMem sizeFlag
		maxMem     sizeFlag
		globalBase sizeFlag
		stackSize  sizeFlag
		stackFirst = fs.Bool("stack-first", false, "place the stack below static data")
		sharedMem  = fs.Bool("shared-memory", false, "declare memory shared")
		stripAll   = fs.Bool("strip-all", false, "drop every custom section")
		stripDebug = fs.Bool("strip-debug", false, "drop debug sections and names")
		buildID    = fs.String("build-id", "", "build id: fast, sha1, uuid, none or 0x<hex>")
		verify     = fs.Bool("verify", false, "compile the output with wazero before writing it")
	)
	fs.Var(&exports, "export", "export symbol (repeatable)")
	fs.Var(&initialMem, "initial-memory", "initial memory size in bytes")
	fs.Var(&maxMem, "max-memory", "maximum memory size in bytes")
	fs.Var(&globalBase, "global-base", "address of the first data segment")
	fs.Var(&stackSize, "stack-size", "stack size in bytes")
	fs.StringVar(&opts.output, "o", "a.out.wasm", "output file")
	fs.StringVar(&opts.mapFile, "map", "", "write a link map to this file, - for stdout")
	fs.BoolVar(&opts.dump, "dump", false, "print the link map as JSON")
	fs.BoolVar(&opts.interactive, "i", false, "browse the link map interactively")
	fs.StringVar(&opts.delegate, "delegate", "", "hand the final link to an external linker such as wasm-ld")
	fs.IntVar(&opts.jobs, "j", runtime.GOMAXPROCS(0), "manifests decoded in parallel")
	fs.BoolVar(&opts.verbose, "v", false, "verbose logging")
	version := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *version {
		fmt.Fprintf(errOut, "%s %s\n", wasmld.Name, wasmld.Version)
		return nil, flag.ErrHelp
	}
	opts.inputs = fs.Args()
	if len(opts.inputs) == 0 {
		fs.Usage()
		return nil, fmt.Errorf("no input files")
	}

	cfg := linker.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = linker.LoadConfigFile(*configFile); err != nil {
			return nil, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "entry":
			cfg.Entry, cfg.EntryName = linker.EntryNamed, *entry
		case "no-entry":
			if *noEntry {
				cfg.Entry = linker.EntryDisabled
			}
		case "reactor":
			if *reactor {
				cfg.Output = linker.OutputReactor
			}
		case "relocatable":
			if *relocate {
				cfg.Output = linker.OutputObject
			}
		case "export":
			cfg.Exports = append(cfg.Exports, exports...)
		case "export-dynamic":
			cfg.ExportDynamic = *exportDyn
		case "allow-undefined":
			cfg.AllowUndefined = *allowUndef
		case "import-module":
			cfg.ImportModule = *importMod
		case "import-memory":
			cfg.ImportMemory = *importMem
		case "export-memory":
			cfg.ExportMemory = *exportMem
		case "import-table":
			cfg.ImportTable = *importTab
		case "export-table":
			cfg.ExportTable = *exportTab
		case "growable-table":
			cfg.GrowableTable = *growTab
		case "initial-memory":
			cfg.InitialMemory = uint64(initialMem)
		case "max-memory":
			cfg.MaxMemory = uint64(maxMem)
		case "global-base":
			cfg.GlobalBase = uint64(globalBase)
		case "stack-size":
			cfg.StackSize = uint64(stackSize)
		case "stack-first":
			cfg.StackFirst = *stackFirst
		case "shared-memory":
			cfg.SharedMemory = *sharedMem
		case "strip-debug":
			if *stripDebug && cfg.Strip != linker.StripAll {
				cfg.Strip = linker.StripDebug
			}
		case "strip-all":
			if *stripAll {
				cfg.Strip = linker.StripAll
			}
		case "build-id":
			if err == nil {
				err = setBuildID(&cfg, *buildID)
			}
		case "verify":
			cfg.Verify = *verify
		}
	})
	if err != nil {
		return nil, err
	}
	opts.cfg = cfg
	return opts, nil
}

func setBuildID(cfg *linker.Config, v string) error {
	switch mode := linker.BuildIDMode(v); mode {
	case linker.BuildIDNone, linker.BuildIDFast, linker.BuildIDSHA1, linker.BuildIDUUID:
		cfg.BuildID = mode
		return nil
	}
	if hex, ok := strings.CutPrefix(v, "0x"); ok {
		cfg.BuildID, cfg.BuildIDHex = linker.BuildIDHex, hex
		return nil
	}
	return fmt.Errorf("invalid -build-id %q", v)
}
