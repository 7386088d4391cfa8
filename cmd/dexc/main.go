package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/operskoj2c/dex-lang/internal/errors"
	"github.com/operskoj2c/dex-lang/internal/imp"
	"github.com/operskoj2c/dex-lang/internal/pipeline"
	"github.com/operskoj2c/dex-lang/internal/reader"
	"github.com/operskoj2c/dex-lang/internal/repl"
)

var (
	// Version info - set by ldflags during build
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"

	// Color output
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// fileConfig is the optional dexc.yaml configuration.
type fileConfig struct {
	Backend  string `yaml:"backend"`
	DumpSimp bool   `yaml:"dump_simp"`
	DumpImp  bool   `yaml:"dump_imp"`
	CheckImp bool   `yaml:"check_imp"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("%s: %w", path, err)
	}
	return fc, nil
}

func parseBackend(s string) (imp.Backend, error) {
	switch s {
	case "", "llvm":
		return imp.LLVM, nil
	case "llvm-mc":
		return imp.LLVMMC, nil
	case "llvm-cuda":
		return imp.LLVMCUDA, nil
	case "interp":
		return imp.Interp, nil
	default:
		return imp.LLVM, fmt.Errorf("unknown backend %q", s)
	}
}

func main() {
	var (
		versionFlag = flag.Bool("version", false, "Print version information")
		helpFlag    = flag.Bool("help", false, "Show help")
		configFlag  = flag.String("config", "dexc.yaml", "Configuration file")
		backendFlag = flag.String("backend", "", "Backend: llvm, llvm-mc, llvm-cuda, interp")
		dumpSimp    = flag.Bool("dump-simp", false, "Dump the simplified core")
		dumpImp     = flag.Bool("dump-imp", false, "Dump the Imp module")
		checkImp    = flag.Bool("check-imp", false, "Type-check the Imp module after lowering")
	)
	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}
	if *helpFlag || flag.NArg() == 0 {
		printHelp()
		return
	}

	fc, err := loadFileConfig(*configFlag)
	if err != nil {
		fatal(err)
	}
	backendName := fc.Backend
	if *backendFlag != "" {
		backendName = *backendFlag
	}
	backend, err := parseBackend(backendName)
	if err != nil {
		fatal(err)
	}
	cfg := pipeline.Config{
		Backend:  backend,
		DumpSimp: fc.DumpSimp || *dumpSimp,
		DumpImp:  fc.DumpImp || *dumpImp,
		CheckImp: fc.CheckImp || *checkImp,
	}

	switch flag.Arg(0) {
	case "run":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "%s: missing file argument\n", red("Error"))
			fmt.Println("Usage: dexc run <file.dx>")
			os.Exit(1)
		}
		runFile(cfg, flag.Arg(1), false)
	case "check":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "%s: missing file argument\n", red("Error"))
			fmt.Println("Usage: dexc check <file.dx>")
			os.Exit(1)
		}
		runFile(cfg, flag.Arg(1), true)
	case "repl":
		repl.New(cfg, Version).Run()
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", red("Error"), flag.Arg(0))
		printHelp()
		os.Exit(1)
	}
}

// runFile evaluates every source block of a file in order, printing
// outputs as they arrive. checkOnly suppresses result text.
func runFile(cfg pipeline.Config, path string, checkOnly bool) {
	src, err := os.ReadFile(path)
	if err != nil {
		fatal(err)
	}
	env := pipeline.NewTopEnv()
	failed := false
	for _, blk := range reader.Read(src) {
		newEnv, res := pipeline.EvalSourceBlock(cfg, env, blk)
		env = newEnv
		for _, out := range res.Outputs {
			switch o := out.(type) {
			case pipeline.TextOut:
				if !checkOnly {
					fmt.Println(green(o.Text))
				}
			case pipeline.PassInfo:
				fmt.Printf("%s\n%s\n", cyan("=== "+o.Pass+" ==="), o.Text)
			case pipeline.MiscLog:
				fmt.Println(o.Text)
			}
		}
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "%s (line %d): %s\n", red("Error"), blk.Line, res.Err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	if checkOnly {
		fmt.Println(green("ok"))
	}
}

func printVersion() {
	fmt.Printf("%s %s\n", bold("dexc"), Version)
	fmt.Printf("  commit: %s\n", Commit)
	fmt.Printf("  built:  %s\n", BuildTime)
}

func printHelp() {
	fmt.Printf("%s - compiler for a typed array-oriented functional language\n\n", bold("dexc"))
	fmt.Println("Usage:")
	fmt.Println("  dexc run <file.dx>     Compile and run a source file")
	fmt.Println("  dexc check <file.dx>   Compile without running")
	fmt.Println("  dexc repl              Start an interactive session")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func fatal(err error) {
	if e, ok := errors.AsErr(err); ok {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red("Error"), e)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", red("Error"), err)
	}
	os.Exit(1)
}
