// Package repl is the interactive driver: it reads lines with
// history, groups them into source blocks, and feeds them through the
// pipeline against a persistent top environment.
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/operskoj2c/dex-lang/internal/errors"
	"github.com/operskoj2c/dex-lang/internal/pipeline"
	"github.com/operskoj2c/dex-lang/internal/reader"
)

// Color functions for pretty output.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// REPL holds the interactive session state.
type REPL struct {
	cfg     pipeline.Config
	env     *pipeline.TopEnv
	version string
}

// New makes a fresh session over the given pipeline configuration.
func New(cfg pipeline.Config, version string) *REPL {
	if version == "" {
		version = "dev"
	}
	return &REPL{cfg: cfg, env: pipeline.NewTopEnv(), version: version}
}

// historyFile is where line history persists between sessions.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dexc_history")
}

// Run drives the read-eval-print loop until EOF or :q.
func (r *REPL) Run() {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if hist == "" {
			return
		}
		if f, err := os.Create(hist); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("%s %s (backend: %s)\n", bold("dexc"), r.version, cyan(r.cfg.Backend.String()))
	fmt.Println(dim("type :help for commands, :q to quit"))

	for {
		input, err := line.Prompt(">=> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", red("Error"), err)
			return
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		if r.command(input) {
			return
		}
	}
}

// command handles one input line; it reports whether the session
// should end.
func (r *REPL) command(input string) bool {
	switch strings.TrimSpace(input) {
	case ":q", ":quit", ":exit":
		return true
	case ":help", ":h":
		r.printHelp()
		return false
	case ":env":
		for name, ty := range r.env.Types {
			fmt.Printf("  %s : %s\n", bold(name.String()), ty)
		}
		return false
	}
	blocks := reader.Read([]byte(input + "\n"))
	for _, blk := range blocks {
		env, res := pipeline.EvalSourceBlock(r.cfg, r.env, blk)
		r.env = env
		r.show(res)
	}
	return false
}

func (r *REPL) show(res pipeline.Result) {
	for _, out := range res.Outputs {
		switch o := out.(type) {
		case pipeline.TextOut:
			fmt.Println(green(o.Text))
		case pipeline.PassInfo:
			fmt.Printf("%s\n%s\n", yellow("=== "+o.Pass+" ==="), o.Text)
		case pipeline.MiscLog:
			fmt.Println(dim(o.Text))
		case pipeline.HeatmapOut:
			fmt.Println(dim(fmt.Sprintf("<heatmap %dx%d>", o.W, o.H)))
		case pipeline.ScatterOut:
			fmt.Println(dim(fmt.Sprintf("<scatter %d points>", len(o.X))))
		}
	}
	if res.Err != nil {
		if e, ok := errors.AsErr(res.Err); ok && !e.Kind.IsUserErr() {
			fmt.Fprintf(os.Stderr, "%s %s\n", red(bold("internal:")), e)
			return
		}
		fmt.Fprintf(os.Stderr, "%s\n", red(res.Err.Error()))
	}
}

func (r *REPL) printHelp() {
	fmt.Println(bold("Commands:"))
	fmt.Println("  :help, :h       show this help")
	fmt.Println("  :env            list top-level bindings")
	fmt.Println("  :t <name>       show the type of a binding")
	fmt.Println("  :q              quit")
}
