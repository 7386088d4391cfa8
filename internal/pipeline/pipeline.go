// Package pipeline sequences the compiler passes over top-level
// source blocks: parse (external), simplify twice, lower to Imp. It
// owns the top environment and the Result/Output surface the driver
// and REPL consume.
package pipeline

import (
	"fmt"

	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
	"github.com/operskoj2c/dex-lang/internal/imp"
	"github.com/operskoj2c/dex-lang/internal/reader"
	"github.com/operskoj2c/dex-lang/internal/simplify"
)

// Output is one item of user-visible result data.
type Output interface {
	output()
}

// TextOut is plain result text.
type TextOut struct {
	Text string
}

func (TextOut) output() {}

// PassInfo carries a pass's dump, tagged with the pass name.
type PassInfo struct {
	Pass string
	Text string
}

func (PassInfo) output() {}

// HeatmapOut is a dense 2D plot.
type HeatmapOut struct {
	W   int
	H   int
	Vec []float64
}

func (HeatmapOut) output() {}

// ScatterOut is a scatter plot.
type ScatterOut struct {
	X []float64
	Y []float64
}

func (ScatterOut) output() {}

// MiscLog is incidental driver logging.
type MiscLog struct {
	Text string
}

func (MiscLog) output() {}

// Result is what one source block evaluates to: outputs plus a final
// error or nil.
type Result struct {
	Outputs []Output
	Err     error
}

// TopEnv is the global environment threaded through block
// evaluations. Passes read it; only pass completion writes it.
type TopEnv struct {
	Types map[core.Name]core.Type
	Atoms map[core.Name]core.Atom
	Rules map[core.Name]core.Atom
	Scope core.Scope
}

// NewTopEnv makes an empty environment.
func NewTopEnv() *TopEnv {
	return &TopEnv{
		Types: map[core.Name]core.Type{},
		Atoms: map[core.Name]core.Atom{},
		Rules: map[core.Name]core.Atom{},
		Scope: core.Scope{},
	}
}

// Copy clones the environment so a failing block leaves the original
// untouched.
func (e *TopEnv) Copy() *TopEnv {
	out := NewTopEnv()
	for k, v := range e.Types {
		out.Types[k] = v
	}
	for k, v := range e.Atoms {
		out.Atoms[k] = v
	}
	for k, v := range e.Rules {
		out.Rules[k] = v
	}
	out.Scope = e.Scope.Copy()
	return out
}

// Bind registers a top-level atom under a name.
func (e *TopEnv) Bind(name core.Name, atom core.Atom) error {
	ty, err := core.TypeOf(atom)
	if err != nil {
		return err
	}
	e.Atoms[name] = atom
	e.Types[name] = ty
	e.Scope[name] = core.ScopeEntry{Ty: ty}
	return nil
}

// BindRule registers a derivative rule for a top-level name.
func (e *TopEnv) BindRule(name core.Name, rule core.Atom) {
	e.Rules[name] = rule
}

// ParseFn is the external parser's interface: raw module text to an
// elaborated core module.
type ParseFn func(text string) (*core.Module, error)

// Config carries per-invocation compiler options.
type Config struct {
	Backend  imp.Backend
	Parse    ParseFn
	DumpSimp bool
	DumpImp  bool
	CheckImp bool
}

// Artifacts are the intermediate representations of one compilation.
type Artifacts struct {
	Simplified *core.Block
	Imp        *imp.Result
}

// EvalSourceBlock evaluates one source block against the environment,
// returning the updated environment and the block's result. Blocks
// the core does not consume pass through with no outputs.
func EvalSourceBlock(cfg Config, env *TopEnv, blk reader.SourceBlock) (*TopEnv, Result) {
	switch blk.Contents {
	case reader.RunModule, reader.Command:
		if cfg.Parse == nil {
			return env, failure(errors.Parse("no parser registered for block at line %d", blk.Line), nil)
		}
		m, err := cfg.Parse(blk.Text)
		if err != nil {
			return env, failure(err, nil)
		}
		return EvalModule(cfg, env, m)
	case reader.GetNameType:
		name := core.Top(blk.Arg)
		if ty, ok := env.Types[name]; ok {
			return env, Result{Outputs: []Output{TextOut{Text: ty.String()}}}
		}
		return env, failure(errors.Unbound(blk.Arg).WithPos(errors.Pos{Line: blk.Line, Offset: blk.Offset}), nil)
	default:
		return env, Result{}
	}
}

// EvalModule runs the pass sequence over an elaborated module:
// simplify preserving derivative rules, simplify again without them,
// then lower to Imp.
func EvalModule(cfg Config, env *TopEnv, m *core.Module) (*TopEnv, Result) {
	arts, outputs, err := compile(cfg, env, m.Body)
	if err != nil {
		return env, failure(err, outputs)
	}
	newEnv := env.Copy()
	if err := bindExports(newEnv, m, arts.Simplified); err != nil {
		return env, failure(err, outputs)
	}
	outputs = append(outputs, TextOut{Text: describeResult(arts)})
	return newEnv, Result{Outputs: outputs}
}

// CompileBlock runs the pass sequence over a bare core block and
// returns the artifacts; tests and tooling use it directly.
func CompileBlock(cfg Config, env *TopEnv, block *core.Block) (Artifacts, error) {
	arts, _, err := compile(cfg, env, block)
	return arts, err
}

func compile(cfg Config, env *TopEnv, block *core.Block) (Artifacts, []Output, error) {
	var outputs []Output
	s1 := simplify.New(simplify.Options{TopEnv: env.Atoms, Rules: env.Rules, PreserveDerivRules: true})
	blk, err := s1.Block(env.Scope, block)
	if err != nil {
		return Artifacts{}, outputs, err
	}
	s2 := simplify.New(simplify.Options{TopEnv: env.Atoms, Rules: env.Rules, PreserveDerivRules: false})
	blk, err = s2.Block(env.Scope, blk)
	if err != nil {
		return Artifacts{}, outputs, err
	}
	if cfg.DumpSimp {
		outputs = append(outputs, PassInfo{Pass: "simp", Text: blk.String()})
	}
	impRes, err := imp.LowerBlock(env.Scope, cfg.Backend, blk)
	if err != nil {
		return Artifacts{}, outputs, err
	}
	if cfg.CheckImp {
		if err := imp.CheckModule(impRes.Module); err != nil {
			return Artifacts{}, outputs, err
		}
	}
	if cfg.DumpImp {
		outputs = append(outputs, PassInfo{Pass: "imp", Text: impRes.Module.String()})
	}
	return Artifacts{Simplified: blk, Imp: impRes}, outputs, nil
}

// bindExports records a module's exported names in the environment.
// An export binds only when the simplified block reduces to an atom;
// a residual computation stays anonymous until run.
func bindExports(env *TopEnv, m *core.Module, blk *core.Block) error {
	if len(m.Exports) == 0 {
		return nil
	}
	atom, ok, err := builder.ReduceBlock(env.Scope, blk)
	if err != nil || !ok {
		return err
	}
	if len(m.Exports) == 1 {
		return env.Bind(m.Exports[0].Name, atom)
	}
	rec, isRec := atom.(*core.RecVal)
	if !isRec || rec.Rec.Len() != len(m.Exports) {
		return errors.Compiler("module result does not match its %d exports", len(m.Exports))
	}
	items := rec.Rec.Items()
	for i, x := range m.Exports {
		if err := env.Bind(x.Name, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func describeResult(arts Artifacts) string {
	ty, err := core.BlockType(arts.Simplified)
	if err != nil {
		return "<result>"
	}
	return fmt.Sprintf("%s  [%d allocations, %d functions]",
		ty, len(arts.Imp.Ptrs), len(arts.Imp.Module.Funcs))
}

func failure(err error, outputs []Output) Result {
	e, _ := errors.AsErr(err)
	return Result{Outputs: outputs, Err: e}
}
