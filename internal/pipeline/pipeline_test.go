package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
	"github.com/operskoj2c/dex-lang/internal/imp"
	"github.com/operskoj2c/dex-lang/internal/reader"
)

func intLit(v int64) core.Atom    { return &core.Lit{Val: core.IntLit(v)} }
func realLit(v float64) core.Atom { return &core.Lit{Val: core.RealLit(v)} }
func realTy() core.Type           { return &core.BaseTy{Ty: core.RealType} }

func compileAndRun(t *testing.T, block *core.Block) [][]core.LitVal {
	t.Helper()
	cfg := Config{Backend: imp.LLVM, CheckImp: true}
	arts, err := CompileBlock(cfg, NewTopEnv(), block)
	require.NoError(t, err)
	bufs, err := imp.Interpret(arts.Imp.Module)
	require.NoError(t, err)
	return bufs
}

func reals(t *testing.T, bufs [][]core.LitVal) []float64 {
	t.Helper()
	var out []float64
	for _, b := range bufs {
		for _, v := range b {
			r, ok := v.(core.RealLit)
			require.True(t, ok, "expected real result, got %v", v)
			out = append(out, float64(r))
		}
	}
	return out
}

// Linearizing \x. 3.0*x at x0=4.0 with tangent 1.0 gives primal 12.0
// and tangent 3.0.
func TestLinearizeEndToEnd(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	fn := &core.Lam{
		Arrow:  core.PureArr(),
		Binder: x,
		Body: &core.Block{
			Decls: []core.Decl{&core.LetDecl{
				Binder: y,
				Bound:  &core.OpExpr{Op: &core.ScalarBinOp{Op: core.FMul, X: realLit(3), Y: x}},
			}},
			Result: &core.AtomExpr{Atom: y},
		},
	}
	linTy, err := core.TypeOfExpr(&core.HofExpr{Hof: &core.Linearize{Lam: fn}})
	require.NoError(t, err)

	lin := core.Var{Name: core.Gen("lin"), Ty: linTy}
	p := core.Var{Name: core.Gen("p"), Ty: linTy.(*core.Pi).Result}
	primal := core.Var{Name: core.Gen("primal"), Ty: realTy()}
	tanFn := core.Var{Name: core.Gen("tanFn"), Ty: p.Ty.(*core.PairTy).Snd}
	tangent := core.Var{Name: core.Gen("tangent"), Ty: realTy()}

	block := &core.Block{
		Decls: []core.Decl{
			&core.LetDecl{Binder: lin, Bound: &core.HofExpr{Hof: &core.Linearize{Lam: fn}}},
			&core.LetDecl{Binder: p, Bound: &core.App{Arrow: core.PureArr(), Fun: lin, Arg: realLit(4)}},
			&core.LetDecl{Binder: primal, Bound: &core.OpExpr{Op: &core.Fst{Pair: p}}},
			&core.LetDecl{Binder: tanFn, Bound: &core.OpExpr{Op: &core.Snd{Pair: p}}},
			&core.LetDecl{Binder: tangent, Bound: &core.App{Arrow: core.LinArr(), Fun: tanFn, Arg: realLit(1)}},
		},
		Result: &core.AtomExpr{Atom: &core.PairVal{Fst: primal, Snd: tangent}},
	}

	got := reals(t, compileAndRun(t, block))
	assert.Equal(t, []float64{12, 3}, got)
}

// Transposing \x. x + x routes cotangent 1.0 to a total of 2.0.
func TestTransposeEndToEnd(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	fn := &core.Lam{
		Arrow:  core.LinArr(),
		Binder: x,
		Body: &core.Block{
			Decls: []core.Decl{&core.LetDecl{
				Binder: y,
				Bound:  &core.OpExpr{Op: &core.ScalarBinOp{Op: core.FAdd, X: x, Y: x}},
			}},
			Result: &core.AtomExpr{Atom: y},
		},
	}
	trTy, err := core.TypeOfExpr(&core.HofExpr{Hof: &core.Transpose{Lam: fn}})
	require.NoError(t, err)

	tr := core.Var{Name: core.Gen("tr"), Ty: trTy}
	ct := core.Var{Name: core.Gen("ct"), Ty: realTy()}
	block := &core.Block{
		Decls: []core.Decl{
			&core.LetDecl{Binder: tr, Bound: &core.HofExpr{Hof: &core.Transpose{Lam: fn}}},
			&core.LetDecl{Binder: ct, Bound: &core.App{Arrow: core.LinArr(), Fun: tr, Arg: realLit(1)}},
		},
		Result: &core.AtomExpr{Atom: ct},
	}

	got := reals(t, compileAndRun(t, block))
	assert.Equal(t, []float64{2}, got)
}

// transpose(linearize(\x. c*x)) applied to cotangent y equals c*y.
func TestTransposeOfLinearized(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	fn := &core.Lam{
		Arrow:  core.PureArr(),
		Binder: x,
		Body: &core.Block{
			Decls: []core.Decl{&core.LetDecl{
				Binder: y,
				Bound:  &core.OpExpr{Op: &core.ScalarBinOp{Op: core.FMul, X: realLit(5), Y: x}},
			}},
			Result: &core.AtomExpr{Atom: y},
		},
	}
	linTy, err := core.TypeOfExpr(&core.HofExpr{Hof: &core.Linearize{Lam: fn}})
	require.NoError(t, err)
	pairTy := linTy.(*core.Pi).Result.(*core.PairTy)

	lin := core.Var{Name: core.Gen("lin"), Ty: linTy}
	p := core.Var{Name: core.Gen("p"), Ty: pairTy}
	tanFn := core.Var{Name: core.Gen("tanFn"), Ty: pairTy.Snd}
	trTy, err := core.TypeOfExpr(&core.HofExpr{Hof: &core.Transpose{Lam: &core.Lam{
		Arrow: core.LinArr(), Binder: core.Var{Name: core.Gen("t"), Ty: realTy()}, Body: core.AtomBlock(realLit(0)),
	}}})
	require.NoError(t, err)
	tr := core.Var{Name: core.Gen("tr"), Ty: trTy}
	ct := core.Var{Name: core.Gen("ct"), Ty: realTy()}

	block := &core.Block{
		Decls: []core.Decl{
			&core.LetDecl{Binder: lin, Bound: &core.HofExpr{Hof: &core.Linearize{Lam: fn}}},
			&core.LetDecl{Binder: p, Bound: &core.App{Arrow: core.PureArr(), Fun: lin, Arg: realLit(2)}},
			&core.LetDecl{Binder: tanFn, Bound: &core.OpExpr{Op: &core.Snd{Pair: p}}},
			&core.LetDecl{Binder: tr, Bound: &core.HofExpr{Hof: &core.Transpose{Lam: tanFn}}},
			&core.LetDecl{Binder: ct, Bound: &core.App{Arrow: core.LinArr(), Fun: tr, Arg: realLit(7)}},
		},
		Result: &core.AtomExpr{Atom: ct},
	}

	got := reals(t, compileAndRun(t, block))
	assert.Equal(t, []float64{35}, got, "transpose of t -> 5*t at cotangent 7")
}

// runWriter \ref. for i in range(0,3). tell ref 1.0 gives ((), 3.0).
func TestRunWriterEndToEnd(t *testing.T) {
	h := core.Var{Name: core.Gen("h"), Ty: &core.TypeKind{}}
	ref := core.Var{Name: core.Gen("ref"), Ty: &core.RefTy{Region: h, Ty: realTy()}}
	row := core.Pure().Extend(h.Name, core.RowEntry{Effect: core.Writer, Ty: realTy()})
	i := core.Var{Name: core.Gen("i"), Ty: &core.IntRangeTy{Low: intLit(0), High: intLit(3)}}

	forBody := &core.Block{
		Result: &core.OpExpr{Op: &core.PrimEffect{Ref: ref, Op: core.MTell{X: realLit(1)}}},
		Eff:    row,
	}
	innerLam := &core.Lam{Arrow: core.PlainArr(row), Binder: ref, Body: &core.Block{
		Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: &core.Lam{Arrow: core.PlainArr(row), Binder: i, Body: forBody}}},
		Eff:    row,
	}}
	outerLam := &core.Lam{Arrow: core.Arrow{Kind: core.ImplicitArrow}, Binder: h, Body: core.AtomBlock(innerLam)}
	block := &core.Block{Result: &core.HofExpr{Hof: &core.RunWriter{Lam: outerLam}}}

	got := reals(t, compileAndRun(t, block))
	assert.Equal(t, []float64{3}, got)
}

func TestEvalSourceBlockWithoutParser(t *testing.T) {
	env := NewTopEnv()
	_, res := EvalSourceBlock(Config{Backend: imp.LLVM}, env, reader.SourceBlock{
		Line: 1, Contents: reader.RunModule, Text: "x = 1\n",
	})
	require.Error(t, res.Err)
	e, ok := errors.AsErr(res.Err)
	require.True(t, ok)
	assert.Equal(t, errors.ParseErr, e.Kind)
}

func TestEvalSourceBlockPassThrough(t *testing.T) {
	env := NewTopEnv()
	for _, contents := range []reader.BlockContents{reader.ProseBlock, reader.CommentLine, reader.EmptyLines} {
		newEnv, res := EvalSourceBlock(Config{}, env, reader.SourceBlock{Contents: contents})
		assert.NoError(t, res.Err)
		assert.Empty(t, res.Outputs)
		assert.Same(t, env, newEnv)
	}
}

func TestGetNameType(t *testing.T) {
	env := NewTopEnv()
	require.NoError(t, env.Bind(core.Top("pi"), realLit(3.14159)))

	_, res := EvalSourceBlock(Config{}, env, reader.SourceBlock{Contents: reader.GetNameType, Arg: "pi"})
	require.NoError(t, res.Err)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, TextOut{Text: "Real"}, res.Outputs[0])

	_, res = EvalSourceBlock(Config{}, env, reader.SourceBlock{Contents: reader.GetNameType, Arg: "nope"})
	require.Error(t, res.Err)
	e, _ := errors.AsErr(res.Err)
	assert.Equal(t, errors.UnboundVarErr, e.Kind)
}

func TestEvalModuleBindsExports(t *testing.T) {
	parse := func(text string) (*core.Module, error) {
		c := core.Var{Name: core.Top("c"), Ty: &core.BaseTy{Ty: core.IntType}}
		return &core.Module{
			Body:    &core.Block{Result: &core.OpExpr{Op: &core.ScalarBinOp{Op: core.IAdd, X: intLit(20), Y: intLit(22)}}},
			Exports: []core.Var{c},
		}, nil
	}
	env := NewTopEnv()
	cfg := Config{Backend: imp.LLVM, Parse: parse}
	newEnv, res := EvalSourceBlock(cfg, env, reader.SourceBlock{Contents: reader.RunModule, Text: "c = 20 + 22\n"})
	require.NoError(t, res.Err)
	atom, ok := newEnv.Atoms[core.Top("c")]
	require.True(t, ok, "export binds into the top environment")
	assert.Equal(t, "42", atom.String())
	assert.NotEmpty(t, res.Outputs)
}
