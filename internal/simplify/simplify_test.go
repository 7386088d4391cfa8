package simplify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/core"
)

func intLit(v int64) core.Atom { return &core.Lit{Val: core.IntLit(v)} }
func intTy() core.Type         { return &core.BaseTy{Ty: core.IntType} }
func boolTy() core.Type        { return &core.BaseTy{Ty: core.BoolType} }

func run(t *testing.T, block *core.Block) *core.Block {
	t.Helper()
	s := New(Options{})
	out, err := s.Block(core.Scope{}, block)
	require.NoError(t, err)
	return out
}

// noResidualApps asserts no application of a literal lambda remains.
func noResidualApps(t *testing.T, blk *core.Block) {
	t.Helper()
	for _, d := range blk.Decls {
		if let, ok := d.(*core.LetDecl); ok {
			if app, ok := let.Bound.(*core.App); ok {
				_, isLam := app.Fun.(*core.Lam)
				assert.False(t, isLam, "residual beta-redex: %s", app)
			}
		}
	}
	if app, ok := blk.Result.(*core.App); ok {
		_, isLam := app.Fun.(*core.Lam)
		assert.False(t, isLam, "residual beta-redex in result: %s", app)
	}
}

// let f = \x. x + 1 in f 2 reduces with no application left over.
func TestBetaReduction(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: intTy()}
	f := core.Var{Name: core.Gen("f")}
	r := core.Var{Name: core.Gen("r"), Ty: intTy()}
	lam := &core.Lam{
		Arrow:  core.PureArr(),
		Binder: x,
		Body: &core.Block{
			Decls: []core.Decl{&core.LetDecl{
				Binder: core.Var{Name: core.Gen("y"), Ty: intTy()},
				Bound:  &core.OpExpr{Op: &core.ScalarBinOp{Op: core.IAdd, X: x, Y: intLit(1)}},
			}},
			Result: &core.AtomExpr{Atom: core.Var{Name: core.Gen("y"), Ty: intTy()}},
		},
	}
	fTy, err := core.TypeOf(lam)
	require.NoError(t, err)
	f.Ty = fTy
	block := &core.Block{
		Decls: []core.Decl{
			&core.LetDecl{Binder: f, Bound: &core.AtomExpr{Atom: lam}},
			&core.LetDecl{Binder: r, Bound: &core.App{Arrow: core.PureArr(), Fun: f, Arg: intLit(2)}},
		},
		Result: &core.AtomExpr{Atom: r},
	}

	out := run(t, block)
	noResidualApps(t, out)
	assert.Equal(t, "3", out.Result.String(), "literal arithmetic folds")
}

func TestLiteralFolding(t *testing.T) {
	tests := []struct {
		name string
		op   core.PrimOp
		want string
	}{
		{"iadd", &core.ScalarBinOp{Op: core.IAdd, X: intLit(2), Y: intLit(3)}, "5"},
		{"imul", &core.ScalarBinOp{Op: core.IMul, X: intLit(4), Y: intLit(5)}, "20"},
		{"fmul", &core.ScalarBinOp{Op: core.FMul, X: &core.Lit{Val: core.RealLit(2)}, Y: &core.Lit{Val: core.RealLit(1.5)}}, "3"},
		{"fneg", &core.ScalarUnOp{Op: core.FNeg, X: &core.Lit{Val: core.RealLit(2)}}, "-2"},
		{"select true", &core.Select{Pred: &core.Lit{Val: core.BoolLit(true)}, X: intLit(1), Y: intLit(2)}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, &core.Block{Result: &core.OpExpr{Op: tt.op}})
			assert.Equal(t, tt.want, out.Result.String())
		})
	}
}

func TestIdempotentOnData(t *testing.T) {
	i := core.Var{Name: core.Gen("i"), Ty: &core.IntRangeTy{Low: intLit(0), High: intLit(4)}}
	block := &core.Block{
		Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: &core.Lam{
			Arrow:  core.PureArr(),
			Binder: i,
			Body: &core.Block{
				Decls: []core.Decl{&core.LetDecl{
					Binder: core.Var{Name: core.Gen("n"), Ty: intTy()},
					Bound:  &core.OpExpr{Op: &core.IndexAsInt{Idx: i}},
				}},
				Result: &core.OpExpr{Op: &core.ScalarBinOp{
					Op: core.IMul,
					X:  core.Var{Name: core.Gen("n"), Ty: intTy()},
					Y:  core.Var{Name: core.Gen("n"), Ty: intTy()},
				}},
			},
		}}},
	}
	once := run(t, block)
	twice := run(t, once)
	if diff := cmp.Diff(once.String(), twice.String()); diff != "" {
		t.Errorf("simplification is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestStructuralEquality(t *testing.T) {
	// Equality at a pair type decomposes to scalar comparisons
	// folded with and.
	a := core.Var{Name: core.Gen("a"), Ty: &core.PairTy{Fst: intTy(), Snd: intTy()}}
	block := &core.Block{
		Result: &core.OpExpr{Op: &core.Cmp{Op: core.Equal, Ty: a.Ty, X: a, Y: a}},
	}
	s := New(Options{})
	out, err := s.Block(core.Scope{a.Name: {Ty: a.Ty}}, block)
	require.NoError(t, err)

	sawICmp := false
	sawAnd := false
	for _, d := range out.Decls {
		let, ok := d.(*core.LetDecl)
		if !ok {
			continue
		}
		if op, ok := let.Bound.(*core.OpExpr); ok {
			switch o := op.Op.(type) {
			case *core.ICmp:
				sawICmp = true
			case *core.ScalarBinOp:
				if o.Op == core.BAnd {
					sawAnd = true
				}
			case *core.Cmp:
				t.Errorf("generic comparison survived simplification: %s", o)
			}
		}
	}
	if op, ok := out.Result.(*core.OpExpr); ok {
		if o, isBin := op.Op.(*core.ScalarBinOp); isBin && o.Op == core.BAnd {
			sawAnd = true
		}
	}
	assert.True(t, sawICmp, "pair equality bottoms out in ICmp")
	assert.True(t, sawAnd, "field comparisons fold with and")
}

func TestAnyValueFabrication(t *testing.T) {
	tests := []struct {
		name string
		ty   core.Type
	}{
		{"int", intTy()},
		{"bool", boolTy()},
		{"pair", &core.PairTy{Fst: intTy(), Snd: &core.BaseTy{Ty: core.RealType}}},
		{"sum", &core.SumTy{Left: intTy(), Rite: intTy()}},
		{"table", core.TabTy(&core.IntRangeTy{Low: intLit(0), High: intLit(3)}, intTy())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, &core.Block{Result: &core.AtomExpr{Atom: &core.AnyValue{Ty: tt.ty}}})
			res, ok := out.Result.(*core.AtomExpr)
			require.True(t, ok)
			ty, err := core.TypeOf(res.Atom)
			require.NoError(t, err)
			assert.True(t, core.TypeEqual(ty, tt.ty), "fabricated value has the requested type")
		})
	}
}

func TestTopLevelInlining(t *testing.T) {
	c := core.Top("c")
	opts := Options{TopEnv: map[core.Name]core.Atom{c: intLit(10)}}
	block := &core.Block{
		Result: &core.OpExpr{Op: &core.ScalarBinOp{Op: core.IAdd, X: core.Var{Name: c, Ty: intTy()}, Y: intLit(1)}},
	}
	out, err := New(opts).Block(core.Scope{}, block)
	require.NoError(t, err)
	assert.Equal(t, "11", out.Result.String())
}

func TestPreserveDerivRules(t *testing.T) {
	f := core.Top("f")
	x := core.Var{Name: core.Gen("x"), Ty: intTy()}
	lam := &core.Lam{Arrow: core.PureArr(), Binder: x, Body: core.AtomBlock(x)}
	topEnv := map[core.Name]core.Atom{f: lam}
	rules := map[core.Name]core.Atom{f: lam}
	fTy, err := core.TypeOf(lam)
	require.NoError(t, err)

	block := &core.Block{Result: &core.AtomExpr{Atom: core.Var{Name: f, Ty: fTy}}}

	preserved, err := New(Options{TopEnv: topEnv, Rules: rules, PreserveDerivRules: true}).Block(core.Scope{}, block)
	require.NoError(t, err)
	res := preserved.Result.(*core.AtomExpr)
	v, isVar := res.Atom.(core.Var)
	require.True(t, isVar, "rule-annotated reference survives the preserving pass")
	assert.Equal(t, f, v.Name)

	expanded, err := New(Options{TopEnv: topEnv, Rules: rules, PreserveDerivRules: false}).Block(core.Scope{}, block)
	require.NoError(t, err)
	res2 := expanded.Result.(*core.AtomExpr)
	_, isLam := res2.Atom.(*core.Lam)
	assert.True(t, isLam, "second pass inlines the definition")
}
