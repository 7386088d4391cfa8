package autodiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

func realTy() core.Type          { return &core.BaseTy{Ty: core.RealType} }
func realLit(v float64) core.Atom { return &core.Lit{Val: core.RealLit(v)} }
func intLit(v int64) core.Atom    { return &core.Lit{Val: core.IntLit(v)} }

func TestTangentType(t *testing.T) {
	idx := &core.IntRangeTy{Low: intLit(0), High: intLit(3)}
	tests := []struct {
		name string
		ty   core.Type
		want string
	}{
		{"real", realTy(), "Real"},
		{"int collapses", &core.BaseTy{Ty: core.IntType}, "Unit"},
		{"index collapses", idx, "Unit"},
		{"table maps elementwise", core.TabTy(idx, realTy()), "(i:(range 0 3)) => Real"},
		{"pair", &core.PairTy{Fst: realTy(), Snd: &core.BaseTy{Ty: core.IntType}}, "(Real & Unit)"},
		{"sum collapses", &core.SumTy{Left: realTy(), Rite: realTy()}, "Unit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TangentType(tt.ty)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTangentTypeRejectsFunctions(t *testing.T) {
	fn := &core.Pi{Arrow: core.PureArr(), Binder: core.Var{Name: core.Gen("x"), Ty: realTy()}, Result: realTy()}
	_, err := TangentType(fn)
	require.Error(t, err)
	e, ok := errors.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, errors.NotImplementedErr, e.Kind)
	assert.Contains(t, e.Msg, "->", "the error names the offending type")
}

func TestZeroAt(t *testing.T) {
	zero, err := ZeroAt(&core.PairTy{Fst: realTy(), Snd: &core.UnitTy{}})
	require.NoError(t, err)
	assert.Equal(t, "(0, ())", zero.String())

	idx := &core.IntRangeTy{Low: intLit(0), High: intLit(4)}
	tabZero, err := ZeroAt(core.TabTy(idx, realTy()))
	require.NoError(t, err)
	_, isAFor := tabZero.(*core.AFor)
	assert.True(t, isAFor, "zero tables need no buffer")
}

// Linearizing \x. 3.0 * x yields a lambda returning the primal paired
// with a linear tangent map.
func TestLinearizeShape(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	lam := &core.Lam{
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
	b := builder.New(core.Scope{})
	out, err := Linearize(b, lam, nil)
	require.NoError(t, err)

	outLam, ok := out.(*core.Lam)
	require.True(t, ok)
	resTy, err := core.BlockType(outLam.Body)
	require.NoError(t, err)
	pair, ok := resTy.(*core.PairTy)
	require.True(t, ok, "linearized body returns (primal, tangent function)")
	assert.True(t, core.TypeEqual(pair.Fst, realTy()))
	linPi, ok := pair.Snd.(*core.Pi)
	require.True(t, ok)
	assert.Equal(t, core.LinArrow, linPi.Arrow.Kind)
	assert.True(t, core.TypeEqual(linPi.Binder.Ty, realTy()))
}

// Transposing a linear function gives a linear function the other way
// around.
func TestTransposeShape(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	lam := &core.Lam{
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
	b := builder.New(core.Scope{})
	out, err := Transpose(b, lam)
	require.NoError(t, err)

	outLam, ok := out.(*core.Lam)
	require.True(t, ok)
	assert.Equal(t, core.LinArrow, outLam.Arrow.Kind)
	assert.True(t, core.TypeEqual(outLam.Binder.Ty, realTy()))
}

// A product of two linear factors is not bilinear and must be
// rejected.
func TestTransposeRejectsNonlinearProduct(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: realTy()}
	y := core.Var{Name: core.Gen("y"), Ty: realTy()}
	lam := &core.Lam{
		Arrow:  core.LinArr(),
		Binder: x,
		Body: &core.Block{
			Decls: []core.Decl{&core.LetDecl{
				Binder: y,
				Bound:  &core.OpExpr{Op: &core.ScalarBinOp{Op: core.FMul, X: x, Y: x}},
			}},
			Result: &core.AtomExpr{Atom: y},
		},
	}
	b := builder.New(core.Scope{})
	_, err := Transpose(b, lam)
	require.Error(t, err)
	e, ok := errors.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, errors.LinErr, e.Kind)
}
