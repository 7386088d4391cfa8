package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

func intLit(v int64) core.Atom  { return &core.Lit{Val: core.IntLit(v)} }
func intTy() core.Type          { return &core.BaseTy{Ty: core.IntType} }
func rangeTy(l, h int64) core.Type {
	return &core.IntRangeTy{Low: intLit(l), High: intLit(h)}
}

func TestEmitBindsExpression(t *testing.T) {
	b := New(nil)
	a, err := b.Emit(&core.OpExpr{Op: &core.ScalarBinOp{Op: core.IAdd, X: intLit(1), Y: intLit(2)}})
	require.NoError(t, err)
	v, ok := a.(core.Var)
	require.True(t, ok, "a non-trivial expression must come back as a variable")
	assert.True(t, b.Scope().Contains(v.Name))
}

func TestEmitElidesSingletons(t *testing.T) {
	b := New(nil)
	blk, err := b.BuildScoped(func(cb *Builder) (core.Atom, error) {
		// A pure expression of singleton type is not emitted.
		return cb.Emit(&core.AtomExpr{Atom: &core.UnitVal{}})
	})
	require.NoError(t, err)
	assert.Empty(t, blk.Decls)
	assert.Equal(t, "()", blk.Result.String())
}

func TestEmitReturnsAtomsUnbound(t *testing.T) {
	b := New(nil)
	a, err := b.Emit(&core.AtomExpr{Atom: intLit(7)})
	require.NoError(t, err)
	assert.Equal(t, "7", a.String())
	blk, err := b.BuildScoped(func(cb *Builder) (core.Atom, error) { return a, nil })
	require.NoError(t, err)
	assert.Empty(t, blk.Decls)
}

func TestBuildLamFreshBinder(t *testing.T) {
	scope := core.Scope{core.Gen("x"): {Ty: intTy()}}
	b := New(scope)
	lam, err := b.BuildLam("x", core.PureArr(), intTy(), func(lb *Builder, x core.Atom) (core.Atom, error) {
		return x, nil
	})
	require.NoError(t, err)
	binder := lam.(*core.Lam).Binder
	assert.NotEqual(t, core.Gen("x"), binder.Name, "binder renames against the ambient scope")
}

func TestBuildLamSeesArrowEffects(t *testing.T) {
	h := core.Var{Name: core.Gen("h"), Ty: &core.TypeKind{}}
	row := core.Pure().Extend(h.Name, core.RowEntry{Effect: core.Writer, Ty: &core.BaseTy{Ty: core.RealType}})
	b := New(nil)
	_, err := b.BuildLam("ref", core.PlainArr(row), &core.RefTy{Region: h, Ty: &core.BaseTy{Ty: core.RealType}},
		func(lb *Builder, ref core.Atom) (core.Atom, error) {
			assert.True(t, lb.Effects().Equal(row))
			return &core.UnitVal{}, nil
		})
	require.NoError(t, err)
}

func TestBuildScopedElidesTrailingLet(t *testing.T) {
	b := New(nil)
	blk, err := b.BuildScoped(func(cb *Builder) (core.Atom, error) {
		return cb.BinOp(core.IAdd, intLit(1), intLit(2))
	})
	require.NoError(t, err)
	assert.Empty(t, blk.Decls, "result equal to the last let elides it")
	_, isOp := blk.Result.(*core.OpExpr)
	assert.True(t, isOp)
}

func TestBuildFor(t *testing.T) {
	b := New(nil)
	tab, err := b.BuildFor(core.Fwd, "i", rangeTy(0, 3), func(fb *Builder, i core.Atom) (core.Atom, error) {
		return fb.EmitOp(&core.IndexAsInt{Idx: i})
	})
	require.NoError(t, err)
	ty, err := core.TypeOf(tab)
	require.NoError(t, err)
	_, elem, ok := core.AsTabTy(ty)
	require.True(t, ok)
	assert.True(t, core.TypeEqual(elem, intTy()))
}

func TestBuildAbsRejectsEmission(t *testing.T) {
	b := New(nil)
	_, _, err := b.BuildAbs("x", intTy(), func(ab *Builder, x core.Atom) (core.Atom, error) {
		return ab.BinOp(core.IAdd, x, intLit(1))
	})
	require.Error(t, err)
	e, ok := errors.AsErr(err)
	require.True(t, ok)
	assert.Equal(t, errors.CompilerErr, e.Kind)
}

func TestBuildAbsAcceptsReducedBody(t *testing.T) {
	b := New(nil)
	binder, result, err := b.BuildAbs("x", intTy(), func(ab *Builder, x core.Atom) (core.Atom, error) {
		return &core.PairVal{Fst: x, Snd: x}, nil
	})
	require.NoError(t, err)
	assert.Contains(t, core.FreeVars(result), binder.Name)
}

func TestReduceScoped(t *testing.T) {
	b := New(nil)
	atom, ok, err := b.ReduceScoped(func(cb *Builder) (core.Atom, error) {
		return &core.PairVal{Fst: intLit(1), Snd: intLit(2)}, nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "(1, 2)", atom.String())
}
