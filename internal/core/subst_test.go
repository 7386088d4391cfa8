package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intTy() Type  { return &BaseTy{Ty: IntType} }
func realTy() Type { return &BaseTy{Ty: RealType} }

func intLit(v int64) Atom { return &Lit{Val: IntLit(v)} }

func TestFreshNames(t *testing.T) {
	scope := Scope{}
	x := Gen("x")
	assert.Equal(t, "x", scope.Fresh(x).String())

	scope[x] = ScopeEntry{}
	x1 := scope.Fresh(x)
	assert.Equal(t, "x_1", x1.String())

	scope[x1] = ScopeEntry{}
	assert.Equal(t, "x_2", scope.Fresh(x).String())
}

func TestNameSpacesDoNotCollide(t *testing.T) {
	scope := Scope{Gen("x"): {}}
	top := scope.Fresh(Top("x"))
	assert.Equal(t, 0, top.Num)
}

func TestFreeVars(t *testing.T) {
	x := Var{Name: Gen("x"), Ty: intTy()}
	y := Var{Name: Gen("y"), Ty: intTy()}

	lam := &Lam{
		Arrow:  PureArr(),
		Binder: y,
		Body:   AtomBlock(&PairVal{Fst: x, Snd: y}),
	}
	free := FreeVars(lam)
	assert.Contains(t, free, x.Name)
	assert.NotContains(t, free, y.Name)
}

// Substitution must not capture: substituting x -> y under a binder
// named y forces the binder to rename.
func TestSubstIsCaptureAvoiding(t *testing.T) {
	x := Var{Name: Gen("x"), Ty: intTy()}
	y := Var{Name: Gen("y"), Ty: intTy()}

	lam := &Lam{Arrow: PureArr(), Binder: y, Body: AtomBlock(x)}
	env := SubstEnv{x.Name: y}
	scope := Scope{y.Name: {Ty: intTy()}}

	out, err := SubstAtom(env, scope, lam)
	require.NoError(t, err)

	outLam := out.(*Lam)
	assert.NotEqual(t, y.Name, outLam.Binder.Name, "binder must rename away from the substituted atom")

	free := FreeVars(out)
	assert.Contains(t, free, y.Name, "the free y from the substitution must stay free")
}

func TestSubstFreeVarBound(t *testing.T) {
	// freeVars(subst) is a subset of (freeVars(t) - b) + freeVars(x).
	x := Var{Name: Gen("x"), Ty: intTy()}
	z := Var{Name: Gen("z"), Ty: intTy()}
	term := &PairVal{Fst: x, Snd: z}

	out, err := SubstAtom(SubstEnv{x.Name: intLit(1)}, Scope{}, term)
	require.NoError(t, err)
	free := FreeVars(out)
	assert.NotContains(t, free, x.Name)
	assert.Contains(t, free, z.Name)
	assert.Len(t, free, 1)
}

func TestSubstEffectRowRenamesRegions(t *testing.T) {
	h := Gen("h")
	h2 := Var{Name: Gen("h2"), Ty: &TypeKind{}}
	row := Pure().Extend(h, RowEntry{Effect: Writer, Ty: realTy()})

	out, err := SubstEffectRow(SubstEnv{h: h2}, Scope{}, row)
	require.NoError(t, err)
	assert.Contains(t, out.Effects, h2.Name)
	assert.NotContains(t, out.Effects, h)
	assert.Equal(t, Writer, out.Effects[h2.Name].Effect)
}

func TestDeShadowRenamesBoundVars(t *testing.T) {
	y := Var{Name: Gen("y"), Ty: intTy()}
	lam := &Lam{Arrow: PureArr(), Binder: y, Body: AtomBlock(y)}

	out, err := DeShadow(lam, Scope{y.Name: {Ty: intTy()}})
	require.NoError(t, err)
	assert.NotEqual(t, y.Name, out.(*Lam).Binder.Name)
}

func TestApplyPi(t *testing.T) {
	// (x:Int) -> range(0, x) applied at 5 gives range(0, 5).
	x := Var{Name: Gen("x"), Ty: intTy()}
	pi := &Pi{Arrow: PureArr(), Binder: x, Result: &IntRangeTy{Low: intLit(0), High: x}}

	_, res, err := ApplyPi(pi, intLit(5))
	require.NoError(t, err)
	rng := res.(*IntRangeTy)
	assert.Equal(t, "5", rng.High.String())
}

func TestAlphaEquivalence(t *testing.T) {
	mkPi := func(hint string) *Pi {
		b := Var{Name: Gen(hint), Ty: intTy()}
		return &Pi{Arrow: PureArr(), Binder: b, Result: &IntRangeTy{Low: intLit(0), High: b}}
	}
	assert.True(t, TypeEqual(mkPi("x"), mkPi("y")), "dependent types differing only in binder name")

	b := Var{Name: Gen("x"), Ty: intTy()}
	other := &Pi{Arrow: PureArr(), Binder: b, Result: &IntRangeTy{Low: intLit(1), High: b}}
	assert.False(t, TypeEqual(mkPi("x"), other))

	assert.False(t, TypeEqual(TabTy(intTy(), realTy()), mkPi("x")), "arrow kinds differ")
}
