package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	x := Var{Name: Gen("x"), Ty: realTy()}
	tests := []struct {
		name string
		atom Atom
		want string
	}{
		{"literal", intLit(3), "Int"},
		{"pair", &PairVal{Fst: intLit(1), Snd: &Lit{Val: RealLit(2)}}, "(Int & Real)"},
		{"unit", &UnitVal{}, "Unit"},
		{"range value", &IntRangeVal{Low: intLit(0), High: intLit(4), Val: intLit(2)}, "(range 0 4)"},
		{"variable", x, "Real"},
		{"table", &AFor{IdxTy: &IntRangeTy{Low: intLit(0), High: intLit(3)}, Body: intLit(0)}, "(i:(range 0 3)) => Int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ty, err := TypeOf(tt.atom)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ty.String())
		})
	}
}

func TestTypeOfLam(t *testing.T) {
	x := Var{Name: Gen("x"), Ty: realTy()}
	lam := &Lam{Arrow: PureArr(), Binder: x, Body: AtomBlock(x)}
	ty, err := TypeOf(lam)
	require.NoError(t, err)
	pi, ok := ty.(*Pi)
	require.True(t, ok)
	assert.Equal(t, PlainArrow, pi.Arrow.Kind)
	assert.True(t, TypeEqual(pi.Result, realTy()))
}

func TestIsData(t *testing.T) {
	tests := []struct {
		name string
		ty   Type
		want bool
	}{
		{"base", intTy(), true},
		{"table of base", TabTy(&IntRangeTy{Low: intLit(0), High: intLit(3)}, realTy()), true},
		{"pair", &PairTy{Fst: intTy(), Snd: realTy()}, true},
		{"ref", &RefTy{Region: Var{Name: Gen("h"), Ty: &TypeKind{}}, Ty: realTy()}, true},
		{"function", &Pi{Arrow: PureArr(), Binder: Var{Name: Gen("x"), Ty: intTy()}, Result: intTy()}, false},
		{"table of functions", TabTy(intTy(), &Pi{Arrow: PureArr(), Binder: Var{Name: Gen("x"), Ty: intTy()}, Result: intTy()}), false},
		{"kind", &TypeKind{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsData(tt.ty))
		})
	}
}

func TestSingletonTypeVal(t *testing.T) {
	idx := &IntRangeTy{Low: intLit(0), High: intLit(4)}
	tests := []struct {
		name      string
		ty        Type
		singleton bool
	}{
		{"unit", &UnitTy{}, true},
		{"pair of units", &PairTy{Fst: &UnitTy{}, Snd: &UnitTy{}}, true},
		{"table of units", TabTy(idx, &UnitTy{}), true},
		{"int", intTy(), false},
		{"pair with int", &PairTy{Fst: &UnitTy{}, Snd: intTy()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := SingletonTypeVal(tt.ty)
			assert.Equal(t, tt.singleton, ok)
			if ok {
				ty, err := TypeOf(v)
				require.NoError(t, err)
				assert.True(t, TypeEqual(ty, tt.ty))
			}
		})
	}
}

func TestExprEffects(t *testing.T) {
	h := Var{Name: Gen("h"), Ty: &TypeKind{}}
	ref := Var{Name: Gen("ref"), Ty: &RefTy{Region: h, Ty: realTy()}}

	eff, err := ExprEffects(&OpExpr{Op: &PrimEffect{Ref: ref, Op: MTell{X: &Lit{Val: RealLit(1)}}}})
	require.NoError(t, err)
	require.Contains(t, eff.Effects, h.Name)
	assert.Equal(t, Writer, eff.Effects[h.Name].Effect)

	pure, err := ExprEffects(&AtomExpr{Atom: intLit(1)})
	require.NoError(t, err)
	assert.True(t, pure.IsPure())
}
