package imp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/core"
)

func TestPolyArithmetic(t *testing.T) {
	x := core.Var{Name: core.Gen("x"), Ty: intTy()}
	p := PolyAtom(x).Add(PolyInt(2)).Mul(PolyInt(3)) // 3x + 6

	_, isConst := p.Constant()
	assert.False(t, isConst)

	subst := p.SubstVar(x.Name, PolyInt(5))
	n, isConst := subst.Constant()
	require.True(t, isConst)
	assert.Equal(t, int64(21), n)
}

func TestPolyLiteralFolding(t *testing.T) {
	p := PolyAtom(intLit(4)).Mul(PolyAtom(intLit(3))).Add(PolyInt(1))
	n, ok := p.Constant()
	require.True(t, ok)
	assert.Equal(t, int64(13), n)
}

func TestIndexSetSizes(t *testing.T) {
	tests := []struct {
		name string
		ty   core.Type
		want int64
	}{
		{"int range", rangeTy(2, 7), 5},
		{"empty range clamps", rangeTy(5, 2), 0},
		{"unit", &core.UnitTy{}, 1},
		{"bool", &core.BaseTy{Ty: core.BoolType}, 2},
		{"pair of ranges", &core.PairTy{Fst: rangeTy(0, 4), Snd: rangeTy(0, 3)}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := IndexSetSizePoly(tt.ty)
			require.NoError(t, err)
			n, ok := p.Constant()
			require.True(t, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestIndexRangeSize(t *testing.T) {
	base := rangeTy(0, 10)
	ty := &core.IndexRangeTy{
		Ty:   base,
		Low:  core.Limit{Kind: core.InclusiveLim, Val: &core.IntRangeVal{Low: intLit(0), High: intLit(10), Val: intLit(2)}},
		High: core.Limit{Kind: core.ExclusiveLim, Val: &core.IntRangeVal{Low: intLit(0), High: intLit(10), Val: intLit(7)}},
	}
	p, err := IndexSetSizePoly(ty)
	require.NoError(t, err)
	n, ok := p.Constant()
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
}

// The row-major offset of (i1, i2, i3) in [n1, n2, n3] => base is
// i1*n2*n3 + i2*n3 + i3.
func TestOffsetPolynomial(t *testing.T) {
	lw := &lowerer{
		backend: LLVM,
		scope:   core.Scope{},
		env:     map[core.Name]core.Atom{},
		dests:   map[core.Name]Dest{},
		ivars:   map[core.Name]IVar{},
	}
	ty := core.TabTy(rangeTy(0, 2), core.TabTy(rangeTy(0, 3), core.TabTy(rangeTy(0, 4), intTy())))
	dest, err := lw.makeDest(Unmanaged, "t", ty)
	require.NoError(t, err)

	d := dest
	idxs := []int64{1, 2, 3}
	for _, i := range idxs {
		tab := d.(*TabDest)
		d, err = substDest(tab.Elem, tab.Binder.Name, &core.IntRangeVal{Low: intLit(0), High: intLit(4), Val: intLit(i)})
		require.NoError(t, err)
	}
	leaf := d.(*BaseDest)
	off, ok := leaf.Off.Constant()
	require.True(t, ok)
	assert.Equal(t, int64(1*3*4+2*4+3), off)
}
