package simplify

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// simplifyOp reduces a primitive operation whose payloads are already
// simplified: statically decidable projections and selects reduce now,
// scalar operations on literals fold, comparisons decompose by type
// into emitted scalar comparisons, and the rest emit.
func (s *Simplifier) simplifyOp(b *builder.Builder, op core.PrimOp) (core.Atom, error) {
	switch o := op.(type) {
	case *core.Cmp:
		if o.Op == core.Equal {
			return eqAt(b, o.Ty, o.X, o.Y)
		}
		return cmpAt(b, o.Op, o.Ty, o.X, o.Y)
	case *core.RecGet:
		if rec, ok := o.Rec.(*core.RecVal); ok {
			field, ok := rec.Rec.Field(o.Label)
			if !ok {
				return nil, errors.Compiler("no field %q in %s", o.Label, rec)
			}
			return field, nil
		}
	case *core.SumGet:
		if sv, ok := o.Sum.(*core.SumVal); ok {
			if o.Left {
				return sv.Left, nil
			}
			return sv.Rite, nil
		}
	case *core.SumTag:
		if sv, ok := o.Sum.(*core.SumVal); ok {
			return sv.Tag, nil
		}
	case *core.Fst:
		if p, ok := o.Pair.(*core.PairVal); ok {
			return p.Fst, nil
		}
	case *core.Snd:
		if p, ok := o.Pair.(*core.PairVal); ok {
			return p.Snd, nil
		}
	case *core.Select:
		if lit, ok := o.Pred.(*core.Lit); ok {
			if bool(lit.Val.(core.BoolLit)) {
				return o.X, nil
			}
			return o.Y, nil
		}
		ty, err := core.TypeOf(o.X)
		if err != nil {
			return nil, err
		}
		return selectAt(b, ty, o.Pred, o.X, o.Y)
	case *core.ScalarBinOp:
		if folded, ok := foldBinOp(o); ok {
			return folded, nil
		}
	case *core.ScalarUnOp:
		if folded, ok := foldUnOp(o); ok {
			return folded, nil
		}
	case *core.IndexAsInt:
		switch idx := o.Idx.(type) {
		case *core.IntRangeVal:
			return idx.Val, nil
		case *core.IndexRangeVal:
			return idx.Val, nil
		}
	}
	return b.EmitOp(op)
}

func foldBinOp(o *core.ScalarBinOp) (core.Atom, bool) {
	x, okx := o.X.(*core.Lit)
	y, oky := o.Y.(*core.Lit)
	if !okx || !oky {
		return nil, false
	}
	switch o.Op {
	case core.IAdd:
		return intLit(int64(x.Val.(core.IntLit)) + int64(y.Val.(core.IntLit))), true
	case core.ISub:
		return intLit(int64(x.Val.(core.IntLit)) - int64(y.Val.(core.IntLit))), true
	case core.IMul:
		return intLit(int64(x.Val.(core.IntLit)) * int64(y.Val.(core.IntLit))), true
	case core.IDiv:
		d := int64(y.Val.(core.IntLit))
		if d == 0 {
			return nil, false
		}
		return intLit(int64(x.Val.(core.IntLit)) / d), true
	case core.IRem:
		d := int64(y.Val.(core.IntLit))
		if d == 0 {
			return nil, false
		}
		return intLit(int64(x.Val.(core.IntLit)) % d), true
	case core.FAdd:
		return realLit(float64(x.Val.(core.RealLit)) + float64(y.Val.(core.RealLit))), true
	case core.FSub:
		return realLit(float64(x.Val.(core.RealLit)) - float64(y.Val.(core.RealLit))), true
	case core.FMul:
		return realLit(float64(x.Val.(core.RealLit)) * float64(y.Val.(core.RealLit))), true
	case core.FDiv:
		return realLit(float64(x.Val.(core.RealLit)) / float64(y.Val.(core.RealLit))), true
	case core.BAnd:
		return boolLit(bool(x.Val.(core.BoolLit)) && bool(y.Val.(core.BoolLit))), true
	case core.BOr:
		return boolLit(bool(x.Val.(core.BoolLit)) || bool(y.Val.(core.BoolLit))), true
	}
	return nil, false
}

func foldUnOp(o *core.ScalarUnOp) (core.Atom, bool) {
	x, ok := o.X.(*core.Lit)
	if !ok {
		return nil, false
	}
	switch o.Op {
	case core.FNeg:
		return realLit(-float64(x.Val.(core.RealLit))), true
	case core.INeg:
		return intLit(-int64(x.Val.(core.IntLit))), true
	case core.BNot:
		return boolLit(!bool(x.Val.(core.BoolLit))), true
	case core.IntToReal:
		return realLit(float64(int64(x.Val.(core.IntLit)))), true
	case core.BoolToInt:
		if bool(x.Val.(core.BoolLit)) {
			return intLit(1), true
		}
		return intLit(0), true
	}
	return nil, false
}

func intLit(v int64) core.Atom    { return &core.Lit{Val: core.IntLit(v)} }
func realLit(v float64) core.Atom { return &core.Lit{Val: core.RealLit(v)} }
func boolLit(v bool) core.Atom    { return &core.Lit{Val: core.BoolLit(v)} }

// eqAt decomposes structural equality per type.
func eqAt(b *builder.Builder, ty core.Type, x, y core.Atom) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		switch t.Ty {
		case core.IntType:
			return b.EmitOp(&core.ICmp{Op: core.Equal, X: x, Y: y})
		case core.RealType:
			return b.EmitOp(&core.FCmp{Op: core.Equal, X: x, Y: y})
		case core.BoolType:
			return idxEq(b, x, y)
		default:
			return nil, errors.NotImplemented("equality at type %s", ty)
		}
	case *core.IntRangeTy, *core.IndexRangeTy:
		return idxEq(b, x, y)
	case *core.RecTy:
		acc := boolLit(true)
		for _, label := range t.Rec.Labels() {
			fieldTy, _ := t.Rec.Field(label)
			xf, err := b.EmitOp(&core.RecGet{Rec: x, Label: label})
			if err != nil {
				return nil, err
			}
			yf, err := b.EmitOp(&core.RecGet{Rec: y, Label: label})
			if err != nil {
				return nil, err
			}
			fieldEq, err := eqAt(b, fieldTy, xf, yf)
			if err != nil {
				return nil, err
			}
			acc, err = b.BinOp(core.BAnd, acc, fieldEq)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	case *core.PairTy:
		xf, err := b.Fst(x)
		if err != nil {
			return nil, err
		}
		yf, err := b.Fst(y)
		if err != nil {
			return nil, err
		}
		fstEq, err := eqAt(b, t.Fst, xf, yf)
		if err != nil {
			return nil, err
		}
		xs, err := b.Snd(x)
		if err != nil {
			return nil, err
		}
		ys, err := b.Snd(y)
		if err != nil {
			return nil, err
		}
		sndEq, err := eqAt(b, t.Snd, xs, ys)
		if err != nil {
			return nil, err
		}
		return b.BinOp(core.BAnd, fstEq, sndEq)
	case *core.SumTy:
		xt, err := b.EmitOp(&core.SumTag{Sum: x})
		if err != nil {
			return nil, err
		}
		yt, err := b.EmitOp(&core.SumTag{Sum: y})
		if err != nil {
			return nil, err
		}
		tagsEq, err := idxEq(b, xt, yt)
		if err != nil {
			return nil, err
		}
		xl, err := b.EmitOp(&core.SumGet{Sum: x, Left: true})
		if err != nil {
			return nil, err
		}
		yl, err := b.EmitOp(&core.SumGet{Sum: y, Left: true})
		if err != nil {
			return nil, err
		}
		leftEq, err := eqAt(b, t.Left, xl, yl)
		if err != nil {
			return nil, err
		}
		xr, err := b.EmitOp(&core.SumGet{Sum: x, Left: false})
		if err != nil {
			return nil, err
		}
		yr, err := b.EmitOp(&core.SumGet{Sum: y, Left: false})
		if err != nil {
			return nil, err
		}
		riteEq, err := eqAt(b, t.Rite, xr, yr)
		if err != nil {
			return nil, err
		}
		sideEq, err := b.EmitOp(&core.Select{Pred: xt, X: leftEq, Y: riteEq})
		if err != nil {
			return nil, err
		}
		return b.BinOp(core.BAnd, tagsEq, sideEq)
	default:
		return nil, errors.NotImplemented("equality at type %s", ty)
	}
}

// idxEq compares index values by their ordinals.
func idxEq(b *builder.Builder, x, y core.Atom) (core.Atom, error) {
	xi, err := b.EmitOp(&core.IndexAsInt{Idx: x})
	if err != nil {
		return nil, err
	}
	yi, err := b.EmitOp(&core.IndexAsInt{Idx: y})
	if err != nil {
		return nil, err
	}
	return b.EmitOp(&core.ICmp{Op: core.Equal, X: xi, Y: yi})
}

// cmpAt specializes an ordering comparison to the scrutinee type.
func cmpAt(b *builder.Builder, op core.CmpOp, ty core.Type, x, y core.Atom) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		switch t.Ty {
		case core.IntType:
			return b.EmitOp(&core.ICmp{Op: op, X: x, Y: y})
		case core.RealType:
			return b.EmitOp(&core.FCmp{Op: op, X: x, Y: y})
		}
	case *core.IntRangeTy, *core.IndexRangeTy:
		xi, err := b.EmitOp(&core.IndexAsInt{Idx: x})
		if err != nil {
			return nil, err
		}
		yi, err := b.EmitOp(&core.IndexAsInt{Idx: y})
		if err != nil {
			return nil, err
		}
		return b.EmitOp(&core.ICmp{Op: op, X: xi, Y: yi})
	}
	return nil, errors.NotImplemented("comparison %s at type %s", op, ty)
}

// selectAt distributes a select structurally over records, pairs and
// tables down to base-type selects.
func selectAt(b *builder.Builder, ty core.Type, p, x, y core.Atom) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy, *core.IntRangeTy, *core.IndexRangeTy, *core.CharTy:
		return b.EmitOp(&core.Select{Pred: p, X: x, Y: y})
	case *core.UnitTy:
		return &core.UnitVal{}, nil
	case *core.PairTy:
		xf, err := b.Fst(x)
		if err != nil {
			return nil, err
		}
		yf, err := b.Fst(y)
		if err != nil {
			return nil, err
		}
		f, err := selectAt(b, t.Fst, p, xf, yf)
		if err != nil {
			return nil, err
		}
		xs, err := b.Snd(x)
		if err != nil {
			return nil, err
		}
		ys, err := b.Snd(y)
		if err != nil {
			return nil, err
		}
		sn, err := selectAt(b, t.Snd, p, xs, ys)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: sn}, nil
	case *core.RecTy:
		rec, err := t.Rec.Zip(t.Rec, func(label string, fieldTy, _ core.Atom) (core.Atom, error) {
			xf, err := b.EmitOp(&core.RecGet{Rec: x, Label: label})
			if err != nil {
				return nil, err
			}
			yf, err := b.EmitOp(&core.RecGet{Rec: y, Label: label})
			if err != nil {
				return nil, err
			}
			return selectAt(b, fieldTy, p, xf, yf)
		})
		if err != nil {
			return nil, err
		}
		return &core.RecVal{Rec: rec}, nil
	case *core.Pi:
		if t.Arrow.Kind != core.TabArrow {
			return nil, errors.NotImplemented("select at type %s", ty)
		}
		return b.BuildFor(core.Fwd, "i", t.Binder.Ty, func(fb *builder.Builder, i core.Atom) (core.Atom, error) {
			xi, err := fb.TabApp(x, i)
			if err != nil {
				return nil, err
			}
			yi, err := fb.TabApp(y, i)
			if err != nil {
				return nil, err
			}
			return selectAt(fb, t.Result, p, xi, yi)
		})
	default:
		return nil, errors.NotImplemented("select at type %s", ty)
	}
}
