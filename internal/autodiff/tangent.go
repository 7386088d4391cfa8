// Package autodiff implements the two automatic differentiation
// transforms over the core IR: forward-mode linearization, which
// turns a function into a primal/tangent pair, and reverse-mode
// transposition, which routes cotangents backwards into Writer
// references.
package autodiff

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// TangentType maps a primal type to the type its tangents carry.
// Reals differentiate to themselves; discrete base types carry no
// information and collapse to unit; structured types map
// component-wise. Differentiating any other type is an error naming
// the type.
func TangentType(ty core.Type) (core.Type, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		if t.Ty == core.RealType {
			return t, nil
		}
		return &core.UnitTy{}, nil
	case *core.UnitTy, *core.IntRangeTy, *core.IndexRangeTy, *core.CharTy:
		return &core.UnitTy{}, nil
	case *core.ArrayTy:
		if t.Base == core.RealType {
			return t, nil
		}
		return &core.UnitTy{}, nil
	case *core.PairTy:
		fst, err := TangentType(t.Fst)
		if err != nil {
			return nil, err
		}
		snd, err := TangentType(t.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairTy{Fst: fst, Snd: snd}, nil
	case *core.RecTy:
		rec, err := t.Rec.Map(TangentType)
		if err != nil {
			return nil, err
		}
		return &core.RecTy{Rec: rec}, nil
	case *core.SumTy:
		return &core.UnitTy{}, nil
	case *core.Pi:
		if t.Arrow.Kind == core.TabArrow {
			elem, err := TangentType(t.Result)
			if err != nil {
				return nil, err
			}
			return core.TabTy(t.Binder.Ty, elem), nil
		}
		return nil, errors.NotImplemented("differentiation of function type %s", ty)
	case *core.RefTy:
		inner, err := TangentType(t.Ty)
		if err != nil {
			return nil, err
		}
		return &core.RefTy{Region: t.Region, Ty: inner}, nil
	default:
		return nil, errors.NotImplemented("differentiation of type %s", ty)
	}
}

// ZeroAt builds the additive zero of a tangent type.
func ZeroAt(ty core.Type) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		return &core.Lit{Val: core.ZeroLit(t.Ty)}, nil
	case *core.UnitTy:
		return &core.UnitVal{}, nil
	case *core.PairTy:
		f, err := ZeroAt(t.Fst)
		if err != nil {
			return nil, err
		}
		s, err := ZeroAt(t.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: s}, nil
	case *core.RecTy:
		rec, err := t.Rec.Map(ZeroAt)
		if err != nil {
			return nil, err
		}
		return &core.RecVal{Rec: rec}, nil
	case *core.Pi:
		if t.Arrow.Kind != core.TabArrow {
			return nil, errors.Compiler("zero of function type %s", ty)
		}
		elem, err := ZeroAt(t.Result)
		if err != nil {
			return nil, err
		}
		return &core.AFor{IdxTy: t.Binder.Ty, Body: elem}, nil
	default:
		return nil, errors.Compiler("zero of type %s", ty)
	}
}

// AddAt adds two tangents structurally, bottoming out in fadd.
func AddAt(b *builder.Builder, ty core.Type, x, y core.Atom) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		if t.Ty != core.RealType {
			return nil, errors.Compiler("tangent addition at base type %s", t)
		}
		return b.BinOp(core.FAdd, x, y)
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
		f, err := AddAt(b, t.Fst, xf, yf)
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
		s, err := AddAt(b, t.Snd, xs, ys)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: s}, nil
	case *core.RecTy:
		out, err := t.Rec.Zip(t.Rec, func(label string, fieldTy, _ core.Atom) (core.Atom, error) {
			xf, err := b.EmitOp(&core.RecGet{Rec: x, Label: label})
			if err != nil {
				return nil, err
			}
			yf, err := b.EmitOp(&core.RecGet{Rec: y, Label: label})
			if err != nil {
				return nil, err
			}
			return AddAt(b, fieldTy, xf, yf)
		})
		if err != nil {
			return nil, err
		}
		return &core.RecVal{Rec: out}, nil
	case *core.Pi:
		if t.Arrow.Kind != core.TabArrow {
			return nil, errors.Compiler("tangent addition at function type %s", ty)
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
			return AddAt(fb, t.Result, xi, yi)
		})
	default:
		return nil, errors.Compiler("tangent addition at type %s", ty)
	}
}
