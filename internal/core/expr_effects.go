package core

import (
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// ExprEffects computes the effect row of an expression; the block
// effect row is the least upper bound over its declarations and
// result.
func ExprEffects(e Expr) (EffectRow, error) {
	switch x := e.(type) {
	case *AtomExpr:
		return Pure(), nil
	case *App:
		return x.Arrow.Eff, nil
	case *OpExpr:
		if pe, ok := x.Op.(*PrimEffect); ok {
			refTy, err := TypeOf(pe.Ref)
			if err != nil {
				return EffectRow{}, err
			}
			r, ok := refTy.(*RefTy)
			if !ok {
				return EffectRow{}, errors.Compiler("effect op on non-ref %s", refTy)
			}
			region, ok := r.Region.(Var)
			if !ok {
				return EffectRow{}, errors.Compiler("ref region is not a variable: %s", r.Region)
			}
			var eff EffectName
			switch pe.Op.(type) {
			case MAsk:
				eff = Reader
			case MTell:
				eff = Writer
			default:
				eff = State
			}
			return Pure().Extend(region.Name, RowEntry{Effect: eff, Ty: r.Ty}), nil
		}
		return Pure(), nil
	case *HofExpr:
		return hofEffects(x.Hof)
	case *Case:
		out := Pure()
		for _, alt := range x.Alts {
			out = out.Union(alt.Body.Eff)
		}
		return out, nil
	default:
		return EffectRow{}, errors.Compiler("no effects for expr %T", e)
	}
}

func hofEffects(hof PrimHof) (EffectRow, error) {
	switch h := hof.(type) {
	case *For:
		ty, err := TypeOf(h.Lam)
		if err != nil {
			return EffectRow{}, err
		}
		pi, ok := ty.(*Pi)
		if !ok {
			return EffectRow{}, errors.Compiler("for over non-function")
		}
		return pi.Eff, nil
	case *While:
		cEff, err := lamEffects(h.Cond)
		if err != nil {
			return EffectRow{}, err
		}
		bEff, err := lamEffects(h.Body)
		if err != nil {
			return EffectRow{}, err
		}
		return cEff.Union(bEff), nil
	case *RunReader:
		return runEffects(h.Lam)
	case *RunWriter:
		return runEffects(h.Lam)
	case *RunState:
		return runEffects(h.Lam)
	case *Linearize, *Transpose:
		return Pure(), nil
	default:
		return EffectRow{}, errors.Compiler("no effects for hof %T", hof)
	}
}

func lamEffects(lam Atom) (EffectRow, error) {
	ty, err := TypeOf(lam)
	if err != nil {
		return EffectRow{}, err
	}
	pi, ok := ty.(*Pi)
	if !ok {
		return EffectRow{}, errors.Compiler("expected function, got %s", ty)
	}
	return pi.Eff, nil
}

// runEffects is the row of a RunX primitive: the inner body's row
// minus the freshly bound region.
func runEffects(lam Atom) (EffectRow, error) {
	ty, err := TypeOf(lam)
	if err != nil {
		return EffectRow{}, err
	}
	outer, ok := ty.(*Pi)
	if !ok {
		return EffectRow{}, errors.Compiler("run primitive on non-function")
	}
	inner, ok := outer.Result.(*Pi)
	if !ok {
		return EffectRow{}, errors.Compiler("run primitive missing ref lambda")
	}
	row := inner.Eff.Delete(outer.Binder.Name)
	return row, nil
}
