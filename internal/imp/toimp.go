package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// toImpOp lowers a primitive operation whose payloads are lowered
// atoms.
func (lw *lowerer) toImpOp(dest Dest, op core.PrimOp) (core.Atom, error) {
	res, err := lw.lowerOp(op)
	if err != nil {
		return nil, err
	}
	if dest != nil {
		if err := lw.copyAtom(dest, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (lw *lowerer) lowerOp(op core.PrimOp) (core.Atom, error) {
	switch o := op.(type) {
	case *core.ScalarBinOp:
		x, err := lw.scalarIExpr(o.X)
		if err != nil {
			return nil, err
		}
		y, err := lw.scalarIExpr(o.Y)
		if err != nil {
			return nil, err
		}
		v := lw.emit(o.Op.String(), IBinOp{Op: o.Op, X: x, Y: y}, ScalarTy(o.Op.ResultType()))
		return lw.atomOf(v), nil
	case *core.ScalarUnOp:
		x, err := lw.scalarIExpr(o.X)
		if err != nil {
			return nil, err
		}
		v := lw.emit(o.Op.String(), IUnOp{Op: o.Op, X: x}, ScalarTy(o.Op.ResultType()))
		return lw.atomOf(v), nil
	case *core.ICmp:
		x, err := lw.scalarIExpr(o.X)
		if err != nil {
			return nil, err
		}
		y, err := lw.scalarIExpr(o.Y)
		if err != nil {
			return nil, err
		}
		v := lw.emit("cmp", IICmp{Op: o.Op, X: x, Y: y}, ScalarTy(core.BoolType))
		return lw.atomOf(v), nil
	case *core.FCmp:
		x, err := lw.scalarIExpr(o.X)
		if err != nil {
			return nil, err
		}
		y, err := lw.scalarIExpr(o.Y)
		if err != nil {
			return nil, err
		}
		v := lw.emit("cmp", IFCmp{Op: o.Op, X: x, Y: y}, ScalarTy(core.BoolType))
		return lw.atomOf(v), nil
	case *core.Select:
		p, err := lw.scalarIExpr(o.Pred)
		if err != nil {
			return nil, err
		}
		x, err := lw.scalarIExpr(o.X)
		if err != nil {
			return nil, err
		}
		y, err := lw.scalarIExpr(o.Y)
		if err != nil {
			return nil, err
		}
		v := lw.emit("sel", ISelect{P: p, X: x, Y: y}, x.Ty())
		return lw.atomOf(v), nil
	case *core.Fst:
		return lw.projectAtom(o.Pair, "fst")
	case *core.Snd:
		return lw.projectAtom(o.Pair, "snd")
	case *core.RecGet:
		return lw.projectAtom(o.Rec, o.Label)
	case *core.SumTag:
		return lw.sumPart(o.Sum, func(sv *core.SumVal) core.Atom { return sv.Tag },
			func(sd *SumAsProdDest) Dest { return sd.Tag })
	case *core.SumGet:
		if o.Left {
			return lw.sumPart(o.Sum, func(sv *core.SumVal) core.Atom { return sv.Left },
				func(sd *SumAsProdDest) Dest { return sd.Left })
		}
		return lw.sumPart(o.Sum, func(sv *core.SumVal) core.Atom { return sv.Rite },
			func(sd *SumAsProdDest) Dest { return sd.Rite })
	case *core.IndexAsInt:
		return ordinalAtom(o.Idx)
	case *core.IntAsIndex:
		return lw.lowerIntAsIndex(o)
	case *core.IdxSetSize:
		size, err := IndexSetSizePoly(o.Ty)
		if err != nil {
			return nil, err
		}
		e, err := lw.evalPoly(size)
		if err != nil {
			return nil, err
		}
		return lw.atomOf(e), nil
	case *core.PrimEffect:
		return lw.lowerEffect(o)
	case *core.IndexRef:
		refVar, ok := o.Ref.(core.Var)
		if !ok {
			return nil, errors.Compiler("indexRef on non-variable %s", o.Ref)
		}
		d, ok := lw.dests[refVar.Name]
		if !ok {
			return nil, errors.Compiler("reference %s has no destination", o.Ref)
		}
		elemD, err := indexDest(d, o.Idx)
		if err != nil {
			return nil, err
		}
		ty, err := core.TypeOfExpr(&core.OpExpr{Op: o})
		if err != nil {
			return nil, err
		}
		name := lw.freshName(core.GenName, "ref")
		lw.dests[name] = elemD
		v := core.Var{Name: name, Ty: ty}
		lw.env[name] = v
		return v, nil
	default:
		return nil, errors.Compiler("unhandled op %T in lowering", op)
	}
}

// sumPart reads one component of a lowered sum value.
func (lw *lowerer) sumPart(sum core.Atom, fromVal func(*core.SumVal) core.Atom, fromDest func(*SumAsProdDest) Dest) (core.Atom, error) {
	switch x := sum.(type) {
	case *core.SumVal:
		return fromVal(x), nil
	case core.Var:
		d, ok := lw.dests[x.Name]
		if !ok {
			return nil, errors.Compiler("sum %s has no buffer", sum)
		}
		sd, ok := d.(*SumAsProdDest)
		if !ok {
			return nil, errors.Compiler("sum %s backed by non-sum dest", sum)
		}
		return lw.loadDest(fromDest(sd))
	default:
		return nil, errors.Compiler("projecting non-sum atom %s", sum)
	}
}

// lowerIntAsIndex traps ordinals outside the index set before
// wrapping them.
func (lw *lowerer) lowerIntAsIndex(o *core.IntAsIndex) (core.Atom, error) {
	i, err := lw.scalarIExpr(o.I)
	if err != nil {
		return nil, err
	}
	size, err := IndexSetSizePoly(o.Ty)
	if err != nil {
		return nil, err
	}
	sizeExpr, err := lw.evalPoly(size)
	if err != nil {
		return nil, err
	}
	below := lw.emit("inb", IICmp{Op: core.Less, X: i, Y: sizeExpr}, ScalarTy(core.BoolType))
	nonneg := lw.emit("nn", IICmp{Op: core.GreaterEqual, X: i, Y: ILit{Val: core.IntLit(0)}}, ScalarTy(core.BoolType))
	ok := lw.emit("ok", IBinOp{Op: core.BAnd, X: below, Y: nonneg}, ScalarTy(core.BoolType))
	throwBlk := &Block{Stmts: []Statement{{Instr: IThrowError{}}}}
	lw.emitVoid(ICond{P: ok, Then: &Block{}, Else: throwBlk})
	return lw.intToIndexAtom(o.Ty, lw.atomOf(i))
}

// lowerEffect reads or writes the destination backing a region
// reference.
func (lw *lowerer) lowerEffect(o *core.PrimEffect) (core.Atom, error) {
	refVar, ok := o.Ref.(core.Var)
	if !ok {
		return nil, errors.Compiler("effect op on non-variable ref %s", o.Ref)
	}
	d, ok := lw.dests[refVar.Name]
	if !ok {
		return nil, errors.Compiler("reference %s has no destination", o.Ref)
	}
	switch eop := o.Op.(type) {
	case core.MAsk, core.MGet:
		return lw.loadDest(d)
	case core.MTell:
		if err := lw.addToAtom(d, eop.X); err != nil {
			return nil, err
		}
		return &core.UnitVal{}, nil
	case core.MPut:
		if err := lw.copyAtom(d, eop.X); err != nil {
			return nil, err
		}
		return &core.UnitVal{}, nil
	default:
		return nil, errors.Compiler("unhandled effect op %T", o.Op)
	}
}
