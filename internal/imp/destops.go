package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

type idxEntry struct {
	binder core.Var
	size   Poly
}

// makeDest allocates a destination mirroring the type structure.
func (lw *lowerer) makeDest(kind AllocKind, hint string, ty core.Type) (Dest, error) {
	return lw.makeDestRec(kind, hint, nil, ty)
}

func (lw *lowerer) makeDestRec(kind AllocKind, hint string, idxs []idxEntry, ty core.Type) (Dest, error) {
	switch t := ty.(type) {
	case *core.Pi:
		if t.Arrow.Kind != core.TabArrow {
			return nil, errors.Compiler("allocating destination for function type %s", ty)
		}
		binder := lw.scope.FreshVar(t.Binder)
		lw.scope[binder.Name] = core.ScopeEntry{Ty: binder.Ty}
		size, err := IndexSetSizePoly(binder.Ty)
		if err != nil {
			return nil, err
		}
		elemTy, err := core.SubstAtom(core.SubstEnv{t.Binder.Name: binder}, lw.scope, t.Result)
		if err != nil {
			return nil, err
		}
		elem, err := lw.makeDestRec(kind, hint, append(idxs, idxEntry{binder: binder, size: size}), elemTy)
		if err != nil {
			return nil, err
		}
		return &TabDest{Binder: binder, Elem: elem}, nil
	case *core.BaseTy:
		return lw.allocBase(kind, hint, idxs, t.Ty)
	case *core.PairTy:
		f, err := lw.makeDestRec(kind, hint, idxs, t.Fst)
		if err != nil {
			return nil, err
		}
		s, err := lw.makeDestRec(kind, hint, idxs, t.Snd)
		if err != nil {
			return nil, err
		}
		return &PairDest{Fst: f, Snd: s}, nil
	case *core.UnitTy:
		return &UnitDest{}, nil
	case *core.RecTy:
		if t.Rec.IsNamed() {
			out := make(map[string]Dest, t.Rec.Len())
			for _, l := range t.Rec.Labels() {
				fieldTy, _ := t.Rec.Field(l)
				fd, err := lw.makeDestRec(kind, hint, idxs, fieldTy)
				if err != nil {
					return nil, err
				}
				out[l] = fd
			}
			return &RecDest{Named: out}, nil
		}
		items := t.Rec.Items()
		out := make([]Dest, len(items))
		for i, fieldTy := range items {
			fd, err := lw.makeDestRec(kind, hint, idxs, fieldTy)
			if err != nil {
				return nil, err
			}
			out[i] = fd
		}
		return &RecDest{Tup: out}, nil
	case *core.SumTy:
		tag, err := lw.allocBase(kind, hint, idxs, core.BoolType)
		if err != nil {
			return nil, err
		}
		l, err := lw.makeDestRec(kind, hint, idxs, t.Left)
		if err != nil {
			return nil, err
		}
		r, err := lw.makeDestRec(kind, hint, idxs, t.Rite)
		if err != nil {
			return nil, err
		}
		return &SumAsProdDest{Tag: tag, Left: l, Rite: r}, nil
	case *core.IntRangeTy:
		repr, err := lw.allocBase(kind, hint, idxs, core.IntType)
		if err != nil {
			return nil, err
		}
		return &IntRangeDest{Low: t.Low, High: t.High, Repr: repr}, nil
	case *core.IndexRangeTy:
		repr, err := lw.allocBase(kind, hint, idxs, core.IntType)
		if err != nil {
			return nil, err
		}
		return &IndexRangeDest{Ty: t.Ty, Low: t.Low, High: t.High, Repr: repr}, nil
	case *core.CharTy:
		repr, err := lw.allocBase(kind, hint, idxs, core.IntType)
		if err != nil {
			return nil, err
		}
		return &CharDest{Repr: repr}, nil
	default:
		return nil, errors.Compiler("allocating destination for type %s", ty)
	}
}

// allocBase emits the Alloc for one scalar leaf: the element count is
// the product of the enclosing index-set sizes and the offset is the
// index polynomial over the enclosing binders.
func (lw *lowerer) allocBase(kind AllocKind, hint string, idxs []idxEntry, base core.BaseType) (*BaseDest, error) {
	numel := PolyInt(1)
	for _, e := range idxs {
		numel = numel.Mul(e.size)
	}
	addr := Heap
	if kind != Unmanaged {
		if n, ok := numel.Constant(); ok && n <= stackThreshold && lw.dev == CPU {
			addr = Stack
		}
	}
	numelExpr, err := lw.evalPoly(numel)
	if err != nil {
		return nil, err
	}
	name := lw.freshName(core.AllocPtrName, hint)
	pty := PtrTy(base, addr, lw.dev)
	v := IVar{Name: name, Type: pty}
	lw.ivars[name] = v
	lw.stmts = append(lw.stmts, Statement{Binder: &v, Instr: Alloc{Addr: addr, Dev: lw.dev, Base: base, Numel: numelExpr}})
	if kind == Unmanaged {
		lw.ptrs = append(lw.ptrs, PtrLit{Name: name, Type: pty})
	} else if addr == Heap {
		lw.frees = append(lw.frees, v)
	}
	off := PolyInt(0)
	for j, e := range idxs {
		stride := PolyInt(1)
		for _, later := range idxs[j+1:] {
			stride = stride.Mul(later.size)
		}
		ord := PolyAtom(core.Var{Name: e.binder.Name, Ty: &core.BaseTy{Ty: core.IntType}})
		off = off.Add(ord.Mul(stride))
	}
	return &BaseDest{Ptr: name, Type: pty, Off: off}, nil
}

// ptrExpr resolves a base destination to a concrete pointer operand.
func (lw *lowerer) ptrExpr(d *BaseDest) (IExpr, error) {
	base, ok := lw.ivars[d.Ptr]
	if !ok {
		return nil, errors.Compiler("unallocated pointer %v", d.Ptr)
	}
	if n, isConst := d.Off.Constant(); isConst && n == 0 {
		return base, nil
	}
	off, err := lw.evalPoly(d.Off)
	if err != nil {
		return nil, err
	}
	return lw.emit("ptr", PtrOffset{Ptr: base, Off: off}, base.Type), nil
}

// copyAtom writes a lowered atom into a destination; the two sides
// must agree on type exactly.
func (lw *lowerer) copyAtom(d Dest, src core.Atom) error {
	dTy, err := DestType(d)
	if err != nil {
		return err
	}
	sTy, err := core.TypeOf(src)
	if err != nil {
		return err
	}
	if !core.TypeEqual(dTy, sTy) {
		return errors.Compiler("copy type mismatch: dest %s, src %s", dTy, sTy)
	}
	return lw.copyAtomUnchecked(d, src)
}

func (lw *lowerer) copyAtomUnchecked(d Dest, src core.Atom) error {
	switch dd := d.(type) {
	case *BaseDest:
		ptr, err := lw.ptrExpr(dd)
		if err != nil {
			return err
		}
		v, err := lw.scalarIExpr(src)
		if err != nil {
			return err
		}
		lw.storeAnywhere(ptr, v)
		return nil
	case *UnitDest, *ConstDest:
		return nil
	case *TabDest:
		size, err := IndexSetSizePoly(dd.Binder.Ty)
		if err != nil {
			return err
		}
		n, err := lw.evalPoly(size)
		if err != nil {
			return err
		}
		return lw.emitLoop("i", core.Fwd, n, func(i IExpr) error {
			idx, err := lw.intToIndexAtom(dd.Binder.Ty, lw.atomOf(i))
			if err != nil {
				return err
			}
			elemD, err := indexDest(d, idx)
			if err != nil {
				return err
			}
			elemSrc, err := lw.indexTableAtom(src, idx)
			if err != nil {
				return err
			}
			return lw.copyAtomUnchecked(elemD, elemSrc)
		})
	case *PairDest:
		f, err := lw.projectAtom(src, "fst")
		if err != nil {
			return err
		}
		if err := lw.copyAtomUnchecked(dd.Fst, f); err != nil {
			return err
		}
		s, err := lw.projectAtom(src, "snd")
		if err != nil {
			return err
		}
		return lw.copyAtomUnchecked(dd.Snd, s)
	case *RecDest:
		for _, l := range dd.labels() {
			fd, _ := dd.field(l)
			fa, err := lw.projectAtom(src, l)
			if err != nil {
				return err
			}
			if err := lw.copyAtomUnchecked(fd, fa); err != nil {
				return err
			}
		}
		return nil
	case *SumAsProdDest:
		sv, ok := src.(*core.SumVal)
		if !ok {
			return errors.Compiler("copying non-sum value %s into sum dest", src)
		}
		if err := lw.copyAtomUnchecked(dd.Tag, sv.Tag); err != nil {
			return err
		}
		if err := lw.copyAtomUnchecked(dd.Left, sv.Left); err != nil {
			return err
		}
		return lw.copyAtomUnchecked(dd.Rite, sv.Rite)
	case *IntRangeDest:
		ord, err := ordinalAtom(src)
		if err != nil {
			return err
		}
		return lw.copyAtomUnchecked(dd.Repr, ord)
	case *IndexRangeDest:
		ord, err := ordinalAtom(src)
		if err != nil {
			return err
		}
		return lw.copyAtomUnchecked(dd.Repr, ord)
	case *CharDest:
		ord, err := ordinalAtom(src)
		if err != nil {
			return err
		}
		return lw.copyAtomUnchecked(dd.Repr, ord)
	default:
		return errors.Compiler("unhandled dest %T in copy", d)
	}
}

// projectAtom projects a structured lowered atom by field label
// ("fst"/"snd" for pairs).
func (lw *lowerer) projectAtom(src core.Atom, label string) (core.Atom, error) {
	switch x := src.(type) {
	case *core.PairVal:
		if label == "fst" {
			return x.Fst, nil
		}
		return x.Snd, nil
	case *core.RecVal:
		f, ok := x.Rec.Field(label)
		if !ok {
			return nil, errors.Compiler("no field %q in %s", label, src)
		}
		return f, nil
	case core.Var:
		d, ok := lw.dests[x.Name]
		if !ok {
			return nil, errors.Compiler("projecting unbound variable %s", src)
		}
		switch dd := d.(type) {
		case *PairDest:
			if label == "fst" {
				return lw.loadDest(dd.Fst)
			}
			return lw.loadDest(dd.Snd)
		case *RecDest:
			fd, ok := dd.field(label)
			if !ok {
				return nil, errors.Compiler("no field %q in dest", label)
			}
			return lw.loadDest(fd)
		default:
			return nil, errors.Compiler("projecting non-product dest %T", d)
		}
	default:
		return nil, errors.Compiler("projecting non-structured atom %s", src)
	}
}

// addToAtom accumulates src into the destination with load-add-store
// at the leaves.
func (lw *lowerer) addToAtom(d Dest, src core.Atom) error {
	switch dd := d.(type) {
	case *BaseDest:
		ptr, err := lw.ptrExpr(dd)
		if err != nil {
			return err
		}
		old := lw.loadAnywhere(ptr)
		v, err := lw.scalarIExpr(src)
		if err != nil {
			return err
		}
		op := core.FAdd
		if dd.Type.Base == core.IntType {
			op = core.IAdd
		}
		sum := lw.emit("sum", IBinOp{Op: op, X: old, Y: v}, ScalarTy(dd.Type.Base))
		lw.storeAnywhere(ptr, sum)
		return nil
	case *UnitDest, *ConstDest:
		return nil
	case *TabDest:
		size, err := IndexSetSizePoly(dd.Binder.Ty)
		if err != nil {
			return err
		}
		n, err := lw.evalPoly(size)
		if err != nil {
			return err
		}
		return lw.emitLoop("i", core.Fwd, n, func(i IExpr) error {
			idx, err := lw.intToIndexAtom(dd.Binder.Ty, lw.atomOf(i))
			if err != nil {
				return err
			}
			elemD, err := indexDest(d, idx)
			if err != nil {
				return err
			}
			elemSrc, err := lw.indexTableAtom(src, idx)
			if err != nil {
				return err
			}
			return lw.addToAtom(elemD, elemSrc)
		})
	case *PairDest:
		f, err := lw.projectAtom(src, "fst")
		if err != nil {
			return err
		}
		if err := lw.addToAtom(dd.Fst, f); err != nil {
			return err
		}
		s, err := lw.projectAtom(src, "snd")
		if err != nil {
			return err
		}
		return lw.addToAtom(dd.Snd, s)
	case *RecDest:
		for _, l := range dd.labels() {
			fd, _ := dd.field(l)
			fa, err := lw.projectAtom(src, l)
			if err != nil {
				return err
			}
			if err := lw.addToAtom(fd, fa); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Compiler("accumulation into dest %T", d)
	}
}

// zeroDest initializes an accumulator destination.
func (lw *lowerer) zeroDest(d Dest) error {
	switch dd := d.(type) {
	case *BaseDest:
		ptr, err := lw.ptrExpr(dd)
		if err != nil {
			return err
		}
		lw.storeAnywhere(ptr, ILit{Val: core.ZeroLit(dd.Type.Base)})
		return nil
	case *UnitDest, *ConstDest:
		return nil
	case *TabDest:
		size, err := IndexSetSizePoly(dd.Binder.Ty)
		if err != nil {
			return err
		}
		n, err := lw.evalPoly(size)
		if err != nil {
			return err
		}
		return lw.emitLoop("i", core.Fwd, n, func(i IExpr) error {
			idx, err := lw.intToIndexAtom(dd.Binder.Ty, lw.atomOf(i))
			if err != nil {
				return err
			}
			elemD, err := indexDest(d, idx)
			if err != nil {
				return err
			}
			return lw.zeroDest(elemD)
		})
	case *PairDest:
		if err := lw.zeroDest(dd.Fst); err != nil {
			return err
		}
		return lw.zeroDest(dd.Snd)
	case *RecDest:
		for _, l := range dd.labels() {
			fd, _ := dd.field(l)
			if err := lw.zeroDest(fd); err != nil {
				return err
			}
		}
		return nil
	case *IntRangeDest:
		return lw.zeroDest(dd.Repr)
	case *IndexRangeDest:
		return lw.zeroDest(dd.Repr)
	case *CharDest:
		return lw.zeroDest(dd.Repr)
	default:
		return errors.Compiler("zero-initializing dest %T", d)
	}
}

// loadDest reads a destination back into atom form. Scalar leaves
// load eagerly; tables stay as buffer-backed variables.
func (lw *lowerer) loadDest(d Dest) (core.Atom, error) {
	switch dd := d.(type) {
	case *BaseDest:
		ptr, err := lw.ptrExpr(dd)
		if err != nil {
			return nil, err
		}
		v := lw.loadAnywhere(ptr)
		return lw.atomOf(v), nil
	case *UnitDest:
		return &core.UnitVal{}, nil
	case *ConstDest:
		return dd.Atom, nil
	case *TabDest:
		ty, err := DestType(d)
		if err != nil {
			return nil, err
		}
		name := lw.freshName(core.GenName, "tab")
		lw.dests[name] = d
		v := core.Var{Name: name, Ty: ty}
		lw.env[name] = v
		return v, nil
	case *PairDest:
		f, err := lw.loadDest(dd.Fst)
		if err != nil {
			return nil, err
		}
		s, err := lw.loadDest(dd.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: s}, nil
	case *RecDest:
		labels := dd.labels()
		if dd.Named != nil {
			out := make(map[string]core.Atom, len(labels))
			for _, l := range labels {
				fd, _ := dd.field(l)
				fa, err := lw.loadDest(fd)
				if err != nil {
					return nil, err
				}
				out[l] = fa
			}
			return &core.RecVal{Rec: core.NamedRec(out)}, nil
		}
		items := make([]core.Atom, len(dd.Tup))
		for i, fd := range dd.Tup {
			fa, err := lw.loadDest(fd)
			if err != nil {
				return nil, err
			}
			items[i] = fa
		}
		return &core.RecVal{Rec: core.TupRec(items...)}, nil
	case *SumAsProdDest:
		tag, err := lw.loadDest(dd.Tag)
		if err != nil {
			return nil, err
		}
		l, err := lw.loadDest(dd.Left)
		if err != nil {
			return nil, err
		}
		r, err := lw.loadDest(dd.Rite)
		if err != nil {
			return nil, err
		}
		return &core.SumVal{Tag: tag, Left: l, Rite: r}, nil
	case *IntRangeDest:
		v, err := lw.loadDest(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.IntRangeVal{Low: dd.Low, High: dd.High, Val: v}, nil
	case *IndexRangeDest:
		v, err := lw.loadDest(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.IndexRangeVal{Ty: dd.Ty, Low: dd.Low, High: dd.High, Val: v}, nil
	case *CharDest:
		v, err := lw.loadDest(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.CharLit{Val: v}, nil
	default:
		return nil, errors.Compiler("loading dest %T", d)
	}
}

// indexTableAtom reads one element of a lowered table value.
func (lw *lowerer) indexTableAtom(tab core.Atom, idx core.Atom) (core.Atom, error) {
	switch x := tab.(type) {
	case core.Var:
		d, ok := lw.dests[x.Name]
		if !ok {
			return nil, errors.Compiler("table %s has no buffer", tab)
		}
		elemD, err := indexDest(d, idx)
		if err != nil {
			return nil, err
		}
		return lw.loadDest(elemD)
	case *core.AFor:
		return x.Body, nil
	case *core.Lam:
		if x.Arrow.Kind != core.TabArrow {
			return nil, errors.Compiler("indexing non-table lambda")
		}
		lw.env[x.Binder.Name] = idx
		return lw.translateBlock(nil, x.Body)
	default:
		return nil, errors.Compiler("indexing non-table atom %s", tab)
	}
}

// intToIndexAtom wraps an integer ordinal as an index value of the
// set.
func (lw *lowerer) intToIndexAtom(ty core.Type, ord core.Atom) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.IntRangeTy:
		return &core.IntRangeVal{Low: t.Low, High: t.High, Val: ord}, nil
	case *core.IndexRangeTy:
		return &core.IndexRangeVal{Ty: t.Ty, Low: t.Low, High: t.High, Val: ord}, nil
	case *core.UnitTy:
		return &core.UnitVal{}, nil
	case *core.CharTy:
		return &core.CharLit{Val: ord}, nil
	default:
		return nil, errors.NotImplemented("index conversion at type %s", ty)
	}
}
