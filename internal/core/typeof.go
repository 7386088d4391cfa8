package core

import (
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// TypeOf computes the type of an atom. Terms arrive elaborated and
// annotated, so failures here are compiler bugs.
func TypeOf(a Atom) (Type, error) {
	switch x := a.(type) {
	case Var:
		if x.Ty == nil {
			return nil, errors.Compiler("unannotated variable %v", x.Name)
		}
		return x.Ty, nil
	case *Lam:
		resultTy, err := BlockType(x.Body)
		if err != nil {
			return nil, err
		}
		return &Pi{Arrow: x.Arrow, Binder: x.Binder, Eff: x.Body.Eff, Result: resultTy}, nil
	case *Pi:
		return &TypeKind{}, nil
	case *Eff:
		return &EffectKind{}, nil
	case *Lit:
		return &BaseTy{Ty: x.Val.BaseType()}, nil
	case *PairVal:
		fst, err := TypeOf(x.Fst)
		if err != nil {
			return nil, err
		}
		snd, err := TypeOf(x.Snd)
		if err != nil {
			return nil, err
		}
		return &PairTy{Fst: fst, Snd: snd}, nil
	case *UnitVal:
		return &UnitTy{}, nil
	case *RecVal:
		rec, err := x.Rec.Map(func(f Atom) (Atom, error) { return TypeOf(f) })
		if err != nil {
			return nil, err
		}
		return &RecTy{Rec: rec}, nil
	case *SumVal:
		l, err := TypeOf(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := TypeOf(x.Rite)
		if err != nil {
			return nil, err
		}
		return &SumTy{Left: l, Rite: r}, nil
	case *AnyValue:
		return x.Ty, nil
	case *IntRangeVal:
		return &IntRangeTy{Low: x.Low, High: x.High}, nil
	case *IndexRangeVal:
		return &IndexRangeTy{Ty: x.Ty, Low: x.Low, High: x.High}, nil
	case *AFor:
		elem, err := TypeOf(x.Body)
		if err != nil {
			return nil, err
		}
		return TabTy(x.IdxTy, elem), nil
	case *CharLit:
		return &CharTy{}, nil
	case *ArrayVal:
		return &ArrayTy{Len: len(x.Vals), Base: x.Base}, nil
	case PrimTC:
		return &TypeKind{}, nil
	default:
		return nil, errors.Compiler("no type for atom %T", a)
	}
}

// BlockType is the type of a block's result.
func BlockType(b *Block) (Type, error) {
	return TypeOfExpr(b.Result)
}

// TypeOfExpr computes the type of an expression.
func TypeOfExpr(e Expr) (Type, error) {
	switch x := e.(type) {
	case *AtomExpr:
		return TypeOf(x.Atom)
	case *App:
		fTy, err := TypeOf(x.Fun)
		if err != nil {
			return nil, err
		}
		pi, ok := fTy.(*Pi)
		if !ok {
			return nil, errors.Compiler("applying non-function of type %s", fTy)
		}
		_, result, err := ApplyPi(pi, x.Arg)
		return result, err
	case *OpExpr:
		return opType(x.Op)
	case *HofExpr:
		return hofType(x.Hof)
	case *Case:
		return x.Ty, nil
	default:
		return nil, errors.Compiler("no type for expr %T", e)
	}
}

func opType(op PrimOp) (Type, error) {
	switch o := op.(type) {
	case *ScalarBinOp:
		return &BaseTy{Ty: o.Op.ResultType()}, nil
	case *ScalarUnOp:
		return &BaseTy{Ty: o.Op.ResultType()}, nil
	case *ICmp, *FCmp, *Cmp:
		return &BaseTy{Ty: BoolType}, nil
	case *Select:
		return TypeOf(o.X)
	case *Fst:
		ty, err := TypeOf(o.Pair)
		if err != nil {
			return nil, err
		}
		p, ok := ty.(*PairTy)
		if !ok {
			return nil, errors.Compiler("fst of non-pair type %s", ty)
		}
		return p.Fst, nil
	case *Snd:
		ty, err := TypeOf(o.Pair)
		if err != nil {
			return nil, err
		}
		p, ok := ty.(*PairTy)
		if !ok {
			return nil, errors.Compiler("snd of non-pair type %s", ty)
		}
		return p.Snd, nil
	case *RecGet:
		ty, err := TypeOf(o.Rec)
		if err != nil {
			return nil, err
		}
		r, ok := ty.(*RecTy)
		if !ok {
			return nil, errors.Compiler("recget of non-record type %s", ty)
		}
		field, ok := r.Rec.Field(o.Label)
		if !ok {
			return nil, errors.Compiler("no field %q in %s", o.Label, ty)
		}
		return field, nil
	case *SumGet:
		ty, err := TypeOf(o.Sum)
		if err != nil {
			return nil, err
		}
		s, ok := ty.(*SumTy)
		if !ok {
			return nil, errors.Compiler("sumget of non-sum type %s", ty)
		}
		if o.Left {
			return s.Left, nil
		}
		return s.Rite, nil
	case *SumTag:
		return &BaseTy{Ty: BoolType}, nil
	case *IndexAsInt:
		return &BaseTy{Ty: IntType}, nil
	case *IntAsIndex:
		return o.Ty, nil
	case *IdxSetSize:
		return &BaseTy{Ty: IntType}, nil
	case *PrimEffect:
		refTy, err := TypeOf(o.Ref)
		if err != nil {
			return nil, err
		}
		r, ok := refTy.(*RefTy)
		if !ok {
			return nil, errors.Compiler("effect op on non-ref type %s", refTy)
		}
		switch o.Op.(type) {
		case MAsk, MGet:
			return r.Ty, nil
		default:
			return &UnitTy{}, nil
		}
	case *IndexRef:
		refTy, err := TypeOf(o.Ref)
		if err != nil {
			return nil, err
		}
		r, ok := refTy.(*RefTy)
		if !ok {
			return nil, errors.Compiler("indexRef on non-ref type %s", refTy)
		}
		pi, ok := r.Ty.(*Pi)
		if !ok || pi.Arrow.Kind != TabArrow {
			return nil, errors.Compiler("indexRef into non-table ref %s", refTy)
		}
		_, elem, err := ApplyPi(pi, o.Idx)
		if err != nil {
			return nil, err
		}
		return &RefTy{Region: r.Region, Ty: elem}, nil
	default:
		return nil, errors.Compiler("no type for op %T", op)
	}
}

func hofType(hof PrimHof) (Type, error) {
	switch h := hof.(type) {
	case *For:
		lamTy, err := TypeOf(h.Lam)
		if err != nil {
			return nil, err
		}
		pi, ok := lamTy.(*Pi)
		if !ok {
			return nil, errors.Compiler("for over non-lambda %s", lamTy)
		}
		return &Pi{Arrow: TabArr(), Binder: pi.Binder, Result: pi.Result}, nil
	case *While:
		return &UnitTy{}, nil
	case *RunReader:
		body, _, err := runBodyType(h.Lam)
		return body, err
	case *RunWriter:
		body, acc, err := runBodyType(h.Lam)
		if err != nil {
			return nil, err
		}
		return &PairTy{Fst: body, Snd: acc}, nil
	case *RunState:
		body, st, err := runBodyType(h.Lam)
		if err != nil {
			return nil, err
		}
		return &PairTy{Fst: body, Snd: st}, nil
	case *Linearize:
		lamTy, err := TypeOf(h.Lam)
		if err != nil {
			return nil, err
		}
		pi, ok := lamTy.(*Pi)
		if !ok {
			return nil, errors.Compiler("linearize of non-function %s", lamTy)
		}
		linPi := &Pi{Arrow: LinArr(), Binder: Var{Name: Gen("t"), Ty: pi.Binder.Ty}, Result: pi.Result}
		return &Pi{
			Arrow:  PureArr(),
			Binder: pi.Binder,
			Result: &PairTy{Fst: pi.Result, Snd: linPi},
		}, nil
	case *Transpose:
		lamTy, err := TypeOf(h.Lam)
		if err != nil {
			return nil, err
		}
		pi, ok := lamTy.(*Pi)
		if !ok {
			return nil, errors.Compiler("transpose of non-function %s", lamTy)
		}
		return &Pi{Arrow: LinArr(), Binder: Var{Name: Gen("ct"), Ty: pi.Result}, Result: pi.Binder.Ty}, nil
	default:
		return nil, errors.Compiler("no type for hof %T", hof)
	}
}

// runBodyType pulls apart the binary function of a RunX primitive:
// the outer lambda binds the region, the inner one binds the
// reference. Returns the body result type and the ref payload type.
func runBodyType(lam Atom) (Type, Type, error) {
	outerTy, err := TypeOf(lam)
	if err != nil {
		return nil, nil, err
	}
	outer, ok := outerTy.(*Pi)
	if !ok {
		return nil, nil, errors.Compiler("run primitive on non-function %s", outerTy)
	}
	inner, ok := outer.Result.(*Pi)
	if !ok {
		return nil, nil, errors.Compiler("run primitive missing ref lambda: %s", outerTy)
	}
	refTy, ok := inner.Binder.Ty.(*RefTy)
	if !ok {
		return nil, nil, errors.Compiler("run primitive binder is not a ref: %s", inner.Binder.Ty)
	}
	return inner.Result, refTy.Ty, nil
}

// TypeEqual is alpha-equivalence. Dependent types are compared by
// instantiating both binders at a fresh skolem variable.
func TypeEqual(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c := skolemCounter{}
	return c.alphaEq(a, b)
}

type skolemCounter struct{ n int }

func (c *skolemCounter) fresh(ty Type) Var {
	c.n++
	return Var{Name: Name{Space: SkolemName, Hint: "s", Num: c.n}, Ty: ty}
}

func (c *skolemCounter) alphaEq(a, b Atom) bool {
	switch x := a.(type) {
	case Var:
		y, ok := b.(Var)
		return ok && x.Name == y.Name
	case *Pi:
		y, ok := b.(*Pi)
		if !ok || x.Arrow.Kind != y.Arrow.Kind || !c.alphaEq(x.Binder.Ty, y.Binder.Ty) {
			return false
		}
		sk := c.fresh(x.Binder.Ty)
		xe, xr, err1 := ApplyPi(x, sk)
		ye, yr, err2 := ApplyPi(y, sk)
		if err1 != nil || err2 != nil {
			return false
		}
		return xe.Equal(ye) && c.alphaEq(xr, yr)
	case *Eff:
		y, ok := b.(*Eff)
		return ok && x.Row.Equal(y.Row)
	case *Lit:
		y, ok := b.(*Lit)
		return ok && x.Val == y.Val
	case *BaseTy:
		y, ok := b.(*BaseTy)
		return ok && x.Ty == y.Ty
	case *UnitTy:
		_, ok := b.(*UnitTy)
		return ok
	case *CharTy:
		_, ok := b.(*CharTy)
		return ok
	case *TypeKind:
		_, ok := b.(*TypeKind)
		return ok
	case *EffectKind:
		_, ok := b.(*EffectKind)
		return ok
	case *ArrayTy:
		y, ok := b.(*ArrayTy)
		return ok && x.Len == y.Len && x.Base == y.Base
	case *UnitVal:
		_, ok := b.(*UnitVal)
		return ok
	case *IntRangeTy:
		y, ok := b.(*IntRangeTy)
		return ok && c.alphaEq(x.Low, y.Low) && c.alphaEq(x.High, y.High)
	case *IndexRangeTy:
		y, ok := b.(*IndexRangeTy)
		return ok && c.alphaEq(x.Ty, y.Ty) && c.limitEq(x.Low, y.Low) && c.limitEq(x.High, y.High)
	case *RecTy:
		y, ok := b.(*RecTy)
		return ok && c.recEq(x.Rec, y.Rec)
	case *RecVal:
		y, ok := b.(*RecVal)
		return ok && c.recEq(x.Rec, y.Rec)
	case *SumTy:
		y, ok := b.(*SumTy)
		return ok && c.alphaEq(x.Left, y.Left) && c.alphaEq(x.Rite, y.Rite)
	case *RefTy:
		y, ok := b.(*RefTy)
		return ok && c.alphaEq(x.Region, y.Region) && c.alphaEq(x.Ty, y.Ty)
	case *PairTy:
		y, ok := b.(*PairTy)
		return ok && c.alphaEq(x.Fst, y.Fst) && c.alphaEq(x.Snd, y.Snd)
	case *PairVal:
		y, ok := b.(*PairVal)
		return ok && c.alphaEq(x.Fst, y.Fst) && c.alphaEq(x.Snd, y.Snd)
	case *SumVal:
		y, ok := b.(*SumVal)
		return ok && c.alphaEq(x.Tag, y.Tag) && c.alphaEq(x.Left, y.Left) && c.alphaEq(x.Rite, y.Rite)
	case *IntRangeVal:
		y, ok := b.(*IntRangeVal)
		return ok && c.alphaEq(x.Low, y.Low) && c.alphaEq(x.High, y.High) && c.alphaEq(x.Val, y.Val)
	case *AFor:
		y, ok := b.(*AFor)
		return ok && c.alphaEq(x.IdxTy, y.IdxTy) && c.alphaEq(x.Body, y.Body)
	case *CharLit:
		y, ok := b.(*CharLit)
		return ok && c.alphaEq(x.Val, y.Val)
	case *AnyValue:
		y, ok := b.(*AnyValue)
		return ok && c.alphaEq(x.Ty, y.Ty)
	default:
		// Lams and the remaining value forms compare by printing;
		// they only reach here from diagnostics.
		return a.String() == b.String()
	}
}

func (c *skolemCounter) limitEq(a, b Limit) bool {
	if a.Kind != b.Kind {
		return false
	}
	return a.Kind == Unlimited || c.alphaEq(a.Val, b.Val)
}

func (c *skolemCounter) recEq(a, b Record) bool {
	if a.IsNamed() != b.IsNamed() || a.Len() != b.Len() {
		return false
	}
	labels := a.Labels()
	for _, l := range labels {
		x, _ := a.Field(l)
		y, ok := b.Field(l)
		if !ok || !c.alphaEq(x, y) {
			return false
		}
	}
	return true
}

// IsData reports whether values of the type flow as raw data through
// lowering: base types, index types, refs, and tables/records/pairs/
// sums of data. Functions and kinds are not data.
func IsData(ty Type) bool {
	switch t := ty.(type) {
	case *BaseTy, *UnitTy, *CharTy, *IntRangeTy, *IndexRangeTy, *RefTy, *ArrayTy:
		return true
	case *PairTy:
		return IsData(t.Fst) && IsData(t.Snd)
	case *SumTy:
		return IsData(t.Left) && IsData(t.Rite)
	case *RecTy:
		for _, f := range t.Rec.Items() {
			if !IsData(f) {
				return false
			}
		}
		return true
	case *Pi:
		return t.Arrow.Kind == TabArrow && IsData(t.Result)
	default:
		return false
	}
}

// SingletonTypeVal returns the unique value of a singleton type: a
// type all of whose values are observationally equal. Pure
// expressions of singleton type need not be emitted.
func SingletonTypeVal(ty Type) (Atom, bool) {
	switch t := ty.(type) {
	case *UnitTy:
		return &UnitVal{}, true
	case *PairTy:
		f, ok := SingletonTypeVal(t.Fst)
		if !ok {
			return nil, false
		}
		s, ok := SingletonTypeVal(t.Snd)
		if !ok {
			return nil, false
		}
		return &PairVal{Fst: f, Snd: s}, true
	case *RecTy:
		rec, err := t.Rec.Map(func(f Atom) (Atom, error) {
			v, ok := SingletonTypeVal(f)
			if !ok {
				return nil, errors.Compiler("not singleton")
			}
			return v, nil
		})
		if err != nil {
			return nil, false
		}
		return &RecVal{Rec: rec}, true
	case *Pi:
		if t.Arrow.Kind != TabArrow {
			return nil, false
		}
		elem, ok := SingletonTypeVal(t.Result)
		if !ok {
			return nil, false
		}
		return &AFor{IdxTy: t.Binder.Ty, Body: elem}, true
	default:
		return nil, false
	}
}

// IsIndexSet reports whether a type can index a table.
func IsIndexSet(ty Type) bool {
	switch t := ty.(type) {
	case *IntRangeTy, *IndexRangeTy, *UnitTy, *CharTy:
		return true
	case *BaseTy:
		return t.Ty == BoolType
	case *PairTy:
		return IsIndexSet(t.Fst) && IsIndexSet(t.Snd)
	case *RecTy:
		for _, f := range t.Rec.Items() {
			if !IsIndexSet(f) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
