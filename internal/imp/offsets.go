package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// Offsets into flat buffers are integer polynomials over index
// ordinals and index-set sizes. The polynomial form keeps the
// arithmetic exact and lets literal sizes fold away: for a nested
// table type [n1, n2, n3] => base, the flat offset of (i1, i2, i3)
// is i1*n2*n3 + i2*n3 + i3.

// Factor is one symbolic factor of a monomial.
type Factor interface {
	factor()
}

// AtomFactor is an integer-valued core atom: a loop ordinal or a
// size variable.
type AtomFactor struct {
	Atom core.Atom
}

func (AtomFactor) factor() {}

// ClampFactor is max(0, Of); index-range sizes clamp at zero.
type ClampFactor struct {
	Of Poly
}

func (ClampFactor) factor() {}

// Mono is a coefficient times a product of factors.
type Mono struct {
	Coeff   int64
	Factors []Factor
}

// Poly is a sum of monomials.
type Poly []Mono

// PolyInt is a constant polynomial.
func PolyInt(n int64) Poly {
	if n == 0 {
		return nil
	}
	return Poly{{Coeff: n}}
}

// PolyAtom lifts an integer-valued atom; literals become constants.
func PolyAtom(a core.Atom) Poly {
	if lit, ok := a.(*core.Lit); ok {
		if iv, ok := lit.Val.(core.IntLit); ok {
			return PolyInt(int64(iv))
		}
	}
	return Poly{{Coeff: 1, Factors: []Factor{AtomFactor{Atom: a}}}}
}

// Add sums two polynomials.
func (p Poly) Add(q Poly) Poly {
	out := append(Poly(nil), p...)
	return append(out, q...).collect()
}

// Sub subtracts q from p.
func (p Poly) Sub(q Poly) Poly {
	neg := make(Poly, len(q))
	for i, m := range q {
		neg[i] = Mono{Coeff: -m.Coeff, Factors: m.Factors}
	}
	return p.Add(neg)
}

// Mul multiplies two polynomials.
func (p Poly) Mul(q Poly) Poly {
	var out Poly
	for _, a := range p {
		for _, b := range q {
			out = append(out, Mono{
				Coeff:   a.Coeff * b.Coeff,
				Factors: append(append([]Factor(nil), a.Factors...), b.Factors...),
			})
		}
	}
	return out.collect()
}

// Clamp is max(0, p).
func (p Poly) Clamp() Poly {
	if n, ok := p.Constant(); ok {
		if n < 0 {
			return nil
		}
		return p
	}
	return Poly{{Coeff: 1, Factors: []Factor{ClampFactor{Of: p}}}}
}

// Constant reports the value of a constant polynomial.
func (p Poly) Constant() (int64, bool) {
	var n int64
	for _, m := range p {
		if len(m.Factors) != 0 {
			return 0, false
		}
		n += m.Coeff
	}
	return n, true
}

// collect merges constant monomials and drops zeros. Symbolic
// monomials stay in insertion order, keeping lowering deterministic.
func (p Poly) collect() Poly {
	var out Poly
	var c int64
	for _, m := range p {
		if m.Coeff == 0 {
			continue
		}
		if len(m.Factors) == 0 {
			c += m.Coeff
			continue
		}
		out = append(out, m)
	}
	if c != 0 {
		out = append(out, Mono{Coeff: c})
	}
	return out
}

// SubstVar replaces a variable with a polynomial in all factors.
func (p Poly) SubstVar(name core.Name, repl Poly) Poly {
	var out Poly
	for _, m := range p {
		term := Poly{{Coeff: m.Coeff}}
		for _, f := range m.Factors {
			switch ff := f.(type) {
			case AtomFactor:
				if v, ok := ff.Atom.(core.Var); ok && v.Name == name {
					term = term.Mul(repl)
					continue
				}
				term = term.Mul(Poly{{Coeff: 1, Factors: []Factor{ff}}})
			case ClampFactor:
				term = term.Mul(Poly{{Coeff: 1, Factors: []Factor{ClampFactor{Of: ff.Of.SubstVar(name, repl)}}}})
			}
		}
		out = append(out, term...)
	}
	return out.collect()
}

// IndexSetSizePoly computes the cardinality of an index set as a
// polynomial.
func IndexSetSizePoly(ty core.Type) (Poly, error) {
	switch t := ty.(type) {
	case *core.IntRangeTy:
		return PolyAtom(t.High).Sub(PolyAtom(t.Low)).Clamp(), nil
	case *core.IndexRangeTy:
		lo, err := limitLowOrd(t)
		if err != nil {
			return nil, err
		}
		hi, err := limitHighOrd(t)
		if err != nil {
			return nil, err
		}
		return hi.Sub(lo).Clamp(), nil
	case *core.UnitTy:
		return PolyInt(1), nil
	case *core.BaseTy:
		if t.Ty == core.BoolType {
			return PolyInt(2), nil
		}
	case *core.CharTy:
		return PolyInt(256), nil
	case *core.PairTy:
		f, err := IndexSetSizePoly(t.Fst)
		if err != nil {
			return nil, err
		}
		s, err := IndexSetSizePoly(t.Snd)
		if err != nil {
			return nil, err
		}
		return f.Mul(s), nil
	case *core.RecTy:
		out := PolyInt(1)
		for _, field := range t.Rec.Items() {
			fs, err := IndexSetSizePoly(field)
			if err != nil {
				return nil, err
			}
			out = out.Mul(fs)
		}
		return out, nil
	}
	return nil, errors.NotImplemented("index set size of %s", ty)
}

// limitLowOrd is the first ordinal included by an index-range.
func limitLowOrd(t *core.IndexRangeTy) (Poly, error) {
	switch t.Low.Kind {
	case core.Unlimited:
		return nil, nil
	case core.InclusiveLim:
		return ordinalPoly(t.Low.Val)
	default:
		p, err := ordinalPoly(t.Low.Val)
		if err != nil {
			return nil, err
		}
		return p.Add(PolyInt(1)), nil
	}
}

// limitHighOrd is one past the last ordinal included.
func limitHighOrd(t *core.IndexRangeTy) (Poly, error) {
	switch t.High.Kind {
	case core.Unlimited:
		return IndexSetSizePoly(t.Ty)
	case core.InclusiveLim:
		p, err := ordinalPoly(t.High.Val)
		if err != nil {
			return nil, err
		}
		return p.Add(PolyInt(1)), nil
	default:
		return ordinalPoly(t.High.Val)
	}
}

// ordinalPoly reads the ordinal of an index atom.
func ordinalPoly(idx core.Atom) (Poly, error) {
	ord, err := ordinalAtom(idx)
	if err != nil {
		return nil, err
	}
	return PolyAtom(ord), nil
}

// ordinalAtom strips an index value to its integer ordinal.
func ordinalAtom(idx core.Atom) (core.Atom, error) {
	switch x := idx.(type) {
	case *core.IntRangeVal:
		return x.Val, nil
	case *core.IndexRangeVal:
		return x.Val, nil
	case core.Var:
		// An index variable stands for its ordinal.
		return core.Var{Name: x.Name, Ty: &core.BaseTy{Ty: core.IntType}}, nil
	case *core.Lit:
		return x, nil
	case *core.CharLit:
		return x.Val, nil
	case *core.UnitVal:
		return &core.Lit{Val: core.IntLit(0)}, nil
	default:
		return nil, errors.Compiler("no ordinal for index %s", idx)
	}
}

// ElemCountPoly is the product of the sizes of the enclosing index
// sets: the number of scalar leaves a buffer must hold.
func ElemCountPoly(idxTys []core.Type) (Poly, error) {
	out := PolyInt(1)
	for _, ty := range idxTys {
		s, err := IndexSetSizePoly(ty)
		if err != nil {
			return nil, err
		}
		out = out.Mul(s)
	}
	return out, nil
}
