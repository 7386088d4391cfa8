package imp

import (
	"slices"
	"strconv"

	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// A Dest mirrors the structure of a core type, populated by pointers
// instead of values. Enclosing table indices apply implicitly to
// every base-type pointer through its offset polynomial.
type Dest interface {
	destNode()
}

// BaseDest is a pointer to scalars plus the offset the enclosing
// indices have accumulated.
type BaseDest struct {
	Ptr  core.Name
	Type IType
	Off  Poly
}

func (*BaseDest) destNode() {}

// TabDest is a destination indexed by a table index: an abstraction
// of the element destination over the index binder.
type TabDest struct {
	Binder core.Var
	Elem   Dest
}

func (*TabDest) destNode() {}

// PairDest is a pair of destinations.
type PairDest struct {
	Fst Dest
	Snd Dest
}

func (*PairDest) destNode() {}

// UnitDest holds nothing.
type UnitDest struct{}

func (*UnitDest) destNode() {}

// RecDest is a record of destinations, positional or named.
type RecDest struct {
	Tup   []Dest
	Named map[string]Dest
}

func (*RecDest) destNode() {}

func (r *RecDest) labels() []string {
	if r.Named == nil {
		out := make([]string, len(r.Tup))
		for i := range r.Tup {
			out[i] = strconv.Itoa(i)
		}
		return out
	}
	out := make([]string, 0, len(r.Named))
	for k := range r.Named {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (r *RecDest) field(label string) (Dest, bool) {
	if r.Named != nil {
		d, ok := r.Named[label]
		return d, ok
	}
	i, err := strconv.Atoi(label)
	if err != nil || i < 0 || i >= len(r.Tup) {
		return nil, false
	}
	return r.Tup[i], true
}

// SumAsProdDest is a tagged product: the tag plus both payloads.
type SumAsProdDest struct {
	Tag  Dest
	Left Dest
	Rite Dest
}

func (*SumAsProdDest) destNode() {}

// IntRangeDest stores the ordinal; the bounds ride along as constants
// for re-display.
type IntRangeDest struct {
	Low  core.Atom
	High core.Atom
	Repr Dest
}

func (*IntRangeDest) destNode() {}

// IndexRangeDest stores the ordinal of an index-range value.
type IndexRangeDest struct {
	Ty   core.Type
	Low  core.Limit
	High core.Limit
	Repr Dest
}

func (*IndexRangeDest) destNode() {}

// CharDest stores a character's code point.
type CharDest struct {
	Repr Dest
}

func (*CharDest) destNode() {}

// ConstDest embeds a type-level constant that needs no storage.
type ConstDest struct {
	Atom core.Atom
}

func (*ConstDest) destNode() {}

// DestType recovers the core type a destination was allocated for.
func DestType(d Dest) (core.Type, error) {
	switch dd := d.(type) {
	case *BaseDest:
		return &core.BaseTy{Ty: dd.Type.Base}, nil
	case *TabDest:
		elem, err := DestType(dd.Elem)
		if err != nil {
			return nil, err
		}
		return &core.Pi{Arrow: core.TabArr(), Binder: dd.Binder, Result: elem}, nil
	case *PairDest:
		f, err := DestType(dd.Fst)
		if err != nil {
			return nil, err
		}
		s, err := DestType(dd.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairTy{Fst: f, Snd: s}, nil
	case *UnitDest:
		return &core.UnitTy{}, nil
	case *RecDest:
		if dd.Named != nil {
			out := make(map[string]core.Atom, len(dd.Named))
			for _, l := range dd.labels() {
				ty, err := DestType(dd.Named[l])
				if err != nil {
					return nil, err
				}
				out[l] = ty
			}
			return &core.RecTy{Rec: core.NamedRec(out)}, nil
		}
		out := make([]core.Atom, len(dd.Tup))
		for i, fd := range dd.Tup {
			ty, err := DestType(fd)
			if err != nil {
				return nil, err
			}
			out[i] = ty
		}
		return &core.RecTy{Rec: core.TupRec(out...)}, nil
	case *SumAsProdDest:
		l, err := DestType(dd.Left)
		if err != nil {
			return nil, err
		}
		r, err := DestType(dd.Rite)
		if err != nil {
			return nil, err
		}
		return &core.SumTy{Left: l, Rite: r}, nil
	case *IntRangeDest:
		return &core.IntRangeTy{Low: dd.Low, High: dd.High}, nil
	case *IndexRangeDest:
		return &core.IndexRangeTy{Ty: dd.Ty, Low: dd.Low, High: dd.High}, nil
	case *CharDest:
		return &core.CharTy{}, nil
	case *ConstDest:
		return core.TypeOf(dd.Atom)
	default:
		return nil, errors.Compiler("unhandled dest %T", d)
	}
}

// substDest instantiates a table binder with an index atom throughout
// a destination: offsets substitute the ordinal, embedded atoms
// substitute the index value.
func substDest(d Dest, name core.Name, idx core.Atom) (Dest, error) {
	ord, err := ordinalAtom(idx)
	if err != nil {
		return nil, err
	}
	ordPoly := PolyAtom(ord)
	env := core.SubstEnv{name: idx}
	var walk func(Dest) (Dest, error)
	substAtom := func(a core.Atom) (core.Atom, error) {
		if a == nil {
			return nil, nil
		}
		return core.SubstAtom(env, core.Scope{}, a)
	}
	walk = func(d Dest) (Dest, error) {
		switch dd := d.(type) {
		case *BaseDest:
			return &BaseDest{Ptr: dd.Ptr, Type: dd.Type, Off: dd.Off.SubstVar(name, ordPoly)}, nil
		case *TabDest:
			binderTy, err := substAtom(dd.Binder.Ty)
			if err != nil {
				return nil, err
			}
			elem, err := walk(dd.Elem)
			if err != nil {
				return nil, err
			}
			return &TabDest{Binder: core.Var{Name: dd.Binder.Name, Ty: binderTy}, Elem: elem}, nil
		case *PairDest:
			f, err := walk(dd.Fst)
			if err != nil {
				return nil, err
			}
			s, err := walk(dd.Snd)
			if err != nil {
				return nil, err
			}
			return &PairDest{Fst: f, Snd: s}, nil
		case *UnitDest:
			return dd, nil
		case *RecDest:
			if dd.Named != nil {
				out := make(map[string]Dest, len(dd.Named))
				for _, l := range dd.labels() {
					fd, err := walk(dd.Named[l])
					if err != nil {
						return nil, err
					}
					out[l] = fd
				}
				return &RecDest{Named: out}, nil
			}
			out := make([]Dest, len(dd.Tup))
			for i, fd := range dd.Tup {
				nd, err := walk(fd)
				if err != nil {
					return nil, err
				}
				out[i] = nd
			}
			return &RecDest{Tup: out}, nil
		case *SumAsProdDest:
			tag, err := walk(dd.Tag)
			if err != nil {
				return nil, err
			}
			l, err := walk(dd.Left)
			if err != nil {
				return nil, err
			}
			r, err := walk(dd.Rite)
			if err != nil {
				return nil, err
			}
			return &SumAsProdDest{Tag: tag, Left: l, Rite: r}, nil
		case *IntRangeDest:
			lo, err := substAtom(dd.Low)
			if err != nil {
				return nil, err
			}
			hi, err := substAtom(dd.High)
			if err != nil {
				return nil, err
			}
			repr, err := walk(dd.Repr)
			if err != nil {
				return nil, err
			}
			return &IntRangeDest{Low: lo, High: hi, Repr: repr}, nil
		case *IndexRangeDest:
			ty, err := substAtom(dd.Ty)
			if err != nil {
				return nil, err
			}
			repr, err := walk(dd.Repr)
			if err != nil {
				return nil, err
			}
			return &IndexRangeDest{Ty: ty, Low: dd.Low, High: dd.High, Repr: repr}, nil
		case *CharDest:
			repr, err := walk(dd.Repr)
			if err != nil {
				return nil, err
			}
			return &CharDest{Repr: repr}, nil
		case *ConstDest:
			a, err := substAtom(dd.Atom)
			if err != nil {
				return nil, err
			}
			return &ConstDest{Atom: a}, nil
		default:
			return nil, errors.Compiler("unhandled dest %T", d)
		}
	}
	return walk(d)
}

// indexDest narrows a table destination to one element.
func indexDest(d Dest, idx core.Atom) (Dest, error) {
	tab, ok := d.(*TabDest)
	if !ok {
		return nil, errors.Compiler("indexing non-table dest %T", d)
	}
	return substDest(tab.Elem, tab.Binder.Name, idx)
}
