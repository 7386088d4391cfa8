// Package core defines the typed term representation the compiler
// passes operate on: atoms (values in weak head normal form), non
// normalized expressions, blocks of let-bound declarations, effect
// rows, and the capture-avoiding substitution over all of them.
//
// Types and atoms share one representation: a Type is an Atom whose
// kind is TypeKind. Passes enforce that invariant at their boundaries
// with dynamic checks rather than in Go's type system.
package core

import (
	"fmt"
	"strings"
)

// Type is an atom used in type position.
type Type = Atom

// Atom is a value in normal-ish form.
type Atom interface {
	atomNode()
	String() string
}

// Expr is a non-normalized computation node.
type Expr interface {
	exprNode()
	String() string
}

// Var binds a name to its type. It serves both as an atom occurrence
// and as a binder introducing a scope.
type Var struct {
	Name Name
	Ty   Type
}

func (v Var) atomNode()      {}
func (v Var) String() string { return v.Name.String() }

// ArrowKind classifies function arrows.
type ArrowKind int

const (
	// PlainArrow is an ordinary function, possibly effectful.
	PlainArrow ArrowKind = iota
	// ImplicitArrow marks arguments the elaborator supplies.
	ImplicitArrow
	// TabArrow is table (array) indexing.
	TabArrow
	// LinArrow is a linear function, produced by linearization.
	LinArrow
)

// Arrow pairs an arrow kind with the effect row a plain arrow may
// carry. Implicit, Tab and Lin arrows are always pure.
type Arrow struct {
	Kind ArrowKind
	Eff  EffectRow
}

func PlainArr(eff EffectRow) Arrow { return Arrow{Kind: PlainArrow, Eff: eff} }
func PureArr() Arrow               { return Arrow{Kind: PlainArrow} }
func TabArr() Arrow                { return Arrow{Kind: TabArrow} }
func LinArr() Arrow                { return Arrow{Kind: LinArrow} }

func (a Arrow) String() string {
	switch a.Kind {
	case ImplicitArrow:
		return "?->"
	case TabArrow:
		return "=>"
	case LinArrow:
		return "--o"
	default:
		if a.Eff.IsPure() {
			return "->"
		}
		return "->" + a.Eff.String()
	}
}

// Lam is a lambda. The arrow decides how it is applied; the body's
// effect row matches the arrow's for plain arrows.
type Lam struct {
	Arrow  Arrow
	Binder Var
	Body   *Block
}

func (l *Lam) atomNode() {}
func (l *Lam) String() string {
	return fmt.Sprintf("\\%s:%s %s %s", l.Binder.Name, l.Binder.Ty, l.Arrow, l.Body)
}

// Pi is a dependent function type (b:T) -> (eff, U). With a Tab arrow
// it is a table type.
type Pi struct {
	Arrow  Arrow
	Binder Var
	Eff    EffectRow
	Result Type
}

func (p *Pi) atomNode() {}
func (p *Pi) String() string {
	eff := ""
	if !p.Eff.IsPure() {
		eff = p.Eff.String() + " "
	}
	return fmt.Sprintf("(%s:%s) %s %s%s", p.Binder.Name, p.Binder.Ty, p.Arrow, eff, p.Result)
}

// Eff is an effect row in atom position; its kind is EffectKind.
type Eff struct {
	Row EffectRow
}

func (e *Eff) atomNode()      {}
func (e *Eff) String() string { return e.Row.String() }

// PrimCon is the family of primitive value constructors.
type PrimCon interface {
	Atom
	primCon()
}

// Lit is a scalar literal.
type Lit struct {
	Val LitVal
}

func (l *Lit) atomNode()      {}
func (l *Lit) primCon()       {}
func (l *Lit) String() string { return l.Val.String() }

// PairVal is a pair value.
type PairVal struct {
	Fst Atom
	Snd Atom
}

func (p *PairVal) atomNode()      {}
func (p *PairVal) primCon()       {}
func (p *PairVal) String() string { return fmt.Sprintf("(%s, %s)", p.Fst, p.Snd) }

// UnitVal is the unit value.
type UnitVal struct{}

func (u *UnitVal) atomNode()      {}
func (u *UnitVal) primCon()       {}
func (u *UnitVal) String() string { return "()" }

// RecVal is a record value.
type RecVal struct {
	Rec Record
}

func (r *RecVal) atomNode()      {}
func (r *RecVal) primCon()       {}
func (r *RecVal) String() string { return r.Rec.String() }

// SumVal is a sum represented as a product: a boolean tag plus both
// alternatives materialized. Tag true selects the left side.
type SumVal struct {
	Tag  Atom
	Left Atom
	Rite Atom
}

func (s *SumVal) atomNode() {}
func (s *SumVal) primCon()  {}
func (s *SumVal) String() string {
	return fmt.Sprintf("(sum %s %s %s)", s.Tag, s.Left, s.Rite)
}

// AnyValue is a placeholder standing for an arbitrary value of its
// type; the simplifier fabricates a concrete value for it.
type AnyValue struct {
	Ty Type
}

func (a *AnyValue) atomNode()      {}
func (a *AnyValue) primCon()       {}
func (a *AnyValue) String() string { return "any:" + a.Ty.String() }

// IntRangeVal is an index value of an IntRange type.
type IntRangeVal struct {
	Low  Atom
	High Atom
	Val  Atom
}

func (i *IntRangeVal) atomNode() {}
func (i *IntRangeVal) primCon()  {}
func (i *IntRangeVal) String() string {
	return fmt.Sprintf("%s@(range %s %s)", i.Val, i.Low, i.High)
}

// IndexRangeVal is an index value of an IndexRange type.
type IndexRangeVal struct {
	Ty   Type
	Low  Limit
	High Limit
	Val  Atom
}

func (i *IndexRangeVal) atomNode()      {}
func (i *IndexRangeVal) primCon()       {}
func (i *IndexRangeVal) String() string { return i.Val.String() + "@slice" }

// AFor is a constant table value: every index maps to Body. It lets a
// table exist as an atom without a materialized buffer (AnyValue
// fabrication, zero tangent tables).
type AFor struct {
	IdxTy Type
	Body  Atom
}

func (a *AFor) atomNode()      {}
func (a *AFor) primCon()       {}
func (a *AFor) String() string { return fmt.Sprintf("(afor %s. %s)", a.IdxTy, a.Body) }

// CharLit is a character, carried as its integer code point.
type CharLit struct {
	Val Atom
}

func (c *CharLit) atomNode()      {}
func (c *CharLit) primCon()       {}
func (c *CharLit) String() string { return "char " + c.Val.String() }

// ArrayVal is a literal array of scalars.
type ArrayVal struct {
	Base BaseType
	Vals []LitVal
}

func (a *ArrayVal) atomNode() {}
func (a *ArrayVal) primCon()  {}
func (a *ArrayVal) String() string {
	parts := make([]string, len(a.Vals))
	for i, v := range a.Vals {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// PrimTC is the family of primitive type constructors.
type PrimTC interface {
	Atom
	primTC()
}

// BaseTy is a scalar base type.
type BaseTy struct {
	Ty BaseType
}

func (b *BaseTy) atomNode()      {}
func (b *BaseTy) primTC()        {}
func (b *BaseTy) String() string { return b.Ty.String() }

// IntRangeTy is the type of integers in [Low, High), usable as an
// index set of size High-Low.
type IntRangeTy struct {
	Low  Atom
	High Atom
}

func (t *IntRangeTy) atomNode()      {}
func (t *IntRangeTy) primTC()        {}
func (t *IntRangeTy) String() string { return fmt.Sprintf("(range %s %s)", t.Low, t.High) }

// LimitKind classifies index-range bounds.
type LimitKind int

const (
	InclusiveLim LimitKind = iota
	ExclusiveLim
	Unlimited
)

// Limit is one bound of an IndexRange.
type Limit struct {
	Kind LimitKind
	Val  Atom // nil for Unlimited
}

func (l Limit) String() string {
	switch l.Kind {
	case InclusiveLim:
		return "incl " + l.Val.String()
	case ExclusiveLim:
		return "excl " + l.Val.String()
	default:
		return "unlimited"
	}
}

// IndexRangeTy restricts an index set to a sub-range.
type IndexRangeTy struct {
	Ty   Type
	Low  Limit
	High Limit
}

func (t *IndexRangeTy) atomNode() {}
func (t *IndexRangeTy) primTC()   {}
func (t *IndexRangeTy) String() string {
	return fmt.Sprintf("(slice %s %s %s)", t.Ty, t.Low, t.High)
}

// ArrayTy is the type of a literal scalar array.
type ArrayTy struct {
	Len  int
	Base BaseType
}

func (t *ArrayTy) atomNode()      {}
func (t *ArrayTy) primTC()        {}
func (t *ArrayTy) String() string { return fmt.Sprintf("Arr[%d]%s", t.Len, t.Base) }

// RecTy is a record type; its fields are types.
type RecTy struct {
	Rec Record
}

func (t *RecTy) atomNode()      {}
func (t *RecTy) primTC()        {}
func (t *RecTy) String() string { return t.Rec.String() }

// SumTy is a binary sum type.
type SumTy struct {
	Left Type
	Rite Type
}

func (t *SumTy) atomNode()      {}
func (t *SumTy) primTC()        {}
func (t *SumTy) String() string { return fmt.Sprintf("(%s | %s)", t.Left, t.Rite) }

// RefTy is the type of a mutable reference bound to a region.
type RefTy struct {
	Region Atom
	Ty     Type
}

func (t *RefTy) atomNode()      {}
func (t *RefTy) primTC()        {}
func (t *RefTy) String() string { return fmt.Sprintf("Ref %s %s", t.Region, t.Ty) }

// TypeKind is the kind of types.
type TypeKind struct{}

func (t *TypeKind) atomNode()      {}
func (t *TypeKind) primTC()        {}
func (t *TypeKind) String() string { return "Type" }

// EffectKind is the kind of effect rows.
type EffectKind struct{}

func (t *EffectKind) atomNode()      {}
func (t *EffectKind) primTC()        {}
func (t *EffectKind) String() string { return "Effects" }

// PairTy is a pair type.
type PairTy struct {
	Fst Type
	Snd Type
}

func (t *PairTy) atomNode()      {}
func (t *PairTy) primTC()        {}
func (t *PairTy) String() string { return fmt.Sprintf("(%s & %s)", t.Fst, t.Snd) }

// UnitTy is the unit type.
type UnitTy struct{}

func (t *UnitTy) atomNode()      {}
func (t *UnitTy) primTC()        {}
func (t *UnitTy) String() string { return "Unit" }

// CharTy is the character type.
type CharTy struct{}

func (t *CharTy) atomNode()      {}
func (t *CharTy) primTC()        {}
func (t *CharTy) String() string { return "Char" }

// TabTy builds the table type n => a as a Pi with a Tab arrow.
func TabTy(idx Type, elem Type) *Pi {
	return &Pi{Arrow: TabArr(), Binder: Var{Name: Gen("i"), Ty: idx}, Result: elem}
}

// AsTabTy matches a table type, returning its index set and element
// type. Callers that need the dependent element type use ApplyPi.
func AsTabTy(t Type) (Type, Type, bool) {
	if p, ok := t.(*Pi); ok && p.Arrow.Kind == TabArrow {
		return p.Binder.Ty, p.Result, true
	}
	return nil, nil, false
}

// Expressions.

// App applies a function atom to an argument atom.
type App struct {
	Arrow Arrow
	Fun   Atom
	Arg   Atom
}

func (a *App) exprNode()      {}
func (a *App) String() string { return fmt.Sprintf("%s %s", a.Fun, a.Arg) }

// OpExpr wraps a primitive operation.
type OpExpr struct {
	Op PrimOp
}

func (o *OpExpr) exprNode()      {}
func (o *OpExpr) String() string { return o.Op.String() }

// HofExpr wraps a higher-order primitive form.
type HofExpr struct {
	Hof PrimHof
}

func (h *HofExpr) exprNode()      {}
func (h *HofExpr) String() string { return h.Hof.String() }

// AtomExpr lifts an atom into expression position.
type AtomExpr struct {
	Atom Atom
}

func (a *AtomExpr) exprNode()      {}
func (a *AtomExpr) String() string { return a.Atom.String() }

// Alt is one branch of a case, binding the scrutinee's payload.
type Alt struct {
	Binders []Var
	Body    *Block
}

// Case scrutinizes a sum and selects an alternative.
type Case struct {
	Scrut Atom
	Alts  []Alt
	Ty    Type
}

func (c *Case) exprNode() {}
func (c *Case) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "case %s of", c.Scrut)
	for _, alt := range c.Alts {
		b.WriteString(" {")
		for _, v := range alt.Binders {
			b.WriteString(v.Name.String() + " ")
		}
		b.WriteString("-> " + alt.Body.String() + "}")
	}
	return b.String()
}

// Declarations.

// Decl is one step of a block.
type Decl interface {
	declNode()
	String() string
}

// LetAnn annotates a let binding.
type LetAnn int

const (
	PlainLet LetAnn = iota
	// NoInlineLet keeps the binding out of substitution-driven
	// inlining; derivative rules are registered this way.
	NoInlineLet
)

// LetDecl binds the result of an expression.
type LetDecl struct {
	Ann    LetAnn
	Binder Var
	Bound  Expr
}

func (d *LetDecl) declNode() {}
func (d *LetDecl) String() string {
	return fmt.Sprintf("%s:%s = %s", d.Binder.Name, d.Binder.Ty, d.Bound)
}

// UnpackDecl destructures a record or sum-as-product into its parts.
type UnpackDecl struct {
	Binders []Var
	Bound   Expr
}

func (d *UnpackDecl) declNode() {}
func (d *UnpackDecl) String() string {
	names := make([]string, len(d.Binders))
	for i, b := range d.Binders {
		names[i] = b.Name.String()
	}
	return fmt.Sprintf("(%s) = %s", strings.Join(names, ", "), d.Bound)
}

// Block is an ordered sequence of declarations followed by a result
// expression, carrying the effect row of the whole block.
type Block struct {
	Decls  []Decl
	Result Expr
	Eff    EffectRow
}

func (b *Block) String() string {
	if len(b.Decls) == 0 {
		return b.Result.String()
	}
	var sb strings.Builder
	sb.WriteString("{")
	for _, d := range b.Decls {
		sb.WriteString(" " + d.String() + ";")
	}
	sb.WriteString(" " + b.Result.String() + " }")
	return sb.String()
}

// AtomBlock wraps an atom as a trivial pure block.
func AtomBlock(a Atom) *Block {
	return &Block{Result: &AtomExpr{Atom: a}}
}

// Module is a unit of top-level input: a block computing a value plus
// the names it exports into the top environment.
type Module struct {
	Body    *Block
	Exports []Var
}
