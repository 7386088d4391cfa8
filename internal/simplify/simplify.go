// Package simplify implements the beta-reducing, substitution
// propagating pass that turns elaborated core into a reduced core
// suitable for autodiff and lowering. It walks blocks under a local
// substitution environment, inlines top-level atoms, fabricates
// values for AnyValue placeholders, and separates data from function
// components of lambda results through reconstruction closures.
//
// The pass runs twice per module: first preserving names annotated as
// derivative rules so the autodiff transforms can see them, then with
// preservation off to eliminate them.
package simplify

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// Options configure a simplifier run.
type Options struct {
	// TopEnv maps top-level names to their atoms; references are
	// inlined fully.
	TopEnv map[core.Name]core.Atom
	// Rules maps names to their registered derivative rules.
	Rules map[core.Name]core.Atom
	// PreserveDerivRules keeps rule-annotated top-level references
	// unexpanded for the autodiff transforms.
	PreserveDerivRules bool
}

// Simplifier holds the options of one run; all traversal state lives
// in the builder and the substitution environments.
type Simplifier struct {
	opts Options
}

func New(opts Options) *Simplifier { return &Simplifier{opts: opts} }

// Recon reconstructs a lambda's original result from a replacement
// data tuple.
type Recon func(b *builder.Builder, tup core.Atom) (core.Atom, error)

// Block simplifies a block under an ambient scope, producing a new
// block.
func (s *Simplifier) Block(scope core.Scope, block *core.Block) (*core.Block, error) {
	b := builder.New(scope)
	return b.BuildScoped(func(cb *builder.Builder) (core.Atom, error) {
		return s.simplifyBlock(cb, core.SubstEnv{}, block)
	})
}

// simplifyBlock simplifies each declaration to an atom, extending the
// local env, then simplifies the result expression.
func (s *Simplifier) simplifyBlock(b *builder.Builder, env core.SubstEnv, block *core.Block) (core.Atom, error) {
	for _, d := range block.Decls {
		switch dd := d.(type) {
		case *core.LetDecl:
			atom, err := s.simplifyExpr(b, env, dd.Bound)
			if err != nil {
				return nil, err
			}
			env[dd.Binder.Name] = atom
		case *core.UnpackDecl:
			if err := s.simplifyUnpack(b, env, dd); err != nil {
				return nil, err
			}
		}
	}
	return s.simplifyExpr(b, env, block.Result)
}

// simplifyUnpack binds the components of a destructured record; when
// the bound value simplifies to a literal record the components bind
// directly, otherwise an unpack declaration is emitted.
func (s *Simplifier) simplifyUnpack(b *builder.Builder, env core.SubstEnv, d *core.UnpackDecl) error {
	atom, err := s.simplifyExpr(b, env, d.Bound)
	if err != nil {
		return err
	}
	if rec, ok := atom.(*core.RecVal); ok && rec.Rec.Len() == len(d.Binders) {
		items := rec.Rec.Items()
		for i, binder := range d.Binders {
			env[binder.Name] = items[i]
		}
		return nil
	}
	tys := make([]core.Type, len(d.Binders))
	for i, binder := range d.Binders {
		ty, err := s.simplifyAtom(b, env, binder.Ty)
		if err != nil {
			return err
		}
		tys[i] = ty
	}
	atoms, err := b.EmitUnpack(&core.AtomExpr{Atom: atom}, tys)
	if err != nil {
		return err
	}
	for i, binder := range d.Binders {
		env[binder.Name] = atoms[i]
	}
	return nil
}

func (s *Simplifier) simplifyAtom(b *builder.Builder, env core.SubstEnv, a core.Atom) (core.Atom, error) {
	switch x := a.(type) {
	case core.Var:
		if repl, ok := env[x.Name]; ok {
			return core.DeShadow(repl, b.Scope())
		}
		if x.Name.Space == core.TopName {
			if atom, ok := s.opts.TopEnv[x.Name]; ok {
				_, hasRule := s.opts.Rules[x.Name]
				if !s.opts.PreserveDerivRules || !hasRule {
					// Top-level atoms are inlined fully, under an
					// empty local env.
					return s.simplifyAtom(b, core.SubstEnv{}, atom)
				}
			}
		}
		ty, err := s.simplifyAtom(b, env, x.Ty)
		if err != nil {
			return nil, err
		}
		return core.Var{Name: x.Name, Ty: ty}, nil
	case *core.Lam:
		// Not entered here; it reduces at its App site.
		return core.SubstAtom(env, b.Scope(), x)
	case *core.Pi, *core.Eff:
		return core.SubstAtom(env, b.Scope(), a)
	case *core.AnyValue:
		ty, err := s.simplifyAtom(b, env, x.Ty)
		if err != nil {
			return nil, err
		}
		return anyValueOf(ty)
	default:
		if _, isVar := a.(core.Var); !isVar {
			return core.MapAtomChildren(a, func(c core.Atom) (core.Atom, error) {
				return s.simplifyAtom(b, env, c)
			})
		}
		return nil, errors.Compiler("unhandled atom %T in simplifier", a)
	}
}

// anyValueOf fabricates an arbitrary value of a type by structural
// recursion.
func anyValueOf(ty core.Type) (core.Atom, error) {
	switch t := ty.(type) {
	case *core.BaseTy:
		return &core.Lit{Val: core.ZeroLit(t.Ty)}, nil
	case *core.UnitTy:
		return &core.UnitVal{}, nil
	case *core.CharTy:
		return &core.CharLit{Val: &core.Lit{Val: core.IntLit(0)}}, nil
	case *core.PairTy:
		f, err := anyValueOf(t.Fst)
		if err != nil {
			return nil, err
		}
		sn, err := anyValueOf(t.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: sn}, nil
	case *core.RecTy:
		rec, err := t.Rec.Map(anyValueOf)
		if err != nil {
			return nil, err
		}
		return &core.RecVal{Rec: rec}, nil
	case *core.SumTy:
		l, err := anyValueOf(t.Left)
		if err != nil {
			return nil, err
		}
		r, err := anyValueOf(t.Rite)
		if err != nil {
			return nil, err
		}
		return &core.SumVal{Tag: &core.Lit{Val: core.BoolLit(true)}, Left: l, Rite: r}, nil
	case *core.IntRangeTy:
		return &core.IntRangeVal{Low: t.Low, High: t.High, Val: &core.Lit{Val: core.IntLit(0)}}, nil
	case *core.IndexRangeTy:
		return &core.IndexRangeVal{Ty: t.Ty, Low: t.Low, High: t.High, Val: &core.Lit{Val: core.IntLit(0)}}, nil
	case *core.Pi:
		if t.Arrow.Kind == core.TabArrow {
			elem, err := anyValueOf(t.Result)
			if err != nil {
				return nil, err
			}
			return &core.AFor{IdxTy: t.Binder.Ty, Body: elem}, nil
		}
		return nil, errors.NotImplemented("arbitrary value of type %s", ty)
	default:
		return nil, errors.NotImplemented("arbitrary value of type %s", ty)
	}
}

func (s *Simplifier) simplifyExpr(b *builder.Builder, env core.SubstEnv, e core.Expr) (core.Atom, error) {
	switch x := e.(type) {
	case *core.AtomExpr:
		return s.simplifyAtom(b, env, x.Atom)
	case *core.App:
		f, err := s.simplifyAtom(b, env, x.Fun)
		if err != nil {
			return nil, err
		}
		arg, err := s.simplifyAtom(b, env, x.Arg)
		if err != nil {
			return nil, err
		}
		if lam, ok := f.(*core.Lam); ok {
			// Beta-reduce: the lambda is already closed over the
			// local env, so the body sees only the binder binding.
			return s.simplifyBlock(b, core.SubstEnv{lam.Binder.Name: arg}, lam.Body)
		}
		if afor, ok := f.(*core.AFor); ok {
			return afor.Body, nil
		}
		eff, err := core.SubstEffectRow(env, b.Scope(), x.Arrow.Eff)
		if err != nil {
			return nil, err
		}
		return b.Emit(&core.App{Arrow: core.Arrow{Kind: x.Arrow.Kind, Eff: eff}, Fun: f, Arg: arg})
	case *core.OpExpr:
		op, err := core.MapOpAtoms(x.Op, func(a core.Atom) (core.Atom, error) {
			return s.simplifyAtom(b, env, a)
		})
		if err != nil {
			return nil, err
		}
		return s.simplifyOp(b, op)
	case *core.HofExpr:
		return s.simplifyHof(b, env, x.Hof)
	case *core.Case:
		return s.simplifyCase(b, env, x)
	default:
		return nil, errors.Compiler("unhandled expr %T in simplifier", e)
	}
}

func (s *Simplifier) simplifyCase(b *builder.Builder, env core.SubstEnv, c *core.Case) (core.Atom, error) {
	scrut, err := s.simplifyAtom(b, env, c.Scrut)
	if err != nil {
		return nil, err
	}
	if sv, ok := scrut.(*core.SumVal); ok {
		if tag, ok := sv.Tag.(*core.Lit); ok {
			isLeft := bool(tag.Val.(core.BoolLit))
			alt := c.Alts[1]
			payload := sv.Rite
			if isLeft {
				alt = c.Alts[0]
				payload = sv.Left
			}
			env2 := env.Copy()
			env2[alt.Binders[0].Name] = payload
			return s.simplifyBlock(b, env2, alt.Body)
		}
	}
	ty, err := s.simplifyAtom(b, env, c.Ty)
	if err != nil {
		return nil, err
	}
	alts := make([]core.Alt, len(c.Alts))
	for i, alt := range c.Alts {
		var newBinders []core.Var
		body, err := b.BuildScoped(func(cb *builder.Builder) (core.Atom, error) {
			env2 := env.Copy()
			for _, bv := range alt.Binders {
				bty, err := s.simplifyAtom(cb, env, bv.Ty)
				if err != nil {
					return nil, err
				}
				nv := cb.FreshVar(bv.Name.Hint, bty)
				env2[bv.Name] = nv
				newBinders = append(newBinders, nv)
			}
			return s.simplifyBlock(cb, env2, alt.Body)
		})
		if err != nil {
			return nil, err
		}
		alts[i] = core.Alt{Binders: newBinders, Body: body}
	}
	return b.Emit(&core.Case{Scrut: scrut, Alts: alts, Ty: ty})
}
