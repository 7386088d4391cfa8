package simplify

import (
	"slices"
	"strconv"

	"github.com/operskoj2c/dex-lang/internal/autodiff"
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

func (s *Simplifier) simplifyHof(b *builder.Builder, env core.SubstEnv, hof core.PrimHof) (core.Atom, error) {
	switch h := hof.(type) {
	case *core.For:
		lam, recon, err := s.simplifyLam(b, env, h.Lam)
		if err != nil {
			return nil, err
		}
		ans, err := b.EmitHof(&core.For{Dir: h.Dir, Lam: lam})
		if err != nil {
			return nil, err
		}
		if recon == nil {
			return ans, nil
		}
		idxTy := lam.(*core.Lam).Binder.Ty
		return b.BuildFor(h.Dir, "i", idxTy, func(fb *builder.Builder, i core.Atom) (core.Atom, error) {
			tup, err := fb.TabApp(ans, i)
			if err != nil {
				return nil, err
			}
			return recon(fb, tup)
		})
	case *core.While:
		cond, _, err := s.simplifyLam(b, env, h.Cond)
		if err != nil {
			return nil, err
		}
		body, _, err := s.simplifyLam(b, env, h.Body)
		if err != nil {
			return nil, err
		}
		return b.EmitHof(&core.While{Cond: cond, Body: body})
	case *core.RunReader:
		r, err := s.simplifyAtom(b, env, h.R)
		if err != nil {
			return nil, err
		}
		lam, err := s.simplifyBinaryLam(b, env, h.Lam, core.Reader)
		if err != nil {
			return nil, err
		}
		return b.EmitHof(&core.RunReader{R: r, Lam: lam})
	case *core.RunWriter:
		lam, err := s.simplifyBinaryLam(b, env, h.Lam, core.Writer)
		if err != nil {
			return nil, err
		}
		return b.EmitHof(&core.RunWriter{Lam: lam})
	case *core.RunState:
		st, err := s.simplifyAtom(b, env, h.S)
		if err != nil {
			return nil, err
		}
		lam, err := s.simplifyBinaryLam(b, env, h.Lam, core.State)
		if err != nil {
			return nil, err
		}
		return b.EmitHof(&core.RunState{S: st, Lam: lam})
	case *core.Linearize:
		lam, recon, err := s.simplifyLam(b, env, h.Lam)
		if err != nil {
			return nil, err
		}
		if recon != nil {
			return nil, errors.NotImplemented("linearization of function-valued results")
		}
		return autodiff.Linearize(b, lam.(*core.Lam), s.opts.Rules)
	case *core.Transpose:
		lam, recon, err := s.simplifyLam(b, env, h.Lam)
		if err != nil {
			return nil, err
		}
		if recon != nil {
			return nil, errors.NotImplemented("transposition of function-valued results")
		}
		return autodiff.Transpose(b, lam.(*core.Lam))
	default:
		return nil, errors.Compiler("unhandled hof %T in simplifier", hof)
	}
}

// simplifyLam simplifies a lambda in a context that requires data
// flow across it. A lambda whose body has a data type simplifies
// directly. Otherwise the body's local data components become the
// lambda's public result and the returned reconstruction closure
// rebuilds the original result from a replacement tuple.
func (s *Simplifier) simplifyLam(b *builder.Builder, env core.SubstEnv, lamAtom core.Atom) (core.Atom, Recon, error) {
	lam, ok := lamAtom.(*core.Lam)
	if !ok {
		simplified, err := s.simplifyAtom(b, env, lamAtom)
		if err != nil {
			return nil, nil, err
		}
		if lam, ok = simplified.(*core.Lam); !ok {
			return nil, nil, errors.Compiler("expected lambda, got %s", simplified)
		}
	}
	binderTy, err := s.simplifyAtom(b, env, lam.Binder.Ty)
	if err != nil {
		return nil, nil, err
	}
	arrEff, err := core.SubstEffectRow(env, b.Scope(), lam.Arrow.Eff)
	if err != nil {
		return nil, nil, err
	}
	arrow := core.Arrow{Kind: lam.Arrow.Kind, Eff: arrEff}

	resultTy, err := core.BlockType(lam.Body)
	if err != nil {
		return nil, nil, err
	}
	if core.IsData(resultTy) {
		out, err := b.BuildLam(lam.Binder.Name.Hint, arrow, binderTy,
			func(lb *builder.Builder, x core.Atom) (core.Atom, error) {
				env2 := env.Copy()
				env2[lam.Binder.Name] = x
				return s.simplifyBlock(lb, env2, lam.Body)
			})
		return out, nil, err
	}

	var recon Recon
	out, err := b.BuildLam(lam.Binder.Name.Hint, arrow, binderTy,
		func(lb *builder.Builder, x core.Atom) (core.Atom, error) {
			env2 := env.Copy()
			env2[lam.Binder.Name] = x
			result, err := s.simplifyBlock(lb, env2, lam.Body)
			if err != nil {
				return nil, err
			}
			var tup core.Atom
			tup, recon = separateDataComponent(b.Scope(), lb.Scope(), result)
			return tup, nil
		})
	if err != nil {
		return nil, nil, err
	}
	return out, recon, nil
}

// separateDataComponent splits a non-data result into the tuple of
// its block-local data variables, which becomes the public result,
// and a closure that substitutes a replacement tuple's components
// back into the original result.
func separateDataComponent(outer core.Scope, local core.Scope, result core.Atom) (core.Atom, Recon) {
	var vs []core.Var
	for name, v := range core.FreeVars(result) {
		if !outer.Contains(name) && local.Contains(name) {
			vs = append(vs, v)
		}
	}
	slices.SortFunc(vs, func(a, b core.Var) int {
		if a.Name.Less(b.Name) {
			return -1
		}
		if b.Name.Less(a.Name) {
			return 1
		}
		return 0
	})
	items := make([]core.Atom, len(vs))
	for i, v := range vs {
		items[i] = v
	}
	tup := &core.RecVal{Rec: core.TupRec(items...)}
	recon := func(rb *builder.Builder, replacement core.Atom) (core.Atom, error) {
		renv := core.SubstEnv{}
		for i, v := range vs {
			comp, err := rb.EmitOp(&core.RecGet{Rec: replacement, Label: strconv.Itoa(i)})
			if err != nil {
				return nil, err
			}
			renv[v.Name] = comp
		}
		return core.SubstAtom(renv, rb.Scope(), result)
	}
	return tup, recon
}

// simplifyBinaryLam rebuilds the region/ref function of a RunX
// primitive, pushing substitutions through the region binder, then
// the ref binder, and simplifying the effect-annotated body inside.
func (s *Simplifier) simplifyBinaryLam(b *builder.Builder, env core.SubstEnv, lamAtom core.Atom, eff core.EffectName) (core.Atom, error) {
	outer, ok := lamAtom.(*core.Lam)
	if !ok {
		return nil, errors.Compiler("run primitive applied to non-lambda %s", lamAtom)
	}
	if len(outer.Body.Decls) != 0 {
		return nil, errors.NotImplemented("run body with region-level declarations")
	}
	res, ok := outer.Body.Result.(*core.AtomExpr)
	if !ok {
		return nil, errors.Compiler("run primitive body is not an atom")
	}
	inner, ok := res.Atom.(*core.Lam)
	if !ok {
		return nil, errors.Compiler("run primitive missing ref lambda")
	}
	refTy, ok := inner.Binder.Ty.(*core.RefTy)
	if !ok {
		return nil, errors.Compiler("run binder is not a ref: %s", inner.Binder.Ty)
	}
	return b.BuildLam(outer.Binder.Name.Hint, core.Arrow{Kind: core.ImplicitArrow}, &core.TypeKind{},
		func(rb *builder.Builder, r core.Atom) (core.Atom, error) {
			env2 := env.Copy()
			env2[outer.Binder.Name] = r
			payload, err := s.simplifyAtom(rb, env2, refTy.Ty)
			if err != nil {
				return nil, err
			}
			rv := r.(core.Var)
			row := core.Pure().Extend(rv.Name, core.RowEntry{Effect: eff, Ty: payload})
			return rb.BuildLam(inner.Binder.Name.Hint, core.PlainArr(row), &core.RefTy{Region: r, Ty: payload},
				func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
					env3 := env2.Copy()
					env3[inner.Binder.Name] = ref
					return s.simplifyBlock(ib, env3, inner.Body)
				})
		})
}
