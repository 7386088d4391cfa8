package autodiff

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// regionInfo describes one active effect region at a materialization
// point: the original ref binder it is keyed under, the effect it
// runs, and the tangent type of its payload.
type regionInfo struct {
	key      core.Name
	eff      core.EffectName
	payTanTy core.Type
}

// splitBinaryLam pulls apart the binary function of a RunX primitive:
// an outer lambda binding the region and an inner one binding the
// reference.
func splitBinaryLam(a core.Atom) (outer *core.Lam, inner *core.Lam, err error) {
	outer, ok := a.(*core.Lam)
	if !ok {
		return nil, nil, errors.Compiler("run primitive applied to non-lambda %s", a)
	}
	if len(outer.Body.Decls) != 0 {
		return nil, nil, errors.NotImplemented("effectful run body with region-level declarations")
	}
	res, ok := outer.Body.Result.(*core.AtomExpr)
	if !ok {
		return nil, nil, errors.Compiler("run primitive body is not an atom")
	}
	inner, ok = res.Atom.(*core.Lam)
	if !ok {
		return nil, nil, errors.Compiler("run primitive missing ref lambda")
	}
	return outer, inner, nil
}

func (ctx *linCtx) linHof(pb *builder.Builder, hof core.PrimHof) (linPair, error) {
	switch h := hof.(type) {
	case *core.For:
		return ctx.linFor(pb, h)
	case *core.RunWriter:
		return ctx.linRunWriter(pb, h)
	case *core.RunReader:
		return ctx.linRunReader(pb, h)
	default:
		return linPair{}, errors.NotImplemented("linearization of %T", hof)
	}
}

// linFor linearizes for d \i. body by storing, per index, the primal
// element next to the body's tangent function materialized as a
// lambda. The primal table projects the first components; the tangent
// rebuilds the for and applies each stored closure under the supplied
// tangents.
func (ctx *linCtx) linFor(pb *builder.Builder, h *core.For) (linPair, error) {
	lam, ok := h.Lam.(*core.Lam)
	if !ok {
		return linPair{}, errors.Compiler("for over non-lambda %s", h.Lam)
	}
	idxTy, err := ctx.subst(pb, lam.Binder.Ty)
	if err != nil {
		return linPair{}, err
	}
	outerWrt := append([]core.Var(nil), ctx.wrt...)
	outerRegions := append([]regionInfo(nil), ctx.regions...)

	bodyLam, err := pb.BuildLam(lam.Binder.Name.Hint, core.PlainArr(pb.Effects()), idxTy,
		func(fb *builder.Builder, iv core.Atom) (core.Atom, error) {
			ctx.primals[lam.Binder.Name] = iv
			lp, err := ctx.linBlock(fb, lam.Body)
			if err != nil {
				return nil, err
			}
			tanAtom, err := ctx.tangentFunAsLambda(fb, outerRegions, outerWrt, lp.tan)
			if err != nil {
				return nil, err
			}
			return &core.PairVal{Fst: lp.primal, Snd: tanAtom}, nil
		})
	if err != nil {
		return linPair{}, err
	}
	ctx.wrt = outerWrt
	ctx.regions = outerRegions

	pairs, err := pb.EmitHof(&core.For{Dir: h.Dir, Lam: bodyLam})
	if err != nil {
		return linPair{}, err
	}
	primal, err := pb.BuildFor(h.Dir, "i", idxTy, func(fb *builder.Builder, i core.Atom) (core.Atom, error) {
		p, err := fb.TabApp(pairs, i)
		if err != nil {
			return nil, err
		}
		return fb.Fst(p)
	})
	if err != nil {
		return linPair{}, err
	}
	dir := h.Dir
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		return tb.BuildFor(dir, "i", idxTy, func(fb *builder.Builder, i core.Atom) (core.Atom, error) {
			p, err := fb.TabApp(pairs, i)
			if err != nil {
				return nil, err
			}
			tl, err := fb.Snd(p)
			if err != nil {
				return nil, err
			}
			return applyTangentLambda(fb, tc, tl, outerRegions, outerWrt)
		})
	}
	return linPair{primal: primal, tan: tan}, nil
}

// linRunWriter linearizes the effectful binary function, runs
// RunWriter on the linearized version, and has the tangent pass rerun
// RunWriter against the tangent region.
func (ctx *linCtx) linRunWriter(pb *builder.Builder, h *core.RunWriter) (linPair, error) {
	outerLam, innerLam, err := splitBinaryLam(h.Lam)
	if err != nil {
		return linPair{}, err
	}
	refTy, ok := innerLam.Binder.Ty.(*core.RefTy)
	if !ok {
		return linPair{}, errors.Compiler("writer binder is not a ref")
	}
	payload, err := ctx.subst(pb, refTy.Ty)
	if err != nil {
		return linPair{}, err
	}
	payTan, err := TangentType(payload)
	if err != nil {
		return linPair{}, err
	}
	refKey := innerLam.Binder.Name
	outerWrt := append([]core.Var(nil), ctx.wrt...)
	outerRegions := append([]regionInfo(nil), ctx.regions...)
	innerRegions := append(append([]regionInfo(nil), outerRegions...),
		regionInfo{key: refKey, eff: core.Writer, payTanTy: payTan})

	newLam, err := ctx.buildLinearizedRunLam(pb, outerLam, innerLam, core.Writer, payload, innerRegions, outerWrt)
	if err != nil {
		return linPair{}, err
	}
	ctx.wrt = outerWrt
	ctx.regions = outerRegions

	res, err := pb.EmitHof(&core.RunWriter{Lam: newLam})
	if err != nil {
		return linPair{}, err
	}
	body, err := pb.Fst(res)
	if err != nil {
		return linPair{}, err
	}
	acc, err := pb.Snd(res)
	if err != nil {
		return linPair{}, err
	}
	primalVal, err := pb.Fst(body)
	if err != nil {
		return linPair{}, err
	}
	tanLamAtom, err := pb.Snd(body)
	if err != nil {
		return linPair{}, err
	}
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		runLam, err := ctx.buildTangentRunLam(tb, tc, tanLamAtom, refKey, core.Writer, payTan, innerRegions, outerWrt)
		if err != nil {
			return nil, err
		}
		return tb.EmitHof(&core.RunWriter{Lam: runLam})
	}
	return linPair{primal: &core.PairVal{Fst: primalVal, Snd: acc}, tan: tan}, nil
}

// linRunReader supplies the linearized reader value; the tangent pass
// reruns the reader with the value's tangent.
func (ctx *linCtx) linRunReader(pb *builder.Builder, h *core.RunReader) (linPair, error) {
	outerLam, innerLam, err := splitBinaryLam(h.Lam)
	if err != nil {
		return linPair{}, err
	}
	refTy, ok := innerLam.Binder.Ty.(*core.RefTy)
	if !ok {
		return linPair{}, errors.Compiler("reader binder is not a ref")
	}
	rl, err := ctx.linAtom(pb, h.R)
	if err != nil {
		return linPair{}, err
	}
	payload, err := ctx.subst(pb, refTy.Ty)
	if err != nil {
		return linPair{}, err
	}
	payTan, err := TangentType(payload)
	if err != nil {
		return linPair{}, err
	}
	refKey := innerLam.Binder.Name
	outerWrt := append([]core.Var(nil), ctx.wrt...)
	outerRegions := append([]regionInfo(nil), ctx.regions...)
	innerRegions := append(append([]regionInfo(nil), outerRegions...),
		regionInfo{key: refKey, eff: core.Reader, payTanTy: payTan})

	newLam, err := ctx.buildLinearizedRunLam(pb, outerLam, innerLam, core.Reader, payload, innerRegions, outerWrt)
	if err != nil {
		return linPair{}, err
	}
	ctx.wrt = outerWrt
	ctx.regions = outerRegions

	res, err := pb.EmitHof(&core.RunReader{R: rl.primal, Lam: newLam})
	if err != nil {
		return linPair{}, err
	}
	primalVal, err := pb.Fst(res)
	if err != nil {
		return linPair{}, err
	}
	tanLamAtom, err := pb.Snd(res)
	if err != nil {
		return linPair{}, err
	}
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		rt, err := rl.tan(tb, tc)
		if err != nil {
			return nil, err
		}
		runLam, err := ctx.buildTangentRunLam(tb, tc, tanLamAtom, refKey, core.Reader, payTan, innerRegions, outerWrt)
		if err != nil {
			return nil, err
		}
		return tb.EmitHof(&core.RunReader{R: rt, Lam: runLam})
	}
	return linPair{primal: primalVal, tan: tan}, nil
}

// buildLinearizedRunLam rebuilds the binary function of a RunX
// primitive so its body yields (primal, materialized tangent).
func (ctx *linCtx) buildLinearizedRunLam(pb *builder.Builder, outerLam, innerLam *core.Lam, eff core.EffectName, payload core.Type, innerRegions []regionInfo, outerWrt []core.Var) (core.Atom, error) {
	refKey := innerLam.Binder.Name
	return pb.BuildLam(outerLam.Binder.Name.Hint, core.Arrow{Kind: core.ImplicitArrow}, &core.TypeKind{},
		func(rb *builder.Builder, r core.Atom) (core.Atom, error) {
			rv := r.(core.Var)
			row := core.Pure().Extend(rv.Name, core.RowEntry{Effect: eff, Ty: payload})
			return rb.BuildLam(innerLam.Binder.Name.Hint, core.PlainArr(row), &core.RefTy{Region: r, Ty: payload},
				func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
					ctx.primals[outerLam.Binder.Name] = r
					ctx.primals[refKey] = ref
					ctx.refTans[refKey] = func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
						rt, ok := tc.refs[refKey]
						if !ok {
							return nil, errors.Compiler("no tangent ref for region %v", refKey)
						}
						return rt, nil
					}
					ctx.regions = innerRegions
					lp, err := ctx.linBlock(ib, innerLam.Body)
					if err != nil {
						return nil, err
					}
					tanAtom, err := ctx.tangentFunAsLambda(ib, innerRegions, outerWrt, lp.tan)
					if err != nil {
						return nil, err
					}
					return &core.PairVal{Fst: lp.primal, Snd: tanAtom}, nil
				})
		})
}

// buildTangentRunLam rebuilds the binary function for the tangent
// rerun of a RunX primitive, routing the fresh tangent ref to the
// stored tangent lambda.
func (ctx *linCtx) buildTangentRunLam(tb *builder.Builder, tc *tanCtx, tanLamAtom core.Atom, refKey core.Name, eff core.EffectName, payTan core.Type, innerRegions []regionInfo, outerWrt []core.Var) (core.Atom, error) {
	return tb.BuildLam("r", core.Arrow{Kind: core.ImplicitArrow}, &core.TypeKind{},
		func(rb *builder.Builder, r core.Atom) (core.Atom, error) {
			rv := r.(core.Var)
			row := core.Pure().Extend(rv.Name, core.RowEntry{Effect: eff, Ty: payTan})
			return rb.BuildLam("ref", core.PlainArr(row), &core.RefTy{Region: r, Ty: payTan},
				func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
					tc2 := tc.child()
					tc2.refs[refKey] = ref
					return applyTangentLambda(ib, tc2, tanLamAtom, innerRegions, outerWrt)
				})
		})
}

// tangentFunAsLambda materializes a delayed tangent computation as an
// atom: nested lambdas over the active region binders (as tangent
// reference types) and the tangents of the differentiation variables,
// closed by a unit arrow carrying the tangent effect row.
func (ctx *linCtx) tangentFunAsLambda(fb *builder.Builder, regions []regionInfo, wrt []core.Var, tan tanFn) (core.Atom, error) {
	var build func(b *builder.Builder, i int, tc *tanCtx) (core.Atom, error)
	build = func(b *builder.Builder, i int, tc *tanCtx) (core.Atom, error) {
		if i < len(regions) {
			ri := regions[i]
			return b.BuildLam("h", core.Arrow{Kind: core.ImplicitArrow}, &core.TypeKind{},
				func(rb *builder.Builder, r core.Atom) (core.Atom, error) {
					return rb.BuildLam("tref", core.PureArr(), &core.RefTy{Region: r, Ty: ri.payTanTy},
						func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
							tc2 := tc.child()
							tc2.refs[ri.key] = ref
							return build(ib, i+1, tc2)
						})
				})
		}
		j := i - len(regions)
		if j < len(wrt) {
			v := wrt[j]
			tanTy, err := TangentType(v.Ty)
			if err != nil {
				return nil, err
			}
			return b.BuildLam("t", core.PureArr(), tanTy,
				func(ib *builder.Builder, t core.Atom) (core.Atom, error) {
					tc2 := tc.child()
					tc2.tangents[v.Name] = t
					return build(ib, i+1, tc2)
				})
		}
		row := core.Pure()
		for _, ri := range regions {
			ref, ok := tc.refs[ri.key]
			if !ok {
				return nil, errors.Compiler("missing tangent ref binder for %v", ri.key)
			}
			refTy, err := core.TypeOf(ref)
			if err != nil {
				return nil, err
			}
			region, ok := refTy.(*core.RefTy).Region.(core.Var)
			if !ok {
				return nil, errors.Compiler("tangent ref region is not a variable")
			}
			row = row.Extend(region.Name, core.RowEntry{Effect: ri.eff, Ty: ri.payTanTy})
		}
		return b.BuildLam("u", core.PlainArr(row), &core.UnitTy{},
			func(ib *builder.Builder, _ core.Atom) (core.Atom, error) {
				return tan(ib, tc)
			})
	}
	return build(fb, 0, &tanCtx{tangents: map[core.Name]core.Atom{}, refs: map[core.Name]core.Atom{}})
}

// applyTangentLambda applies a materialized tangent lambda to the
// tangent refs and tangents currently in scope, then to unit.
func applyTangentLambda(tb *builder.Builder, tc *tanCtx, lam core.Atom, regions []regionInfo, wrt []core.Var) (core.Atom, error) {
	cur := lam
	var err error
	for _, ri := range regions {
		ref, ok := tc.refs[ri.key]
		if !ok {
			return nil, errors.Compiler("no tangent ref for %v at application", ri.key)
		}
		refTy, tyErr := core.TypeOf(ref)
		if tyErr != nil {
			return nil, tyErr
		}
		rt, ok := refTy.(*core.RefTy)
		if !ok {
			return nil, errors.Compiler("tangent ref has non-ref type %s", refTy)
		}
		cur, err = tb.App(cur, rt.Region)
		if err != nil {
			return nil, err
		}
		cur, err = tb.App(cur, ref)
		if err != nil {
			return nil, err
		}
	}
	for _, v := range wrt {
		t, ok := tc.tangents[v.Name]
		if !ok {
			return nil, errors.Compiler("no tangent for %v at application", v.Name)
		}
		cur, err = tb.App(cur, t)
		if err != nil {
			return nil, err
		}
	}
	return tb.App(cur, &core.UnitVal{})
}
