package autodiff

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// transposeCtx carries the reverse pass state: Writer references for
// the linear variables, substitutions for the non-linear ones, and
// the role each transposed effect region played in the forward code.
type transposeCtx struct {
	linRefs    map[core.Name]core.Atom
	substEnv   core.SubstEnv
	regionMode map[core.Name]core.EffectName // new region name -> original effect
	linRegions map[core.Name]bool            // original region names under transposition
}

// Transpose converts a linear function a --o b into b --o a: given a
// cotangent of the result it accumulates the cotangent of the
// argument through a Writer reference.
func Transpose(b *builder.Builder, lam *core.Lam) (core.Atom, error) {
	lamTy, err := core.TypeOf(lam)
	if err != nil {
		return nil, err
	}
	pi, ok := lamTy.(*core.Pi)
	if !ok {
		return nil, errors.Compiler("transposing non-function %s", lamTy)
	}
	return b.BuildLam("ct", core.LinArr(), pi.Result,
		func(tb *builder.Builder, ct core.Atom) (core.Atom, error) {
			ctx := &transposeCtx{
				linRefs:    map[core.Name]core.Atom{},
				substEnv:   core.SubstEnv{},
				regionMode: map[core.Name]core.EffectName{},
				linRegions: map[core.Name]bool{},
			}
			pair, err := emitRunWriter(tb, "w", lam.Binder.Ty,
				func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
					ctx.linRefs[lam.Binder.Name] = ref
					if err := ctx.transposeBlock(ib, lam.Body.Decls, lam.Body.Result, ct); err != nil {
						return nil, err
					}
					return &core.UnitVal{}, nil
				})
			if err != nil {
				return nil, err
			}
			return tb.Snd(pair)
		})
}

// emitRunWriter runs a fresh Writer region over a payload type.
func emitRunWriter(b *builder.Builder, hint string, payload core.Type, body func(*builder.Builder, core.Atom) (core.Atom, error)) (core.Atom, error) {
	lam, err := buildRunLam(b, hint, core.Writer, payload, body)
	if err != nil {
		return nil, err
	}
	return b.EmitHof(&core.RunWriter{Lam: lam})
}

// buildRunLam builds the binary region/ref function every RunX
// primitive takes.
func buildRunLam(b *builder.Builder, hint string, eff core.EffectName, payload core.Type, body func(*builder.Builder, core.Atom) (core.Atom, error)) (core.Atom, error) {
	return b.BuildLam(hint, core.Arrow{Kind: core.ImplicitArrow}, &core.TypeKind{},
		func(rb *builder.Builder, r core.Atom) (core.Atom, error) {
			rv := r.(core.Var)
			row := core.Pure().Extend(rv.Name, core.RowEntry{Effect: eff, Ty: payload})
			return rb.BuildLam("ref", core.PlainArr(row), &core.RefTy{Region: r, Ty: payload}, body)
		})
}

// subst closes an atom over the non-linear substitutions.
func (ctx *transposeCtx) subst(b *builder.Builder, a core.Atom) (core.Atom, error) {
	return core.SubstAtom(ctx.substEnv, b.Scope(), a)
}

// isLinear reports whether an expression depends on a linear variable
// or performs an effect on a region under transposition.
func (ctx *transposeCtx) isLinear(e core.Expr) bool {
	for name := range core.FreeVarsExpr(e) {
		if _, ok := ctx.linRefs[name]; ok {
			return true
		}
	}
	if eff, err := exprEffectsUnder(e, ctx.substEnv); err == nil {
		for region := range eff.Effects {
			if ctx.linRegions[region] {
				return true
			}
		}
	}
	return false
}

// exprEffectsUnder reads an expression's effect row. Region names in
// the row are the forward code's names, which is what linRegions is
// keyed by.
func exprEffectsUnder(e core.Expr, _ core.SubstEnv) (core.EffectRow, error) {
	return core.ExprEffects(e)
}

// transposeBlock walks declarations forward but transposes their
// contributions back-to-front: a linear binding gets a Writer
// reference, the rest of the block runs inside that region, and the
// accumulated cotangent is finally routed into the binding's
// expression.
func (ctx *transposeCtx) transposeBlock(b *builder.Builder, decls []core.Decl, result core.Expr, ct core.Atom) error {
	if len(decls) == 0 {
		return ctx.transposeExpr(b, result, ct)
	}
	let, ok := decls[0].(*core.LetDecl)
	if !ok {
		return errors.NotImplemented("transposition of unpack declarations")
	}
	rest := decls[1:]
	if !ctx.isLinear(let.Bound) {
		bound, err := core.SubstExpr(ctx.substEnv, b.Scope(), let.Bound)
		if err != nil {
			return err
		}
		val, err := b.Emit(bound)
		if err != nil {
			return err
		}
		ctx.substEnv[let.Binder.Name] = val
		return ctx.transposeBlock(b, rest, result, ct)
	}
	binderTy, err := ctx.subst(b, let.Binder.Ty)
	if err != nil {
		return err
	}
	pair, err := emitRunWriter(b, let.Binder.Name.Hint, binderTy,
		func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
			ctx.linRefs[let.Binder.Name] = ref
			if err := ctx.transposeBlock(ib, rest, result, ct); err != nil {
				return nil, err
			}
			return &core.UnitVal{}, nil
		})
	if err != nil {
		return err
	}
	ctB, err := b.Snd(pair)
	if err != nil {
		return err
	}
	return ctx.transposeExpr(b, let.Bound, ctB)
}

func (ctx *transposeCtx) transposeExpr(b *builder.Builder, e core.Expr, ct core.Atom) error {
	switch x := e.(type) {
	case *core.AtomExpr:
		return ctx.transposeAtom(b, x.Atom, ct)
	case *core.App:
		return ctx.transposeApp(b, x, ct)
	case *core.OpExpr:
		return ctx.transposeOp(b, x.Op, ct)
	case *core.HofExpr:
		return ctx.transposeHof(b, x.Hof, ct)
	default:
		return errors.NotImplemented("transposition of %T", e)
	}
}

// transposeApp routes a cotangent for one table element into the
// corresponding slice of the table's reference.
func (ctx *transposeCtx) transposeApp(b *builder.Builder, app *core.App, ct core.Atom) error {
	if app.Arrow.Kind != core.TabArrow {
		return errors.NotImplemented("transposition of %s application", app.Arrow)
	}
	v, ok := app.Fun.(core.Var)
	if !ok {
		return errors.Linearity("table in linear position is not a variable: %s", app.Fun)
	}
	ref, ok := ctx.linRefs[v.Name]
	if !ok {
		return errors.Linearity("table %s is not linear", v)
	}
	idx, err := ctx.subst(b, app.Arg)
	if err != nil {
		return err
	}
	subRef, err := b.EmitOp(&core.IndexRef{Ref: ref, Idx: idx})
	if err != nil {
		return err
	}
	_, err = b.EmitOp(&core.PrimEffect{Ref: subRef, Op: core.MTell{X: ct}})
	return err
}

func (ctx *transposeCtx) transposeOp(b *builder.Builder, op core.PrimOp, ct core.Atom) error {
	switch o := op.(type) {
	case *core.ScalarBinOp:
		return ctx.transposeBinOp(b, o, ct)
	case *core.ScalarUnOp:
		if o.Op != core.FNeg {
			return errors.Linearity("non-linear operation %s in linear position", op)
		}
		neg, err := b.UnOp(core.FNeg, ct)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.X, neg)
	case *core.Fst:
		zero, err := cotangentZeroFor(b, o.Pair, ctx, false)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.Pair, &core.PairVal{Fst: ct, Snd: zero})
	case *core.Snd:
		zero, err := cotangentZeroFor(b, o.Pair, ctx, true)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.Pair, &core.PairVal{Fst: zero, Snd: ct})
	case *core.PrimEffect:
		return ctx.transposeEffect(b, o, ct)
	default:
		return errors.NotImplemented("transposition of op %T", op)
	}
}

// cotangentZeroFor builds the zero for the other half of a projected
// pair.
func cotangentZeroFor(b *builder.Builder, pair core.Atom, ctx *transposeCtx, fstHalf bool) (core.Atom, error) {
	p, err := ctx.subst(b, pair)
	if err != nil {
		// The pair is linear, so it has no substitution; fall back
		// to its annotated type.
		p = pair
	}
	ty, err := core.TypeOf(p)
	if err != nil {
		return nil, err
	}
	pt, ok := ty.(*core.PairTy)
	if !ok {
		return nil, errors.Compiler("projection from non-pair type %s", ty)
	}
	if fstHalf {
		return ZeroAt(pt.Fst)
	}
	return ZeroAt(pt.Snd)
}

func (ctx *transposeCtx) transposeBinOp(b *builder.Builder, o *core.ScalarBinOp, ct core.Atom) error {
	xLin := ctx.atomIsLinear(o.X)
	yLin := ctx.atomIsLinear(o.Y)
	switch o.Op {
	case core.FAdd:
		if err := ctx.transposeAtom(b, o.X, ct); err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.Y, ct)
	case core.FSub:
		if err := ctx.transposeAtom(b, o.X, ct); err != nil {
			return err
		}
		neg, err := b.UnOp(core.FNeg, ct)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.Y, neg)
	case core.FMul:
		if xLin && yLin {
			return errors.Linearity("product of two linear factors: %s", o)
		}
		if xLin {
			y, err := ctx.subst(b, o.Y)
			if err != nil {
				return err
			}
			ct2, err := b.BinOp(core.FMul, ct, y)
			if err != nil {
				return err
			}
			return ctx.transposeAtom(b, o.X, ct2)
		}
		x, err := ctx.subst(b, o.X)
		if err != nil {
			return err
		}
		ct2, err := b.BinOp(core.FMul, x, ct)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.Y, ct2)
	case core.FDiv:
		if yLin {
			return errors.Linearity("linear denominator in %s", o)
		}
		y, err := ctx.subst(b, o.Y)
		if err != nil {
			return err
		}
		ct2, err := b.BinOp(core.FDiv, ct, y)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, o.X, ct2)
	default:
		return errors.Linearity("non-linear operation %s in linear position", o)
	}
}

func (ctx *transposeCtx) atomIsLinear(a core.Atom) bool {
	for name := range core.FreeVars(a) {
		if _, ok := ctx.linRefs[name]; ok {
			return true
		}
	}
	return false
}

// transposeEffect flips the role of an effect operation against a
// transposed region: reads become accumulations and accumulations
// become reads.
func (ctx *transposeCtx) transposeEffect(b *builder.Builder, o *core.PrimEffect, ct core.Atom) error {
	ref, err := ctx.subst(b, o.Ref)
	if err != nil {
		return err
	}
	refTy, err := core.TypeOf(ref)
	if err != nil {
		return err
	}
	rt, ok := refTy.(*core.RefTy)
	if !ok {
		return errors.Compiler("effect op on non-ref %s", refTy)
	}
	region, ok := rt.Region.(core.Var)
	if !ok {
		return errors.Compiler("ref region is not a variable")
	}
	mode, ok := ctx.regionMode[region.Name]
	if !ok {
		return errors.Linearity("effect on region %s outside transposition", region)
	}
	switch mode {
	case core.Reader:
		if _, isAsk := o.Op.(core.MAsk); !isAsk {
			return errors.Compiler("reader region saw %s", o.Op)
		}
		_, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MTell{X: ct}})
		return err
	case core.Writer:
		tell, isTell := o.Op.(core.MTell)
		if !isTell {
			return errors.Compiler("writer region saw %s", o.Op)
		}
		v, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MAsk{}})
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, tell.X, v)
	default:
		switch eop := o.Op.(type) {
		case core.MGet:
			v, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MGet{}})
			if err != nil {
				return err
			}
			sum, err := AddAt(b, rt.Ty, v, ct)
			if err != nil {
				return err
			}
			_, err = b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MPut{X: sum}})
			return err
		case core.MPut:
			v, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MGet{}})
			if err != nil {
				return err
			}
			zero, err := ZeroAt(rt.Ty)
			if err != nil {
				return err
			}
			if _, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MPut{X: zero}}); err != nil {
				return err
			}
			return ctx.transposeAtom(b, eop.X, v)
		default:
			return errors.Compiler("state region saw %s", o.Op)
		}
	}
}

func (ctx *transposeCtx) transposeHof(b *builder.Builder, hof core.PrimHof, ct core.Atom) error {
	switch h := hof.(type) {
	case *core.For:
		lam, ok := h.Lam.(*core.Lam)
		if !ok {
			return errors.Compiler("for over non-lambda")
		}
		idxTy, err := ctx.subst(b, lam.Binder.Ty)
		if err != nil {
			return err
		}
		_, err = b.BuildFor(h.Dir.Flip(), lam.Binder.Name.Hint, idxTy,
			func(fb *builder.Builder, i core.Atom) (core.Atom, error) {
				cti, err := fb.TabApp(ct, i)
				if err != nil {
					return nil, err
				}
				ctx.substEnv[lam.Binder.Name] = i
				if err := ctx.transposeBlock(fb, lam.Body.Decls, lam.Body.Result, cti); err != nil {
					return nil, err
				}
				return &core.UnitVal{}, nil
			})
		return err
	case *core.RunReader:
		outer, inner, err := splitBinaryLam(h.Lam)
		if err != nil {
			return err
		}
		refTy := inner.Binder.Ty.(*core.RefTy)
		payload, err := ctx.subst(b, refTy.Ty)
		if err != nil {
			return err
		}
		pair, err := emitRunWriter(b, outer.Binder.Name.Hint, payload,
			func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
				ctx.bindTransposedRegion(inner.Binder.Name, outer.Binder.Name, ref, core.Reader)
				if err := ctx.transposeBlock(ib, inner.Body.Decls, inner.Body.Result, ct); err != nil {
					return nil, err
				}
				return &core.UnitVal{}, nil
			})
		if err != nil {
			return err
		}
		acc, err := b.Snd(pair)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, h.R, acc)
	case *core.RunWriter:
		outer, inner, err := splitBinaryLam(h.Lam)
		if err != nil {
			return err
		}
		refTy := inner.Binder.Ty.(*core.RefTy)
		payload, err := ctx.subst(b, refTy.Ty)
		if err != nil {
			return err
		}
		ctAns, err := b.Fst(ct)
		if err != nil {
			return err
		}
		ctAcc, err := b.Snd(ct)
		if err != nil {
			return err
		}
		lam, err := buildRunLam(b, outer.Binder.Name.Hint, core.Reader, payload,
			func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
				ctx.bindTransposedRegion(inner.Binder.Name, outer.Binder.Name, ref, core.Writer)
				if err := ctx.transposeBlock(ib, inner.Body.Decls, inner.Body.Result, ctAns); err != nil {
					return nil, err
				}
				return &core.UnitVal{}, nil
			})
		if err != nil {
			return err
		}
		_, err = b.EmitHof(&core.RunReader{R: ctAcc, Lam: lam})
		return err
	case *core.RunState:
		outer, inner, err := splitBinaryLam(h.Lam)
		if err != nil {
			return err
		}
		refTy := inner.Binder.Ty.(*core.RefTy)
		payload, err := ctx.subst(b, refTy.Ty)
		if err != nil {
			return err
		}
		ctAns, err := b.Fst(ct)
		if err != nil {
			return err
		}
		ctState, err := b.Snd(ct)
		if err != nil {
			return err
		}
		lam, err := buildRunLam(b, outer.Binder.Name.Hint, core.State, payload,
			func(ib *builder.Builder, ref core.Atom) (core.Atom, error) {
				ctx.bindTransposedRegion(inner.Binder.Name, outer.Binder.Name, ref, core.State)
				if err := ctx.transposeBlock(ib, inner.Body.Decls, inner.Body.Result, ctAns); err != nil {
					return nil, err
				}
				return &core.UnitVal{}, nil
			})
		if err != nil {
			return err
		}
		res, err := b.EmitHof(&core.RunState{S: ctState, Lam: lam})
		if err != nil {
			return err
		}
		finalCt, err := b.Snd(res)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, h.S, finalCt)
	default:
		return errors.NotImplemented("transposition of %T", hof)
	}
}

// bindTransposedRegion substitutes the forward ref with the new one
// and records both the region's transposed role and the forward
// region name as linear.
func (ctx *transposeCtx) bindTransposedRegion(refName, origRegion core.Name, newRef core.Atom, mode core.EffectName) {
	ctx.substEnv[refName] = newRef
	refTy, err := core.TypeOf(newRef)
	if err == nil {
		if rt, ok := refTy.(*core.RefTy); ok {
			if region, ok := rt.Region.(core.Var); ok {
				ctx.regionMode[region.Name] = mode
			}
		}
	}
	ctx.linRegions[origRegion] = true
}

// transposeAtom routes a cotangent into an atom in linear position:
// linear variables accumulate through their Writer reference,
// structured values project component-wise, and constants absorb
// their cotangent.
func (ctx *transposeCtx) transposeAtom(b *builder.Builder, a core.Atom, ct core.Atom) error {
	switch x := a.(type) {
	case core.Var:
		if ref, ok := ctx.linRefs[x.Name]; ok {
			_, err := b.EmitOp(&core.PrimEffect{Ref: ref, Op: core.MTell{X: ct}})
			return err
		}
		return nil
	case *core.Lit, *core.UnitVal:
		return nil
	case *core.PairVal:
		ctf, err := b.Fst(ct)
		if err != nil {
			return err
		}
		if err := ctx.transposeAtom(b, x.Fst, ctf); err != nil {
			return err
		}
		cts, err := b.Snd(ct)
		if err != nil {
			return err
		}
		return ctx.transposeAtom(b, x.Snd, cts)
	case *core.RecVal:
		for _, label := range x.Rec.Labels() {
			field, _ := x.Rec.Field(label)
			ctf, err := b.EmitOp(&core.RecGet{Rec: ct, Label: label})
			if err != nil {
				return err
			}
			if err := ctx.transposeAtom(b, field, ctf); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Linearity("cannot route cotangent into %s", a)
	}
}
