package autodiff

import (
	"github.com/operskoj2c/dex-lang/internal/builder"
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// tanCtx supplies the delayed tangent computation with the tangent
// values of the variables being differentiated against and the
// tangent references of the active effect regions.
type tanCtx struct {
	tangents map[core.Name]core.Atom
	refs     map[core.Name]core.Atom
}

func (tc *tanCtx) child() *tanCtx {
	out := &tanCtx{
		tangents: make(map[core.Name]core.Atom, len(tc.tangents)),
		refs:     make(map[core.Name]core.Atom, len(tc.refs)),
	}
	for k, v := range tc.tangents {
		out.tangents[k] = v
	}
	for k, v := range tc.refs {
		out.refs[k] = v
	}
	return out
}

// tanFn is a delayed tangent computation: run in the embedding
// builder of the tangent pass, it produces the tangent value.
type tanFn func(tb *builder.Builder, tc *tanCtx) (core.Atom, error)

// linPair is the result of linearizing one node: the primal value and
// its delayed tangent.
type linPair struct {
	primal core.Atom
	tan    tanFn
}

// linCtx tracks which variables are being differentiated with respect
// to, their primal substitutions, and the effect regions linearization
// operates under.
type linCtx struct {
	rules   map[core.Name]core.Atom
	primals core.SubstEnv
	active  map[core.Name]bool
	wrt     []core.Var   // ordered; types already primal-substituted
	regions []regionInfo // active effect regions, ordered
	refTans map[core.Name]tanFn
}

// Linearize transforms λb. block into λb. (primal, λt. tangent): the
// primal result paired with a linear map from a tangent of b to a
// tangent of the result.
func Linearize(b *builder.Builder, lam *core.Lam, rules map[core.Name]core.Atom) (core.Atom, error) {
	return b.BuildLam(lam.Binder.Name.Hint, core.PureArr(), lam.Binder.Ty,
		func(pb *builder.Builder, x core.Atom) (core.Atom, error) {
			xv := x.(core.Var)
			// The body is walked with its source names; the
			// differentiation state is keyed by them, with the fresh
			// binder supplied through the primal substitution.
			src := lam.Binder.Name
			ctx := &linCtx{
				rules:   rules,
				primals: core.SubstEnv{src: x},
				active:  map[core.Name]bool{src: true},
				wrt:     []core.Var{{Name: src, Ty: xv.Ty}},
				refTans: map[core.Name]tanFn{},
			}
			lp, err := ctx.linBlock(pb, lam.Body)
			if err != nil {
				return nil, err
			}
			tanTy, err := TangentType(xv.Ty)
			if err != nil {
				return nil, err
			}
			tanLam, err := pb.BuildLam("t", core.LinArr(), tanTy,
				func(tb *builder.Builder, t core.Atom) (core.Atom, error) {
					tc := &tanCtx{
						tangents: map[core.Name]core.Atom{src: t},
						refs:     map[core.Name]core.Atom{},
					}
					return lp.tan(tb, tc)
				})
			if err != nil {
				return nil, err
			}
			return &core.PairVal{Fst: lp.primal, Snd: tanLam}, nil
		})
}

// subst closes an atom over the primal substitutions.
func (ctx *linCtx) subst(pb *builder.Builder, a core.Atom) (core.Atom, error) {
	return core.SubstAtom(ctx.primals, pb.Scope(), a)
}

// linBlock linearizes declarations in order, remembering a tangent
// computation per binder; the block's tangent replays them in the
// same order before computing the result tangent.
func (ctx *linCtx) linBlock(pb *builder.Builder, block *core.Block) (linPair, error) {
	type entry struct {
		name  core.Name
		isRef bool
		tan   tanFn
	}
	var entries []entry
	for _, d := range block.Decls {
		let, ok := d.(*core.LetDecl)
		if !ok {
			return linPair{}, errors.NotImplemented("linearization of unpack declarations")
		}
		lp, err := ctx.linExpr(pb, let.Bound)
		if err != nil {
			return linPair{}, err
		}
		ctx.primals[let.Binder.Name] = lp.primal
		ty, err := ctx.subst(pb, let.Binder.Ty)
		if err != nil {
			return linPair{}, err
		}
		if _, isRef := ty.(*core.RefTy); isRef {
			ctx.refTans[let.Binder.Name] = lp.tan
			entries = append(entries, entry{name: let.Binder.Name, isRef: true, tan: lp.tan})
			continue
		}
		if core.IsData(ty) {
			ctx.active[let.Binder.Name] = true
			ctx.wrt = append(ctx.wrt, core.Var{Name: let.Binder.Name, Ty: ty})
			entries = append(entries, entry{name: let.Binder.Name, tan: lp.tan})
		}
	}
	result, err := ctx.linExpr(pb, block.Result)
	if err != nil {
		return linPair{}, err
	}
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		for _, e := range entries {
			t, err := e.tan(tb, tc)
			if err != nil {
				return nil, err
			}
			if e.isRef {
				tc.refs[e.name] = t
			} else {
				tc.tangents[e.name] = t
			}
		}
		return result.tan(tb, tc)
	}
	return linPair{primal: result.primal, tan: tan}, nil
}

func (ctx *linCtx) linExpr(pb *builder.Builder, e core.Expr) (linPair, error) {
	switch x := e.(type) {
	case *core.AtomExpr:
		return ctx.linAtom(pb, x.Atom)
	case *core.App:
		return ctx.linApp(pb, x)
	case *core.OpExpr:
		return ctx.linOp(pb, x.Op)
	case *core.HofExpr:
		return ctx.linHof(pb, x.Hof)
	default:
		return linPair{}, errors.NotImplemented("linearization of %T", e)
	}
}

func (ctx *linCtx) linApp(pb *builder.Builder, app *core.App) (linPair, error) {
	if f, ok := app.Fun.(core.Var); ok && ctx.rules != nil {
		if rule, ok := ctx.rules[f.Name]; ok {
			return ctx.linRuleApp(pb, rule, app.Arg)
		}
	}
	if app.Arrow.Kind != core.TabArrow {
		return linPair{}, errors.NotImplemented("linearization of %s application", app.Arrow)
	}
	fl, err := ctx.linAtom(pb, app.Fun)
	if err != nil {
		return linPair{}, err
	}
	idx, err := ctx.subst(pb, app.Arg)
	if err != nil {
		return linPair{}, err
	}
	primal, err := pb.TabApp(fl.primal, idx)
	if err != nil {
		return linPair{}, err
	}
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		ft, err := fl.tan(tb, tc)
		if err != nil {
			return nil, err
		}
		return tb.TabApp(ft, idx)
	}
	return linPair{primal: primal, tan: tan}, nil
}

// linRuleApp applies a registered derivative rule f' : a -> (b, a --o b)
// in place of linearizing f's body.
func (ctx *linCtx) linRuleApp(pb *builder.Builder, rule core.Atom, arg core.Atom) (linPair, error) {
	al, err := ctx.linAtom(pb, arg)
	if err != nil {
		return linPair{}, err
	}
	pair, err := pb.App(rule, al.primal)
	if err != nil {
		return linPair{}, err
	}
	primal, err := pb.Fst(pair)
	if err != nil {
		return linPair{}, err
	}
	linFn, err := pb.Snd(pair)
	if err != nil {
		return linPair{}, err
	}
	tan := func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		at, err := al.tan(tb, tc)
		if err != nil {
			return nil, err
		}
		return tb.App(linFn, at)
	}
	return linPair{primal: primal, tan: tan}, nil
}

func (ctx *linCtx) linAtom(pb *builder.Builder, a core.Atom) (linPair, error) {
	switch x := a.(type) {
	case core.Var:
		primal, err := ctx.subst(pb, a)
		if err != nil {
			return linPair{}, err
		}
		if ctx.active[x.Name] {
			name := x.Name
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				t, ok := tc.tangents[name]
				if !ok {
					return nil, errors.Compiler("no tangent supplied for %v", name)
				}
				return t, nil
			}}, nil
		}
		if _, isRef := ctx.refTans[x.Name]; isRef {
			name := x.Name
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				r, ok := tc.refs[name]
				if !ok {
					return nil, errors.Compiler("no tangent ref for %v", name)
				}
				return r, nil
			}}, nil
		}
		ty, err := core.TypeOf(primal)
		if err != nil {
			return linPair{}, err
		}
		return ctx.zeroPair(primal, ty)
	case *core.Lit:
		return ctx.zeroPair(x, &core.BaseTy{Ty: x.Val.BaseType()})
	case *core.UnitVal:
		return linPair{primal: x, tan: constTan(&core.UnitVal{})}, nil
	case *core.PairVal:
		fl, err := ctx.linAtom(pb, x.Fst)
		if err != nil {
			return linPair{}, err
		}
		sl, err := ctx.linAtom(pb, x.Snd)
		if err != nil {
			return linPair{}, err
		}
		return linPair{
			primal: &core.PairVal{Fst: fl.primal, Snd: sl.primal},
			tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				ft, err := fl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				st, err := sl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				return &core.PairVal{Fst: ft, Snd: st}, nil
			},
		}, nil
	case *core.RecVal:
		pairs := map[string]linPair{}
		primalRec, err := x.Rec.Zip(x.Rec, func(label string, f, _ core.Atom) (core.Atom, error) {
			lp, err := ctx.linAtom(pb, f)
			if err != nil {
				return nil, err
			}
			pairs[label] = lp
			return lp.primal, nil
		})
		if err != nil {
			return linPair{}, err
		}
		rec := x.Rec
		return linPair{
			primal: &core.RecVal{Rec: primalRec},
			tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				tanRec, err := rec.Zip(rec, func(label string, _, _ core.Atom) (core.Atom, error) {
					return pairs[label].tan(tb, tc)
				})
				if err != nil {
					return nil, err
				}
				return &core.RecVal{Rec: tanRec}, nil
			},
		}, nil
	case *core.AFor:
		bl, err := ctx.linAtom(pb, x.Body)
		if err != nil {
			return linPair{}, err
		}
		idxTy, err := ctx.subst(pb, x.IdxTy)
		if err != nil {
			return linPair{}, err
		}
		return linPair{
			primal: &core.AFor{IdxTy: idxTy, Body: bl.primal},
			tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				bt, err := bl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				return &core.AFor{IdxTy: idxTy, Body: bt}, nil
			},
		}, nil
	case *core.SumVal, *core.IntRangeVal, *core.IndexRangeVal, *core.CharLit, *core.ArrayVal:
		primal, err := ctx.subst(pb, a)
		if err != nil {
			return linPair{}, err
		}
		ty, err := core.TypeOf(primal)
		if err != nil {
			return linPair{}, err
		}
		return ctx.zeroPair(primal, ty)
	default:
		// Types and effect rows in term position carry no tangent.
		if _, isTC := a.(core.PrimTC); isTC {
			primal, err := ctx.subst(pb, a)
			if err != nil {
				return linPair{}, err
			}
			return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
		}
		if _, isPi := a.(*core.Pi); isPi {
			primal, err := ctx.subst(pb, a)
			if err != nil {
				return linPair{}, err
			}
			return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
		}
		return linPair{}, errors.NotImplemented("linearization of atom %T", a)
	}
}

func constTan(a core.Atom) tanFn {
	return func(*builder.Builder, *tanCtx) (core.Atom, error) { return a, nil }
}

// zeroPair wraps a value that does not depend on the differentiation
// variables: its tangent is the zero of its tangent type.
func (ctx *linCtx) zeroPair(primal core.Atom, ty core.Type) (linPair, error) {
	tanTy, err := TangentType(ty)
	if err != nil {
		return linPair{}, err
	}
	zero, err := ZeroAt(tanTy)
	if err != nil {
		return linPair{}, err
	}
	return linPair{primal: primal, tan: constTan(zero)}, nil
}

func (ctx *linCtx) linOp(pb *builder.Builder, op core.PrimOp) (linPair, error) {
	switch o := op.(type) {
	case *core.ScalarBinOp:
		xl, err := ctx.linAtom(pb, o.X)
		if err != nil {
			return linPair{}, err
		}
		yl, err := ctx.linAtom(pb, o.Y)
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.BinOp(o.Op, xl.primal, yl.primal)
		if err != nil {
			return linPair{}, err
		}
		switch o.Op {
		case core.FAdd, core.FSub:
			kind := o.Op
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				tx, err := xl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				ty, err := yl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				return tb.BinOp(kind, tx, ty)
			}}, nil
		case core.FMul:
			px, py := xl.primal, yl.primal
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				tx, err := xl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				ty, err := yl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				l, err := tb.BinOp(core.FMul, px, ty)
				if err != nil {
					return nil, err
				}
				r, err := tb.BinOp(core.FMul, tx, py)
				if err != nil {
					return nil, err
				}
				return tb.BinOp(core.FAdd, l, r)
			}}, nil
		case core.FDiv:
			px, py := xl.primal, yl.primal
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				tx, err := xl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				ty, err := yl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				l, err := tb.BinOp(core.FDiv, tx, py)
				if err != nil {
					return nil, err
				}
				num, err := tb.BinOp(core.FMul, px, ty)
				if err != nil {
					return nil, err
				}
				den, err := tb.BinOp(core.FMul, py, py)
				if err != nil {
					return nil, err
				}
				r, err := tb.BinOp(core.FDiv, num, den)
				if err != nil {
					return nil, err
				}
				return tb.BinOp(core.FSub, l, r)
			}}, nil
		default:
			return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
		}
	case *core.ScalarUnOp:
		xl, err := ctx.linAtom(pb, o.X)
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.UnOp(o.Op, xl.primal)
		if err != nil {
			return linPair{}, err
		}
		switch o.Op {
		case core.FNeg:
			return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
				tx, err := xl.tan(tb, tc)
				if err != nil {
					return nil, err
				}
				return tb.UnOp(core.FNeg, tx)
			}}, nil
		case core.IntToReal:
			return linPair{primal: primal, tan: constTan(&core.Lit{Val: core.RealLit(0)})}, nil
		default:
			return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
		}
	case *core.ICmp, *core.FCmp, *core.Cmp, *core.SumTag, *core.IndexAsInt, *core.IdxSetSize:
		op2, err := core.MapOpAtoms(op, func(a core.Atom) (core.Atom, error) { return ctx.subst(pb, a) })
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.EmitOp(op2)
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
	case *core.IntAsIndex:
		op2, err := core.MapOpAtoms(op, func(a core.Atom) (core.Atom, error) { return ctx.subst(pb, a) })
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.EmitOp(op2)
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: constTan(&core.UnitVal{})}, nil
	case *core.Select:
		pl, err := ctx.subst(pb, o.Pred)
		if err != nil {
			return linPair{}, err
		}
		xl, err := ctx.linAtom(pb, o.X)
		if err != nil {
			return linPair{}, err
		}
		yl, err := ctx.linAtom(pb, o.Y)
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.EmitOp(&core.Select{Pred: pl, X: xl.primal, Y: yl.primal})
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
			tx, err := xl.tan(tb, tc)
			if err != nil {
				return nil, err
			}
			ty, err := yl.tan(tb, tc)
			if err != nil {
				return nil, err
			}
			return tb.EmitOp(&core.Select{Pred: pl, X: tx, Y: ty})
		}}, nil
	case *core.Fst:
		return ctx.linProj(pb, o.Pair, func(b *builder.Builder, a core.Atom) (core.Atom, error) { return b.Fst(a) })
	case *core.Snd:
		return ctx.linProj(pb, o.Pair, func(b *builder.Builder, a core.Atom) (core.Atom, error) { return b.Snd(a) })
	case *core.RecGet:
		label := o.Label
		return ctx.linProj(pb, o.Rec, func(b *builder.Builder, a core.Atom) (core.Atom, error) {
			return b.EmitOp(&core.RecGet{Rec: a, Label: label})
		})
	case *core.PrimEffect:
		return ctx.linEffect(pb, o)
	case *core.IndexRef:
		rl, err := ctx.linAtom(pb, o.Ref)
		if err != nil {
			return linPair{}, err
		}
		idx, err := ctx.subst(pb, o.Idx)
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.EmitOp(&core.IndexRef{Ref: rl.primal, Idx: idx})
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
			rt, err := rl.tan(tb, tc)
			if err != nil {
				return nil, err
			}
			return tb.EmitOp(&core.IndexRef{Ref: rt, Idx: idx})
		}}, nil
	default:
		return linPair{}, errors.NotImplemented("linearization of op %T", op)
	}
}

// linProj projects both the primal and the tangent through the same
// accessor.
func (ctx *linCtx) linProj(pb *builder.Builder, operand core.Atom, proj func(*builder.Builder, core.Atom) (core.Atom, error)) (linPair, error) {
	ol, err := ctx.linAtom(pb, operand)
	if err != nil {
		return linPair{}, err
	}
	primal, err := proj(pb, ol.primal)
	if err != nil {
		return linPair{}, err
	}
	return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
		ot, err := ol.tan(tb, tc)
		if err != nil {
			return nil, err
		}
		return proj(tb, ot)
	}}, nil
}

func (ctx *linCtx) linEffect(pb *builder.Builder, o *core.PrimEffect) (linPair, error) {
	refVar, ok := o.Ref.(core.Var)
	if !ok {
		return linPair{}, errors.Compiler("effect op on non-variable ref %s", o.Ref)
	}
	refTan, tracked := ctx.refTans[refVar.Name]
	if !tracked {
		return linPair{}, errors.NotImplemented("linearization under untracked region ref %s", refVar)
	}
	refP, err := ctx.subst(pb, o.Ref)
	if err != nil {
		return linPair{}, err
	}
	switch eop := o.Op.(type) {
	case core.MTell:
		xl, err := ctx.linAtom(pb, eop.X)
		if err != nil {
			return linPair{}, err
		}
		primal, err := pb.EmitOp(&core.PrimEffect{Ref: refP, Op: core.MTell{X: xl.primal}})
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
			rt, err := refTan(tb, tc)
			if err != nil {
				return nil, err
			}
			xt, err := xl.tan(tb, tc)
			if err != nil {
				return nil, err
			}
			return tb.EmitOp(&core.PrimEffect{Ref: rt, Op: core.MTell{X: xt}})
		}}, nil
	case core.MAsk:
		primal, err := pb.EmitOp(&core.PrimEffect{Ref: refP, Op: core.MAsk{}})
		if err != nil {
			return linPair{}, err
		}
		return linPair{primal: primal, tan: func(tb *builder.Builder, tc *tanCtx) (core.Atom, error) {
			rt, err := refTan(tb, tc)
			if err != nil {
				return nil, err
			}
			return tb.EmitOp(&core.PrimEffect{Ref: rt, Op: core.MAsk{}})
		}}, nil
	default:
		return linPair{}, errors.NotImplemented("linearization of %s effect", o.Op)
	}
}
