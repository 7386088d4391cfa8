package core

import (
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// SubstEnv maps names to replacement atoms. Its lifetime is the
// traversal that built it.
type SubstEnv map[Name]Atom

// Copy returns an independent env.
func (e SubstEnv) Copy() SubstEnv {
	out := make(SubstEnv, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// FreeVars computes the free variables of an atom. Rebinding a name
// subtracts it from the body's free set.
func FreeVars(a Atom) map[Name]Var {
	out := make(map[Name]Var)
	freeAtom(a, out)
	return out
}

// FreeVarsExpr computes the free variables of an expression.
func FreeVarsExpr(e Expr) map[Name]Var {
	out := make(map[Name]Var)
	freeExpr(e, out)
	return out
}

// FreeVarsBlock computes the free variables of a block.
func FreeVarsBlock(b *Block) map[Name]Var {
	out := make(map[Name]Var)
	freeBlock(b, out)
	return out
}

func freeAtom(a Atom, out map[Name]Var) {
	switch x := a.(type) {
	case Var:
		if x.Ty != nil {
			freeAtom(x.Ty, out)
		}
		out[x.Name] = x
	case *Lam:
		freeAtom(x.Binder.Ty, out)
		freeUnder([]Var{x.Binder}, func(inner map[Name]Var) { freeBlock(x.Body, inner) }, out)
	case *Pi:
		freeAtom(x.Binder.Ty, out)
		freeUnder([]Var{x.Binder}, func(inner map[Name]Var) {
			freeRow(x.Eff, inner)
			freeAtom(x.Result, inner)
		}, out)
	case *Eff:
		freeRow(x.Row, out)
	default:
		mustMapAtomParts(a, func(c Atom) (Atom, error) {
			freeAtom(c, out)
			return c, nil
		})
	}
}

// freeUnder collects the free variables of a sub-scope and merges
// them minus the binders.
func freeUnder(binders []Var, body func(map[Name]Var), out map[Name]Var) {
	inner := make(map[Name]Var)
	body(inner)
	for _, b := range binders {
		delete(inner, b.Name)
	}
	for k, v := range inner {
		out[k] = v
	}
}

func freeRow(r EffectRow, out map[Name]Var) {
	for region, entry := range r.Effects {
		out[region] = Var{Name: region, Ty: &TypeKind{}}
		if entry.Ty != nil {
			freeAtom(entry.Ty, out)
		}
	}
	if r.Tail != nil {
		out[*r.Tail] = Var{Name: *r.Tail, Ty: &EffectKind{}}
	}
}

func freeExpr(e Expr, out map[Name]Var) {
	switch x := e.(type) {
	case *App:
		freeAtom(x.Fun, out)
		freeAtom(x.Arg, out)
	case *AtomExpr:
		freeAtom(x.Atom, out)
	case *OpExpr:
		mustMapOp(x.Op, func(a Atom) (Atom, error) {
			freeAtom(a, out)
			return a, nil
		})
	case *HofExpr:
		mustMapHof(x.Hof, func(a Atom) (Atom, error) {
			freeAtom(a, out)
			return a, nil
		})
	case *Case:
		freeAtom(x.Scrut, out)
		freeAtom(x.Ty, out)
		for _, alt := range x.Alts {
			freeUnder(alt.Binders, func(inner map[Name]Var) { freeBlock(alt.Body, inner) }, out)
		}
	}
}

func freeBlock(b *Block, out map[Name]Var) {
	var bound []Var
	inner := make(map[Name]Var)
	for _, d := range b.Decls {
		switch dd := d.(type) {
		case *LetDecl:
			freeExpr(dd.Bound, inner)
			freeAtom(dd.Binder.Ty, inner)
			bound = append(bound, dd.Binder)
		case *UnpackDecl:
			freeExpr(dd.Bound, inner)
			for _, v := range dd.Binders {
				freeAtom(v.Ty, inner)
				bound = append(bound, v)
			}
		}
	}
	freeExpr(b.Result, inner)
	freeRow(b.Eff, inner)
	for _, v := range bound {
		delete(inner, v.Name)
	}
	for k, v := range inner {
		out[k] = v
	}
}

// SubstAtom applies env to the atom, renaming binders against scope
// plus the env domain so no free variable of a substituted atom is
// captured.
func SubstAtom(env SubstEnv, scope Scope, a Atom) (Atom, error) {
	switch x := a.(type) {
	case Var:
		if repl, ok := env[x.Name]; ok {
			return repl, nil
		}
		ty, err := substOpt(env, scope, x.Ty)
		if err != nil {
			return nil, err
		}
		return Var{Name: x.Name, Ty: ty}, nil
	case *Lam:
		binder, env2, scope2, err := substBinder(env, scope, x.Binder)
		if err != nil {
			return nil, err
		}
		body, err := SubstBlock(env2, scope2, x.Body)
		if err != nil {
			return nil, err
		}
		arrEff, err := substRow(env, scope, x.Arrow.Eff)
		if err != nil {
			return nil, err
		}
		return &Lam{Arrow: Arrow{Kind: x.Arrow.Kind, Eff: arrEff}, Binder: binder, Body: body}, nil
	case *Pi:
		binder, env2, scope2, err := substBinder(env, scope, x.Binder)
		if err != nil {
			return nil, err
		}
		eff, err := substRow(env2, scope2, x.Eff)
		if err != nil {
			return nil, err
		}
		result, err := SubstAtom(env2, scope2, x.Result)
		if err != nil {
			return nil, err
		}
		arrEff, err := substRow(env, scope, x.Arrow.Eff)
		if err != nil {
			return nil, err
		}
		return &Pi{Arrow: Arrow{Kind: x.Arrow.Kind, Eff: arrEff}, Binder: binder, Eff: eff, Result: result}, nil
	case *Eff:
		row, err := substRow(env, scope, x.Row)
		if err != nil {
			return nil, err
		}
		return &Eff{Row: row}, nil
	default:
		return mapAtomParts(a, func(c Atom) (Atom, error) {
			return SubstAtom(env, scope, c)
		})
	}
}

// substOpt tolerates nil type slots (kinds bottom out at TypeKind).
func substOpt(env SubstEnv, scope Scope, t Type) (Type, error) {
	if t == nil {
		return nil, nil
	}
	return SubstAtom(env, scope, t)
}

// substBinder renames a binder against the scope and env domain and
// extends the env with the rename.
func substBinder(env SubstEnv, scope Scope, b Var) (Var, SubstEnv, Scope, error) {
	ty, err := substOpt(env, scope, b.Ty)
	if err != nil {
		return Var{}, nil, nil, err
	}
	avoid := scope.Copy()
	for n := range env {
		avoid[n] = ScopeEntry{}
	}
	fresh := avoid.Fresh(b.Name)
	newB := Var{Name: fresh, Ty: ty}
	env2 := env.Copy()
	env2[b.Name] = newB
	scope2 := scope.Copy()
	scope2[fresh] = ScopeEntry{Ty: ty}
	return newB, env2, scope2, nil
}

// substRow maps region-name keys through the env's renamings. A
// region substituted by anything but a variable is a compiler bug.
func substRow(env SubstEnv, scope Scope, r EffectRow) (EffectRow, error) {
	if r.IsPure() {
		return r, nil
	}
	out := EffectRow{Effects: make(map[Name]RowEntry, len(r.Effects)), Tail: r.Tail}
	for region, entry := range r.Effects {
		key := region
		if repl, ok := env[region]; ok {
			v, isVar := repl.(Var)
			if !isVar {
				return EffectRow{}, errors.Compiler("region %v substituted by non-variable %s", region, repl)
			}
			key = v.Name
		}
		ty, err := substOpt(env, scope, entry.Ty)
		if err != nil {
			return EffectRow{}, err
		}
		out.Effects[key] = RowEntry{Effect: entry.Effect, Ty: ty}
	}
	if r.Tail != nil {
		if repl, ok := env[*r.Tail]; ok {
			switch t := repl.(type) {
			case Var:
				out.Tail = &t.Name
			case *Eff:
				out.Tail = nil
				for k, v := range t.Row.Effects {
					out.Effects[k] = v
				}
				out.Tail = t.Row.Tail
			default:
				return EffectRow{}, errors.Compiler("effect tail substituted by %s", repl)
			}
		}
	}
	return out, nil
}

// SubstExpr applies env to an expression without reducing it.
func SubstExpr(env SubstEnv, scope Scope, e Expr) (Expr, error) {
	switch x := e.(type) {
	case *App:
		f, err := SubstAtom(env, scope, x.Fun)
		if err != nil {
			return nil, err
		}
		arg, err := SubstAtom(env, scope, x.Arg)
		if err != nil {
			return nil, err
		}
		eff, err := substRow(env, scope, x.Arrow.Eff)
		if err != nil {
			return nil, err
		}
		return &App{Arrow: Arrow{Kind: x.Arrow.Kind, Eff: eff}, Fun: f, Arg: arg}, nil
	case *AtomExpr:
		a, err := SubstAtom(env, scope, x.Atom)
		if err != nil {
			return nil, err
		}
		return &AtomExpr{Atom: a}, nil
	case *OpExpr:
		op, err := MapOpAtoms(x.Op, func(a Atom) (Atom, error) {
			return SubstAtom(env, scope, a)
		})
		if err != nil {
			return nil, err
		}
		return &OpExpr{Op: op}, nil
	case *HofExpr:
		hof, err := MapHofAtoms(x.Hof, func(a Atom) (Atom, error) {
			return SubstAtom(env, scope, a)
		})
		if err != nil {
			return nil, err
		}
		return &HofExpr{Hof: hof}, nil
	case *Case:
		scrut, err := SubstAtom(env, scope, x.Scrut)
		if err != nil {
			return nil, err
		}
		ty, err := SubstAtom(env, scope, x.Ty)
		if err != nil {
			return nil, err
		}
		alts := make([]Alt, len(x.Alts))
		for i, alt := range x.Alts {
			env2, scope2 := env, scope
			binders := make([]Var, len(alt.Binders))
			for j, b := range alt.Binders {
				var nb Var
				var err error
				nb, env2, scope2, err = substBinder(env2, scope2, b)
				if err != nil {
					return nil, err
				}
				binders[j] = nb
			}
			body, err := SubstBlock(env2, scope2, alt.Body)
			if err != nil {
				return nil, err
			}
			alts[i] = Alt{Binders: binders, Body: body}
		}
		return &Case{Scrut: scrut, Alts: alts, Ty: ty}, nil
	default:
		return nil, errors.Compiler("unhandled expr %T in subst", e)
	}
}

// SubstBlock applies env through a block, renaming each binder as it
// is crossed.
func SubstBlock(env SubstEnv, scope Scope, b *Block) (*Block, error) {
	env2, scope2 := env, scope
	decls := make([]Decl, 0, len(b.Decls))
	for _, d := range b.Decls {
		switch dd := d.(type) {
		case *LetDecl:
			bound, err := SubstExpr(env2, scope2, dd.Bound)
			if err != nil {
				return nil, err
			}
			var nb Var
			nb, env2, scope2, err = substBinder(env2, scope2, dd.Binder)
			if err != nil {
				return nil, err
			}
			decls = append(decls, &LetDecl{Ann: dd.Ann, Binder: nb, Bound: bound})
		case *UnpackDecl:
			bound, err := SubstExpr(env2, scope2, dd.Bound)
			if err != nil {
				return nil, err
			}
			binders := make([]Var, len(dd.Binders))
			for j, v := range dd.Binders {
				var nb Var
				var err error
				nb, env2, scope2, err = substBinder(env2, scope2, v)
				if err != nil {
					return nil, err
				}
				binders[j] = nb
			}
			decls = append(decls, &UnpackDecl{Binders: binders, Bound: bound})
		}
	}
	result, err := SubstExpr(env2, scope2, b.Result)
	if err != nil {
		return nil, err
	}
	eff, err := substRow(env2, scope2, b.Eff)
	if err != nil {
		return nil, err
	}
	return &Block{Decls: decls, Result: result, Eff: eff}, nil
}

// DeShadow renames the bound variables of an atom so none clash with
// the given scope.
func DeShadow(a Atom, scope Scope) (Atom, error) {
	return SubstAtom(SubstEnv{}, scope, a)
}

// ApplyPi instantiates a Pi at an argument, returning the effect row
// and result type at that argument.
func ApplyPi(p *Pi, x Atom) (EffectRow, Type, error) {
	env := SubstEnv{p.Binder.Name: x}
	scope := Scope{}
	for n, v := range FreeVars(x) {
		scope[n] = ScopeEntry{Ty: v.Ty}
	}
	eff, err := substRow(env, scope, p.Eff)
	if err != nil {
		return EffectRow{}, nil, err
	}
	result, err := SubstAtom(env, scope, p.Result)
	if err != nil {
		return EffectRow{}, nil, err
	}
	return eff, result, nil
}

// mapAtomParts rebuilds a non-binding atom by applying f to its
// immediate atom children. Binding forms (Lam, Pi) and variables are
// the caller's responsibility.
func mapAtomParts(a Atom, f func(Atom) (Atom, error)) (Atom, error) {
	switch x := a.(type) {
	case *Lit:
		return x, nil
	case *UnitVal:
		return x, nil
	case *PairVal:
		fst, err := f(x.Fst)
		if err != nil {
			return nil, err
		}
		snd, err := f(x.Snd)
		if err != nil {
			return nil, err
		}
		return &PairVal{Fst: fst, Snd: snd}, nil
	case *RecVal:
		rec, err := x.Rec.Map(f)
		if err != nil {
			return nil, err
		}
		return &RecVal{Rec: rec}, nil
	case *SumVal:
		tag, err := f(x.Tag)
		if err != nil {
			return nil, err
		}
		l, err := f(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := f(x.Rite)
		if err != nil {
			return nil, err
		}
		return &SumVal{Tag: tag, Left: l, Rite: r}, nil
	case *AnyValue:
		ty, err := f(x.Ty)
		if err != nil {
			return nil, err
		}
		return &AnyValue{Ty: ty}, nil
	case *IntRangeVal:
		lo, err := f(x.Low)
		if err != nil {
			return nil, err
		}
		hi, err := f(x.High)
		if err != nil {
			return nil, err
		}
		v, err := f(x.Val)
		if err != nil {
			return nil, err
		}
		return &IntRangeVal{Low: lo, High: hi, Val: v}, nil
	case *IndexRangeVal:
		ty, err := f(x.Ty)
		if err != nil {
			return nil, err
		}
		lo, err := mapLimit(x.Low, f)
		if err != nil {
			return nil, err
		}
		hi, err := mapLimit(x.High, f)
		if err != nil {
			return nil, err
		}
		v, err := f(x.Val)
		if err != nil {
			return nil, err
		}
		return &IndexRangeVal{Ty: ty, Low: lo, High: hi, Val: v}, nil
	case *AFor:
		ty, err := f(x.IdxTy)
		if err != nil {
			return nil, err
		}
		body, err := f(x.Body)
		if err != nil {
			return nil, err
		}
		return &AFor{IdxTy: ty, Body: body}, nil
	case *CharLit:
		v, err := f(x.Val)
		if err != nil {
			return nil, err
		}
		return &CharLit{Val: v}, nil
	case *ArrayVal:
		return x, nil
	case *BaseTy, *TypeKind, *EffectKind, *UnitTy, *CharTy, *ArrayTy:
		return x, nil
	case *IntRangeTy:
		lo, err := f(x.Low)
		if err != nil {
			return nil, err
		}
		hi, err := f(x.High)
		if err != nil {
			return nil, err
		}
		return &IntRangeTy{Low: lo, High: hi}, nil
	case *IndexRangeTy:
		ty, err := f(x.Ty)
		if err != nil {
			return nil, err
		}
		lo, err := mapLimit(x.Low, f)
		if err != nil {
			return nil, err
		}
		hi, err := mapLimit(x.High, f)
		if err != nil {
			return nil, err
		}
		return &IndexRangeTy{Ty: ty, Low: lo, High: hi}, nil
	case *RecTy:
		rec, err := x.Rec.Map(f)
		if err != nil {
			return nil, err
		}
		return &RecTy{Rec: rec}, nil
	case *SumTy:
		l, err := f(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := f(x.Rite)
		if err != nil {
			return nil, err
		}
		return &SumTy{Left: l, Rite: r}, nil
	case *RefTy:
		region, err := f(x.Region)
		if err != nil {
			return nil, err
		}
		ty, err := f(x.Ty)
		if err != nil {
			return nil, err
		}
		return &RefTy{Region: region, Ty: ty}, nil
	case *PairTy:
		fst, err := f(x.Fst)
		if err != nil {
			return nil, err
		}
		snd, err := f(x.Snd)
		if err != nil {
			return nil, err
		}
		return &PairTy{Fst: fst, Snd: snd}, nil
	default:
		return nil, errors.Compiler("unhandled atom %T in traversal", a)
	}
}

func mapLimit(l Limit, f func(Atom) (Atom, error)) (Limit, error) {
	if l.Kind == Unlimited {
		return l, nil
	}
	v, err := f(l.Val)
	if err != nil {
		return Limit{}, err
	}
	return Limit{Kind: l.Kind, Val: v}, nil
}

// mustMapAtomParts is mapAtomParts for read-only visitors that cannot
// fail.
func mustMapAtomParts(a Atom, f func(Atom) (Atom, error)) {
	_, _ = mapAtomParts(a, f)
}

func mustMapOp(op PrimOp, f func(Atom) (Atom, error)) {
	_, _ = MapOpAtoms(op, f)
}

func mustMapHof(hof PrimHof, f func(Atom) (Atom, error)) {
	_, _ = MapHofAtoms(hof, f)
}

// SubstEffectRow applies a substitution to an effect row, mapping
// region keys through renamings.
func SubstEffectRow(env SubstEnv, scope Scope, r EffectRow) (EffectRow, error) {
	return substRow(env, scope, r)
}

// MapAtomChildren rebuilds a non-binding atom by applying f to its
// immediate atom children; Var, Lam and Pi are the caller's
// responsibility.
func MapAtomChildren(a Atom, f func(Atom) (Atom, error)) (Atom, error) {
	return mapAtomParts(a, f)
}
