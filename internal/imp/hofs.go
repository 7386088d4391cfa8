package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// splitRunLam pulls the region and ref lambdas out of a RunX
// primitive's binary function.
func splitRunLam(a core.Atom) (*core.Lam, *core.Lam, error) {
	outer, ok := a.(*core.Lam)
	if !ok {
		return nil, nil, errors.Compiler("run primitive applied to non-lambda %s", a)
	}
	if len(outer.Body.Decls) != 0 {
		return nil, nil, errors.Compiler("run body carries declarations outside the ref lambda")
	}
	res, ok := outer.Body.Result.(*core.AtomExpr)
	if !ok {
		return nil, nil, errors.Compiler("run primitive body is not an atom")
	}
	inner, ok := res.Atom.(*core.Lam)
	if !ok {
		return nil, nil, errors.Compiler("run primitive missing ref lambda")
	}
	return outer, inner, nil
}

// emitLoop emits an IFor over [0, n).
func (lw *lowerer) emitLoop(hint string, dir core.Direction, n IExpr, body func(i IExpr) error) error {
	name := lw.freshName(core.GenName, hint)
	iv := IVar{Name: name, Type: ScalarTy(core.IntType)}
	lw.ivars[name] = iv
	blk, err := lw.subBlock(func() ([]IExpr, error) {
		return nil, body(iv)
	})
	if err != nil {
		return err
	}
	lw.emitVoid(IFor{Dir: dir, Binder: iv, N: n, Body: blk})
	return nil
}

// emitSwitch compiles a chain of ICond comparisons against the
// integer tags 0, 1, 2, ...; the final arm is the else branch.
func (lw *lowerer) emitSwitch(test IExpr, arms []func() error) error {
	if len(arms) == 0 {
		return errors.Compiler("empty switch")
	}
	if len(arms) == 1 {
		return arms[0]()
	}
	isZero := lw.emit("isTag", IICmp{Op: core.Equal, X: test, Y: ILit{Val: core.IntLit(0)}}, ScalarTy(core.BoolType))
	thenBlk, err := lw.subBlock(func() ([]IExpr, error) {
		return nil, arms[0]()
	})
	if err != nil {
		return err
	}
	elseBlk, err := lw.subBlock(func() ([]IExpr, error) {
		next := lw.emit("nextTag", IBinOp{Op: core.ISub, X: test, Y: ILit{Val: core.IntLit(1)}}, ScalarTy(core.IntType))
		return nil, lw.emitSwitch(next, arms[1:])
	})
	if err != nil {
		return err
	}
	lw.emitVoid(ICond{P: isZero, Then: thenBlk, Else: elseBlk})
	return nil
}

// toImpHof lowers a higher-order primitive.
func (lw *lowerer) toImpHof(dest Dest, hof core.PrimHof) (core.Atom, error) {
	switch h := hof.(type) {
	case *core.For:
		return lw.lowerFor(dest, h)
	case *core.While:
		return lw.lowerWhile(h)
	case *core.RunReader:
		return lw.lowerRunReader(dest, h)
	case *core.RunWriter:
		return lw.lowerRunWriter(dest, h)
	case *core.RunState:
		return lw.lowerRunState(dest, h)
	default:
		return nil, errors.Compiler("unhandled hof %T in lowering", hof)
	}
}

func (lw *lowerer) lowerFor(dest Dest, h *core.For) (core.Atom, error) {
	lam, ok := h.Lam.(*core.Lam)
	if !ok {
		return nil, errors.Compiler("for over non-lambda %s", h.Lam)
	}
	idxTy, err := lw.substCore(lam.Binder.Ty)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		elemTy, err := core.BlockType(lam.Body)
		if err != nil {
			return nil, err
		}
		elemTy, err = lw.substCore(elemTy)
		if err != nil {
			return nil, err
		}
		dest, err = lw.makeDest(Managed, "for", core.TabTy(idxTy, elemTy))
		if err != nil {
			return nil, err
		}
	}
	size, err := IndexSetSizePoly(idxTy)
	if err != nil {
		return nil, err
	}
	n, err := lw.evalPoly(size)
	if err != nil {
		return nil, err
	}
	if cc, dev, ok := lw.backend.KernelCC(); ok && lw.parallel && lam.Body.Eff.IsPure() {
		if err := lw.emitKernel(cc, dev, lam, idxTy, n, dest); err != nil {
			return nil, err
		}
		return lw.loadDest(dest)
	}
	wasParallel := lw.parallel
	lw.parallel = false
	err = lw.emitLoop(lam.Binder.Name.Hint, h.Dir, n, func(i IExpr) error {
		idx, err := lw.intToIndexAtom(idxTy, lw.atomOf(i))
		if err != nil {
			return err
		}
		ithDest, err := indexDest(dest, idx)
		if err != nil {
			return err
		}
		lw.env[lam.Binder.Name] = idx
		_, err = lw.translateBlock(ithDest, lam.Body)
		return err
	})
	lw.parallel = wasParallel
	if err != nil {
		return nil, err
	}
	return lw.loadDest(dest)
}

func (lw *lowerer) lowerWhile(h *core.While) (core.Atom, error) {
	condLam, ok := h.Cond.(*core.Lam)
	if !ok {
		return nil, errors.Compiler("while condition is not a lambda")
	}
	bodyLam, ok := h.Body.(*core.Lam)
	if !ok {
		return nil, errors.Compiler("while body is not a lambda")
	}
	condBlk, err := lw.subBlock(func() ([]IExpr, error) {
		lw.env[condLam.Binder.Name] = &core.UnitVal{}
		res, err := lw.translateBlock(nil, condLam.Body)
		if err != nil {
			return nil, err
		}
		b, err := lw.scalarIExpr(res)
		if err != nil {
			return nil, err
		}
		return []IExpr{b}, nil
	})
	if err != nil {
		return nil, err
	}
	bodyBlk, err := lw.subBlock(func() ([]IExpr, error) {
		lw.env[bodyLam.Binder.Name] = &core.UnitVal{}
		_, err := lw.translateBlock(nil, bodyLam.Body)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	lw.emitVoid(IWhile{Cond: condBlk, Body: bodyBlk})
	return &core.UnitVal{}, nil
}

func (lw *lowerer) lowerRunReader(dest Dest, h *core.RunReader) (core.Atom, error) {
	_, inner, err := splitRunLam(h.Lam)
	if err != nil {
		return nil, err
	}
	r, err := lw.substCore(h.R)
	if err != nil {
		return nil, err
	}
	rTy, err := core.TypeOf(r)
	if err != nil {
		return nil, err
	}
	rDest, err := lw.makeDest(Managed, "r", rTy)
	if err != nil {
		return nil, err
	}
	if err := lw.copyAtom(rDest, r); err != nil {
		return nil, err
	}
	lw.bindRef(inner.Binder, rDest)
	return lw.translateBlock(dest, inner.Body)
}

func (lw *lowerer) lowerRunWriter(dest Dest, h *core.RunWriter) (core.Atom, error) {
	_, inner, err := splitRunLam(h.Lam)
	if err != nil {
		return nil, err
	}
	refTy, ok := inner.Binder.Ty.(*core.RefTy)
	if !ok {
		return nil, errors.Compiler("writer binder is not a ref")
	}
	ansDest, accDest, err := lw.splitPairDest(dest, inner, refTy.Ty)
	if err != nil {
		return nil, err
	}
	if err := lw.zeroDest(accDest); err != nil {
		return nil, err
	}
	lw.bindRef(inner.Binder, accDest)
	ans, err := lw.translateBlock(ansDest, inner.Body)
	if err != nil {
		return nil, err
	}
	acc, err := lw.loadDest(accDest)
	if err != nil {
		return nil, err
	}
	return &core.PairVal{Fst: ans, Snd: acc}, nil
}

func (lw *lowerer) lowerRunState(dest Dest, h *core.RunState) (core.Atom, error) {
	_, inner, err := splitRunLam(h.Lam)
	if err != nil {
		return nil, err
	}
	refTy, ok := inner.Binder.Ty.(*core.RefTy)
	if !ok {
		return nil, errors.Compiler("state binder is not a ref")
	}
	s, err := lw.substCore(h.S)
	if err != nil {
		return nil, err
	}
	ansDest, stateDest, err := lw.splitPairDest(dest, inner, refTy.Ty)
	if err != nil {
		return nil, err
	}
	if err := lw.copyAtom(stateDest, s); err != nil {
		return nil, err
	}
	lw.bindRef(inner.Binder, stateDest)
	ans, err := lw.translateBlock(ansDest, inner.Body)
	if err != nil {
		return nil, err
	}
	final, err := lw.loadDest(stateDest)
	if err != nil {
		return nil, err
	}
	return &core.PairVal{Fst: ans, Snd: final}, nil
}

// splitPairDest splits the (answer, payload) destination of a writer
// or state run, allocating one when the caller supplied none.
func (lw *lowerer) splitPairDest(dest Dest, inner *core.Lam, payloadTy core.Type) (Dest, Dest, error) {
	if dest != nil {
		pd, ok := dest.(*PairDest)
		if !ok {
			return nil, nil, errors.Compiler("run destination is not a pair dest")
		}
		return pd.Fst, pd.Snd, nil
	}
	ansTy, err := core.BlockType(inner.Body)
	if err != nil {
		return nil, nil, err
	}
	ansTy, err = lw.substCore(ansTy)
	if err != nil {
		return nil, nil, err
	}
	payloadTy, err = lw.substCore(payloadTy)
	if err != nil {
		return nil, nil, err
	}
	ansDest, err := lw.makeDest(Managed, "ans", ansTy)
	if err != nil {
		return nil, nil, err
	}
	payDest, err := lw.makeDest(Managed, "acc", payloadTy)
	if err != nil {
		return nil, nil, err
	}
	return ansDest, payDest, nil
}

// bindRef routes a ref binder to the destination backing its region.
func (lw *lowerer) bindRef(binder core.Var, d Dest) {
	lw.dests[binder.Name] = d
	lw.env[binder.Name] = core.Var{Name: binder.Name, Ty: binder.Ty}
}

// emitKernel extracts a pure for body into its own function with the
// backend's launch convention and emits an ILaunch at the call site.
func (lw *lowerer) emitKernel(cc CallingConvention, dev Device, lam *core.Lam, idxTy core.Type, n IExpr, dest Dest) error {
	name := lw.freshName(core.TopFunctionName, "kernel")
	iName := lw.freshName(core.GenName, "tid")
	iv := IVar{Name: iName, Type: ScalarTy(core.IntType)}
	lw.ivars[iName] = iv
	savedDev, savedParallel := lw.dev, lw.parallel
	lw.dev, lw.parallel = dev, false
	body, err := lw.subBlock(func() ([]IExpr, error) {
		idx, err := lw.intToIndexAtom(idxTy, lw.atomOf(iv))
		if err != nil {
			return nil, err
		}
		ithDest, err := indexDest(dest, idx)
		if err != nil {
			return nil, err
		}
		lw.env[lam.Binder.Name] = idx
		_, err = lw.translateBlock(ithDest, lam.Body)
		return nil, err
	})
	lw.dev, lw.parallel = savedDev, savedParallel
	if err != nil {
		return err
	}
	captured := freeIVars(body, map[core.Name]bool{iName: true})
	args := append([]IVar{iv}, captured...)
	lw.funcs = append(lw.funcs, &Function{Name: name, CC: cc, Args: args, Body: body})
	launchArgs := make([]IExpr, len(captured))
	for i, a := range captured {
		launchArgs[i] = a
	}
	lw.emitVoid(ILaunch{Fun: name, N: n, Args: launchArgs})
	return nil
}

// freeIVars lists the variables a block reads without binding, in
// first-use order.
func freeIVars(b *Block, bound map[core.Name]bool) []IVar {
	seen := map[core.Name]bool{}
	for k := range bound {
		seen[k] = true
	}
	var out []IVar
	var visitExpr func(e IExpr)
	visitExpr = func(e IExpr) {
		v, ok := e.(IVar)
		if !ok || seen[v.Name] {
			return
		}
		seen[v.Name] = true
		out = append(out, v)
	}
	var visitBlock func(blk *Block)
	visitInstr := func(in Instr) {
		switch i := in.(type) {
		case IBinOp:
			visitExpr(i.X)
			visitExpr(i.Y)
		case IUnOp:
			visitExpr(i.X)
		case IICmp:
			visitExpr(i.X)
			visitExpr(i.Y)
		case IFCmp:
			visitExpr(i.X)
			visitExpr(i.Y)
		case ISelect:
			visitExpr(i.P)
			visitExpr(i.X)
			visitExpr(i.Y)
		case ICastOp:
			visitExpr(i.X)
		case Alloc:
			visitExpr(i.Numel)
		case Free:
			visitExpr(i.Ptr)
		case MemCopy:
			visitExpr(i.Dst)
			visitExpr(i.Src)
			visitExpr(i.Numel)
		case Store:
			visitExpr(i.Dst)
			visitExpr(i.Val)
		case Load:
			visitExpr(i.Ptr)
		case PtrOffset:
			visitExpr(i.Ptr)
			visitExpr(i.Off)
		case IFor:
			visitExpr(i.N)
			seen[i.Binder.Name] = true
			visitBlock(i.Body)
		case IWhile:
			visitBlock(i.Cond)
			visitBlock(i.Body)
		case ICond:
			visitExpr(i.P)
			visitBlock(i.Then)
			visitBlock(i.Else)
		case ILaunch:
			visitExpr(i.N)
			for _, a := range i.Args {
				visitExpr(a)
			}
		}
	}
	visitBlock = func(blk *Block) {
		for _, s := range blk.Stmts {
			visitInstr(s.Instr)
			if s.Binder != nil {
				seen[s.Binder.Name] = true
			}
		}
		for _, r := range blk.Results {
			visitExpr(r)
		}
	}
	visitBlock(b)
	return out
}
