package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// AllocKind distinguishes block-scoped buffers, freed at block exit,
// from top-level ones that outlive the program's run.
type AllocKind int

const (
	Managed AllocKind = iota
	Unmanaged
)

// stackThreshold is the largest literal element count allocated on
// the stack of the main device.
const stackThreshold = 256

// lowerer is the mutable handle of one lowering invocation.
type lowerer struct {
	backend Backend
	dev     Device
	scope   core.Scope
	stmts   []Statement
	env     map[core.Name]core.Atom
	dests   map[core.Name]Dest
	ivars   map[core.Name]IVar
	funcs   []*Function
	ptrs    []PtrLit
	frees   []IExpr
	// parallel is true while translating at a parallelism level where
	// a pure for may become a kernel launch.
	parallel bool
}

// Result is everything lowering hands to the code generator.
type Result struct {
	Module *Module
	Recon  AtomRecon
	Ptrs   []PtrLit
}

// LowerBlock lowers a simplified core block into an Imp module whose
// main function fills the result buffers and returns their pointers
// in allocation order.
func LowerBlock(scope core.Scope, backend Backend, block *core.Block) (*Result, error) {
	lw := &lowerer{
		backend:  backend,
		dev:      CPU,
		scope:    scope.Copy(),
		env:      map[core.Name]core.Atom{},
		dests:    map[core.Name]Dest{},
		ivars:    map[core.Name]IVar{},
		parallel: true,
	}
	ty, err := core.BlockType(block)
	if err != nil {
		return nil, err
	}
	dest, err := lw.makeDest(Unmanaged, "out", ty)
	if err != nil {
		return nil, err
	}
	if _, err := lw.translateBlock(dest, block); err != nil {
		return nil, err
	}
	for _, ptr := range lw.frees {
		lw.emitVoid(Free{Ptr: ptr})
	}
	results := make([]IExpr, len(lw.ptrs))
	for i, p := range lw.ptrs {
		results[i] = lw.ivars[p.Name]
	}
	mainName := core.Name{Space: core.TopFunctionName, Hint: "impMain"}
	main := &Function{Name: mainName, CC: EntryFun, Body: &Block{Stmts: lw.stmts, Results: results}}
	mod := &Module{Funcs: append(lw.funcs, main), Main: mainName}
	recon, err := lw.destRecon(dest)
	if err != nil {
		return nil, err
	}
	return &Result{Module: mod, Recon: recon, Ptrs: lw.ptrs}, nil
}

// destRecon describes how to rebuild the high-level result atom from
// the returned pointers.
func (lw *lowerer) destRecon(dest Dest) (AtomRecon, error) {
	binders := make([]core.Var, len(lw.ptrs))
	for i, p := range lw.ptrs {
		binders[i] = core.Var{Name: p.Name, Ty: &core.BaseTy{Ty: p.Type.Base}}
	}
	view, err := destView(dest)
	if err != nil {
		return AtomRecon{}, err
	}
	return AtomRecon{Binders: binders, Atom: view}, nil
}

// destView is the atom shape of a destination, with pointer variables
// at the leaves.
func destView(d Dest) (core.Atom, error) {
	switch dd := d.(type) {
	case *BaseDest:
		return core.Var{Name: dd.Ptr, Ty: &core.BaseTy{Ty: dd.Type.Base}}, nil
	case *TabDest:
		elem, err := destView(dd.Elem)
		if err != nil {
			return nil, err
		}
		return &core.AFor{IdxTy: dd.Binder.Ty, Body: elem}, nil
	case *PairDest:
		f, err := destView(dd.Fst)
		if err != nil {
			return nil, err
		}
		s, err := destView(dd.Snd)
		if err != nil {
			return nil, err
		}
		return &core.PairVal{Fst: f, Snd: s}, nil
	case *UnitDest:
		return &core.UnitVal{}, nil
	case *RecDest:
		labels := dd.labels()
		if dd.Named != nil {
			out := make(map[string]core.Atom, len(labels))
			for _, l := range labels {
				v, err := destView(dd.Named[l])
				if err != nil {
					return nil, err
				}
				out[l] = v
			}
			return &core.RecVal{Rec: core.NamedRec(out)}, nil
		}
		items := make([]core.Atom, len(dd.Tup))
		for i, fd := range dd.Tup {
			v, err := destView(fd)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return &core.RecVal{Rec: core.TupRec(items...)}, nil
	case *SumAsProdDest:
		tag, err := destView(dd.Tag)
		if err != nil {
			return nil, err
		}
		l, err := destView(dd.Left)
		if err != nil {
			return nil, err
		}
		r, err := destView(dd.Rite)
		if err != nil {
			return nil, err
		}
		return &core.SumVal{Tag: tag, Left: l, Rite: r}, nil
	case *IntRangeDest:
		v, err := destView(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.IntRangeVal{Low: dd.Low, High: dd.High, Val: v}, nil
	case *IndexRangeDest:
		v, err := destView(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.IndexRangeVal{Ty: dd.Ty, Low: dd.Low, High: dd.High, Val: v}, nil
	case *CharDest:
		v, err := destView(dd.Repr)
		if err != nil {
			return nil, err
		}
		return &core.CharLit{Val: v}, nil
	case *ConstDest:
		return dd.Atom, nil
	default:
		return nil, errors.Compiler("unhandled dest %T", d)
	}
}

// freshName allocates a name unique against everything lowered so
// far.
func (lw *lowerer) freshName(space core.NameSpace, hint string) core.Name {
	n := lw.scope.Fresh(core.Name{Space: space, Hint: hint})
	lw.scope[n] = core.ScopeEntry{}
	return n
}

// emit appends an instruction binding its result to a fresh variable.
func (lw *lowerer) emit(hint string, instr Instr, ty IType) IVar {
	name := lw.freshName(core.GenName, hint)
	v := IVar{Name: name, Type: ty}
	lw.ivars[name] = v
	lw.stmts = append(lw.stmts, Statement{Binder: &v, Instr: instr})
	return v
}

// emitVoid appends an instruction with no result.
func (lw *lowerer) emitVoid(instr Instr) {
	lw.stmts = append(lw.stmts, Statement{Instr: instr})
}

// subBlock collects the statements emitted by f into a separate
// block, freeing the managed heap buffers allocated there at its end.
func (lw *lowerer) subBlock(f func() ([]IExpr, error)) (*Block, error) {
	saved, savedFrees := lw.stmts, lw.frees
	lw.stmts, lw.frees = nil, nil
	results, err := f()
	for _, ptr := range lw.frees {
		lw.emitVoid(Free{Ptr: ptr})
	}
	blk := &Block{Stmts: lw.stmts, Results: results}
	lw.stmts, lw.frees = saved, savedFrees
	if err != nil {
		return nil, err
	}
	return blk, nil
}

// substCore closes a core atom over the lowered environment.
func (lw *lowerer) substCore(a core.Atom) (core.Atom, error) {
	return core.SubstAtom(core.SubstEnv(lw.env), lw.scope, a)
}

// scalarIExpr lowers an atom that must denote one scalar.
func (lw *lowerer) scalarIExpr(a core.Atom) (IExpr, error) {
	switch x := a.(type) {
	case *core.Lit:
		return ILit{Val: x.Val}, nil
	case core.Var:
		if repl, ok := lw.env[x.Name]; ok {
			if v, isVar := repl.(core.Var); !isVar || v.Name != x.Name {
				return lw.scalarIExpr(repl)
			}
		}
		if iv, ok := lw.ivars[x.Name]; ok {
			return iv, nil
		}
		return nil, errors.Compiler("no scalar binding for %s", x)
	case *core.IntRangeVal:
		return lw.scalarIExpr(x.Val)
	case *core.IndexRangeVal:
		return lw.scalarIExpr(x.Val)
	case *core.CharLit:
		return lw.scalarIExpr(x.Val)
	default:
		return nil, errors.Compiler("atom %s is not a scalar", a)
	}
}

// atomOf wraps an Imp operand back into an atom.
func (lw *lowerer) atomOf(e IExpr) core.Atom {
	switch v := e.(type) {
	case ILit:
		return &core.Lit{Val: v.Val}
	case IVar:
		lw.ivars[v.Name] = v
		return core.Var{Name: v.Name, Ty: &core.BaseTy{Ty: v.Type.Base}}
	default:
		return nil
	}
}

// evalPoly emits the scalar computation of a polynomial.
func (lw *lowerer) evalPoly(p Poly) (IExpr, error) {
	if n, ok := p.Constant(); ok {
		return ILit{Val: core.IntLit(n)}, nil
	}
	var acc IExpr
	for _, m := range p {
		term, err := lw.evalMono(m)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = term
			continue
		}
		acc = lw.emit("sum", IBinOp{Op: core.IAdd, X: acc, Y: term}, ScalarTy(core.IntType))
	}
	if acc == nil {
		return ILit{Val: core.IntLit(0)}, nil
	}
	return acc, nil
}

func (lw *lowerer) evalMono(m Mono) (IExpr, error) {
	var acc IExpr = ILit{Val: core.IntLit(m.Coeff)}
	isOne := m.Coeff == 1
	for _, f := range m.Factors {
		fe, err := lw.evalFactor(f)
		if err != nil {
			return nil, err
		}
		if isOne {
			acc = fe
			isOne = false
			continue
		}
		acc = lw.emit("prod", IBinOp{Op: core.IMul, X: acc, Y: fe}, ScalarTy(core.IntType))
	}
	return acc, nil
}

func (lw *lowerer) evalFactor(f Factor) (IExpr, error) {
	switch ff := f.(type) {
	case AtomFactor:
		a, err := lw.substCore(ff.Atom)
		if err != nil {
			return nil, err
		}
		ord, err := ordinalAtom(a)
		if err != nil {
			return nil, err
		}
		return lw.scalarIExpr(ord)
	case ClampFactor:
		v, err := lw.evalPoly(ff.Of)
		if err != nil {
			return nil, err
		}
		pos := lw.emit("pos", IICmp{Op: core.Greater, X: v, Y: ILit{Val: core.IntLit(0)}}, ScalarTy(core.BoolType))
		sel := lw.emit("clamped", ISelect{P: pos, X: v, Y: ILit{Val: core.IntLit(0)}}, ScalarTy(core.IntType))
		return sel, nil
	default:
		return nil, errors.Compiler("unhandled factor %T", f)
	}
}

// translateBlock lowers a block into an optional destination. When
// the block's result is a pure atom, destinations route to the
// declarations that produce each component and leftover pieces copy
// at the end.
func (lw *lowerer) translateBlock(dest Dest, block *core.Block) (core.Atom, error) {
	destsByName, copies, consumed := lw.splitDest(dest, block)
	for _, d := range block.Decls {
		switch dd := d.(type) {
		case *core.LetDecl:
			bdest := destsByName[dd.Binder.Name]
			atom, err := lw.translateExpr(bdest, dd.Bound)
			if err != nil {
				return nil, err
			}
			lw.env[dd.Binder.Name] = atom
		case *core.UnpackDecl:
			atom, err := lw.translateExpr(nil, dd.Bound)
			if err != nil {
				return nil, err
			}
			if err := lw.bindUnpack(dd.Binders, atom); err != nil {
				return nil, err
			}
		}
	}
	if consumed {
		for _, cp := range copies {
			src, err := lw.substCore(cp.src)
			if err != nil {
				return nil, err
			}
			if err := lw.copyAtom(cp.dest, src); err != nil {
				return nil, err
			}
		}
		res := block.Result.(*core.AtomExpr)
		return lw.substCore(res.Atom)
	}
	return lw.translateExpr(dest, block.Result)
}

type deferredCopy struct {
	dest Dest
	src  core.Atom
}

// splitDest walks a pure atom result against the destination,
// assigning each locally-bound variable occurrence its target dest;
// everything else becomes an explicit copy at block exit. consumed
// reports whether the destination was distributed this way.
func (lw *lowerer) splitDest(dest Dest, block *core.Block) (map[core.Name]Dest, []deferredCopy, bool) {
	out := map[core.Name]Dest{}
	var copies []deferredCopy
	if dest == nil {
		return out, nil, false
	}
	res, ok := block.Result.(*core.AtomExpr)
	if !ok {
		return out, nil, false
	}
	local := map[core.Name]bool{}
	for _, d := range block.Decls {
		if let, ok := d.(*core.LetDecl); ok {
			local[let.Binder.Name] = true
		}
	}
	var walk func(a core.Atom, d Dest)
	walk = func(a core.Atom, d Dest) {
		switch x := a.(type) {
		case core.Var:
			if local[x.Name] {
				if _, seen := out[x.Name]; !seen {
					out[x.Name] = d
					return
				}
			}
			copies = append(copies, deferredCopy{dest: d, src: a})
		case *core.PairVal:
			if pd, ok := d.(*PairDest); ok {
				walk(x.Fst, pd.Fst)
				walk(x.Snd, pd.Snd)
				return
			}
			copies = append(copies, deferredCopy{dest: d, src: a})
		case *core.RecVal:
			if rd, ok := d.(*RecDest); ok && x.Rec.Len() == len(rd.labels()) {
				matched := true
				for _, l := range rd.labels() {
					if _, ok := x.Rec.Field(l); !ok {
						matched = false
						break
					}
				}
				if matched {
					for _, l := range rd.labels() {
						fa, _ := x.Rec.Field(l)
						fd, _ := rd.field(l)
						walk(fa, fd)
					}
					return
				}
			}
			copies = append(copies, deferredCopy{dest: d, src: a})
		default:
			copies = append(copies, deferredCopy{dest: d, src: a})
		}
	}
	walk(res.Atom, dest)
	return out, copies, true
}

// bindUnpack destructures a lowered record or sum into per-binder
// atoms.
func (lw *lowerer) bindUnpack(binders []core.Var, atom core.Atom) error {
	switch x := atom.(type) {
	case *core.RecVal:
		items := x.Rec.Items()
		if len(items) != len(binders) {
			return errors.Compiler("unpack arity mismatch: %d binders, %d fields", len(binders), len(items))
		}
		for i, b := range binders {
			lw.env[b.Name] = items[i]
		}
		return nil
	case *core.SumVal:
		if len(binders) != 3 {
			return errors.Compiler("sum unpack needs 3 binders, got %d", len(binders))
		}
		lw.env[binders[0].Name] = x.Tag
		lw.env[binders[1].Name] = x.Left
		lw.env[binders[2].Name] = x.Rite
		return nil
	default:
		return errors.Compiler("unpacking non-structured atom %s", atom)
	}
}

// translateExpr lowers one expression, writing into dest when given.
func (lw *lowerer) translateExpr(dest Dest, e core.Expr) (core.Atom, error) {
	switch x := e.(type) {
	case *core.AtomExpr:
		a, err := lw.substCore(x.Atom)
		if err != nil {
			return nil, err
		}
		if dest != nil {
			if err := lw.copyAtom(dest, a); err != nil {
				return nil, err
			}
		}
		return a, nil
	case *core.App:
		if x.Arrow.Kind != core.TabArrow {
			return nil, errors.Compiler("residual %s application reached lowering", x.Arrow)
		}
		tab, err := lw.substCore(x.Fun)
		if err != nil {
			return nil, err
		}
		idx, err := lw.substCore(x.Arg)
		if err != nil {
			return nil, err
		}
		res, err := lw.indexTableAtom(tab, idx)
		if err != nil {
			return nil, err
		}
		if dest != nil {
			if err := lw.copyAtom(dest, res); err != nil {
				return nil, err
			}
		}
		return res, nil
	case *core.OpExpr:
		op, err := core.MapOpAtoms(x.Op, lw.substCore)
		if err != nil {
			return nil, err
		}
		return lw.toImpOp(dest, op)
	case *core.HofExpr:
		return lw.toImpHof(dest, x.Hof)
	case *core.Case:
		return lw.translateCase(dest, x)
	default:
		return nil, errors.Compiler("unhandled expr %T in lowering", e)
	}
}

// translateCase lowers a case: statically when the scrutinee's tag is
// known, otherwise as a tag switch writing each alternative into the
// shared destination.
func (lw *lowerer) translateCase(dest Dest, c *core.Case) (core.Atom, error) {
	scrut, err := lw.substCore(c.Scrut)
	if err != nil {
		return nil, err
	}
	sv, ok := scrut.(*core.SumVal)
	if !ok {
		return nil, errors.Compiler("case scrutinee is not a sum value: %s", scrut)
	}
	if tag, ok := sv.Tag.(*core.Lit); ok {
		alt := c.Alts[1]
		payload := sv.Rite
		if bool(tag.Val.(core.BoolLit)) {
			alt = c.Alts[0]
			payload = sv.Left
		}
		lw.env[alt.Binders[0].Name] = payload
		return lw.translateBlock(dest, alt.Body)
	}
	resDest := dest
	if resDest == nil {
		ty, err := lw.substCore(c.Ty)
		if err != nil {
			return nil, err
		}
		resDest, err = lw.makeDest(Managed, "case", ty)
		if err != nil {
			return nil, err
		}
	}
	tagExpr, err := lw.scalarIExpr(sv.Tag)
	if err != nil {
		return nil, err
	}
	// Tag true selects the left alternative; switch on its integer
	// form with arm 0 = right, arm 1 = left.
	tagInt := lw.emit("tag", IUnOp{Op: core.BoolToInt, X: tagExpr}, ScalarTy(core.IntType))
	arms := []func() error{
		func() error {
			lw.env[c.Alts[1].Binders[0].Name] = sv.Rite
			_, err := lw.translateBlock(resDest, c.Alts[1].Body)
			return err
		},
		func() error {
			lw.env[c.Alts[0].Binders[0].Name] = sv.Left
			_, err := lw.translateBlock(resDest, c.Alts[0].Body)
			return err
		},
	}
	if err := lw.emitSwitch(tagInt, arms); err != nil {
		return nil, err
	}
	return lw.loadDest(resDest)
}
