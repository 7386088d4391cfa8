// Package builder provides the embedding monad: a stateful handle
// that constructs core blocks incrementally, generating fresh names
// against a scope, accumulating let-bound declarations in order, and
// tracking the effect row the block under construction may use.
//
// Each pass makes its own Builder; handles are never shared across
// passes.
package builder

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// Builder accumulates declarations under a scope. A child builder
// (sub-scope) copies the scope at entry, so names emitted inside it
// are fresh with respect to everything visible outside.
type Builder struct {
	scope core.Scope
	decls []core.Decl
	hint  string
	eff   core.EffectRow
}

// New makes a builder over the given ambient scope with a pure
// effect row.
func New(scope core.Scope) *Builder {
	if scope == nil {
		scope = core.Scope{}
	}
	return &Builder{scope: scope, hint: "v"}
}

// Scope is the scope at the current point of construction.
func (b *Builder) Scope() core.Scope { return b.scope }

// Effects is the effect row the block under construction may use.
func (b *Builder) Effects() core.EffectRow { return b.eff }

// WithHint sets the printable hint used for the next emitted names.
func (b *Builder) WithHint(hint string) *Builder {
	b.hint = hint
	return b
}

// sub enters a sub-scope carrying the given effect row.
func (b *Builder) sub(eff core.EffectRow) *Builder {
	return &Builder{scope: b.scope.Copy(), hint: b.hint, eff: eff}
}

// Emit binds an expression to a fresh name and returns the variable.
// A pure expression of singleton type is not emitted at all; its
// unique value is returned directly.
func (b *Builder) Emit(expr core.Expr) (core.Atom, error) {
	ty, err := core.TypeOfExpr(expr)
	if err != nil {
		return nil, err
	}
	eff, err := core.ExprEffects(expr)
	if err != nil {
		return nil, err
	}
	if eff.IsPure() {
		if v, ok := core.SingletonTypeVal(ty); ok {
			return v, nil
		}
		if ae, ok := expr.(*core.AtomExpr); ok {
			return ae.Atom, nil
		}
	}
	name := b.scope.Fresh(core.Gen(b.hint))
	binder := core.Var{Name: name, Ty: ty}
	b.decls = append(b.decls, &core.LetDecl{Binder: binder, Bound: expr})
	b.scope[name] = core.ScopeEntry{Ty: ty, Bound: expr}
	b.eff = b.eff.Union(eff)
	return binder, nil
}

// EmitOp emits a primitive operation.
func (b *Builder) EmitOp(op core.PrimOp) (core.Atom, error) {
	return b.Emit(&core.OpExpr{Op: op})
}

// EmitHof emits a higher-order primitive form.
func (b *Builder) EmitHof(hof core.PrimHof) (core.Atom, error) {
	return b.Emit(&core.HofExpr{Hof: hof})
}

// EmitUnpack destructures an expression into fresh binders, one per
// component type, and returns their variables.
func (b *Builder) EmitUnpack(expr core.Expr, tys []core.Type) ([]core.Atom, error) {
	eff, err := core.ExprEffects(expr)
	if err != nil {
		return nil, err
	}
	binders := make([]core.Var, len(tys))
	atoms := make([]core.Atom, len(tys))
	for i, ty := range tys {
		name := b.scope.Fresh(core.Gen(b.hint))
		binders[i] = core.Var{Name: name, Ty: ty}
		b.scope[name] = core.ScopeEntry{Ty: ty}
		atoms[i] = binders[i]
	}
	b.decls = append(b.decls, &core.UnpackDecl{Binders: binders, Bound: expr})
	b.eff = b.eff.Union(eff)
	return atoms, nil
}

// FreshVar allocates a fresh variable in the ambient scope without
// emitting a declaration.
func (b *Builder) FreshVar(hint string, ty core.Type) core.Var {
	name := b.scope.Fresh(core.Gen(hint))
	v := core.Var{Name: name, Ty: ty}
	b.scope[name] = core.ScopeEntry{Ty: ty}
	return v
}

// wrap closes the builder's declarations over a result atom,
// producing a block. When the result is exactly the variable of the
// final let, the let is elided and its expression becomes the block
// result.
func (b *Builder) wrap(result core.Atom) *core.Block {
	decls := b.decls
	var resultExpr core.Expr = &core.AtomExpr{Atom: result}
	if v, ok := result.(core.Var); ok && len(decls) > 0 {
		if last, ok := decls[len(decls)-1].(*core.LetDecl); ok && last.Binder.Name == v.Name {
			decls = decls[:len(decls)-1]
			resultExpr = last.Bound
		}
	}
	return &core.Block{Decls: decls, Result: resultExpr, Eff: b.eff}
}

// BuildScoped runs m in a sub-scope and wraps whatever it emitted
// into a block.
func (b *Builder) BuildScoped(m func(*Builder) (core.Atom, error)) (*core.Block, error) {
	child := b.sub(b.eff)
	result, err := m(child)
	if err != nil {
		return nil, err
	}
	return child.wrap(result), nil
}

// BuildEffScoped is BuildScoped under an explicit effect row.
func (b *Builder) BuildEffScoped(eff core.EffectRow, m func(*Builder) (core.Atom, error)) (*core.Block, error) {
	child := b.sub(eff)
	result, err := m(child)
	if err != nil {
		return nil, err
	}
	return child.wrap(result), nil
}

// BuildLam builds a lambda: a fresh binder of the given type enters a
// sub-scope whose effect row is the arrow's row, the body runs there,
// and the collected declarations wrap into the lambda's block.
func (b *Builder) BuildLam(hint string, arrow core.Arrow, ty core.Type, body func(*Builder, core.Atom) (core.Atom, error)) (core.Atom, error) {
	return b.BuildDepEffLam(hint, ty,
		func(core.Atom) (core.Arrow, error) { return arrow, nil }, body)
}

// BuildDepEffLam generalizes BuildLam to a dependent arrow: the arrow
// (and hence the effect row the body sees) may mention the binder.
func (b *Builder) BuildDepEffLam(hint string, ty core.Type, arrFn func(core.Atom) (core.Arrow, error), body func(*Builder, core.Atom) (core.Atom, error)) (core.Atom, error) {
	name := b.scope.Fresh(core.Gen(hint))
	binder := core.Var{Name: name, Ty: ty}
	arrow, err := arrFn(binder)
	if err != nil {
		return nil, err
	}
	child := b.sub(arrow.Eff)
	child.scope[name] = core.ScopeEntry{Ty: ty}
	result, err := body(child, binder)
	if err != nil {
		return nil, err
	}
	return &core.Lam{Arrow: arrow, Binder: binder, Body: child.wrap(result)}, nil
}

// BuildFor emits a for over an index set, building the per-index body
// in a sub-scope.
func (b *Builder) BuildFor(dir core.Direction, hint string, idxTy core.Type, body func(*Builder, core.Atom) (core.Atom, error)) (core.Atom, error) {
	lam, err := b.BuildLam(hint, core.PlainArr(b.eff), idxTy, body)
	if err != nil {
		return nil, err
	}
	return b.EmitHof(&core.For{Dir: dir, Lam: lam})
}

// BuildAbs runs f under a fresh binder and asserts the body reduced
// to an atom without emitting declarations; the contract of callers
// is that the body is statically reducible.
func (b *Builder) BuildAbs(hint string, ty core.Type, f func(*Builder, core.Atom) (core.Atom, error)) (core.Var, core.Atom, error) {
	name := b.scope.Fresh(core.Gen(hint))
	binder := core.Var{Name: name, Ty: ty}
	child := b.sub(b.eff)
	child.scope[name] = core.ScopeEntry{Ty: ty}
	result, err := f(child, binder)
	if err != nil {
		return core.Var{}, nil, err
	}
	if len(child.decls) > 0 {
		return core.Var{}, nil, errors.Compiler("buildAbs body emitted %d decls; it must reduce", len(child.decls))
	}
	return binder, result, nil
}

// ReduceScoped runs m in a sub-scope and, when the resulting block
// reduces to a single atom under its let-bindings, returns that atom.
func (b *Builder) ReduceScoped(m func(*Builder) (core.Atom, error)) (core.Atom, bool, error) {
	block, err := b.BuildScoped(m)
	if err != nil {
		return nil, false, err
	}
	atom, ok, err := ReduceBlock(b.scope, block)
	if err != nil {
		return nil, false, err
	}
	return atom, ok, nil
}

// ReduceBlock tries to collapse a block to one atom by inlining
// let-bound atoms. Blocks whose declarations do real work stay as
// blocks.
func ReduceBlock(scope core.Scope, block *core.Block) (core.Atom, bool, error) {
	env := core.SubstEnv{}
	for _, d := range block.Decls {
		let, ok := d.(*core.LetDecl)
		if !ok {
			return nil, false, nil
		}
		bound, err := core.SubstExpr(env, scope, let.Bound)
		if err != nil {
			return nil, false, err
		}
		atomExpr, ok := bound.(*core.AtomExpr)
		if !ok {
			return nil, false, nil
		}
		env[let.Binder.Name] = atomExpr.Atom
	}
	result, err := core.SubstExpr(env, scope, block.Result)
	if err != nil {
		return nil, false, err
	}
	if ae, ok := result.(*core.AtomExpr); ok {
		return ae.Atom, true, nil
	}
	return nil, false, nil
}
