package builder

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// App applies a function atom, deriving the arrow from the function's
// type.
func (b *Builder) App(f core.Atom, x core.Atom) (core.Atom, error) {
	fTy, err := core.TypeOf(f)
	if err != nil {
		return nil, err
	}
	pi, ok := fTy.(*core.Pi)
	if !ok {
		return nil, errors.Compiler("applying non-function %s : %s", f, fTy)
	}
	eff, _, err := core.ApplyPi(pi, x)
	if err != nil {
		return nil, err
	}
	return b.Emit(&core.App{Arrow: core.Arrow{Kind: pi.Arrow.Kind, Eff: eff}, Fun: f, Arg: x})
}

// TabApp indexes a table atom.
func (b *Builder) TabApp(tab core.Atom, i core.Atom) (core.Atom, error) {
	if afor, ok := tab.(*core.AFor); ok {
		return afor.Body, nil
	}
	return b.Emit(&core.App{Arrow: core.TabArr(), Fun: tab, Arg: i})
}

// Fst projects a pair, statically when the pair is literal.
func (b *Builder) Fst(p core.Atom) (core.Atom, error) {
	if pv, ok := p.(*core.PairVal); ok {
		return pv.Fst, nil
	}
	return b.EmitOp(&core.Fst{Pair: p})
}

// Snd projects a pair, statically when the pair is literal.
func (b *Builder) Snd(p core.Atom) (core.Atom, error) {
	if pv, ok := p.(*core.PairVal); ok {
		return pv.Snd, nil
	}
	return b.EmitOp(&core.Snd{Pair: p})
}

// BinOp emits a scalar binary operation.
func (b *Builder) BinOp(op core.BinOpKind, x, y core.Atom) (core.Atom, error) {
	return b.EmitOp(&core.ScalarBinOp{Op: op, X: x, Y: y})
}

// UnOp emits a scalar unary operation.
func (b *Builder) UnOp(op core.UnOpKind, x core.Atom) (core.Atom, error) {
	return b.EmitOp(&core.ScalarUnOp{Op: op, X: x})
}
