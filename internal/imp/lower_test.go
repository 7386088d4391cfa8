package imp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operskoj2c/dex-lang/internal/core"
)

func intLit(v int64) core.Atom { return &core.Lit{Val: core.IntLit(v)} }
func intTy() core.Type         { return &core.BaseTy{Ty: core.IntType} }

func rangeTy(l, h int64) *core.IntRangeTy {
	return &core.IntRangeTy{Low: intLit(l), High: intLit(h)}
}

// squaresBlock is: for i in range(0, n). i * i
func squaresBlock(n int64) *core.Block {
	i := core.Var{Name: core.Gen("i"), Ty: rangeTy(0, n)}
	a := core.Var{Name: core.Gen("a"), Ty: intTy()}
	return &core.Block{
		Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: &core.Lam{
			Arrow:  core.PureArr(),
			Binder: i,
			Body: &core.Block{
				Decls: []core.Decl{&core.LetDecl{
					Binder: a,
					Bound:  &core.OpExpr{Op: &core.IndexAsInt{Idx: i}},
				}},
				Result: &core.OpExpr{Op: &core.ScalarBinOp{Op: core.IMul, X: a, Y: a}},
			},
		}}},
	}
}

func lower(t *testing.T, backend Backend, blk *core.Block) *Result {
	t.Helper()
	res, err := LowerBlock(core.Scope{}, backend, blk)
	require.NoError(t, err)
	require.NoError(t, CheckModule(res.Module))
	return res
}

func ints(vals []core.LitVal) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v.(core.IntLit))
	}
	return out
}

// for i in range(0,4). i*i lowers to one 4-element buffer filled by a
// single loop.
func TestLowerFor(t *testing.T) {
	res := lower(t, LLVM, squaresBlock(4))

	require.Len(t, res.Ptrs, 1)
	main := res.Module.MainFunction()
	require.NotNil(t, main)

	allocs, fors := 0, 0
	for _, s := range main.Body.Stmts {
		switch in := s.Instr.(type) {
		case Alloc:
			allocs++
			assert.Equal(t, "4", in.Numel.String())
		case IFor:
			fors++
			assert.Equal(t, "4", in.N.String())
		}
	}
	assert.Equal(t, 1, allocs)
	assert.Equal(t, 1, fors)

	bufs, err := Interpret(res.Module)
	require.NoError(t, err)
	require.Len(t, bufs, 1)
	assert.Equal(t, []int64{0, 1, 4, 9}, ints(bufs[0]))
}

// Nested tables store at buf + (i*n2 + j): the row-major offset
// polynomial.
func TestNestedTableOffsets(t *testing.T) {
	i := core.Var{Name: core.Gen("i"), Ty: rangeTy(0, 2)}
	j := core.Var{Name: core.Gen("j"), Ty: rangeTy(0, 3)}
	ai := core.Var{Name: core.Gen("ai"), Ty: intTy()}
	aj := core.Var{Name: core.Gen("aj"), Ty: intTy()}
	inner := &core.Lam{
		Arrow:  core.PureArr(),
		Binder: j,
		Body: &core.Block{
			Decls: []core.Decl{
				&core.LetDecl{Binder: ai, Bound: &core.OpExpr{Op: &core.IndexAsInt{Idx: i}}},
				&core.LetDecl{Binder: aj, Bound: &core.OpExpr{Op: &core.IndexAsInt{Idx: j}}},
			},
			Result: &core.OpExpr{Op: &core.ScalarBinOp{Op: core.IAdd, X: ai, Y: aj}},
		},
	}
	block := &core.Block{
		Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: &core.Lam{
			Arrow:  core.PureArr(),
			Binder: i,
			Body:   &core.Block{Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: inner}}},
		}}},
	}

	res := lower(t, LLVM, block)
	require.Len(t, res.Ptrs, 1)

	bufs, err := Interpret(res.Module)
	require.NoError(t, err)
	require.Len(t, bufs[0], 6)
	// value at flat offset i*3 + j is i + j
	assert.Equal(t, []int64{0, 1, 2, 1, 2, 3}, ints(bufs[0]))
}

// A pure top-level for on a multicore backend becomes a kernel whose
// free variables all appear in its argument list.
func TestKernelEmission(t *testing.T) {
	res := lower(t, LLVMMC, squaresBlock(8))

	var kernel *Function
	for _, f := range res.Module.Funcs {
		if f.CC == MCThreadLaunch {
			kernel = f
		}
	}
	require.NotNil(t, kernel, "multicore backend emits a kernel for a pure top-level for")
	assert.Empty(t, freeIVars(kernel.Body, argNames(kernel.Args)), "kernel reads only its arguments")

	launches := 0
	for _, s := range res.Module.MainFunction().Body.Stmts {
		if _, ok := s.Instr.(ILaunch); ok {
			launches++
		}
	}
	assert.Equal(t, 1, launches)

	bufs, err := Interpret(res.Module)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 4, 9, 16, 25, 36, 49}, ints(bufs[0]))
}

// The single-device backends reject kernel emission; loops stay
// sequential.
func TestNoKernelOnSingleDevice(t *testing.T) {
	for _, backend := range []Backend{LLVM, Interp} {
		res := lower(t, backend, squaresBlock(4))
		for _, f := range res.Module.Funcs {
			assert.NotEqual(t, MCThreadLaunch, f.CC)
			assert.NotEqual(t, CUDAKernelLaunch, f.CC)
		}
	}
}

// copyAtom refuses a dest/src type mismatch.
func TestCopyTypeCongruence(t *testing.T) {
	lw := &lowerer{
		backend: LLVM,
		scope:   core.Scope{},
		env:     map[core.Name]core.Atom{},
		dests:   map[core.Name]Dest{},
		ivars:   map[core.Name]IVar{},
	}
	dest, err := lw.makeDest(Managed, "x", intTy())
	require.NoError(t, err)
	require.NoError(t, lw.copyAtom(dest, intLit(3)))

	err = lw.copyAtom(dest, &core.Lit{Val: core.RealLit(1)})
	require.Error(t, err)
}

// The unmanaged result buffer goes on the heap whatever its literal
// size, and unmanaged allocations are never freed.
func TestAllocationPlacement(t *testing.T) {
	small := lower(t, LLVM, squaresBlock(4))
	big := lower(t, LLVM, squaresBlock(1000))

	addrOf := func(res *Result) AddressSpace {
		for _, s := range res.Module.MainFunction().Body.Stmts {
			if a, ok := s.Instr.(Alloc); ok {
				return a.Addr
			}
		}
		t.Fatal("no allocation found")
		return Stack
	}
	// The result buffer is unmanaged and lives on the heap either way.
	assert.Equal(t, Heap, addrOf(small))
	assert.Equal(t, Heap, addrOf(big))

	for _, res := range []*Result{small, big} {
		for _, s := range res.Module.MainFunction().Body.Stmts {
			_, isFree := s.Instr.(Free)
			assert.False(t, isFree, "unmanaged result buffers are never freed")
		}
	}
}

func TestRunWriterLowering(t *testing.T) {
	// runWriter \ref. for i in range(0,3). tell ref 1.0  ==>  ((), 3.0)
	h := core.Var{Name: core.Gen("h"), Ty: &core.TypeKind{}}
	realT := &core.BaseTy{Ty: core.RealType}
	ref := core.Var{Name: core.Gen("ref"), Ty: &core.RefTy{Region: h, Ty: realT}}
	row := core.Pure().Extend(h.Name, core.RowEntry{Effect: core.Writer, Ty: realT})

	i := core.Var{Name: core.Gen("i"), Ty: rangeTy(0, 3)}
	forBody := &core.Block{
		Result: &core.OpExpr{Op: &core.PrimEffect{Ref: ref, Op: core.MTell{X: &core.Lit{Val: core.RealLit(1)}}}},
		Eff:    row,
	}
	innerLam := &core.Lam{Arrow: core.PlainArr(row), Binder: ref, Body: &core.Block{
		Result: &core.HofExpr{Hof: &core.For{Dir: core.Fwd, Lam: &core.Lam{Arrow: core.PlainArr(row), Binder: i, Body: forBody}}},
		Eff:    row,
	}}
	outerLam := &core.Lam{Arrow: core.Arrow{Kind: core.ImplicitArrow}, Binder: h, Body: core.AtomBlock(innerLam)}
	block := &core.Block{Result: &core.HofExpr{Hof: &core.RunWriter{Lam: outerLam}}}

	res := lower(t, LLVM, block)
	bufs, err := Interpret(res.Module)
	require.NoError(t, err)
	// The unit table allocates nothing; the accumulator is the only
	// result buffer.
	require.Len(t, bufs, 1)
	require.Len(t, bufs[0], 1)
	assert.Equal(t, core.RealLit(3), bufs[0][0])
}
