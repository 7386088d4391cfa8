package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// CheckModule verifies an Imp module after lowering: operand types,
// binder consistency, pointer discipline, and kernel isolation.
// Failures are compiler bugs.
func CheckModule(m *Module) error {
	for _, f := range m.Funcs {
		if err := checkFunction(f); err != nil {
			return errors.Compiler("in function %s: %s", f.Name, err)
		}
	}
	if m.MainFunction() == nil {
		return errors.Compiler("module has no main function %s", m.Main)
	}
	return nil
}

func checkFunction(f *Function) error {
	env := map[core.Name]IType{}
	for _, a := range f.Args {
		env[a.Name] = a.Type
	}
	if f.CC == MCThreadLaunch || f.CC == CUDAKernelLaunch {
		if free := freeIVars(f.Body, argNames(f.Args)); len(free) != 0 {
			return errors.Compiler("kernel reads %d unlisted variables", len(free))
		}
	}
	return checkBlock(env, f.Body)
}

func argNames(args []IVar) map[core.Name]bool {
	out := make(map[core.Name]bool, len(args))
	for _, a := range args {
		out[a.Name] = true
	}
	return out
}

func checkBlock(env map[core.Name]IType, b *Block) error {
	for _, s := range b.Stmts {
		resTy, err := checkInstr(env, s.Instr)
		if err != nil {
			return err
		}
		if s.Binder != nil {
			if resTy == nil {
				return errors.Compiler("binding a void instruction: %s", s.Instr)
			}
			if *resTy != s.Binder.Type {
				return errors.Compiler("binder %s does not match result type %s", s.Binder, *resTy)
			}
			env[s.Binder.Name] = s.Binder.Type
		}
	}
	for _, r := range b.Results {
		if err := checkExpr(env, r); err != nil {
			return err
		}
	}
	return nil
}

func checkExpr(env map[core.Name]IType, e IExpr) error {
	if v, ok := e.(IVar); ok {
		ty, ok := env[v.Name]
		if !ok {
			return errors.Compiler("unbound imp variable %s", v)
		}
		if ty != v.Type {
			return errors.Compiler("variable %s annotated %s but bound at %s", v.Name, v.Type, ty)
		}
	}
	return nil
}

func checkScalar(env map[core.Name]IType, e IExpr, base core.BaseType) error {
	if err := checkExpr(env, e); err != nil {
		return err
	}
	t := e.Ty()
	if t.Ptr || t.Base != base {
		return errors.Compiler("expected scalar %s, got %s", base, t)
	}
	return nil
}

func checkPtr(env map[core.Name]IType, e IExpr) (IType, error) {
	if err := checkExpr(env, e); err != nil {
		return IType{}, err
	}
	t := e.Ty()
	if !t.Ptr {
		return IType{}, errors.Compiler("expected pointer, got %s", t)
	}
	return t, nil
}

// checkInstr returns the instruction's result type, or nil for void
// instructions.
func checkInstr(env map[core.Name]IType, in Instr) (*IType, error) {
	ret := func(t IType) (*IType, error) { return &t, nil }
	switch i := in.(type) {
	case IBinOp:
		want := core.IntType
		switch i.Op {
		case core.FAdd, core.FSub, core.FMul, core.FDiv:
			want = core.RealType
		case core.BAnd, core.BOr:
			want = core.BoolType
		}
		if err := checkScalar(env, i.X, want); err != nil {
			return nil, err
		}
		if err := checkScalar(env, i.Y, want); err != nil {
			return nil, err
		}
		return ret(ScalarTy(i.Op.ResultType()))
	case IUnOp:
		want := core.IntType
		switch i.Op {
		case core.FNeg:
			want = core.RealType
		case core.BNot, core.BoolToInt:
			want = core.BoolType
		}
		if err := checkScalar(env, i.X, want); err != nil {
			return nil, err
		}
		return ret(ScalarTy(i.Op.ResultType()))
	case IICmp:
		if err := checkExpr(env, i.X); err != nil {
			return nil, err
		}
		if err := checkExpr(env, i.Y); err != nil {
			return nil, err
		}
		if i.X.Ty() != i.Y.Ty() {
			return nil, errors.Compiler("icmp operand mismatch: %s vs %s", i.X.Ty(), i.Y.Ty())
		}
		return ret(ScalarTy(core.BoolType))
	case IFCmp:
		if err := checkScalar(env, i.X, core.RealType); err != nil {
			return nil, err
		}
		if err := checkScalar(env, i.Y, core.RealType); err != nil {
			return nil, err
		}
		return ret(ScalarTy(core.BoolType))
	case ISelect:
		if err := checkScalar(env, i.P, core.BoolType); err != nil {
			return nil, err
		}
		if i.X.Ty() != i.Y.Ty() {
			return nil, errors.Compiler("select arm mismatch: %s vs %s", i.X.Ty(), i.Y.Ty())
		}
		return ret(i.X.Ty())
	case ICastOp:
		if err := checkExpr(env, i.X); err != nil {
			return nil, err
		}
		return ret(i.To)
	case Alloc:
		if err := checkScalar(env, i.Numel, core.IntType); err != nil {
			return nil, err
		}
		return ret(PtrTy(i.Base, i.Addr, i.Dev))
	case Free:
		t, err := checkPtr(env, i.Ptr)
		if err != nil {
			return nil, err
		}
		if t.Addr != Heap {
			return nil, errors.Compiler("freeing non-heap pointer %s", i.Ptr)
		}
		return nil, nil
	case MemCopy:
		dt, err := checkPtr(env, i.Dst)
		if err != nil {
			return nil, err
		}
		st, err := checkPtr(env, i.Src)
		if err != nil {
			return nil, err
		}
		if dt.Base != st.Base {
			return nil, errors.Compiler("memcopy base mismatch: %s vs %s", dt, st)
		}
		return nil, checkScalar(env, i.Numel, core.IntType)
	case Store:
		t, err := checkPtr(env, i.Dst)
		if err != nil {
			return nil, err
		}
		if err := checkScalar(env, i.Val, t.Base); err != nil {
			return nil, err
		}
		return nil, nil
	case Load:
		t, err := checkPtr(env, i.Ptr)
		if err != nil {
			return nil, err
		}
		return ret(ScalarTy(t.Base))
	case PtrOffset:
		t, err := checkPtr(env, i.Ptr)
		if err != nil {
			return nil, err
		}
		if err := checkScalar(env, i.Off, core.IntType); err != nil {
			return nil, err
		}
		return ret(t)
	case IThrowError:
		return nil, nil
	case IFor:
		if err := checkScalar(env, i.N, core.IntType); err != nil {
			return nil, err
		}
		env[i.Binder.Name] = i.Binder.Type
		return nil, checkBlock(env, i.Body)
	case IWhile:
		if err := checkBlock(env, i.Cond); err != nil {
			return nil, err
		}
		if len(i.Cond.Results) != 1 {
			return nil, errors.Compiler("while condition must yield one boolean")
		}
		if err := checkScalar(env, i.Cond.Results[0], core.BoolType); err != nil {
			return nil, err
		}
		return nil, checkBlock(env, i.Body)
	case ICond:
		if err := checkScalar(env, i.P, core.BoolType); err != nil {
			return nil, err
		}
		if err := checkBlock(env, i.Then); err != nil {
			return nil, err
		}
		return nil, checkBlock(env, i.Else)
	case ILaunch:
		if err := checkScalar(env, i.N, core.IntType); err != nil {
			return nil, err
		}
		for _, a := range i.Args {
			if err := checkExpr(env, a); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, errors.Compiler("unhandled instruction %T", in)
	}
}
