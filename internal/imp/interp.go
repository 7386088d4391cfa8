package imp

import (
	"github.com/operskoj2c/dex-lang/internal/core"
	"github.com/operskoj2c/dex-lang/internal/errors"
)

// A reference interpreter for Imp modules. The native backends are
// external collaborators; this executes the same semantics directly
// and backs the Interp backend tag.

// ifaceValue is a machine value: a scalar literal or a pointer into a
// buffer.
type ifaceValue struct {
	scalar core.LitVal
	buf    *buffer
	off    int64
	isPtr  bool
}

type buffer struct {
	base core.BaseType
	vals []core.LitVal
}

type machine struct {
	mod  *Module
	regs map[core.Name]ifaceValue
}

// Interpret runs the module's main function and returns the buffer
// contents behind each returned pointer, in return order.
func Interpret(mod *Module) ([][]core.LitVal, error) {
	main := mod.MainFunction()
	if main == nil {
		return nil, errors.Compiler("module has no main function")
	}
	m := &machine{mod: mod, regs: map[core.Name]ifaceValue{}}
	results, err := m.runBlock(main.Body)
	if err != nil {
		return nil, err
	}
	out := make([][]core.LitVal, len(results))
	for i, r := range results {
		if !r.isPtr {
			return nil, errors.Compiler("main returned a non-pointer result")
		}
		out[i] = r.buf.vals
	}
	return out, nil
}

func (m *machine) runBlock(b *Block) ([]ifaceValue, error) {
	for _, s := range b.Stmts {
		v, bound, err := m.runInstr(s.Instr)
		if err != nil {
			return nil, err
		}
		if s.Binder != nil {
			if !bound {
				return nil, errors.Compiler("binding void instruction %s", s.Instr)
			}
			m.regs[s.Binder.Name] = v
		}
	}
	out := make([]ifaceValue, len(b.Results))
	for i, r := range b.Results {
		v, err := m.eval(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *machine) eval(e IExpr) (ifaceValue, error) {
	switch x := e.(type) {
	case ILit:
		return ifaceValue{scalar: x.Val}, nil
	case IVar:
		v, ok := m.regs[x.Name]
		if !ok {
			return ifaceValue{}, errors.Compiler("unbound imp variable %s", x)
		}
		return v, nil
	default:
		return ifaceValue{}, errors.Compiler("unhandled operand %T", e)
	}
}

func (m *machine) evalInt(e IExpr) (int64, error) {
	v, err := m.eval(e)
	if err != nil {
		return 0, err
	}
	i, ok := v.scalar.(core.IntLit)
	if !ok {
		return 0, errors.Compiler("expected integer operand, got %v", v.scalar)
	}
	return int64(i), nil
}

func (m *machine) evalReal(e IExpr) (float64, error) {
	v, err := m.eval(e)
	if err != nil {
		return 0, err
	}
	r, ok := v.scalar.(core.RealLit)
	if !ok {
		return 0, errors.Compiler("expected real operand, got %v", v.scalar)
	}
	return float64(r), nil
}

func (m *machine) evalBool(e IExpr) (bool, error) {
	v, err := m.eval(e)
	if err != nil {
		return false, err
	}
	b, ok := v.scalar.(core.BoolLit)
	if !ok {
		return false, errors.Compiler("expected boolean operand, got %v", v.scalar)
	}
	return bool(b), nil
}

func scalar(v core.LitVal) ifaceValue { return ifaceValue{scalar: v} }

// runInstr executes one instruction; bound reports whether it
// produced a value.
func (m *machine) runInstr(in Instr) (ifaceValue, bool, error) {
	switch i := in.(type) {
	case IBinOp:
		v, err := m.binOp(i)
		return v, true, err
	case IUnOp:
		v, err := m.unOp(i)
		return v, true, err
	case IICmp:
		xv, err := m.eval(i.X)
		if err != nil {
			return ifaceValue{}, false, err
		}
		yv, err := m.eval(i.Y)
		if err != nil {
			return ifaceValue{}, false, err
		}
		x, err := asInt(xv.scalar)
		if err != nil {
			return ifaceValue{}, false, err
		}
		y, err := asInt(yv.scalar)
		if err != nil {
			return ifaceValue{}, false, err
		}
		return scalar(core.BoolLit(cmpInt(i.Op, x, y))), true, nil
	case IFCmp:
		x, err := m.evalReal(i.X)
		if err != nil {
			return ifaceValue{}, false, err
		}
		y, err := m.evalReal(i.Y)
		if err != nil {
			return ifaceValue{}, false, err
		}
		return scalar(core.BoolLit(cmpReal(i.Op, x, y))), true, nil
	case ISelect:
		p, err := m.evalBool(i.P)
		if err != nil {
			return ifaceValue{}, false, err
		}
		if p {
			v, err := m.eval(i.X)
			return v, true, err
		}
		v, err := m.eval(i.Y)
		return v, true, err
	case ICastOp:
		v, err := m.eval(i.X)
		return v, true, err
	case Alloc:
		n, err := m.evalInt(i.Numel)
		if err != nil {
			return ifaceValue{}, false, err
		}
		buf := &buffer{base: i.Base, vals: make([]core.LitVal, n)}
		for j := range buf.vals {
			buf.vals[j] = core.ZeroLit(i.Base)
		}
		return ifaceValue{buf: buf, isPtr: true}, true, nil
	case Free:
		return ifaceValue{}, false, nil
	case MemCopy:
		dst, err := m.eval(i.Dst)
		if err != nil {
			return ifaceValue{}, false, err
		}
		src, err := m.eval(i.Src)
		if err != nil {
			return ifaceValue{}, false, err
		}
		n, err := m.evalInt(i.Numel)
		if err != nil {
			return ifaceValue{}, false, err
		}
		for j := int64(0); j < n; j++ {
			dst.buf.vals[dst.off+j] = src.buf.vals[src.off+j]
		}
		return ifaceValue{}, false, nil
	case Store:
		dst, err := m.eval(i.Dst)
		if err != nil {
			return ifaceValue{}, false, err
		}
		v, err := m.eval(i.Val)
		if err != nil {
			return ifaceValue{}, false, err
		}
		if !dst.isPtr || dst.off < 0 || dst.off >= int64(len(dst.buf.vals)) {
			return ifaceValue{}, false, errors.Compiler("store out of bounds")
		}
		dst.buf.vals[dst.off] = v.scalar
		return ifaceValue{}, false, nil
	case Load:
		p, err := m.eval(i.Ptr)
		if err != nil {
			return ifaceValue{}, false, err
		}
		if !p.isPtr || p.off < 0 || p.off >= int64(len(p.buf.vals)) {
			return ifaceValue{}, false, errors.Compiler("load out of bounds")
		}
		return scalar(p.buf.vals[p.off]), true, nil
	case PtrOffset:
		p, err := m.eval(i.Ptr)
		if err != nil {
			return ifaceValue{}, false, err
		}
		n, err := m.evalInt(i.Off)
		if err != nil {
			return ifaceValue{}, false, err
		}
		return ifaceValue{buf: p.buf, off: p.off + n, isPtr: true}, true, nil
	case IThrowError:
		return ifaceValue{}, false, errors.Misc("runtime error")
	case IFor:
		n, err := m.evalInt(i.N)
		if err != nil {
			return ifaceValue{}, false, err
		}
		for j := int64(0); j < n; j++ {
			iter := j
			if i.Dir == core.Rev {
				iter = n - 1 - j
			}
			m.regs[i.Binder.Name] = scalar(core.IntLit(iter))
			if _, err := m.runBlock(i.Body); err != nil {
				return ifaceValue{}, false, err
			}
		}
		return ifaceValue{}, false, nil
	case IWhile:
		for {
			res, err := m.runBlock(i.Cond)
			if err != nil {
				return ifaceValue{}, false, err
			}
			cond, ok := res[0].scalar.(core.BoolLit)
			if !ok {
				return ifaceValue{}, false, errors.Compiler("while condition is not boolean")
			}
			if !bool(cond) {
				return ifaceValue{}, false, nil
			}
			if _, err := m.runBlock(i.Body); err != nil {
				return ifaceValue{}, false, err
			}
		}
	case ICond:
		p, err := m.evalBool(i.P)
		if err != nil {
			return ifaceValue{}, false, err
		}
		blk := i.Else
		if p {
			blk = i.Then
		}
		_, err = m.runBlock(blk)
		return ifaceValue{}, false, err
	case ILaunch:
		var fun *Function
		for _, f := range m.mod.Funcs {
			if f.Name == i.Fun {
				fun = f
				break
			}
		}
		if fun == nil {
			return ifaceValue{}, false, errors.Compiler("launching unknown kernel %s", i.Fun)
		}
		n, err := m.evalInt(i.N)
		if err != nil {
			return ifaceValue{}, false, err
		}
		args := make([]ifaceValue, len(i.Args))
		for j, a := range i.Args {
			v, err := m.eval(a)
			if err != nil {
				return ifaceValue{}, false, err
			}
			args[j] = v
		}
		for tid := int64(0); tid < n; tid++ {
			m.regs[fun.Args[0].Name] = scalar(core.IntLit(tid))
			for j, a := range args {
				m.regs[fun.Args[j+1].Name] = a
			}
			if _, err := m.runBlock(fun.Body); err != nil {
				return ifaceValue{}, false, err
			}
		}
		return ifaceValue{}, false, nil
	default:
		return ifaceValue{}, false, errors.Compiler("unhandled instruction %T", in)
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// asInt reads an integer, letting booleans compare through their
// integer form.
func asInt(v core.LitVal) (int64, error) {
	switch x := v.(type) {
	case core.IntLit:
		return int64(x), nil
	case core.BoolLit:
		return boolToInt(bool(x)), nil
	default:
		return 0, errors.Compiler("expected integer operand, got %v", v)
	}
}

func (m *machine) binOp(i IBinOp) (ifaceValue, error) {
	switch i.Op {
	case core.IAdd, core.ISub, core.IMul, core.IDiv, core.IRem:
		x, err := m.evalInt(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		y, err := m.evalInt(i.Y)
		if err != nil {
			return ifaceValue{}, err
		}
		var r int64
		switch i.Op {
		case core.IAdd:
			r = x + y
		case core.ISub:
			r = x - y
		case core.IMul:
			r = x * y
		case core.IDiv:
			if y == 0 {
				return ifaceValue{}, errors.Misc("division by zero")
			}
			r = x / y
		case core.IRem:
			if y == 0 {
				return ifaceValue{}, errors.Misc("division by zero")
			}
			r = x % y
		}
		return scalar(core.IntLit(r)), nil
	case core.FAdd, core.FSub, core.FMul, core.FDiv:
		x, err := m.evalReal(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		y, err := m.evalReal(i.Y)
		if err != nil {
			return ifaceValue{}, err
		}
		var r float64
		switch i.Op {
		case core.FAdd:
			r = x + y
		case core.FSub:
			r = x - y
		case core.FMul:
			r = x * y
		case core.FDiv:
			r = x / y
		}
		return scalar(core.RealLit(r)), nil
	case core.BAnd, core.BOr:
		x, err := m.evalBool(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		y, err := m.evalBool(i.Y)
		if err != nil {
			return ifaceValue{}, err
		}
		if i.Op == core.BAnd {
			return scalar(core.BoolLit(x && y)), nil
		}
		return scalar(core.BoolLit(x || y)), nil
	default:
		return ifaceValue{}, errors.Compiler("unhandled binop %s", i.Op)
	}
}

func (m *machine) unOp(i IUnOp) (ifaceValue, error) {
	switch i.Op {
	case core.FNeg:
		x, err := m.evalReal(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		return scalar(core.RealLit(-x)), nil
	case core.INeg:
		x, err := m.evalInt(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		return scalar(core.IntLit(-x)), nil
	case core.BNot:
		x, err := m.evalBool(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		return scalar(core.BoolLit(!x)), nil
	case core.IntToReal:
		x, err := m.evalInt(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		return scalar(core.RealLit(float64(x))), nil
	case core.BoolToInt:
		x, err := m.evalBool(i.X)
		if err != nil {
			return ifaceValue{}, err
		}
		return scalar(core.IntLit(boolToInt(x))), nil
	default:
		return ifaceValue{}, errors.Compiler("unhandled unop %s", i.Op)
	}
}

func cmpInt(op core.CmpOp, x, y int64) bool {
	switch op {
	case core.Equal:
		return x == y
	case core.NotEqual:
		return x != y
	case core.Less:
		return x < y
	case core.LessEqual:
		return x <= y
	case core.Greater:
		return x > y
	default:
		return x >= y
	}
}

func cmpReal(op core.CmpOp, x, y float64) bool {
	switch op {
	case core.Equal:
		return x == y
	case core.NotEqual:
		return x != y
	case core.Less:
		return x < y
	case core.LessEqual:
		return x <= y
	case core.Greater:
		return x > y
	default:
		return x >= y
	}
}
