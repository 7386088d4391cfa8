// Package imp defines the imperative intermediate representation the
// core lowers to, and the lowering pass itself. Imp programs are
// lists of typed instructions with explicit memory allocations,
// pointer offsets, and scalar loops, ready for emission to native
// code.
package imp

import (
	"fmt"
	"strings"

	"github.com/operskoj2c/dex-lang/internal/core"
)

// Device tags where memory lives and code runs.
type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	if d == GPU {
		return "gpu"
	}
	return "cpu"
}

// AddressSpace distinguishes stack from heap allocations.
type AddressSpace int

const (
	Stack AddressSpace = iota
	Heap
)

func (a AddressSpace) String() string {
	if a == Heap {
		return "heap"
	}
	return "stack"
}

// IType is the type of an Imp expression: a scalar base type, or a
// pointer to scalars in some address space on some device.
type IType struct {
	Base core.BaseType
	Ptr  bool
	Addr AddressSpace
	Dev  Device
}

func ScalarTy(b core.BaseType) IType { return IType{Base: b} }

func PtrTy(b core.BaseType, addr AddressSpace, dev Device) IType {
	return IType{Base: b, Ptr: true, Addr: addr, Dev: dev}
}

func (t IType) String() string {
	if t.Ptr {
		return fmt.Sprintf("%s*%s@%s", t.Base, t.Addr, t.Dev)
	}
	return t.Base.String()
}

// IExpr is an Imp operand: a literal or a variable.
type IExpr interface {
	impExpr()
	Ty() IType
	String() string
}

// ILit is a scalar literal operand.
type ILit struct {
	Val core.LitVal
}

func (ILit) impExpr()         {}
func (l ILit) Ty() IType      { return ScalarTy(l.Val.BaseType()) }
func (l ILit) String() string { return l.Val.String() }

// IVar is a variable bound by an instruction or function argument.
type IVar struct {
	Name core.Name
	Type IType
}

func (IVar) impExpr()         {}
func (v IVar) Ty() IType      { return v.Type }
func (v IVar) String() string { return v.Name.String() + ":" + v.Type.String() }

// Instr is one Imp instruction.
type Instr interface {
	impInstr()
	String() string
}

// IBinOp applies a scalar binary operator.
type IBinOp struct {
	Op core.BinOpKind
	X  IExpr
	Y  IExpr
}

func (IBinOp) impInstr()        {}
func (i IBinOp) String() string { return fmt.Sprintf("%s %s %s", i.Op, i.X, i.Y) }

// IUnOp applies a scalar unary operator.
type IUnOp struct {
	Op core.UnOpKind
	X  IExpr
}

func (IUnOp) impInstr()        {}
func (i IUnOp) String() string { return fmt.Sprintf("%s %s", i.Op, i.X) }

// IICmp compares integers or booleans.
type IICmp struct {
	Op core.CmpOp
	X  IExpr
	Y  IExpr
}

func (IICmp) impInstr()        {}
func (i IICmp) String() string { return fmt.Sprintf("icmp %s %s %s", i.Op, i.X, i.Y) }

// IFCmp compares reals.
type IFCmp struct {
	Op core.CmpOp
	X  IExpr
	Y  IExpr
}

func (IFCmp) impInstr()        {}
func (i IFCmp) String() string { return fmt.Sprintf("fcmp %s %s %s", i.Op, i.X, i.Y) }

// ISelect picks X when P holds, else Y.
type ISelect struct {
	P IExpr
	X IExpr
	Y IExpr
}

func (ISelect) impInstr()        {}
func (i ISelect) String() string { return fmt.Sprintf("select %s %s %s", i.P, i.X, i.Y) }

// ICastOp converts a scalar to another base type.
type ICastOp struct {
	To IType
	X  IExpr
}

func (ICastOp) impInstr()        {}
func (i ICastOp) String() string { return fmt.Sprintf("cast %s %s", i.To, i.X) }

// Alloc reserves Numel scalars of Base in an address space; it binds
// the fresh pointer.
type Alloc struct {
	Addr  AddressSpace
	Dev   Device
	Base  core.BaseType
	Numel IExpr
}

func (Alloc) impInstr()        {}
func (i Alloc) String() string { return fmt.Sprintf("alloc %s %s[%s]", i.Addr, i.Base, i.Numel) }

// Free releases a heap allocation.
type Free struct {
	Ptr IExpr
}

func (Free) impInstr()        {}
func (i Free) String() string { return "free " + i.Ptr.String() }

// MemCopy copies Numel scalars between buffers.
type MemCopy struct {
	Dst   IExpr
	Src   IExpr
	Numel IExpr
}

func (MemCopy) impInstr()        {}
func (i MemCopy) String() string { return fmt.Sprintf("memcopy %s <- %s [%s]", i.Dst, i.Src, i.Numel) }

// Store writes a scalar through a pointer.
type Store struct {
	Dst IExpr
	Val IExpr
}

func (Store) impInstr()        {}
func (i Store) String() string { return fmt.Sprintf("store %s <- %s", i.Dst, i.Val) }

// Load reads a scalar through a pointer; it binds the value.
type Load struct {
	Ptr IExpr
}

func (Load) impInstr()        {}
func (i Load) String() string { return "load " + i.Ptr.String() }

// PtrOffset advances a pointer by a scalar count.
type PtrOffset struct {
	Ptr IExpr
	Off IExpr
}

func (PtrOffset) impInstr()        {}
func (i PtrOffset) String() string { return fmt.Sprintf("ptrOffset %s %s", i.Ptr, i.Off) }

// IThrowError halts the program with a runtime error value.
type IThrowError struct{}

func (IThrowError) impInstr()      {}
func (IThrowError) String() string { return "throwError" }

// IFor runs Body for each i in [0, N), in the given direction.
type IFor struct {
	Dir    core.Direction
	Binder IVar
	N      IExpr
	Body   *Block
}

func (IFor) impInstr() {}
func (i IFor) String() string {
	return fmt.Sprintf("for %s %s < %s %s", i.Dir, i.Binder, i.N, i.Body)
}

// IWhile runs Body while Cond's single result is true.
type IWhile struct {
	Cond *Block
	Body *Block
}

func (IWhile) impInstr()        {}
func (i IWhile) String() string { return fmt.Sprintf("while %s %s", i.Cond, i.Body) }

// ICond branches on a scalar boolean.
type ICond struct {
	P    IExpr
	Then *Block
	Else *Block
}

func (ICond) impInstr()        {}
func (i ICond) String() string { return fmt.Sprintf("if %s %s %s", i.P, i.Then, i.Else) }

// ILaunch starts N parallel instances of a kernel function.
type ILaunch struct {
	Fun  core.Name
	N    IExpr
	Args []IExpr
}

func (ILaunch) impInstr() {}
func (i ILaunch) String() string {
	args := make([]string, len(i.Args))
	for j, a := range i.Args {
		args[j] = a.String()
	}
	return fmt.Sprintf("launch %s[%s](%s)", i.Fun, i.N, strings.Join(args, ", "))
}

// Statement is one step of a block: an instruction, optionally
// binding its result.
type Statement struct {
	Binder *IVar // nil for void instructions
	Instr  Instr
}

func (s Statement) String() string {
	if s.Binder == nil {
		return s.Instr.String()
	}
	return s.Binder.String() + " = " + s.Instr.String()
}

// Block is an ordered list of statements, optionally returning
// results.
type Block struct {
	Stmts   []Statement
	Results []IExpr
}

func (b *Block) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for _, s := range b.Stmts {
		sb.WriteString(" " + s.String() + ";")
	}
	if len(b.Results) > 0 {
		var rs []string
		for _, r := range b.Results {
			rs = append(rs, r.String())
		}
		sb.WriteString(" return " + strings.Join(rs, ", "))
	}
	sb.WriteString(" }")
	return sb.String()
}

// CallingConvention selects how a function is invoked.
type CallingConvention int

const (
	OrdinaryFun CallingConvention = iota
	EntryFun
	MCThreadLaunch
	CUDAKernelLaunch
)

func (cc CallingConvention) String() string {
	switch cc {
	case EntryFun:
		return "entry"
	case MCThreadLaunch:
		return "mcthread"
	case CUDAKernelLaunch:
		return "cudakernel"
	default:
		return "ordinary"
	}
}

// Function is a named Imp function.
type Function struct {
	Name core.Name
	CC   CallingConvention
	Args []IVar
	Body *Block
}

func (f *Function) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s %s(%s) %s", f.CC, f.Name, strings.Join(args, ", "), f.Body)
}

// PtrLit records a pointer literal captured during lowering, in
// allocation order.
type PtrLit struct {
	Name core.Name
	Type IType
}

// AtomRecon describes how to materialize the high-level result atom
// from the low-level return values: an abstraction over the pointer
// binders.
type AtomRecon struct {
	Binders []core.Var
	Atom    core.Atom
}

// Module is a list of functions with a designated main entry.
type Module struct {
	Funcs []*Function
	Main  core.Name
}

// MainFunction returns the designated entry function.
func (m *Module) MainFunction() *Function {
	for _, f := range m.Funcs {
		if f.Name == m.Main {
			return f
		}
	}
	return nil
}

func (m *Module) String() string {
	var sb strings.Builder
	for _, f := range m.Funcs {
		sb.WriteString(f.String() + "\n")
	}
	return sb.String()
}

// Backend enumerates the recognized code generation targets.
type Backend int

const (
	LLVM Backend = iota
	LLVMMC
	LLVMCUDA
	Interp
)

func (b Backend) String() string {
	switch b {
	case LLVMMC:
		return "llvm-mc"
	case LLVMCUDA:
		return "llvm-cuda"
	case Interp:
		return "interp"
	default:
		return "llvm"
	}
}

// KernelCC returns the launch convention and device for parallel
// loops on this backend; ok is false when the backend rejects kernel
// emission.
func (b Backend) KernelCC() (CallingConvention, Device, bool) {
	switch b {
	case LLVMCUDA:
		return CUDAKernelLaunch, GPU, true
	case LLVMMC:
		return MCThreadLaunch, CPU, true
	default:
		return OrdinaryFun, CPU, false
	}
}
