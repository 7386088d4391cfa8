package imp

import "github.com/operskoj2c/dex-lang/internal/core"

// storeAnywhere writes a scalar through a pointer that may live on a
// foreign device, staging the value through a singleton local buffer
// when it does.
func (lw *lowerer) storeAnywhere(ptr IExpr, val IExpr) {
	t := ptr.Ty()
	if t.Dev != lw.dev {
		one := ILit{Val: core.IntLit(1)}
		buf := lw.emit("stage", Alloc{Addr: Stack, Dev: lw.dev, Base: t.Base, Numel: one}, PtrTy(t.Base, Stack, lw.dev))
		lw.emitVoid(Store{Dst: buf, Val: val})
		lw.emitVoid(MemCopy{Dst: ptr, Src: buf, Numel: one})
		return
	}
	lw.emitVoid(Store{Dst: ptr, Val: val})
}

// loadAnywhere reads a scalar through a possibly foreign pointer.
func (lw *lowerer) loadAnywhere(ptr IExpr) IVar {
	t := ptr.Ty()
	if t.Dev != lw.dev {
		one := ILit{Val: core.IntLit(1)}
		buf := lw.emit("stage", Alloc{Addr: Stack, Dev: lw.dev, Base: t.Base, Numel: one}, PtrTy(t.Base, Stack, lw.dev))
		lw.emitVoid(MemCopy{Dst: buf, Src: ptr, Numel: one})
		return lw.emit("v", Load{Ptr: buf}, ScalarTy(t.Base))
	}
	return lw.emit("v", Load{Ptr: ptr}, ScalarTy(t.Base))
}
