package lower

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/source"
	"lowerc/internal/types"
)

// AllocateStack reserves an aligned stack slot for one value of t in the
// function's alloca block.
func (fl *FuncLowerer) AllocateStack(t types.TypeID, name string) (value.Value, error) {
	irT, err := fl.irType(t)
	if err != nil {
		return nil, err
	}
	a := fl.allocas.NewAlloca(irT)
	a.SetName(fl.unique(name))
	a.Align = ir.Align(fl.c.alignOf(t, irT))
	return a, nil
}

// AllocateHeap creates a garbage-collected instance of t. Classes come
// initialized from the runtime; other types get their default value
// stored here. The result is a reference for classes and a pointer to t
// otherwise.
func (fl *FuncLowerer) AllocateHeap(pos source.Pos, t types.TypeID) (Value, error) {
	rt := fl.c.Target.Runtime
	if fl.c.Types.Kind(t) == types.KindClass {
		ci, err := fl.c.classInfo(t)
		if err != nil {
			return Value{}, err
		}
		newClass, err := fl.c.runtimeFunc(rt.NewClass, irtypes.I8Ptr, irtypes.I8Ptr)
		if err != nil {
			return Value{}, err
		}
		obj, err := fl.emitCall(newClass, []value.Value{ci}, enum.CallingConvNone)
		if err != nil {
			return Value{}, err
		}
		ref, err := fl.bitcast(obj, t)
		if err != nil {
			return Value{}, err
		}
		return rvalueOf(ref, t), nil
	}

	size, err := fl.c.Layout.SizeOf(t)
	if err != nil {
		return Value{}, internalf("memory", pos, "size of %s: %v", fl.c.Types.String(t), err)
	}
	alloc, err := fl.c.runtimeFunc(rt.AllocMemory, irtypes.I8Ptr, fl.c.Layout.SizeT())
	if err != nil {
		return Value{}, err
	}
	n, err := fl.sizeConst(pos, size)
	if err != nil {
		return Value{}, err
	}
	mem, err := fl.emitCall(alloc, []value.Value{n}, enum.CallingConvNone)
	if err != nil {
		return Value{}, err
	}
	pt := fl.c.ptrType(t)
	p, err := fl.bitcast(mem, pt)
	if err != nil {
		return Value{}, err
	}
	init, err := fl.c.DefaultInit(t)
	if err != nil {
		return Value{}, err
	}
	fl.cur.NewStore(init, p)
	return rvalueOf(p, pt), nil
}

// AllocateArray creates a garbage-collected array of count elements of
// elem and returns it as a slice.
func (fl *FuncLowerer) AllocateArray(pos source.Pos, elem types.TypeID, count Value) (Value, error) {
	sliceT := fl.c.Types.Intern(types.MakeSlice(elem))
	sliceIR, err := fl.irType(sliceT)
	if err != nil {
		return Value{}, err
	}
	n, err := fl.Convert(pos, count, fl.sizeTType())
	if err != nil {
		return Value{}, err
	}
	length, err := fl.rvalue(n)
	if err != nil {
		return Value{}, err
	}
	ti, err := fl.c.TypeInfoOf(elem)
	if err != nil {
		return Value{}, err
	}
	sizeT := fl.c.Layout.SizeT()
	newArray, err := fl.c.runtimeFunc(fl.c.Target.Runtime.NewArray, irtypes.NewStruct(sizeT, irtypes.I8Ptr), irtypes.I8Ptr, sizeT)
	if err != nil {
		return Value{}, err
	}
	raw, err := fl.emitCall(newArray, []value.Value{ti, length}, enum.CallingConvNone)
	if err != nil {
		return Value{}, err
	}
	ptr := fl.cur.NewExtractValue(raw, 1)
	st := sliceIR.(*irtypes.StructType)
	out := fl.cur.NewInsertValue(constant.NewUndef(st), length, 0)
	slice := fl.cur.NewInsertValue(out, fl.castTo(ptr, st.Fields[1]), 1)
	return rvalueOf(slice, sliceT), nil
}

func (fl *FuncLowerer) sizeTType() types.TypeID {
	b := fl.c.Types.Builtins()
	if fl.c.Target.PtrSize == 4 {
		return b.Uint
	}
	return b.Ulong
}

// releaseKind is the closed set of things ReleaseHeap knows how to free.
type releaseKind uint8

const (
	releasePlain releaseKind = iota
	releaseClass
	releaseInterface
	releaseArray
)

func (fl *FuncLowerer) releaseKindOf(pos source.Pos, t types.TypeID) (releaseKind, error) {
	switch fl.c.Types.Kind(t) {
	case types.KindPointer:
		return releasePlain, nil
	case types.KindClass:
		return releaseClass, nil
	case types.KindInterface:
		return releaseInterface, nil
	case types.KindSlice:
		return releaseArray, nil
	}
	return 0, conversionf(pos, "cannot delete a value of type %s", fl.c.Types.String(t))
}

// ReleaseHeap frees what v refers to. Objects are finalized exactly once
// before their memory is returned; array elements with destructors are
// destroyed first. When v is an lvalue it is reset to null afterwards.
func (fl *FuncLowerer) ReleaseHeap(pos source.Pos, v Value) error {
	kind, err := fl.releaseKindOf(pos, v.Type)
	if err != nil {
		return err
	}
	rv, err := fl.rvalue(v)
	if err != nil {
		return err
	}
	fl.point("release", fl.c.Types.String(v.Type))
	switch kind {
	case releasePlain:
		elem := fl.c.Types.Elem(v.Type)
		if fl.c.Types.NeedsDestruction(elem) {
			if err := fl.ifNonNull(rv, func() error { return fl.destroy(rv, elem) }); err != nil {
				return err
			}
		}
		if err := fl.freeMemory(rv); err != nil {
			return err
		}
	case releaseClass:
		err = fl.ifNonNull(rv, func() error { return fl.finalizeAndFree(rv) })
	case releaseInterface:
		err = fl.ifNonNull(rv, func() error {
			return fl.finalizeAndFree(fl.interfaceBase(rv))
		})
	case releaseArray:
		ptr := fl.cur.NewExtractValue(rv, 1)
		elem := fl.c.Types.Elem(v.Type)
		if fl.c.Types.NeedsDestruction(elem) {
			length := fl.cur.NewExtractValue(rv, 0)
			if err := fl.eachElement(ptr, length, elem, fl.destroy); err != nil {
				return err
			}
		}
		err = fl.freeMemory(ptr)
	}
	if err != nil {
		return err
	}
	if v.LValue {
		zero, err := fl.c.zeroOf(v.Type)
		if err != nil {
			return err
		}
		fl.ensureOpen()
		fl.store(zero, v)
	}
	return nil
}

func (fl *FuncLowerer) finalizeAndFree(obj value.Value) error {
	fin, err := fl.c.runtimeFunc(fl.c.Target.Runtime.CallFinalizer, irtypes.Void, irtypes.I8Ptr)
	if err != nil {
		return err
	}
	if _, err := fl.emitCall(fin, []value.Value{fl.castTo(obj, irtypes.I8Ptr)}, enum.CallingConvNone); err != nil {
		return err
	}
	return fl.freeMemory(obj)
}

func (fl *FuncLowerer) freeMemory(p value.Value) error {
	del, err := fl.c.runtimeFunc(fl.c.Target.Runtime.DelMemory, irtypes.Void, irtypes.I8Ptr)
	if err != nil {
		return err
	}
	fl.ensureOpen()
	_, err = fl.emitCall(del, []value.Value{fl.castTo(p, irtypes.I8Ptr)}, enum.CallingConvNone)
	return err
}

// interfaceBase recovers the object start from an interface reference:
// the reference points at a vtbl pointer whose info slot leads to the
// interface record, and that record stores the slot's offset.
func (fl *FuncLowerer) interfaceBase(ref value.Value) value.Value {
	abi := fl.c.Target.Interface
	sizeT := fl.c.Layout.SizeT()
	vtblPtr := fl.cur.NewBitCast(ref, irtypes.NewPointer(irtypes.NewPointer(irtypes.I8Ptr)))
	vtbl := fl.cur.NewLoad(irtypes.NewPointer(irtypes.I8Ptr), vtblPtr)
	slot := fl.cur.NewGetElementPtr(irtypes.I8Ptr, vtbl, constant.NewInt(irtypes.I32, int64(abi.InfoSlot)))
	info := fl.cur.NewLoad(irtypes.I8Ptr, slot)
	field := fl.cur.NewGetElementPtr(irtypes.I8, info, constant.NewInt(sizeT, int64(abi.OffsetField)))
	offPtr := fl.cur.NewBitCast(field, irtypes.NewPointer(sizeT))
	off := fl.cur.NewLoad(sizeT, offPtr)
	neg := fl.cur.NewSub(constant.NewInt(sizeT, 0), off)
	raw := fl.castTo(ref, irtypes.I8Ptr)
	return fl.cur.NewGetElementPtr(irtypes.I8, raw, neg)
}

// ifNonNull emits body only for non-null p.
func (fl *FuncLowerer) ifNonNull(p value.Value, body func() error) error {
	fl.ensureOpen()
	pt, ok := p.Type().(*irtypes.PointerType)
	if !ok {
		return internalf("memory", source.Pos{}, "null check on %s", p.Type())
	}
	then, done := fl.newBlock("notnull"), fl.newBlock("notnull.end")
	cond := fl.cur.NewICmp(enum.IPredNE, p, constant.NewNull(pt))
	fl.cur.NewCondBr(cond, then, done)
	fl.cur = then
	if err := body(); err != nil {
		return err
	}
	if !fl.terminated() {
		fl.cur.NewBr(done)
	}
	fl.cur = done
	return nil
}

// destroy runs the destructor of the value at addr.
func (fl *FuncLowerer) destroy(addr value.Value, t types.TypeID) error {
	switch fl.c.Types.Kind(t) {
	case types.KindStruct:
		info, _ := fl.c.Types.Aggregate(t)
		if !info.HasDtor() {
			return nil
		}
		dtor, err := fl.c.runtimeFunc(LinkageName(info.Dtor, ""), irtypes.Void, irtypes.I8Ptr)
		if err != nil {
			return err
		}
		fl.ensureOpen()
		_, err = fl.emitCall(dtor, []value.Value{fl.castTo(addr, irtypes.I8Ptr)}, enum.CallingConvNone)
		return err
	case types.KindArray:
		tt := fl.c.Types.MustLookup(t)
		elemIR, err := fl.irType(tt.Elem)
		if err != nil {
			return err
		}
		first := fl.castTo(addr, irtypes.NewPointer(elemIR))
		return fl.eachElement(first, fl.sizeT(int64(tt.Count)), tt.Elem, fl.destroy)
	}
	return nil
}

// eachElement emits a counted loop calling body with the address of every
// element of the array at ptr.
func (fl *FuncLowerer) eachElement(ptr, length value.Value, elem types.TypeID, body func(value.Value, types.TypeID) error) error {
	elemIR, err := fl.irType(elem)
	if err != nil {
		return err
	}
	sizeT := fl.c.Layout.SizeT()
	idx := fl.allocas.NewAlloca(sizeT)
	idx.SetName(fl.unique("i"))
	fl.ensureOpen()
	fl.cur.NewStore(constant.NewInt(sizeT, 0), idx)
	cond, loop, done := fl.newBlock("each.cond"), fl.newBlock("each.body"), fl.newBlock("each.end")
	fl.cur.NewBr(cond)

	fl.cur = cond
	i := fl.cur.NewLoad(sizeT, idx)
	fl.cur.NewCondBr(fl.cur.NewICmp(enum.IPredULT, i, length), loop, done)

	fl.cur = loop
	addr := fl.cur.NewGetElementPtr(elemIR, fl.castTo(ptr, irtypes.NewPointer(elemIR)), i)
	if err := body(addr, elem); err != nil {
		return err
	}
	fl.ensureOpen()
	fl.cur.NewStore(fl.cur.NewAdd(i, constant.NewInt(sizeT, 1)), idx)
	fl.cur.NewBr(cond)

	fl.cur = done
	return nil
}

// zeroOf is the all-zero value of t, used to reset released references.
func (c *Context) zeroOf(t types.TypeID) (constant.Constant, error) {
	irT, err := c.irType(t)
	if err != nil {
		return nil, err
	}
	if pt, ok := irT.(*irtypes.PointerType); ok {
		return constant.NewNull(pt), nil
	}
	return constant.NewZeroInitializer(irT), nil
}
