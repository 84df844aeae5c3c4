package lower

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"lowerc/internal/source"
)

// marshalVarArgs packs the trailing arguments of a native variadic call.
// The values go into one packed stack buffer, each at its realigned
// offset; their type descriptors go into a private constant array.
// It returns the _arguments slice and the _argptr buffer address.
func (fl *FuncLowerer) marshalVarArgs(pos source.Pos, extras []Value) (value.Value, value.Value, error) {
	c := fl.c
	sizeT := c.Layout.SizeT()
	tiSlice := c.Layout.TypeInfoSliceType()
	if len(extras) == 0 {
		return constant.NewZeroInitializer(tiSlice), constant.NewNull(irtypes.I8Ptr), nil
	}

	infos := make([]constant.Constant, len(extras))
	var (
		fields []irtypes.Type
		slots  = make([]int, len(extras))
		off    uint64
	)
	for i, e := range extras {
		ti, err := c.TypeInfoOf(e.Type)
		if err != nil {
			return nil, nil, err
		}
		infos[i] = ti
		aligned, err := c.Layout.Realign(off, e.Type)
		if err != nil {
			return nil, nil, internalf("vararg", pos, "alignment of %s: %v", c.Types.String(e.Type), err)
		}
		if aligned > off {
			fields = append(fields, irtypes.NewArray(aligned-off, irtypes.I8))
		}
		irT, err := fl.irType(e.Type)
		if err != nil {
			return nil, nil, err
		}
		size, err := c.Layout.SizeOf(e.Type)
		if err != nil {
			return nil, nil, internalf("vararg", pos, "size of %s: %v", c.Types.String(e.Type), err)
		}
		slots[i] = len(fields)
		fields = append(fields, irT)
		off = aligned + size
	}

	arrT := irtypes.NewArray(uint64(len(infos)), irtypes.I8Ptr)
	g := c.IR.NewGlobalDef(c.uniqueName(fmt.Sprintf("%s._arguments", fl.rec.Name)), constant.NewArray(arrT, infos...))
	g.Linkage = enum.LinkagePrivate
	g.Immutable = true
	zero := constant.NewInt(irtypes.I32, 0)
	arguments := constant.NewStruct(tiSlice,
		constant.NewInt(sizeT, int64(len(extras))),
		constant.NewGetElementPtr(arrT, g, zero, zero),
	)

	buf := irtypes.NewStruct(fields...)
	buf.Packed = true
	slot := fl.allocas.NewAlloca(buf)
	slot.SetName(fl.unique("_argbuf"))
	slot.Align = ir.Align(c.Target.PtrAlign)
	for i, e := range extras {
		x, err := fl.rvalue(e)
		if err != nil {
			return nil, nil, err
		}
		fl.ensureOpen()
		field := fl.cur.NewGetElementPtr(buf, slot, zero, constant.NewInt(irtypes.I32, int64(slots[i])))
		fl.cur.NewStore(x, field)
	}
	return arguments, fl.castTo(slot, irtypes.I8Ptr), nil
}
