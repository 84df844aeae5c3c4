package lower

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	irtypes "github.com/llir/llvm/ir/types"
)

// verifyFunc checks the structural invariants of a lowered body and
// returns every violation found.
func verifyFunc(f *ir.Func) error {
	if len(f.Blocks) == 0 {
		return nil
	}
	owned := make(map[*ir.Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		owned[b] = true
	}
	var errs []error
	for i, b := range f.Blocks {
		name := b.Ident()
		for j, inst := range b.Insts {
			switch inst.(type) {
			case *ir.InstAlloca:
				if i != 0 {
					errs = append(errs, fmt.Errorf("%s: alloca outside the entry block", name))
				}
			case *ir.InstLandingPad:
				if j != 0 {
					errs = append(errs, fmt.Errorf("%s: landingpad is not the first instruction", name))
				}
			}
		}
		if b.Term == nil {
			errs = append(errs, fmt.Errorf("%s: unterminated block", name))
			continue
		}
		for _, succ := range b.Term.Succs() {
			if !owned[succ] {
				errs = append(errs, fmt.Errorf("%s: branch to %s of another function", name, succ.Ident()))
			}
		}
		if ret, ok := b.Term.(*ir.TermRet); ok {
			if err := verifyRet(f.Sig.RetType, ret); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func verifyRet(want irtypes.Type, ret *ir.TermRet) error {
	if irtypes.Equal(want, irtypes.Void) {
		if ret.X != nil {
			return fmt.Errorf("void function returns %s", ret.X.Type())
		}
		return nil
	}
	if ret.X == nil {
		return fmt.Errorf("missing return value of type %s", want)
	}
	if !irtypes.Equal(ret.X.Type(), want) {
		return fmt.Errorf("returns %s, want %s", ret.X.Type(), want)
	}
	return nil
}
