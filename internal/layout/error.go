package layout

import (
	"fmt"
	"strings"

	"lowerc/internal/types"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized indicates a value type that contains itself.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	LayoutErrUnknownType
	LayoutErrFieldOutOfBounds
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  types.TypeID
	Cycle []types.TypeID
	Field string
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		parts := make([]string, 0, len(e.Cycle))
		for _, id := range e.Cycle {
			parts = append(parts, fmt.Sprintf("type#%d", id))
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(parts, " -> "))
	case LayoutErrUnknownType:
		return fmt.Sprintf("no layout for type#%d", e.Type)
	case LayoutErrFieldOutOfBounds:
		return fmt.Sprintf("field %q of type#%d lies outside the aggregate", e.Field, e.Type)
	default:
		return "layout error"
	}
}
