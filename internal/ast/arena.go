package ast

import "fortio.org/safecast"

// Arena stores nodes of one kind; ids are 1-based so that 0 means "none".
// Items is exported for the msgpack/JSON codecs and must be treated as
// read-only outside this package.
type Arena[T any] struct {
	Items []T `msgpack:"items" json:"items"`
}

// NewArena creates an arena with capacity capHint.
func NewArena[T any](capHint uint) *Arena[T] {
	return &Arena[T]{Items: make([]T, 0, capHint)}
}

// Возвращает индекс нового элемента (1-based).
func (a *Arena[T]) Allocate(value T) uint32 {
	a.Items = append(a.Items, value)
	n, err := safecast.Conv[uint32](len(a.Items))
	if err != nil {
		panic(err)
	}
	return n
}

func (a *Arena[T]) Get(index uint32) *T {
	if a == nil || index == 0 || int(index) > len(a.Items) {
		return nil
	}
	return &a.Items[index-1]
}

func (a *Arena[T]) Len() uint32 {
	if a == nil {
		return 0
	}
	return uint32(len(a.Items)) //nolint:gosec
}
