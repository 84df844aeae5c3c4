package lower

import (
	"github.com/llir/llvm/ir/value"
	"github.com/rickypai/natsort"
)

// SymbolTable maps linkage names to backend symbols. One table belongs to
// one compilation context; lowering of different modules never shares it.
type SymbolTable struct {
	byName map[string]value.Value
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]value.Value, 64)}
}

func (s *SymbolTable) Lookup(name string) (value.Value, bool) {
	v, ok := s.byName[name]
	return v, ok
}

func (s *SymbolTable) Insert(name string, v value.Value) {
	s.byName[name] = v
}

func (s *SymbolTable) Len() int {
	return len(s.byName)
}

// Names returns all linkage names in natural order.
func (s *SymbolTable) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	natsort.Strings(names)
	return names
}
