package conf

import (
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/value"
)

// VariableTable is an insertion-ordered mapping from variable name to raw
// value. Declaration order matters: it fixes the axis order during
// experiment expansion, so the table never reorders entries. Re-setting an
// existing name overwrites the value but keeps the original position.
type VariableTable struct {
	names  []string
	values map[string]value.Value
}

// NewVariableTable returns an empty table.
func NewVariableTable() *VariableTable {
	return &VariableTable{values: make(map[string]value.Value)}
}

// Set binds name to v, preserving the position of an existing name.
func (t *VariableTable) Set(name string, v value.Value) {
	if _, exists := t.values[name]; !exists {
		t.names = append(t.names, name)
	}
	t.values[name] = v
}

// Get returns the value bound to name.
func (t *VariableTable) Get(name string) (value.Value, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Has reports whether name is bound.
func (t *VariableTable) Has(name string) bool {
	_, ok := t.values[name]
	return ok
}

// Len returns the number of bound names.
func (t *VariableTable) Len() int {
	return len(t.names)
}

// Names returns all bound names in declaration order.
func (t *VariableTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Clone returns an independent copy sharing no state with the receiver.
func (t *VariableTable) Clone() *VariableTable {
	c := NewVariableTable()
	for _, n := range t.names {
		c.Set(n, t.values[n])
	}
	return c
}

// Bindings snapshots the table as an expander binding map.
func (t *VariableTable) Bindings() expander.Bindings {
	b := make(expander.Bindings, len(t.names))
	for n, v := range t.values {
		b[n] = v
	}
	return b
}
