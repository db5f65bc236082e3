package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/value"
)

func TestVariableTable_PreservesDeclarationOrder(t *testing.T) {
	tbl := NewVariableTable()
	tbl.Set("z", value.Int(1))
	tbl.Set("a", value.Int(2))
	tbl.Set("m", value.Int(3))

	assert.Equal(t, []string{"z", "a", "m"}, tbl.Names())

	// Overwriting keeps the original position.
	tbl.Set("a", value.Int(99))
	assert.Equal(t, []string{"z", "a", "m"}, tbl.Names())
	v, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, "99", v.Text())
}

func TestVariableTable_Clone(t *testing.T) {
	tbl := NewVariableTable()
	tbl.Set("x", value.Int(1))

	clone := tbl.Clone()
	clone.Set("x", value.Int(2))
	clone.Set("y", value.Int(3))

	v, _ := tbl.Get("x")
	assert.Equal(t, "1", v.Text())
	assert.False(t, tbl.Has("y"))
	assert.Equal(t, 2, clone.Len())
}

func TestContextMerge_ReceiverWinsScalars(t *testing.T) {
	upper := NewContext("app.wl")
	upper.NameTemplate = "upper_{n}"
	upper.NRepeats = 2

	lower := NewContext("app")
	lower.NameTemplate = "lower_{n}"
	lower.NRepeats = 5
	lower.Template = true

	upper.Merge(lower)

	assert.Equal(t, "upper_{n}", upper.NameTemplate)
	assert.Equal(t, 2, upper.NRepeats)
	// Unset receiver fields are taken from the lower layer.
	assert.True(t, upper.Template)
}

func TestContextMerge_VariablePrecedenceAndOrder(t *testing.T) {
	upper := NewContext("app.wl")
	upper.Variables.Set("n_nodes", value.Int(4))
	upper.Variables.Set("extra", value.Str("upper"))

	lower := NewContext("app")
	lower.Variables.Set("n_nodes", value.Int(1))
	lower.Variables.Set("base_only", value.Str("base"))

	upper.Merge(lower)

	// Lower-layer declaration order comes first; receiver values win.
	assert.Equal(t, []string{"n_nodes", "base_only", "extra"}, upper.Variables.Names())
	v, _ := upper.Variables.Get("n_nodes")
	assert.Equal(t, "4", v.Text())
	v, _ = upper.Variables.Get("base_only")
	assert.Equal(t, "base", v.Text())
}

func TestContextMerge_ListsConcatenateLowerFirst(t *testing.T) {
	upper := NewContext("app.wl")
	upper.Modifiers = []string{"upper_mod"}
	upper.Tags = []string{"upper"}
	upper.Matrices = []Matrix{{Variables: []string{"u"}}}

	lower := NewContext("app")
	lower.Modifiers = []string{"lower_mod"}
	lower.Tags = []string{"lower"}
	lower.Matrices = []Matrix{{Variables: []string{"l"}}}

	upper.Merge(lower)

	assert.Equal(t, []string{"lower_mod", "upper_mod"}, upper.Modifiers)
	assert.Equal(t, []string{"lower", "upper"}, upper.Tags)
	require.Len(t, upper.Matrices, 2)
	assert.Equal(t, []string{"l"}, upper.Matrices[0].Variables)
}

func TestContextMerge_MapsMergeKeyWise(t *testing.T) {
	upper := NewContext("app.wl")
	upper.Zips["shared"] = Matrix{Variables: []string{"upper_a"}}
	upper.Internals.CustomExecutables = map[string]executable.Executable{
		"run": {Name: "run", Template: []string{"upper"}},
	}

	lower := NewContext("app")
	lower.Zips["shared"] = Matrix{Variables: []string{"lower_a"}}
	lower.Zips["lower_only"] = Matrix{Variables: []string{"x"}}
	lower.Internals.CustomExecutables = map[string]executable.Executable{
		"run":   {Name: "run", Template: []string{"lower"}},
		"clean": {Name: "clean", Template: []string{"rm -rf out"}},
	}

	upper.Merge(lower)

	assert.Equal(t, []string{"upper_a"}, upper.Zips["shared"].Variables)
	assert.Equal(t, []string{"x"}, upper.Zips["lower_only"].Variables)
	assert.Equal(t, []string{"upper"}, upper.Internals.CustomExecutables["run"].Template)
	assert.Equal(t, []string{"rm -rf out"}, upper.Internals.CustomExecutables["clean"].Template)
}

func TestContextMerge_NilLowerIsNoOp(t *testing.T) {
	upper := NewContext("app.wl")
	upper.Variables.Set("n", value.Int(1))

	upper.Merge(nil)

	assert.Equal(t, 1, upper.Variables.Len())
}

func TestContextMerge_ExecutableOrderReceiverWinsWholesale(t *testing.T) {
	upper := NewContext("app.wl")
	upper.Internals.ExecutableOrder = []string{"b", "a"}

	lower := NewContext("app")
	lower.Internals.ExecutableOrder = []string{"a", "b", "c"}

	upper.Merge(lower)
	assert.Equal(t, []string{"b", "a"}, upper.Internals.ExecutableOrder)

	empty := NewContext("app.wl2")
	empty.Merge(lower)
	assert.Equal(t, []string{"a", "b", "c"}, empty.Internals.ExecutableOrder)
}
