// Package value models the raw values bound to experiment variables: either
// a single scalar (string, number, bool) or a flat vector of scalars.
//
// Values arrive from the HCL configuration as cty values and are carried
// through generation untouched; rendering to text happens only at template
// substitution time. Vectors never nest: a vector of vectors in the
// configuration is a user error surfaced at load time.
package value

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Value is one raw variable value. The zero Value is the null scalar.
type Value struct {
	scalar cty.Value
	vec    []Value
}

// Str returns a string scalar.
func Str(s string) Value {
	return Value{scalar: cty.StringVal(s)}
}

// Int returns an integer number scalar.
func Int(i int64) Value {
	return Value{scalar: cty.NumberIntVal(i)}
}

// Float returns a floating-point number scalar.
func Float(f float64) Value {
	return Value{scalar: cty.NumberFloatVal(f)}
}

// Bool returns a boolean scalar.
func Bool(b bool) Value {
	return Value{scalar: cty.BoolVal(b)}
}

// Vector returns a vector of the given scalar elements.
func Vector(elems ...Value) Value {
	return Value{vec: elems}
}

// FromCty converts a cty value into a Value. Tuples and lists become
// vectors; their elements must themselves be scalars.
func FromCty(v cty.Value) (Value, error) {
	if v.IsNull() {
		return Value{}, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String, ty == cty.Number, ty == cty.Bool:
		return Value{scalar: v}, nil
	case ty.IsTupleType(), ty.IsListType(), ty.IsSetType():
		var elems []Value
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			el, err := FromCty(ev)
			if err != nil {
				return Value{}, err
			}
			if el.IsVector() {
				return Value{}, fmt.Errorf("nested vectors are not supported")
			}
			elems = append(elems, el)
		}
		return Value{vec: elems}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}

// IsNull reports whether the value is the null scalar.
func (v Value) IsNull() bool {
	return v.vec == nil && (v.scalar == cty.NilVal || v.scalar.IsNull())
}

// IsVector reports whether the value holds a vector of scalars.
func (v Value) IsVector() bool {
	return v.vec != nil
}

// Elems returns the vector elements, or nil for a scalar.
func (v Value) Elems() []Value {
	return v.vec
}

// Len returns the vector length; scalars have length 1.
func (v Value) Len() int {
	if v.IsVector() {
		return len(v.vec)
	}
	return 1
}

// Cty returns the underlying cty representation.
func (v Value) Cty() cty.Value {
	if v.IsVector() {
		elems := make([]cty.Value, len(v.vec))
		for i, e := range v.vec {
			elems[i] = e.Cty()
		}
		return cty.TupleVal(elems)
	}
	if v.scalar == cty.NilVal {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return v.scalar
}

// Text renders the value the way it appears inside an expanded template.
// Integral numbers render without a decimal point; vectors render as a
// bracketed, comma-separated list.
func (v Value) Text() string {
	if v.IsVector() {
		parts := make([]string, len(v.vec))
		for i, e := range v.vec {
			parts[i] = e.Text()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if v.IsNull() {
		return ""
	}
	switch v.scalar.Type() {
	case cty.String:
		return v.scalar.AsString()
	case cty.Bool:
		if v.scalar.True() {
			return "True"
		}
		return "False"
	case cty.Number:
		return FormatNumber(v.scalar)
	default:
		return ""
	}
}

// FormatNumber renders a cty number, keeping integral values free of a
// decimal point and avoiding exponent notation for ordinary magnitudes.
func FormatNumber(n cty.Value) string {
	bf := n.AsBigFloat()
	if bf.IsInt() {
		i, _ := bf.Int64()
		return fmt.Sprintf("%d", i)
	}
	f, _ := bf.Float64()
	return formatFloat(f)
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	// %g drops the trailing ".0" on whole floats; restore it so true
	// division results stay visibly floating point.
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
