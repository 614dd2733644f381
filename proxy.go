package rstate

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
)

// Shape tells primitive values apart from composite ones.
type Shape int

const (
	// ShapeUnknown is used for interface-typed variables until a non-nil
	// value has been seen.
	ShapeUnknown Shape = iota
	// ShapePrimitive values are returned as-is and read with GetValue.
	ShapePrimitive
	// ShapeRecord values are maps and structs.
	ShapeRecord
	// ShapeSequence values are slices and arrays.
	ShapeSequence
)

func (s Shape) String() string {
	switch s {
	case ShapePrimitive:
		return "primitive"
	case ShapeRecord:
		return "record"
	case ShapeSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Composite reports whether values of this shape are wrapped in a Proxy.
func (s Shape) Composite() bool {
	return s == ShapeRecord || s == ShapeSequence
}

// shapeOfType classifies t. Interface types stay ShapeUnknown.
func shapeOfType(t reflect.Type) Shape {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Interface:
		return ShapeUnknown
	case reflect.Map, reflect.Struct:
		return ShapeRecord
	case reflect.Slice, reflect.Array:
		return ShapeSequence
	default:
		return ShapePrimitive
	}
}

// shapeOfValue classifies the dynamic type of v, or returns ShapeUnknown for nil.
func shapeOfValue(v any) Shape {
	if v == nil {
		return ShapeUnknown
	}
	return shapeOfType(reflect.TypeOf(v))
}

// Proxy is the view returned when reading an async variable whose value is
// composite. It exposes the members of the value and, through the embedded
// *AsyncVar, the full status and action surface. GetValue returns the
// original composite, never the proxy.
//
// Members are resolved from the visible value on every call, so a proxy kept
// across settlements agrees with GetValue.
type Proxy[V any] struct {
	*AsyncVar[V]
}

func newProxy[V any](v *AsyncVar[V]) *Proxy[V] {
	return &Proxy[V]{AsyncVar: v}
}

// members returns the visible value with pointers and interfaces removed,
// or the zero Value when it is nil.
func (p *Proxy[V]) members() reflect.Value {
	rv := reflect.ValueOf(any(p.GetValue()))
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// Len returns the number of members: map entries, exported struct fields or
// sequence elements.
func (p *Proxy[V]) Len() int {
	rv := p.members()
	switch rv.Kind() {
	case reflect.Invalid:
		return 0
	case reflect.Struct:
		return len(exportedFields(rv.Type()))
	}
	return rv.Len()
}

// Field returns a record member by name. Map keys are matched by their
// fmt.Sprint form, the same names Keys returns.
func (p *Proxy[V]) Field(name string) (any, bool) {
	rv := p.members()
	switch rv.Kind() {
	case reflect.Map:
		if kt := rv.Type().Key(); kt.Kind() == reflect.String {
			mv := rv.MapIndex(reflect.ValueOf(name).Convert(kt))
			if !mv.IsValid() {
				return nil, false
			}
			return mv.Interface(), true
		}
		iterMap := rv.MapRange()
		for iterMap.Next() {
			if fmt.Sprint(iterMap.Key().Interface()) == name {
				return iterMap.Value().Interface(), true
			}
		}
	case reflect.Struct:
		sf, ok := rv.Type().FieldByName(name)
		if !ok || !sf.IsExported() {
			return nil, false
		}
		return rv.FieldByIndex(sf.Index).Interface(), true
	}
	return nil, false
}

// Keys returns record member names: sorted map keys or exported struct
// fields in declaration order.
func (p *Proxy[V]) Keys() []string {
	return recordKeys(p.members())
}

func recordKeys(rv reflect.Value) []string {
	switch rv.Kind() {
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		slices.Sort(keys)
		return keys
	case reflect.Struct:
		fields := exportedFields(rv.Type())
		keys := make([]string, len(fields))
		for i, f := range fields {
			keys[i] = f.Name
		}
		return keys
	}
	return nil
}

// Fields iterates over record members in Keys order.
func (p *Proxy[V]) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		rv := p.members()
		switch rv.Kind() {
		case reflect.Map:
			byName := make(map[string]reflect.Value, rv.Len())
			iterMap := rv.MapRange()
			for iterMap.Next() {
				byName[fmt.Sprint(iterMap.Key().Interface())] = iterMap.Value()
			}
			for _, k := range recordKeys(rv) {
				if !yield(k, byName[k].Interface()) {
					return
				}
			}
		case reflect.Struct:
			for _, f := range exportedFields(rv.Type()) {
				if !yield(f.Name, rv.FieldByIndex(f.Index).Interface()) {
					return
				}
			}
		}
	}
}

func isSequence(rv reflect.Value) bool {
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

// Index returns a sequence element.
func (p *Proxy[V]) Index(i int) (any, bool) {
	rv := p.members()
	if !isSequence(rv) || i < 0 || i >= rv.Len() {
		return nil, false
	}
	return rv.Index(i).Interface(), true
}

// Elements iterates over sequence elements in order.
func (p *Proxy[V]) Elements() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		rv := p.members()
		if !isSequence(rv) {
			return
		}
		for i := 0; i < rv.Len(); i++ {
			if !yield(i, rv.Index(i).Interface()) {
				return
			}
		}
	}
}

func exportedFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			out = append(out, f)
		}
	}
	return out
}
