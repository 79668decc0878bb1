package classfiletest

import "encoding/binary"

// Ann describes an annotation to encode. Type may be a descriptor
// ("Lcom/acme/Secured;") or an internal name ("com/acme/Secured").
type Ann struct {
	Type     string
	Elements []Elem
}

// Elem is one name=value pair.
type Elem struct {
	Name  string
	Value Val
}

// Val encodes an element_value against the builder's pool.
type Val func(b *Builder) []byte

// StringVal is an element of type String.
func StringVal(s string) Val {
	return func(b *Builder) []byte { return tagged('s', b.Utf8(s)) }
}

// IntVal is an element of type int.
func IntVal(v int32) Val {
	return func(b *Builder) []byte { return tagged('I', b.Integer(v)) }
}

// BoolVal is an element of type boolean.
func BoolVal(v bool) Val {
	return func(b *Builder) []byte {
		var i int32
		if v {
			i = 1
		}
		return tagged('Z', b.Integer(i))
	}
}

// LongVal is an element of type long.
func LongVal(v int64) Val {
	return func(b *Builder) []byte { return tagged('J', b.Long(v)) }
}

// EnumVal is an enum constant; typ is the enum descriptor.
func EnumVal(typ, name string) Val {
	return func(b *Builder) []byte {
		out := tagged('e', b.Utf8(descriptor(typ)))
		return binary.BigEndian.AppendUint16(out, b.Utf8(name))
	}
}

// ClassVal is a class literal; desc is a return descriptor.
func ClassVal(desc string) Val {
	return func(b *Builder) []byte { return tagged('c', b.Utf8(descriptor(desc))) }
}

// AnnVal nests an annotation.
func AnnVal(a Ann) Val {
	return func(b *Builder) []byte { return append([]byte{'@'}, b.annotation(a)...) }
}

// ArrayVal is an array of values.
func ArrayVal(vals ...Val) Val {
	return func(b *Builder) []byte {
		out := binary.BigEndian.AppendUint16([]byte{'['}, uint16(len(vals)))
		for _, v := range vals {
			out = append(out, v(b)...)
		}
		return out
	}
}

// Annotations returns a RuntimeVisibleAnnotations attribute, or
// RuntimeInvisibleAnnotations when visible is false.
func (b *Builder) Annotations(visible bool, anns ...Ann) Attr {
	name := "RuntimeVisibleAnnotations"
	if !visible {
		name = "RuntimeInvisibleAnnotations"
	}
	out := binary.BigEndian.AppendUint16(nil, uint16(len(anns)))
	for _, a := range anns {
		out = append(out, b.annotation(a)...)
	}
	return Attr{Name: name, Data: out}
}

func (b *Builder) annotation(a Ann) []byte {
	out := binary.BigEndian.AppendUint16(nil, b.Utf8(descriptor(a.Type)))
	out = binary.BigEndian.AppendUint16(out, uint16(len(a.Elements)))
	for _, e := range a.Elements {
		out = binary.BigEndian.AppendUint16(out, b.Utf8(e.Name))
		out = append(out, e.Value(b)...)
	}
	return out
}

func tagged(tag byte, idx uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{tag}, idx)
}

// descriptor wraps an internal class name as L...; and leaves descriptors
// alone.
func descriptor(name string) string {
	if name == "" || name == "V" || len(name) == 1 || name[0] == '[' || (name[0] == 'L' && name[len(name)-1] == ';') {
		return name
	}
	return "L" + name + ";"
}
