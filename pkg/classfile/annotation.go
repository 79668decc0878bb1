package classfile

import (
	"fmt"
	"strings"
)

// Element value tags, as they appear in element_value structures.
const (
	ElemByte       = 'B'
	ElemChar       = 'C'
	ElemDouble     = 'D'
	ElemFloat      = 'F'
	ElemInt        = 'I'
	ElemLong       = 'J'
	ElemShort      = 'S'
	ElemBoolean    = 'Z'
	ElemString     = 's'
	ElemEnum       = 'e'
	ElemClass      = 'c'
	ElemAnnotation = '@'
	ElemArray      = '['
)

// maxElementDepth bounds nesting of arrays and annotations inside an
// element_value.
const maxElementDepth = 64

// Annotation is a decoded annotation. Type is the field descriptor of the
// annotation interface, e.g. "Ljavax/ejb/TransactionAttribute;".
type Annotation struct {
	Type     string
	Visible  bool
	Elements []ElementPair
}

// ElementPair is one name=value entry of an annotation.
type ElementPair struct {
	Name  string
	Value ElementValue
}

// ElementValue is the tagged variant behind annotation element values.
// Which fields are set depends on Tag:
//
//	B C I S      Const is int32
//	Z            Const is bool
//	J            Const is int64
//	F            Const is float32
//	D            Const is float64
//	s            Const is string
//	e            EnumType, EnumConst
//	c            Class (a return descriptor, e.g. "Ljava/lang/String;" or "V")
//	@            Annotation
//	[            Values
type ElementValue struct {
	Tag        byte
	Const      any
	EnumType   string
	EnumConst  string
	Class      string
	Annotation *Annotation
	Values     []ElementValue
}

// ClassName returns the internal name of the annotation type.
func (a *Annotation) ClassName() string {
	return DescriptorClassName(a.Type)
}

// Get returns the value of the named element.
func (a *Annotation) Get(name string) (ElementValue, bool) {
	for _, p := range a.Elements {
		if p.Name == name {
			return p.Value, true
		}
	}
	return ElementValue{}, false
}

// AsString returns the value of a string element.
func (v ElementValue) AsString() (string, bool) {
	if v.Tag != ElemString {
		return "", false
	}
	s, ok := v.Const.(string)
	return s, ok
}

// AsStrings returns the values of a String[] element. A single string is
// accepted as a one-element array, matching Java source shorthand.
func (v ElementValue) AsStrings() ([]string, bool) {
	if s, ok := v.AsString(); ok {
		return []string{s}, true
	}
	if v.Tag != ElemArray {
		return nil, false
	}
	out := make([]string, 0, len(v.Values))
	for _, e := range v.Values {
		s, ok := e.AsString()
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// AsEnum returns the constant name of an enum element.
func (v ElementValue) AsEnum() (typ, name string, ok bool) {
	if v.Tag != ElemEnum {
		return "", "", false
	}
	return v.EnumType, v.EnumConst, true
}

// AsClasses returns the internal names of a Class[] element. A single class
// value is accepted as a one-element array.
func (v ElementValue) AsClasses() ([]string, bool) {
	if v.Tag == ElemClass {
		return []string{DescriptorClassName(v.Class)}, true
	}
	if v.Tag != ElemArray {
		return nil, false
	}
	out := make([]string, 0, len(v.Values))
	for _, e := range v.Values {
		if e.Tag != ElemClass {
			return nil, false
		}
		out = append(out, DescriptorClassName(e.Class))
	}
	return out, true
}

// AnnotationDescriptor normalizes an annotation type name to its field
// descriptor form. "javax.ejb.Foo", "javax/ejb/Foo" and "Ljavax/ejb/Foo;"
// all yield "Ljavax/ejb/Foo;".
func AnnotationDescriptor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "L") && strings.HasSuffix(name, ";") {
		return name
	}
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}

// DescriptorClassName strips the L...; wrapper from an object descriptor.
// Other descriptors are returned unchanged.
func DescriptorClassName(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// annotationsFrom decodes the RuntimeVisible/InvisibleAnnotations attributes
// among attrs, visible ones first.
func annotationsFrom(attrs []AttributeInfo, pool ConstantPool) ([]Annotation, error) {
	var out []Annotation
	for _, name := range []string{AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations} {
		attr, ok := findAttribute(attrs, name)
		if !ok {
			continue
		}
		anns, err := ParseAnnotations(attr.Data, pool)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		visible := name == AttrRuntimeVisibleAnnotations
		for i := range anns {
			anns[i].Visible = visible
		}
		out = append(out, anns...)
	}
	return out, nil
}

// ParseAnnotations decodes the body of a Runtime*Annotations attribute.
func ParseAnnotations(data []byte, pool ConstantPool) ([]Annotation, error) {
	r := &byteReader{data: data}
	n, err := r.u2("num_annotations")
	if err != nil {
		return nil, err
	}
	// Each annotation is at least 4 bytes.
	if err := r.need(4*int(n), "%d annotations", n); err != nil {
		return nil, err
	}
	anns := make([]Annotation, n)
	for i := range anns {
		a, err := parseAnnotation(r, pool, 0)
		if err != nil {
			return nil, err
		}
		anns[i] = *a
	}
	if r.remaining() != 0 {
		return nil, r.errorf(ErrTrailingData, "%d bytes after annotations", r.remaining())
	}
	return anns, nil
}

func parseAnnotation(r *byteReader, pool ConstantPool, depth int) (*Annotation, error) {
	typeIndex, err := r.u2("annotation type_index")
	if err != nil {
		return nil, err
	}
	typ, err := pool.Utf8(typeIndex)
	if err != nil {
		return nil, r.errorf(err, "resolving annotation type")
	}
	numPairs, err := r.u2("num_element_value_pairs of %s", typ)
	if err != nil {
		return nil, err
	}
	// Each pair is at least 3 bytes.
	if err := r.need(3*int(numPairs), "%d element pairs of %s", numPairs, typ); err != nil {
		return nil, err
	}
	a := &Annotation{Type: typ, Elements: make([]ElementPair, numPairs)}
	for i := range a.Elements {
		nameIndex, err := r.u2("element_name_index of %s", typ)
		if err != nil {
			return nil, err
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			return nil, r.errorf(err, "resolving element name of %s", typ)
		}
		v, err := parseElementValue(r, pool, depth+1)
		if err != nil {
			return nil, err
		}
		a.Elements[i] = ElementPair{Name: name, Value: v}
	}
	return a, nil
}

func parseElementValue(r *byteReader, pool ConstantPool, depth int) (ElementValue, error) {
	if depth > maxElementDepth {
		return ElementValue{}, r.errorf(ErrBadTag, "element value nesting exceeds %d", maxElementDepth)
	}
	tag, err := r.u1("element_value tag")
	if err != nil {
		return ElementValue{}, err
	}
	v := ElementValue{Tag: tag}

	switch tag {
	case ElemByte, ElemChar, ElemInt, ElemShort, ElemBoolean,
		ElemLong, ElemFloat, ElemDouble, ElemString:
		idx, err := r.u2("const_value_index")
		if err != nil {
			return v, err
		}
		e, err := pool.Entry(idx)
		if err != nil {
			return v, r.errorf(err, "resolving element constant")
		}
		if v.Const, err = elementConst(tag, e); err != nil {
			return v, r.errorf(err, "resolving element constant %d", idx)
		}

	case ElemEnum:
		typeIndex, err := r.u2("enum type_name_index")
		if err != nil {
			return v, err
		}
		constIndex, err := r.u2("enum const_name_index")
		if err != nil {
			return v, err
		}
		if v.EnumType, err = pool.Utf8(typeIndex); err != nil {
			return v, r.errorf(err, "resolving enum type")
		}
		if v.EnumConst, err = pool.Utf8(constIndex); err != nil {
			return v, r.errorf(err, "resolving enum constant")
		}

	case ElemClass:
		idx, err := r.u2("class_info_index")
		if err != nil {
			return v, err
		}
		if v.Class, err = pool.Utf8(idx); err != nil {
			return v, r.errorf(err, "resolving class element")
		}

	case ElemAnnotation:
		if v.Annotation, err = parseAnnotation(r, pool, depth+1); err != nil {
			return v, err
		}

	case ElemArray:
		n, err := r.u2("num_values")
		if err != nil {
			return v, err
		}
		// Each element_value is at least 3 bytes.
		if err := r.need(3*int(n), "%d array values", n); err != nil {
			return v, err
		}
		v.Values = make([]ElementValue, n)
		for i := range v.Values {
			if v.Values[i], err = parseElementValue(r, pool, depth+1); err != nil {
				return v, err
			}
		}

	default:
		return v, r.errorf(ErrBadTag, "unknown element_value tag %q", tag)
	}
	return v, nil
}

func elementConst(tag byte, e ConstantPoolEntry) (any, error) {
	switch tag {
	case ElemByte, ElemChar, ElemInt, ElemShort, ElemBoolean:
		c, ok := e.(*ConstantInteger)
		if !ok {
			break
		}
		if tag == ElemBoolean {
			return c.Value != 0, nil
		}
		return c.Value, nil
	case ElemLong:
		if c, ok := e.(*ConstantLong); ok {
			return c.Value, nil
		}
	case ElemFloat:
		if c, ok := e.(*ConstantFloat); ok {
			return c.Value, nil
		}
	case ElemDouble:
		if c, ok := e.(*ConstantDouble); ok {
			return c.Value, nil
		}
	case ElemString:
		if c, ok := e.(*ConstantUtf8); ok {
			return c.Value, nil
		}
	}
	return nil, fmt.Errorf("%w: tag %q does not match constant (tag=%d)", ErrBadIndex, tag, e.Tag())
}
