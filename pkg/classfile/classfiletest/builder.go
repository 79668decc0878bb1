// Package classfiletest assembles class binaries for tests. It writes the
// binary format directly and does not depend on package classfile, so the
// parser can be checked against bytes it did not produce.
package classfiletest

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Access flags used by fixtures.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
)

// Builder accumulates a class. Pool entries are deduplicated by value and
// appended in the order they are first requested.
type Builder struct {
	Major, Minor uint16
	Access       uint16

	pool  [][]byte
	slots int // next free pool index
	index map[string]uint16

	this, super uint16
	superName   string
	interfaces  []uint16
	fields      [][]byte
	methods     [][]byte
	attrs       [][]byte
}

// New starts a public class extending java/lang/Object, targeting Java 8.
func New(name string) *Builder {
	b := &Builder{
		Major:  52,
		Access: AccPublic | AccSuper,
		slots:  1,
		index:  make(map[string]uint16),
	}
	b.this = b.Class(name)
	b.Super("java/lang/Object")
	return b
}

// Super replaces the super class.
func (b *Builder) Super(name string) *Builder {
	b.super = b.Class(name)
	b.superName = name
	return b
}

func (b *Builder) entry(key string, wide bool, body []byte) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := uint16(b.slots)
	b.pool = append(b.pool, body)
	b.index[key] = idx
	b.slots++
	if wide {
		b.slots++
	}
	return idx
}

// Utf8 adds a CONSTANT_Utf8.
func (b *Builder) Utf8(s string) uint16 {
	body := []byte{1}
	body = binary.BigEndian.AppendUint16(body, uint16(len(s)))
	body = append(body, s...)
	return b.entry("u:"+s, false, body)
}

// Class adds a CONSTANT_Class.
func (b *Builder) Class(name string) uint16 {
	return b.entry("c:"+name, false, u2Entry(7, b.Utf8(name)))
}

// String adds a CONSTANT_String.
func (b *Builder) String(s string) uint16 {
	return b.entry("s:"+s, false, u2Entry(8, b.Utf8(s)))
}

// Integer adds a CONSTANT_Integer.
func (b *Builder) Integer(v int32) uint16 {
	body := binary.BigEndian.AppendUint32([]byte{3}, uint32(v))
	return b.entry(fmt.Sprintf("i:%d", v), false, body)
}

// Long adds a CONSTANT_Long, which takes two slots.
func (b *Builder) Long(v int64) uint16 {
	body := binary.BigEndian.AppendUint64([]byte{5}, uint64(v))
	return b.entry(fmt.Sprintf("j:%d", v), true, body)
}

// Double adds a CONSTANT_Double, which takes two slots.
func (b *Builder) Double(v float64) uint16 {
	body := binary.BigEndian.AppendUint64([]byte{6}, math.Float64bits(v))
	return b.entry(fmt.Sprintf("d:%x", math.Float64bits(v)), true, body)
}

// NameAndType adds a CONSTANT_NameAndType.
func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.entry("nt:"+name+":"+desc, false, u2u2Entry(12, n, d))
}

// Methodref adds a CONSTANT_Methodref.
func (b *Builder) Methodref(class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.entry("m:"+class+"."+name+desc, false, u2u2Entry(10, c, nt))
}

// Fieldref adds a CONSTANT_Fieldref.
func (b *Builder) Fieldref(class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.entry("f:"+class+"."+name+desc, false, u2u2Entry(9, c, nt))
}

// Raw appends an arbitrary pool entry body (tag included) without
// deduplication. It is meant for malformed fixtures.
func (b *Builder) Raw(body []byte) uint16 {
	return b.entry(fmt.Sprintf("raw:%d", b.slots), false, body)
}

// FillPool adds distinct Utf8 entries until the pool uses n slots.
func (b *Builder) FillPool(n int) *Builder {
	for i := 0; b.slots-1 < n; i++ {
		b.Utf8(fmt.Sprintf("$fill%d", i))
	}
	return b
}

// PoolSlots returns the number of pool slots used so far.
func (b *Builder) PoolSlots() int { return b.slots - 1 }

// Interface adds an implemented interface.
func (b *Builder) Interface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

// InterfaceIndex adds an interface by raw pool index. It is meant for
// malformed fixtures.
func (b *Builder) InterfaceIndex(idx uint16) *Builder {
	b.interfaces = append(b.interfaces, idx)
	return b
}

// Attr is an attribute waiting to be written. The name is added to the pool
// when the attribute is attached.
type Attr struct {
	Name string
	Data []byte
}

// Field adds a field.
func (b *Builder) Field(access uint16, name, desc string, attrs ...Attr) *Builder {
	b.fields = append(b.fields, b.member(access, name, desc, attrs))
	return b
}

// Method adds a method.
func (b *Builder) Method(access uint16, name, desc string, attrs ...Attr) *Builder {
	b.methods = append(b.methods, b.member(access, name, desc, attrs))
	return b
}

// Attribute adds a class-level attribute.
func (b *Builder) Attribute(a Attr) *Builder {
	b.attrs = append(b.attrs, b.attr(a))
	return b
}

func (b *Builder) member(access uint16, name, desc string, attrs []Attr) []byte {
	out := binary.BigEndian.AppendUint16(nil, access)
	out = binary.BigEndian.AppendUint16(out, b.Utf8(name))
	out = binary.BigEndian.AppendUint16(out, b.Utf8(desc))
	out = binary.BigEndian.AppendUint16(out, uint16(len(attrs)))
	for _, a := range attrs {
		out = append(out, b.attr(a)...)
	}
	return out
}

func (b *Builder) attr(a Attr) []byte {
	out := binary.BigEndian.AppendUint16(nil, b.Utf8(a.Name))
	out = binary.BigEndian.AppendUint32(out, uint32(len(a.Data)))
	return append(out, a.Data...)
}

// Code returns a Code attribute without exception handlers.
func (b *Builder) Code(maxStack, maxLocals uint16, code []byte, attrs ...Attr) Attr {
	out := binary.BigEndian.AppendUint16(nil, maxStack)
	out = binary.BigEndian.AppendUint16(out, maxLocals)
	out = binary.BigEndian.AppendUint32(out, uint32(len(code)))
	out = append(out, code...)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, uint16(len(attrs)))
	for _, a := range attrs {
		out = append(out, b.attr(a)...)
	}
	return Attr{Name: "Code", Data: out}
}

// SourceFile returns a SourceFile attribute.
func (b *Builder) SourceFile(name string) Attr {
	return Attr{Name: "SourceFile", Data: binary.BigEndian.AppendUint16(nil, b.Utf8(name))}
}

// Bytes serializes the class.
func (b *Builder) Bytes() []byte {
	out := binary.BigEndian.AppendUint32(nil, 0xCAFEBABE)
	out = binary.BigEndian.AppendUint16(out, b.Minor)
	out = binary.BigEndian.AppendUint16(out, b.Major)
	out = binary.BigEndian.AppendUint16(out, uint16(b.slots))
	for _, e := range b.pool {
		out = append(out, e...)
	}
	out = binary.BigEndian.AppendUint16(out, b.Access)
	out = binary.BigEndian.AppendUint16(out, b.this)
	out = binary.BigEndian.AppendUint16(out, b.super)
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		out = binary.BigEndian.AppendUint16(out, i)
	}
	out = appendMembers(out, b.fields)
	out = appendMembers(out, b.methods)
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.attrs)))
	for _, a := range b.attrs {
		out = append(out, a...)
	}
	return out
}

func appendMembers(out []byte, members [][]byte) []byte {
	out = binary.BigEndian.AppendUint16(out, uint16(len(members)))
	for _, m := range members {
		out = append(out, m...)
	}
	return out
}

func u2Entry(tag byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{tag}, v)
}

func u2u2Entry(tag byte, a, c uint16) []byte {
	return binary.BigEndian.AppendUint16(u2Entry(tag, a), c)
}
