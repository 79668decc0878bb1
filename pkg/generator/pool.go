package generator

import (
	"math"

	"github.com/daimatz/jenhance/pkg/classfile"
)

// constPool is an append-only copy of a class's constant pool. Lookups
// reuse an existing entry with the same value before appending.
type constPool struct {
	g       *Generator
	entries classfile.ConstantPool
	index   map[string]uint16
}

func newConstPool(g *Generator, p classfile.ConstantPool) *constPool {
	c := &constPool{g: g, entries: p.Clone(), index: make(map[string]uint16)}
	for i := range p {
		if key, ok := poolKey(p, uint16(i)); ok {
			if _, seen := c.index[key]; !seen {
				c.index[key] = uint16(i)
			}
		}
	}
	return c
}

// poolKey renders the value of the entry kinds the generator emits.
func poolKey(p classfile.ConstantPool, i uint16) (string, bool) {
	switch c := p[i].(type) {
	case *classfile.ConstantUtf8:
		return "u\x00" + c.Value, true
	case *classfile.ConstantClass:
		name, err := p.Utf8(c.NameIndex)
		return "c\x00" + name, err == nil
	case *classfile.ConstantString:
		s, err := p.Utf8(c.StringIndex)
		return "s\x00" + s, err == nil
	case *classfile.ConstantNameAndType:
		name, err := p.Utf8(c.NameIndex)
		if err != nil {
			return "", false
		}
		desc, err := p.Utf8(c.DescriptorIndex)
		return "n\x00" + name + "\x00" + desc, err == nil
	case *classfile.ConstantMethodref:
		ref, err := p.MemberRef(i)
		return "m\x00" + ref.ClassName + "\x00" + ref.Name + "\x00" + ref.Descriptor, err == nil
	}
	return "", false
}

func (c *constPool) add(key string, e classfile.ConstantPoolEntry) (uint16, error) {
	if idx, ok := c.index[key]; ok {
		return idx, nil
	}
	if c.entries.Used()+1 > classfile.MaxPoolSlots {
		return 0, c.g.errorf(ErrPoolOverflow, "pool already uses %d of %d slots", c.entries.Used(), classfile.MaxPoolSlots)
	}
	idx := uint16(len(c.entries))
	c.entries = append(c.entries, e)
	c.index[key] = idx
	return idx, nil
}

func (c *constPool) utf8(s string) (uint16, error) {
	if len(s) > math.MaxUint16 {
		return 0, c.g.errorf(ErrInvalidIntent, "string constant of %d bytes", len(s))
	}
	return c.add("u\x00"+s, &classfile.ConstantUtf8{Value: s})
}

func (c *constPool) class(name string) (uint16, error) {
	if idx, ok := c.index["c\x00"+name]; ok {
		return idx, nil
	}
	n, err := c.utf8(name)
	if err != nil {
		return 0, err
	}
	return c.add("c\x00"+name, &classfile.ConstantClass{NameIndex: n})
}

func (c *constPool) string(s string) (uint16, error) {
	if idx, ok := c.index["s\x00"+s]; ok {
		return idx, nil
	}
	u, err := c.utf8(s)
	if err != nil {
		return 0, err
	}
	return c.add("s\x00"+s, &classfile.ConstantString{StringIndex: u})
}

func (c *constPool) nameAndType(name, desc string) (uint16, error) {
	key := "n\x00" + name + "\x00" + desc
	if idx, ok := c.index[key]; ok {
		return idx, nil
	}
	n, err := c.utf8(name)
	if err != nil {
		return 0, err
	}
	d, err := c.utf8(desc)
	if err != nil {
		return 0, err
	}
	return c.add(key, &classfile.ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

func (c *constPool) methodref(class, name, desc string) (uint16, error) {
	key := "m\x00" + class + "\x00" + name + "\x00" + desc
	if idx, ok := c.index[key]; ok {
		return idx, nil
	}
	ci, err := c.class(class)
	if err != nil {
		return 0, err
	}
	nt, err := c.nameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return c.add(key, &classfile.ConstantMethodref{ClassIndex: ci, NameAndTypeIndex: nt})
}
