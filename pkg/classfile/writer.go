package classfile

import (
	"fmt"
	"io"
	"math"
)

// Bytes serializes the class. Attributes are written from their raw Data,
// so a model that was parsed and not modified encodes to the input bytes.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := &byteWriter{}
	w.u4(classMagic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)

	if len(cf.ConstantPool) == 0 {
		return nil, fmt.Errorf("constant pool is empty")
	}
	if cf.ConstantPool.Used() > MaxPoolSlots {
		return nil, fmt.Errorf("constant pool uses %d slots, limit %d", cf.ConstantPool.Used(), MaxPoolSlots)
	}
	w.u2(uint16(len(cf.ConstantPool)))
	if err := cf.ConstantPool.encode(w); err != nil {
		return nil, fmt.Errorf("writing constant pool: %w", err)
	}

	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)

	if err := w.count(len(cf.Interfaces), "interfaces"); err != nil {
		return nil, err
	}
	for _, idx := range cf.Interfaces {
		w.u2(idx)
	}

	if err := w.count(len(cf.Fields), "fields"); err != nil {
		return nil, err
	}
	for i := range cf.Fields {
		f := &cf.Fields[i]
		if err := writeMember(w, f.AccessFlags, f.NameIndex, f.DescriptorIndex, f.Attributes); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", f.Name, err)
		}
	}

	if err := w.count(len(cf.Methods), "methods"); err != nil {
		return nil, err
	}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if err := writeMember(w, m.AccessFlags, m.NameIndex, m.DescriptorIndex, m.Attributes); err != nil {
			return nil, fmt.Errorf("writing method %s%s: %w", m.Name, m.Descriptor, err)
		}
	}

	if err := writeAttributes(w, cf.Attributes); err != nil {
		return nil, fmt.Errorf("writing class attributes: %w", err)
	}
	return w.buf, nil
}

// WriteTo writes the serialized class to out.
func (cf *ClassFile) WriteTo(out io.Writer) (int64, error) {
	b, err := cf.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(b)
	return int64(n), err
}

// Encode returns the body of a Code attribute.
func (c *CodeAttribute) Encode() ([]byte, error) {
	w := &byteWriter{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	if uint64(len(c.Code)) > math.MaxUint32 {
		return nil, fmt.Errorf("code length %d too large", len(c.Code))
	}
	w.u4(uint32(len(c.Code)))
	w.raw(c.Code)
	if err := w.count(len(c.ExceptionHandlers), "exception handlers"); err != nil {
		return nil, err
	}
	for _, h := range c.ExceptionHandlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	if err := writeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func writeMember(w *byteWriter, flags, nameIndex, descIndex uint16, attrs []AttributeInfo) error {
	w.u2(flags)
	w.u2(nameIndex)
	w.u2(descIndex)
	return writeAttributes(w, attrs)
}

func writeAttributes(w *byteWriter, attrs []AttributeInfo) error {
	if err := w.count(len(attrs), "attributes"); err != nil {
		return err
	}
	for _, a := range attrs {
		if uint64(len(a.Data)) > math.MaxUint32 {
			return fmt.Errorf("attribute %s is %d bytes long", a.Name, len(a.Data))
		}
		w.u2(a.NameIndex)
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
	return nil
}
