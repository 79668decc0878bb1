package classfile

import (
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// MaxPoolSlots is the number of usable constant pool slots. constant_pool_count
// is a u2 and slot 0 is reserved.
const MaxPoolSlots = 65534

// ConstantPoolEntry is an interface implemented by all constant pool types.
type ConstantPoolEntry interface {
	Tag() uint8
}

// ConstantUtf8 holds the raw modified UTF-8 bytes of a CONSTANT_Utf8 entry.
// Value is not re-encoded, so the bytes round-trip exactly.
type ConstantUtf8 struct {
	Value string
}

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct {
	Value int32
}

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct {
	Value float32
}

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct {
	Value int64
}

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct {
	Value float64
}

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct {
	NameIndex uint16
}

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct {
	StringIndex uint16
}

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct {
	DescriptorIndex uint16
}

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

// ConstantDynamic covers both CONSTANT_Dynamic and CONSTANT_InvokeDynamic,
// which share a layout.
type ConstantDynamic struct {
	Invoke                   bool
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantDynamic) Tag() uint8 {
	if c.Invoke {
		return TagInvokeDynamic
	}
	return TagDynamic
}

type ConstantModule struct {
	NameIndex uint16
}

func (c *ConstantModule) Tag() uint8 { return TagModule }

type ConstantPackage struct {
	NameIndex uint16
}

func (c *ConstantPackage) Tag() uint8 { return TagPackage }

// ConstantPool is 1-indexed: index 0 and the slot following a Long or Double
// entry are nil.
type ConstantPool []ConstantPoolEntry

// Clone returns a copy of the pool slice. Entries are immutable once parsed
// and are shared.
func (p ConstantPool) Clone() ConstantPool {
	out := make(ConstantPool, len(p))
	copy(out, p)
	return out
}

// Used returns the number of slots in use, counting the wide slot of
// Long/Double entries.
func (p ConstantPool) Used() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Entry returns the entry at index, or an error wrapping ErrBadIndex.
func (p ConstantPool) Entry(index uint16) (ConstantPoolEntry, error) {
	if index == 0 || int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("%w %d", ErrBadIndex, index)
	}
	return p[index], nil
}

// Utf8 returns the Utf8 string at the given constant pool index.
func (p ConstantPool) Utf8(index uint16) (string, error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", err
	}
	utf8, ok := e.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("%w %d: not Utf8 (tag=%d)", ErrBadIndex, index, e.Tag())
	}
	return utf8.Value, nil
}

// ClassName returns the class name referenced by a CONSTANT_Class entry.
func (p ConstantPool) ClassName(classIndex uint16) (string, error) {
	e, err := p.Entry(classIndex)
	if err != nil {
		return "", err
	}
	class, ok := e.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("%w %d: not Class (tag=%d)", ErrBadIndex, classIndex, e.Tag())
	}
	return p.Utf8(class.NameIndex)
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	e, err := p.Entry(index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("%w %d: not NameAndType (tag=%d)", ErrBadIndex, index, e.Tag())
	}
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	if descriptor, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRef holds a resolved field, method or interface-method reference.
type MemberRef struct {
	Tag        uint8
	ClassName  string
	Name       string
	Descriptor string
}

func (r MemberRef) String() string {
	return r.ClassName + "." + r.Name + r.Descriptor
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (p ConstantPool) MemberRef(index uint16) (MemberRef, error) {
	e, err := p.Entry(index)
	if err != nil {
		return MemberRef{}, err
	}
	var classIndex, natIndex uint16
	switch ref := e.(type) {
	case *ConstantFieldref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	default:
		return MemberRef{}, fmt.Errorf("%w %d: not a member reference (tag=%d)", ErrBadIndex, index, e.Tag())
	}

	className, err := p.ClassName(classIndex)
	if err != nil {
		return MemberRef{}, fmt.Errorf("resolving member class: %w", err)
	}
	name, desc, err := p.NameAndType(natIndex)
	if err != nil {
		return MemberRef{}, fmt.Errorf("resolving member name and type: %w", err)
	}
	return MemberRef{Tag: e.Tag(), ClassName: className, Name: name, Descriptor: desc}, nil
}

// parseConstantPool reads constant_pool_count-1 entries.
// The returned slice is 1-indexed: index 0 is nil.
func parseConstantPool(r *byteReader, count uint16, interner Interner) (ConstantPool, error) {
	if count == 0 {
		return nil, r.errorf(ErrBadIndex, "constant pool count is zero")
	}
	pool := make(ConstantPool, count)

	for i := uint16(1); i < count; i++ {
		tag, err := r.u1("constant pool tag at index %d", i)
		if err != nil {
			return nil, err
		}

		switch tag {
		case TagUtf8:
			length, err := r.u2("Utf8 length at index %d", i)
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(length), "Utf8 bytes at index %d", i)
			if err != nil {
				return nil, err
			}
			s := string(b)
			if interner != nil {
				s = interner.Intern(s)
			}
			pool[i] = &ConstantUtf8{Value: s}

		case TagInteger:
			v, err := r.u4("Integer at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantInteger{Value: int32(v)}

		case TagFloat:
			bits, err := r.u4("Float at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong, TagDouble:
			if i+1 >= count {
				return nil, r.errorf(ErrBadIndex, "8-byte constant at index %d overruns pool count %d", i, count)
			}
			hi, err := r.u4("8-byte constant at index %d", i)
			if err != nil {
				return nil, err
			}
			lo, err := r.u4("8-byte constant at index %d", i)
			if err != nil {
				return nil, err
			}
			bits := uint64(hi)<<32 | uint64(lo)
			if tag == TagLong {
				pool[i] = &ConstantLong{Value: int64(bits)}
			} else {
				pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			}
			i++ // long and double take 2 slots

		case TagClass:
			idx, err := r.u2("Class at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantClass{NameIndex: idx}

		case TagString:
			idx, err := r.u2("String at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantString{StringIndex: idx}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIndex, err := r.u2("member ref class_index at index %d", i)
			if err != nil {
				return nil, err
			}
			natIndex, err := r.u2("member ref name_and_type_index at index %d", i)
			if err != nil {
				return nil, err
			}
			switch tag {
			case TagFieldref:
				pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			case TagMethodref:
				pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			default:
				pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			}

		case TagNameAndType:
			nameIndex, err := r.u2("NameAndType name_index at index %d", i)
			if err != nil {
				return nil, err
			}
			descIndex, err := r.u2("NameAndType descriptor_index at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			kind, err := r.u1("MethodHandle reference_kind at index %d", i)
			if err != nil {
				return nil, err
			}
			ref, err := r.u2("MethodHandle reference_index at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref}

		case TagMethodType:
			idx, err := r.u2("MethodType at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: idx}

		case TagDynamic, TagInvokeDynamic:
			bsm, err := r.u2("Dynamic bootstrap_method_attr_index at index %d", i)
			if err != nil {
				return nil, err
			}
			nat, err := r.u2("Dynamic name_and_type_index at index %d", i)
			if err != nil {
				return nil, err
			}
			pool[i] = &ConstantDynamic{Invoke: tag == TagInvokeDynamic, BootstrapMethodAttrIndex: bsm, NameAndTypeIndex: nat}

		case TagModule, TagPackage:
			idx, err := r.u2("Module/Package at index %d", i)
			if err != nil {
				return nil, err
			}
			if tag == TagModule {
				pool[i] = &ConstantModule{NameIndex: idx}
			} else {
				pool[i] = &ConstantPackage{NameIndex: idx}
			}

		default:
			return nil, r.errorf(ErrBadTag, "unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

// validate checks that every cross-reference between entries resolves to an
// entry of the expected kind. It runs after the whole pool is read, so
// forward references are allowed.
func (p ConstantPool) validate() error {
	for i, e := range p {
		if e == nil {
			continue
		}
		var err error
		switch c := e.(type) {
		case *ConstantClass:
			_, err = p.Utf8(c.NameIndex)
		case *ConstantString:
			_, err = p.Utf8(c.StringIndex)
		case *ConstantFieldref:
			err = p.expectRef(c.ClassIndex, c.NameAndTypeIndex)
		case *ConstantMethodref:
			err = p.expectRef(c.ClassIndex, c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			err = p.expectRef(c.ClassIndex, c.NameAndTypeIndex)
		case *ConstantNameAndType:
			if _, err = p.Utf8(c.NameIndex); err == nil {
				_, err = p.Utf8(c.DescriptorIndex)
			}
		case *ConstantMethodHandle:
			_, err = p.Entry(c.ReferenceIndex)
		case *ConstantMethodType:
			_, err = p.Utf8(c.DescriptorIndex)
		case *ConstantDynamic:
			err = p.expectTag(c.NameAndTypeIndex, TagNameAndType)
		case *ConstantModule:
			_, err = p.Utf8(c.NameIndex)
		case *ConstantPackage:
			_, err = p.Utf8(c.NameIndex)
		}
		if err != nil {
			return fmt.Errorf("constant pool entry %d (tag=%d): %w", i, e.Tag(), err)
		}
	}
	return nil
}

func (p ConstantPool) expectRef(classIndex, natIndex uint16) error {
	if err := p.expectTag(classIndex, TagClass); err != nil {
		return err
	}
	return p.expectTag(natIndex, TagNameAndType)
}

func (p ConstantPool) expectTag(index uint16, tag uint8) error {
	e, err := p.Entry(index)
	if err != nil {
		return err
	}
	if e.Tag() != tag {
		return fmt.Errorf("%w %d: tag %d, want %d", ErrBadIndex, index, e.Tag(), tag)
	}
	return nil
}

// encode appends the binary form of the pool entries (without the count).
func (p ConstantPool) encode(w *byteWriter) error {
	for i := 1; i < len(p); i++ {
		e := p[i]
		if e == nil {
			return fmt.Errorf("%w %d: empty slot", ErrBadIndex, i)
		}
		w.u1(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			if len(c.Value) > math.MaxUint16 {
				return fmt.Errorf("Utf8 at index %d is %d bytes long", i, len(c.Value))
			}
			w.u2(uint16(len(c.Value)))
			w.raw([]byte(c.Value))
		case *ConstantInteger:
			w.u4(uint32(c.Value))
		case *ConstantFloat:
			w.u4(math.Float32bits(c.Value))
		case *ConstantLong:
			w.u8(uint64(c.Value))
			i++
		case *ConstantDouble:
			w.u8(math.Float64bits(c.Value))
			i++
		case *ConstantClass:
			w.u2(c.NameIndex)
		case *ConstantString:
			w.u2(c.StringIndex)
		case *ConstantFieldref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantMethodref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			w.u2(c.ClassIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantNameAndType:
			w.u2(c.NameIndex)
			w.u2(c.DescriptorIndex)
		case *ConstantMethodHandle:
			w.u1(c.ReferenceKind)
			w.u2(c.ReferenceIndex)
		case *ConstantMethodType:
			w.u2(c.DescriptorIndex)
		case *ConstantDynamic:
			w.u2(c.BootstrapMethodAttrIndex)
			w.u2(c.NameAndTypeIndex)
		case *ConstantModule:
			w.u2(c.NameIndex)
		case *ConstantPackage:
			w.u2(c.NameIndex)
		default:
			return fmt.Errorf("%w: cannot encode entry %d (tag=%d)", ErrBadTag, i, e.Tag())
		}
	}
	return nil
}
