package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// Supported major versions: JDK 1.1 (45) through JDK 25 (69).
const (
	MinMajorVersion = 45
	MaxMajorVersion = 69
)

// DefaultMaxSize bounds the input accepted by Parse when no WithMaxSize
// option is given.
const DefaultMaxSize = 64 << 20

// Interner canonicalizes strings decoded from the constant pool.
type Interner interface {
	Intern(s string) string
}

type parseOptions struct {
	interner Interner
	maxSize  int
}

// Option configures parsing.
type Option func(*parseOptions)

// WithInterner routes every Utf8 constant through in.
func WithInterner(in Interner) Option {
	return func(o *parseOptions) { o.interner = in }
}

// WithMaxSize rejects inputs larger than n bytes. n <= 0 disables the check.
func WithMaxSize(n int) Option {
	return func(o *parseOptions) { o.maxSize = n }
}

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string, opts ...Option) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, opts...)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
// The reader is consumed to EOF.
func Parse(r io.Reader, opts ...Option) (*ClassFile, error) {
	o := newParseOptions(opts)
	if o.maxSize > 0 {
		r = io.LimitReader(r, int64(o.maxSize)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class data: %w", err)
	}
	return parse(data, o)
}

// ParseBytes parses a class binary held in memory. data is not retained.
func ParseBytes(data []byte, opts ...Option) (*ClassFile, error) {
	return parse(data, newParseOptions(opts))
}

func newParseOptions(opts []Option) parseOptions {
	o := parseOptions{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func parse(data []byte, o parseOptions) (*ClassFile, error) {
	if o.maxSize > 0 && len(data) > o.maxSize {
		return nil, newFormatError(0, ErrTooLarge, "class data is %d bytes, limit %d", len(data), o.maxSize)
	}

	r := &byteReader{data: data}
	cf := &ClassFile{}

	// Magic number
	magic, err := r.u4("magic number")
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, newFormatError(0, ErrBadMagic, "got 0x%08X, expected 0xCAFEBABE", magic)
	}

	// Version
	if cf.MinorVersion, err = r.u2("minor version"); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.u2("major version"); err != nil {
		return nil, err
	}
	if cf.MajorVersion < MinMajorVersion || cf.MajorVersion > MaxMajorVersion {
		return nil, newFormatError(6, ErrUnsupportedVersion, "version %d.%d outside %d..%d",
			cf.MajorVersion, cf.MinorVersion, MinMajorVersion, MaxMajorVersion)
	}

	// Constant pool
	cpCount, err := r.u2("constant pool count")
	if err != nil {
		return nil, err
	}
	pool, err := parseConstantPool(r, cpCount, o.interner)
	if err != nil {
		return nil, err
	}
	if err := pool.validate(); err != nil {
		return nil, r.errorf(err, "validating constant pool")
	}
	cf.ConstantPool = pool

	// Access flags, this_class, super_class
	if cf.AccessFlags, err = r.u2("access flags"); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = r.u2("this_class"); err != nil {
		return nil, err
	}
	if _, err := pool.ClassName(cf.ThisClass); err != nil {
		return nil, r.errorf(err, "resolving this_class")
	}
	if cf.SuperClass, err = r.u2("super_class"); err != nil {
		return nil, err
	}
	if cf.SuperClass != 0 {
		if _, err := pool.ClassName(cf.SuperClass); err != nil {
			return nil, r.errorf(err, "resolving super_class")
		}
	}

	// Interfaces
	interfacesCount, err := r.u2("interfaces count")
	if err != nil {
		return nil, err
	}
	if err := r.need(2*int(interfacesCount), "%d interfaces", interfacesCount); err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.u2("interface %d", i); err != nil {
			return nil, err
		}
		if _, err := pool.ClassName(cf.Interfaces[i]); err != nil {
			return nil, r.errorf(err, "resolving interface %d", i)
		}
	}

	// Fields
	fieldsCount, err := r.u2("fields count")
	if err != nil {
		return nil, err
	}
	if cf.Fields, err = parseFields(r, pool, fieldsCount); err != nil {
		return nil, err
	}

	// Methods
	methodsCount, err := r.u2("methods count")
	if err != nil {
		return nil, err
	}
	if cf.Methods, err = parseMethods(r, pool, methodsCount); err != nil {
		return nil, err
	}

	// Class-level attributes
	attrCount, err := r.u2("class attributes count")
	if err != nil {
		return nil, err
	}
	if cf.Attributes, err = parseAttributeInfos(r, pool, attrCount, "class"); err != nil {
		return nil, err
	}
	if cf.Annotations, err = annotationsFrom(cf.Attributes, pool); err != nil {
		return nil, r.errorf(err, "parsing class annotations")
	}

	if r.remaining() != 0 {
		return nil, r.errorf(ErrTrailingData, "%d bytes after class attributes", r.remaining())
	}

	return cf, nil
}

// member is the shared header of field_info and method_info.
type member struct {
	accessFlags, nameIndex, descIndex uint16
	name, desc                        string
	attrs                             []AttributeInfo
	annotations                       []Annotation
}

func parseMember(r *byteReader, pool ConstantPool, kind string, i int) (member, error) {
	var m member
	var err error
	if m.accessFlags, err = r.u2("%s %d access flags", kind, i); err != nil {
		return m, err
	}
	if m.nameIndex, err = r.u2("%s %d name index", kind, i); err != nil {
		return m, err
	}
	if m.descIndex, err = r.u2("%s %d descriptor index", kind, i); err != nil {
		return m, err
	}
	attrCount, err := r.u2("%s %d attributes count", kind, i)
	if err != nil {
		return m, err
	}

	if m.name, err = pool.Utf8(m.nameIndex); err != nil {
		return m, r.errorf(err, "resolving %s %d name", kind, i)
	}
	if m.desc, err = pool.Utf8(m.descIndex); err != nil {
		return m, r.errorf(err, "resolving %s %d descriptor", kind, i)
	}

	if m.attrs, err = parseAttributeInfos(r, pool, attrCount, fmt.Sprintf("%s %s", kind, m.name)); err != nil {
		return m, err
	}
	if m.annotations, err = annotationsFrom(m.attrs, pool); err != nil {
		return m, r.errorf(err, "parsing annotations of %s %s", kind, m.name)
	}
	return m, nil
}

func parseFields(r *byteReader, pool ConstantPool, count uint16) ([]FieldInfo, error) {
	// Each field_info is at least 8 bytes.
	if err := r.need(8*int(count), "%d fields", count); err != nil {
		return nil, err
	}
	fields := make([]FieldInfo, count)
	for i := range fields {
		m, err := parseMember(r, pool, "field", i)
		if err != nil {
			return nil, err
		}
		fields[i] = FieldInfo{
			AccessFlags:     m.accessFlags,
			NameIndex:       m.nameIndex,
			DescriptorIndex: m.descIndex,
			Name:            m.name,
			Descriptor:      m.desc,
			Attributes:      m.attrs,
			Annotations:     m.annotations,
		}
	}
	return fields, nil
}

func parseMethods(r *byteReader, pool ConstantPool, count uint16) ([]MethodInfo, error) {
	if err := r.need(8*int(count), "%d methods", count); err != nil {
		return nil, err
	}
	methods := make([]MethodInfo, count)
	for i := range methods {
		m, err := parseMember(r, pool, "method", i)
		if err != nil {
			return nil, err
		}
		mi := MethodInfo{
			AccessFlags:     m.accessFlags,
			NameIndex:       m.nameIndex,
			DescriptorIndex: m.descIndex,
			Name:            m.name,
			Descriptor:      m.desc,
			Attributes:      m.attrs,
			Annotations:     m.annotations,
		}

		if attr, ok := mi.Attribute(AttrCode); ok {
			code, err := parseCodeAttribute(attr.Data, pool)
			if err != nil {
				return nil, r.errorf(err, "parsing Code attribute for method %s%s", mi.Name, mi.Descriptor)
			}
			mi.Code = code
		}
		methods[i] = mi
	}
	return methods, nil
}

func parseAttributeInfos(r *byteReader, pool ConstantPool, count uint16, owner string) ([]AttributeInfo, error) {
	// Each attribute_info header is 6 bytes.
	if err := r.need(6*int(count), "%d attributes of %s", count, owner); err != nil {
		return nil, err
	}
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		nameIndex, err := r.u2("attribute %d name index of %s", i, owner)
		if err != nil {
			return nil, err
		}
		length, err := r.u4("attribute %d length of %s", i, owner)
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(r.remaining()) {
			return nil, r.errorf(ErrTruncated, "attribute %d of %s declares %d bytes, %d remain", i, owner, length, r.remaining())
		}
		data, err := r.bytes(int(length), "attribute %d data of %s", i, owner)
		if err != nil {
			return nil, err
		}
		name, err := pool.Utf8(nameIndex)
		if err != nil {
			return nil, r.errorf(err, "resolving attribute %d name of %s", i, owner)
		}
		attrs[i] = AttributeInfo{NameIndex: nameIndex, Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte, pool ConstantPool) (*CodeAttribute, error) {
	r := &byteReader{data: data}
	c := &CodeAttribute{}
	var err error
	if c.MaxStack, err = r.u2("max_stack"); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.u2("max_locals"); err != nil {
		return nil, err
	}
	codeLength, err := r.u4("code_length")
	if err != nil {
		return nil, err
	}
	if uint64(codeLength) > uint64(r.remaining()) {
		return nil, r.errorf(ErrTruncated, "code_length %d, %d bytes remain", codeLength, r.remaining())
	}
	if c.Code, err = r.bytes(int(codeLength), "code"); err != nil {
		return nil, err
	}

	exTableLen, err := r.u2("exception table length")
	if err != nil {
		return nil, err
	}
	if err := r.need(8*int(exTableLen), "%d exception handlers", exTableLen); err != nil {
		return nil, err
	}
	c.ExceptionHandlers = make([]ExceptionHandler, exTableLen)
	for i := range c.ExceptionHandlers {
		h := &c.ExceptionHandlers[i]
		h.StartPC, _ = r.u2("handler start_pc")
		h.EndPC, _ = r.u2("handler end_pc")
		h.HandlerPC, _ = r.u2("handler handler_pc")
		h.CatchType, _ = r.u2("handler catch_type")
		if h.CatchType != 0 {
			if _, err := pool.ClassName(h.CatchType); err != nil {
				return nil, r.errorf(err, "resolving catch type of handler %d", i)
			}
		}
	}

	attrCount, err := r.u2("code attributes count")
	if err != nil {
		return nil, err
	}
	if c.Attributes, err = parseAttributeInfos(r, pool, attrCount, "Code"); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, r.errorf(ErrTrailingData, "%d bytes after Code attributes", r.remaining())
	}
	return c, nil
}
