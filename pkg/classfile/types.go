package classfile

// Access flags
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020 // class
	AccSynchronized = 0x0020 // method
	AccVolatile     = 0x0040 // field
	AccBridge       = 0x0040 // method
	AccTransient    = 0x0080 // field
	AccVarargs      = 0x0080 // method
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// Well-known attribute names.
const (
	AttrCode                                 = "Code"
	AttrExceptions                           = "Exceptions"
	AttrSignature                            = "Signature"
	AttrSourceFile                           = "SourceFile"
	AttrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
	AttrAnnotationDefault                    = "AnnotationDefault"
	AttrStackMapTable                        = "StackMapTable"
)

// StackMapTable frame tags and verification types used by generated code.
const (
	FrameSameLocals1StackItem         = 64
	FrameSameLocals1StackItemExtended = 247
	VerificationObject                = 7
)

// ClassFile represents a parsed .class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo
	Annotations  []Annotation
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return cf.ConstantPool.ClassName(cf.ThisClass)
}

// SuperClassName returns the internal name of the super class.
// Returns "" for java/lang/Object (SuperClass == 0).
func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, err := cf.ConstantPool.ClassName(cf.SuperClass)
	if err != nil {
		return ""
	}
	return name
}

// InterfaceNames resolves the implemented interfaces in declaration order.
func (cf *ClassFile) InterfaceNames() ([]string, error) {
	names := make([]string, 0, len(cf.Interfaces))
	for _, idx := range cf.Interfaces {
		name, err := cf.ConstantPool.ClassName(idx)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// IsInterface reports whether the class is an interface or annotation type.
func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}

// Attribute returns the first class-level attribute with the given name.
func (cf *ClassFile) Attribute(name string) (AttributeInfo, bool) {
	return findAttribute(cf.Attributes, name)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindMethodByName finds a method by name only (first match).
func (cf *ClassFile) FindMethodByName(name string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindField finds a field by name.
func (cf *ClassFile) FindField(name string) *FieldInfo {
	for i := range cf.Fields {
		if cf.Fields[i].Name == name {
			return &cf.Fields[i]
		}
	}
	return nil
}

// MethodInfo represents a method in a class file.
type MethodInfo struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []AttributeInfo
	Code            *CodeAttribute
	Annotations     []Annotation
}

// Is reports whether all bits of flag are set.
func (m *MethodInfo) Is(flag uint16) bool { return m.AccessFlags&flag == flag }

// IsConstructor reports whether the method is an instance or static initializer.
func (m *MethodInfo) IsConstructor() bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// Attribute returns the first attribute of the method with the given name.
func (m *MethodInfo) Attribute(name string) (AttributeInfo, bool) {
	return findAttribute(m.Attributes, name)
}

// FieldInfo represents a field in a class file.
type FieldInfo struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Name            string
	Descriptor      string
	Attributes      []AttributeInfo
	Annotations     []Annotation
}

// AttributeInfo represents a raw attribute. Data is kept verbatim so that
// attributes this package does not interpret survive regeneration.
type AttributeInfo struct {
	NameIndex uint16
	Name      string
	Data      []byte
}

// ExceptionHandler represents an entry in the exception table.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute represents the Code attribute of a method.
type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	Attributes        []AttributeInfo
}

func findAttribute(attrs []AttributeInfo, name string) (AttributeInfo, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

// IsAnnotationAttribute reports whether the named attribute carries
// annotation data for its owner.
func IsAnnotationAttribute(name string) bool {
	switch name {
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations,
		AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations:
		return true
	}
	return false
}
