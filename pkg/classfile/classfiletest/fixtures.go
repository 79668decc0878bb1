package classfiletest

// Names used by the shared fixtures.
const (
	ServiceClass = "com/acme/Service"
	SecuredType  = "Lcom/acme/Secured;"
)

// Opcodes the fixtures emit.
const (
	opAload0        = 0x2A
	opLload2        = 0x20
	opIload1        = 0x1B
	opIreturn       = 0xAC
	opLreturn       = 0xAD
	opReturn        = 0xB1
	opInvokespecial = 0xB7
)

// DefaultConstructor adds <init>()V calling the super constructor.
func (b *Builder) DefaultConstructor() *Builder {
	ref := b.Methodref(b.superName, "<init>", "()V")
	code := []byte{opAload0, opInvokespecial, byte(ref >> 8), byte(ref), opReturn}
	return b.Method(AccPublic, "<init>", "()V", b.Code(1, 1, code))
}

// VoidMethod adds an instance method with body "return".
func (b *Builder) VoidMethod(access uint16, name string, attrs ...Attr) *Builder {
	attrs = append([]Attr{b.Code(0, 1, []byte{opReturn})}, attrs...)
	return b.Method(access, name, "()V", attrs...)
}

// NewService starts com/acme/Service with a constructor and a SourceFile
// attribute.
func NewService() *Builder {
	b := New(ServiceClass)
	b.Attribute(b.SourceFile("Service.java"))
	return b.DefaultConstructor()
}

// SecuredService is com/acme/Service with:
//
//	public void process()            annotated @com.acme.Secured
//	public long compute(int, long, double)
//	public int size(int)
func SecuredService() []byte {
	b := NewService()
	b.VoidMethod(AccPublic, "process", b.Annotations(true, Ann{Type: SecuredType}))
	b.Method(AccPublic, "compute", "(IJD)J", b.Code(2, 6, []byte{opLload2, opLreturn}))
	b.Method(AccPublic, "size", "(I)I", b.Code(1, 2, []byte{opIload1, opIreturn}))
	return b.Bytes()
}
