package enhancer

import (
	"errors"
	"fmt"

	"github.com/daimatz/jenhance/pkg/classfile"
)

// Causes carried by EnhancementError.
var (
	ErrInvalidAnnotationValue = errors.New("annotation value not accepted")
	ErrMissingCapability      = errors.New("class lacks a required capability")
	ErrIncompatibleModifiers  = errors.New("method cannot be wrapped")
)

// EnhancementError reports that an enhancer rejected one annotated element.
// It is recoverable: the element is skipped and a warning recorded.
type EnhancementError struct {
	Enhancer   string
	Method     string
	Annotation string
	Err        error
}

func (e *EnhancementError) Error() string {
	return fmt.Sprintf("enhancer %s: %s @%s: %v", e.Enhancer, e.Method, classfile.DescriptorClassName(e.Annotation), e.Err)
}

func (e *EnhancementError) Unwrap() error { return e.Err }

// IsEnhancementError reports whether err is, or wraps, an *EnhancementError.
func IsEnhancementError(err error) bool {
	var ee *EnhancementError
	return errors.As(err, &ee)
}

// Reject builds the EnhancementError for enhancer e declining m.
func Reject(e Enhancer, m *classfile.MethodInfo, ann *classfile.Annotation, err error) *EnhancementError {
	return &EnhancementError{Enhancer: e.Name(), Method: m.Name + m.Descriptor, Annotation: ann.Type, Err: err}
}

// CheckWrappable returns an error wrapping ErrIncompatibleModifiers when m
// cannot be wrapped: methods of interfaces, constructors, static
// initializers, static, final, abstract or native methods, and methods
// without code.
func CheckWrappable(cf *classfile.ClassFile, m *classfile.MethodInfo) error {
	var reason string
	switch {
	case cf.IsInterface():
		reason = "declared by an interface"
	case m.Name == "<init>":
		reason = "constructor"
	case m.Name == "<clinit>":
		reason = "static initializer"
	case m.Is(classfile.AccStatic):
		reason = "static method"
	case m.Is(classfile.AccFinal):
		reason = "final method"
	case m.Is(classfile.AccAbstract):
		reason = "abstract method"
	case m.Is(classfile.AccNative):
		reason = "native method"
	case m.Code == nil:
		reason = "method has no code"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrIncompatibleModifiers, reason)
}
