// Package enhancer defines the enhancer contract, the intent records
// enhancers produce, the annotation registry that dispatches to them and
// the built-in enhancers.
package enhancer

import (
	"github.com/daimatz/jenhance/pkg/classfile"
)

// Enhancer decides how a method carrying a given annotation is wrapped.
//
// Enhance must not modify cf, m or ann. It returns the transformation it
// wants as an Intent and may register shared helper methods through reg.
// A nil Intent with a nil error means the annotation needs no code.
// Returning an *EnhancementError rejects this one element; any other error
// abandons enhancement of the whole class.
type Enhancer interface {
	Name() string
	Supports(annotationType string) bool
	Enhance(cf *classfile.ClassFile, m *classfile.MethodInfo, ann *classfile.Annotation, reg FragmentRegistrar) (*Intent, error)
}

// FragmentRegistrar accepts helper methods shared by several wrappers.
// RegisterFragment reports whether the fragment was newly added. Registering
// the same key with an identical body again is a no-op; a different body
// under a known key is an error.
type FragmentRegistrar interface {
	RegisterFragment(f Fragment) (bool, error)
}

// MethodID renders the identifier passed to hooks that take no explicit
// argument: "com/acme/Service.process()V".
func MethodID(className string, m *classfile.MethodInfo) string {
	return className + "." + m.Name + m.Descriptor
}
