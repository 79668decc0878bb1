// Package annotations locates the class and method annotations of a parsed
// class by annotation type.
package annotations

import (
	"iter"

	"github.com/daimatz/jenhance/pkg/classfile"
)

// ref locates one method annotation by position.
type ref struct {
	method, ann int
}

// Index maps annotation types to the elements carrying them. It is built
// once per class and only reads the model.
type Index struct {
	cf      *classfile.ClassFile
	methods map[string][]ref
	class   map[string][]int
	types   []string
	total   int
}

// NewIndex scans cf in declaration order.
func NewIndex(cf *classfile.ClassFile) *Index {
	ix := &Index{
		cf:      cf,
		methods: make(map[string][]ref),
		class:   make(map[string][]int),
	}
	for i, a := range cf.Annotations {
		ix.class[a.Type] = append(ix.class[a.Type], i)
	}
	for mi := range cf.Methods {
		for ai, a := range cf.Methods[mi].Annotations {
			if _, seen := ix.methods[a.Type]; !seen {
				ix.types = append(ix.types, a.Type)
			}
			ix.methods[a.Type] = append(ix.methods[a.Type], ref{method: mi, ann: ai})
			ix.total++
		}
	}
	return ix
}

// MethodsAnnotatedWith yields every method annotated with typ together with
// the matching annotation, in method declaration order and then annotation
// declaration order. The sequence can be ranged over any number of times.
// typ may be a dotted name, an internal name or a descriptor.
func (ix *Index) MethodsAnnotatedWith(typ string) iter.Seq2[*classfile.MethodInfo, *classfile.Annotation] {
	refs := ix.methods[classfile.AnnotationDescriptor(typ)]
	return ix.seq(refs)
}

// All yields every method annotation in declaration order.
func (ix *Index) All() iter.Seq2[*classfile.MethodInfo, *classfile.Annotation] {
	return func(yield func(*classfile.MethodInfo, *classfile.Annotation) bool) {
		for mi := range ix.cf.Methods {
			m := &ix.cf.Methods[mi]
			for ai := range m.Annotations {
				if !yield(m, &m.Annotations[ai]) {
					return
				}
			}
		}
	}
}

func (ix *Index) seq(refs []ref) iter.Seq2[*classfile.MethodInfo, *classfile.Annotation] {
	return func(yield func(*classfile.MethodInfo, *classfile.Annotation) bool) {
		for _, r := range refs {
			m := &ix.cf.Methods[r.method]
			if !yield(m, &m.Annotations[r.ann]) {
				return
			}
		}
	}
}

// Types returns the descriptors of the annotation types found on methods,
// in first-seen order.
func (ix *Index) Types() []string {
	out := make([]string, len(ix.types))
	copy(out, ix.types)
	return out
}

// ClassAnnotations returns the class-level annotations of type typ.
func (ix *Index) ClassAnnotations(typ string) []*classfile.Annotation {
	idx := ix.class[classfile.AnnotationDescriptor(typ)]
	out := make([]*classfile.Annotation, len(idx))
	for i, ai := range idx {
		out[i] = &ix.cf.Annotations[ai]
	}
	return out
}

// Count returns the number of method annotations of type typ.
func (ix *Index) Count(typ string) int {
	return len(ix.methods[classfile.AnnotationDescriptor(typ)])
}

// Len returns the total number of method annotations.
func (ix *Index) Len() int { return ix.total }

// Class returns the indexed class.
func (ix *Index) Class() *classfile.ClassFile { return ix.cf }
