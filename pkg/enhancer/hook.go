package enhancer

import (
	"fmt"
	"strings"

	"github.com/daimatz/jenhance/pkg/classfile"
)

// HookEnhancer applies a fixed set of hooks, fields and interfaces to every
// method carrying its annotation. It is how configured hooks are expressed.
type HookEnhancer struct {
	ID         string
	Type       string // annotation descriptor
	Hooks      []Hook
	Fields     []Field
	Interfaces []string
	Exclusive  bool
	// Wrapper, when set, emits the wrapper under this name and leaves the
	// original method in place.
	Wrapper string
}

func (e *HookEnhancer) Name() string { return e.ID }

func (e *HookEnhancer) Supports(annotationType string) bool {
	return annotationType == classfile.AnnotationDescriptor(e.Type)
}

func (e *HookEnhancer) Enhance(cf *classfile.ClassFile, m *classfile.MethodInfo, ann *classfile.Annotation, _ FragmentRegistrar) (*Intent, error) {
	if err := CheckWrappable(cf, m); err != nil {
		return nil, Reject(e, m, ann, err)
	}
	return &Intent{
		Enhancer:   e.ID,
		Annotation: ann.Type,
		Target:     Target{Name: m.Name, Descriptor: m.Descriptor},
		Name:       e.Wrapper,
		Hooks:      append([]Hook(nil), e.Hooks...),
		Fields:     append([]Field(nil), e.Fields...),
		Interfaces: append([]string(nil), e.Interfaces...),
		Exclusive:  e.Exclusive,
	}, nil
}

// ParseHook parses "com.acme.Audit.enter" or "com/acme/Audit.enter" into a
// hook at position p.
func ParseHook(p Position, s string) (Hook, error) {
	s = strings.TrimSpace(s)
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return Hook{}, fmt.Errorf("hook %q: want Owner.method", s)
	}
	owner := strings.ReplaceAll(s[:dot], ".", "/")
	name := s[dot+1:]
	if strings.ContainsAny(name, "/;[<>") {
		return Hook{}, fmt.Errorf("hook %q: invalid method name", s)
	}
	return Hook{Position: p, Owner: owner, Name: name}, nil
}
