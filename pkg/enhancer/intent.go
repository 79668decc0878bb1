package enhancer

import (
	"fmt"
	"slices"
	"strings"
)

// HookDescriptor is the descriptor every hook method has. A hook receives
// one String: its configured argument or the id of the wrapped method.
const HookDescriptor = "(Ljava/lang/String;)V"

// Position says whether a hook runs before or after the delegate call.
type Position int

const (
	Before Position = iota
	After
)

func (p Position) String() string {
	switch p {
	case Before:
		return "before"
	case After:
		return "after"
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// Hook is a call to a static method Owner.Name(String)V.
type Hook struct {
	Position Position
	Owner    string // internal class name
	Name     string
	Arg      string // empty means the wrapped method's id
}

func (h Hook) String() string {
	s := h.Position.String() + " " + h.Owner + "." + h.Name
	if h.Arg != "" {
		s += fmt.Sprintf("(%q)", h.Arg)
	}
	return s
}

// Field is a field declaration an intent adds to the class.
type Field struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
}

// Target names the method an intent wraps.
type Target struct {
	Name       string
	Descriptor string
}

func (t Target) String() string { return t.Name + t.Descriptor }

// Intent is one enhancer's requested transformation of one method. Intents
// on the same target with the same wrapper name are composed into one
// wrapper: before hooks in composition order, after hooks in reverse.
type Intent struct {
	Enhancer   string
	Annotation string
	Target     Target

	// Name is the wrapper's name. Empty means the target's own name, so the
	// wrapper replaces the original method and the original becomes the
	// delegate.
	Name string

	Hooks      []Hook
	Fields     []Field
	Interfaces []string

	// Exclusive intents refuse to share their target with other intents
	// marked exclusive.
	Exclusive bool
}

// WrapperName returns the name of the generated wrapper method.
func (i *Intent) WrapperName() string {
	if i.Name == "" {
		return i.Target.Name
	}
	return i.Name
}

// Before returns the hooks run before the delegate, in declaration order.
func (i *Intent) Before() []Hook { return i.hooks(Before) }

// After returns the hooks run after the delegate, in declaration order.
func (i *Intent) After() []Hook { return i.hooks(After) }

func (i *Intent) hooks(p Position) []Hook {
	var out []Hook
	for _, h := range i.Hooks {
		if h.Position == p {
			out = append(out, h)
		}
	}
	return out
}

// Validate checks the intent is internally consistent.
func (i *Intent) Validate() error {
	if i.Target.Name == "" || i.Target.Descriptor == "" {
		return fmt.Errorf("intent from %s has no target", i.Enhancer)
	}
	if strings.ContainsAny(i.WrapperName(), ".;[/<>") {
		return fmt.Errorf("invalid wrapper name %q", i.WrapperName())
	}
	for _, h := range i.Hooks {
		if h.Owner == "" || h.Name == "" {
			return fmt.Errorf("incomplete hook %s", h)
		}
		if h.Position != Before && h.Position != After {
			return fmt.Errorf("hook %s has unknown position", h)
		}
	}
	for _, f := range i.Fields {
		if f.Name == "" || f.Descriptor == "" {
			return fmt.Errorf("incomplete field %q", f.Name)
		}
	}
	if slices.Contains(i.Interfaces, "") {
		return fmt.Errorf("empty interface name")
	}
	return nil
}

// Equal reports whether two intents describe the same transformation.
func (i *Intent) Equal(o *Intent) bool {
	return i.Target == o.Target && i.WrapperName() == o.WrapperName() &&
		slices.Equal(i.Hooks, o.Hooks) && slices.Equal(i.Fields, o.Fields) &&
		slices.Equal(i.Interfaces, o.Interfaces) && i.Exclusive == o.Exclusive
}

// Fragment is a private static helper method void Key(String) whose body
// passes its argument to each call in order. Fragments let several
// wrappers share one call sequence.
type Fragment struct {
	Key   string
	Calls []Hook
}

// Equal reports whether two fragments have the same key and body.
func (f Fragment) Equal(o Fragment) bool {
	if f.Key != o.Key || len(f.Calls) != len(o.Calls) {
		return false
	}
	for i := range f.Calls {
		if f.Calls[i].Owner != o.Calls[i].Owner || f.Calls[i].Name != o.Calls[i].Name {
			return false
		}
	}
	return true
}
