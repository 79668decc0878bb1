// Package generator turns a parsed class plus enhancement intents into a new
// class binary. Each wrapped method is renamed to a private delegate and a
// wrapper with the original name and descriptor calls the hooks around a
// call to the delegate.
package generator

import (
	"slices"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/enhancer"
)

// DelegateSuffix is appended to the name of a wrapped method.
const DelegateSuffix = "$original"

// Generator accumulates intents and fragments for one class. It is not
// safe for concurrent use; each class gets its own Generator.
type Generator struct {
	cf        *classfile.ClassFile
	className string
	intents   []*enhancer.Intent
	fragments []enhancer.Fragment
	fragIndex map[string]int
}

var _ enhancer.FragmentRegistrar = (*Generator)(nil)

// New returns a generator for cf. cf is read, never modified.
func New(cf *classfile.ClassFile) *Generator {
	name, _ := cf.ClassName()
	return &Generator{cf: cf, className: name, fragIndex: make(map[string]int)}
}

// Add records an intent. Intents are composed in the order they are added.
func (g *Generator) Add(intent *enhancer.Intent) {
	g.intents = append(g.intents, intent)
}

// Intents returns the intents added so far.
func (g *Generator) Intents() []*enhancer.Intent {
	return slices.Clone(g.intents)
}

// RegisterFragment implements enhancer.FragmentRegistrar.
func (g *Generator) RegisterFragment(f enhancer.Fragment) (bool, error) {
	if f.Key == "" || len(f.Calls) == 0 {
		return false, g.errorf(ErrInvalidIntent, "fragment %q has no key or no calls", f.Key)
	}
	if i, ok := g.fragIndex[f.Key]; ok {
		if g.fragments[i].Equal(f) {
			return false, nil
		}
		return false, g.errorf(ErrConflict, "fragment %s registered with a different body", f.Key)
	}
	g.fragIndex[f.Key] = len(g.fragments)
	g.fragments = append(g.fragments, f)
	return true, nil
}

// Fragments returns the registered fragments in registration order.
func (g *Generator) Fragments() []enhancer.Fragment {
	return slices.Clone(g.fragments)
}

// group is the set of intents composed into one wrapper.
type group struct {
	target  enhancer.Target
	wrapper string
	intents []*enhancer.Intent
}

func (gr *group) replaces() bool { return gr.wrapper == gr.target.Name }

// plan is the checked layout of a generation.
type plan struct {
	groups  []*group
	targets []enhancer.Target // in order of first appearance
	// replaced holds the targets renamed to a delegate.
	replaced map[enhancer.Target]bool
}

// Check validates the accumulated intents against the class and each other
// without generating anything.
func (g *Generator) Check() error {
	_, err := g.plan()
	return err
}

func (g *Generator) plan() (*plan, error) {
	p := &plan{replaced: make(map[enhancer.Target]bool)}
	byWrapper := make(map[string]*group)
	exclusive := make(map[enhancer.Target]string)

	for _, in := range g.intents {
		if in == nil {
			return nil, g.errorf(ErrInvalidIntent, "nil intent")
		}
		if err := in.Validate(); err != nil {
			return nil, g.errorf(ErrInvalidIntent, "%s: %v", in.Enhancer, err)
		}
		m := g.cf.FindMethod(in.Target.Name, in.Target.Descriptor)
		if m == nil {
			return nil, g.errorf(ErrInvalidIntent, "%s: no method %s", in.Enhancer, in.Target)
		}
		if m.Code == nil {
			return nil, g.errorf(ErrInvalidIntent, "%s: method %s has no code", in.Enhancer, in.Target)
		}
		if _, err := classfile.ParseMethodDescriptor(in.Target.Descriptor); err != nil {
			return nil, g.errorf(ErrInvalidIntent, "%s: %v", in.Enhancer, err)
		}

		if in.Exclusive {
			if prev, ok := exclusive[in.Target]; ok {
				return nil, g.errorf(ErrConflict, "%s and %s both claim exclusive rewrite of %s", prev, in.Enhancer, in.Target)
			}
			exclusive[in.Target] = in.Enhancer
		}

		key := in.WrapperName() + in.Target.Descriptor
		gr, ok := byWrapper[key]
		if !ok {
			gr = &group{target: in.Target, wrapper: in.WrapperName()}
			byWrapper[key] = gr
			p.groups = append(p.groups, gr)
			if !slices.Contains(p.targets, in.Target) {
				p.targets = append(p.targets, in.Target)
			}
		} else if gr.target != in.Target {
			return nil, g.errorf(ErrConflict, "wrapper %s claimed for %s and %s", key, gr.target, in.Target)
		}
		gr.intents = append(gr.intents, in)
		if gr.replaces() {
			p.replaced[in.Target] = true
		}
	}

	// Every new method must have a name and descriptor of its own.
	taken := make(map[string]bool, len(g.cf.Methods))
	for _, m := range g.cf.Methods {
		taken[m.Name+m.Descriptor] = true
	}
	claim := func(name, desc, what string) error {
		if taken[name+desc] {
			return g.errorf(ErrConflict, "%s %s%s already exists", what, name, desc)
		}
		taken[name+desc] = true
		return nil
	}
	for _, t := range p.targets {
		if p.replaced[t] {
			if err := claim(t.Name+DelegateSuffix, t.Descriptor, "delegate"); err != nil {
				return nil, err
			}
		}
	}
	for _, gr := range p.groups {
		if !gr.replaces() {
			if err := claim(gr.wrapper, gr.target.Descriptor, "wrapper"); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range g.fragments {
		if err := claim(f.Key, enhancer.HookDescriptor, "fragment"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Generate emits the enhanced class. With no intents and no fragments the
// output is the serialization of the unmodified model, which reproduces the
// parsed input byte for byte.
func (g *Generator) Generate() ([]byte, error) {
	if len(g.intents) == 0 && len(g.fragments) == 0 {
		return g.cf.Bytes()
	}
	p, err := g.plan()
	if err != nil {
		return nil, err
	}

	out := *g.cf
	pool := newConstPool(g, g.cf.ConstantPool)
	e := &emitter{g: g, pool: pool}

	methods := slices.Clone(g.cf.Methods)
	var delegates, wrappers []classfile.MethodInfo

	for _, t := range p.targets {
		if !p.replaced[t] {
			continue
		}
		d, err := e.delegate(g.cf.FindMethod(t.Name, t.Descriptor))
		if err != nil {
			return nil, err
		}
		delegates = append(delegates, d)
	}

	for _, gr := range p.groups {
		orig := g.cf.FindMethod(gr.target.Name, gr.target.Descriptor)
		delegateName := orig.Name
		if p.replaced[gr.target] {
			delegateName += DelegateSuffix
		}
		w, err := e.wrapper(orig, gr, delegateName, p.replaced[gr.target])
		if err != nil {
			return nil, err
		}
		if gr.replaces() {
			methods[slices.IndexFunc(methods, func(m classfile.MethodInfo) bool {
				return m.Name == orig.Name && m.Descriptor == orig.Descriptor
			})] = w
		} else {
			wrappers = append(wrappers, w)
		}
	}

	methods = append(methods, delegates...)
	methods = append(methods, wrappers...)
	for _, f := range g.fragments {
		fm, err := e.fragment(f)
		if err != nil {
			return nil, err
		}
		methods = append(methods, fm)
	}
	out.Methods = methods

	if out.Fields, err = e.fields(); err != nil {
		return nil, err
	}
	if out.Interfaces, err = e.interfaces(); err != nil {
		return nil, err
	}

	out.ConstantPool = pool.entries
	b, err := out.Bytes()
	if err != nil {
		return nil, g.errorf(ErrInvalidIntent, "serializing: %v", err)
	}
	return b, nil
}
