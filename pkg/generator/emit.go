package generator

import (
	"strings"

	"github.com/daimatz/jenhance/pkg/bytecode"
	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/enhancer"
)

// emitter builds the new members of one generation against a shared pool.
type emitter struct {
	g    *Generator
	pool *constPool
}

// delegate returns m renamed to name$original, made private and synthetic.
// Annotations stay with the wrapper, so the delegate drops them.
func (e *emitter) delegate(m *classfile.MethodInfo) (classfile.MethodInfo, error) {
	name := m.Name + DelegateSuffix
	ni, err := e.pool.utf8(name)
	if err != nil {
		return classfile.MethodInfo{}, err
	}
	d := classfile.MethodInfo{
		AccessFlags:     m.AccessFlags&^(classfile.AccPublic|classfile.AccProtected) | classfile.AccPrivate | classfile.AccSynthetic,
		NameIndex:       ni,
		DescriptorIndex: m.DescriptorIndex,
		Name:            name,
		Descriptor:      m.Descriptor,
		Code:            m.Code,
	}
	for _, a := range m.Attributes {
		if !classfile.IsAnnotationAttribute(a.Name) {
			d.Attributes = append(d.Attributes, a)
		}
	}
	return d, nil
}

// wrapper emits the method for one group:
//
//	ldc id; invokestatic before hooks    (intents in order)
//	aload_0; xload params; invoke delegate
//	xstore result
//	ldc id; invokestatic after hooks     (intents in reverse)
//	xload result; xreturn
//
// When there are after hooks, a catch-any handler covers the delegate call:
//
//	astore thrown; ldc id; invokestatic after hooks; aload thrown; athrow
//
// so they run however the delegate completes and the exception propagates
// unchanged. An exception from a before hook skips the delegate and every
// after hook.
func (e *emitter) wrapper(orig *classfile.MethodInfo, gr *group, delegateName string, private bool) (classfile.MethodInfo, error) {
	md, err := classfile.ParseMethodDescriptor(orig.Descriptor)
	if err != nil {
		return classfile.MethodInfo{}, e.g.errorf(ErrInvalidIntent, "%v", err)
	}
	id := enhancer.MethodID(e.g.className, orig)

	var after []enhancer.Hook
	for i := len(gr.intents) - 1; i >= 0; i-- {
		after = append(after, gr.intents[i].After()...)
	}
	emitAfter := func(a *bytecode.Assembler) error {
		for _, h := range after {
			if err := e.hook(a, h, id); err != nil {
				return err
			}
		}
		return nil
	}

	var a bytecode.Assembler
	for _, in := range gr.intents {
		for _, h := range in.Before() {
			if err := e.hook(&a, h, id); err != nil {
				return classfile.MethodInfo{}, err
			}
		}
	}

	start := a.Len()
	a.Load("L"+e.g.className+";", 0)
	slot := 1
	for _, p := range md.Params {
		a.Load(p, slot)
		slot += classfile.TypeSlots(p)
	}
	ref, err := e.pool.methodref(e.g.className, delegateName, orig.Descriptor)
	if err != nil {
		return classfile.MethodInfo{}, err
	}
	if private {
		a.Invoke(bytecode.OpInvokespecial, ref)
	} else {
		a.Invoke(bytecode.OpInvokevirtual, ref)
	}
	end := a.Len()

	result := slot
	if !md.IsVoid() {
		a.Store(md.Return, result)
	}
	if err := emitAfter(&a); err != nil {
		return classfile.MethodInfo{}, err
	}
	if !md.IsVoid() {
		a.Load(md.Return, result)
	}
	a.Return(md.Return)

	paramSlots := md.ParamSlots()
	retSlots := classfile.TypeSlots(md.Return)
	maxLocals := 1 + paramSlots + retSlots

	var (
		handlers []classfile.ExceptionHandler
		attrs    []classfile.AttributeInfo
	)
	if len(after) > 0 {
		thrown := maxLocals
		maxLocals++
		handler := a.Len()
		a.Store(throwableType, thrown)
		if err := emitAfter(&a); err != nil {
			return classfile.MethodInfo{}, err
		}
		a.Load(throwableType, thrown).Op(bytecode.OpAthrow)
		if a.Len() > 0xFFFF {
			return classfile.MethodInfo{}, e.g.errorf(ErrInvalidIntent, "wrapper for %s is %d bytes long", gr.target, a.Len())
		}
		handlers = []classfile.ExceptionHandler{{
			StartPC:   uint16(start),
			EndPC:     uint16(end),
			HandlerPC: uint16(handler),
		}}
		if e.g.cf.MajorVersion >= stackMapVersion {
			frame, err := e.handlerFrame(handler)
			if err != nil {
				return classfile.MethodInfo{}, err
			}
			attrs = append(attrs, frame)
		}
	}

	code, err := a.Bytes()
	if err != nil {
		return classfile.MethodInfo{}, e.g.errorf(ErrInvalidIntent, "wrapper for %s: %v", gr.target, err)
	}
	if maxLocals > 0xFFFF {
		return classfile.MethodInfo{}, e.g.errorf(ErrInvalidIntent, "wrapper for %s needs %d locals", gr.target, maxLocals)
	}
	codeAttr, err := e.codeAttribute(&classfile.CodeAttribute{
		MaxStack:          uint16(max(1, 1+paramSlots, retSlots)),
		MaxLocals:         uint16(maxLocals),
		Code:              code,
		ExceptionHandlers: handlers,
		Attributes:        attrs,
	})
	if err != nil {
		return classfile.MethodInfo{}, err
	}

	w := classfile.MethodInfo{
		AccessFlags:     orig.AccessFlags,
		NameIndex:       orig.NameIndex,
		DescriptorIndex: orig.DescriptorIndex,
		Name:            orig.Name,
		Descriptor:      orig.Descriptor,
		Annotations:     orig.Annotations,
	}
	if !gr.replaces() {
		if w.NameIndex, err = e.pool.utf8(gr.wrapper); err != nil {
			return classfile.MethodInfo{}, err
		}
		w.Name = gr.wrapper
		w.Annotations = nil
	}
	for _, attr := range orig.Attributes {
		switch {
		case attr.Name == classfile.AttrCode:
			w.Attributes = append(w.Attributes, codeAttr.info)
			w.Code = codeAttr.code
		case !gr.replaces() && classfile.IsAnnotationAttribute(attr.Name):
		default:
			w.Attributes = append(w.Attributes, attr)
		}
	}
	return w, nil
}

const (
	throwableType = "Ljava/lang/Throwable;"
	// stackMapVersion is the first class version whose verifier reads
	// StackMapTable.
	stackMapVersion = 50
)

// handlerFrame returns the StackMapTable of a wrapper whose only branch
// target is the handler at pc. The handler sees the locals the method was
// entered with and the thrown Throwable on the stack, which is a
// same_locals_1_stack_item frame.
func (e *emitter) handlerFrame(pc int) (classfile.AttributeInfo, error) {
	ni, err := e.pool.utf8(classfile.AttrStackMapTable)
	if err != nil {
		return classfile.AttributeInfo{}, err
	}
	ci, err := e.pool.class("java/lang/Throwable")
	if err != nil {
		return classfile.AttributeInfo{}, err
	}
	data := []byte{0, 1}
	if pc <= 63 {
		data = append(data, byte(classfile.FrameSameLocals1StackItem+pc))
	} else {
		data = append(data, classfile.FrameSameLocals1StackItemExtended, byte(pc>>8), byte(pc))
	}
	data = append(data, classfile.VerificationObject, byte(ci>>8), byte(ci))
	return classfile.AttributeInfo{NameIndex: ni, Name: classfile.AttrStackMapTable, Data: data}, nil
}

// hook emits ldc arg; invokestatic Owner.Name(String)V.
func (e *emitter) hook(a *bytecode.Assembler, h enhancer.Hook, id string) error {
	arg := h.Arg
	if arg == "" {
		arg = id
	}
	si, err := e.pool.string(arg)
	if err != nil {
		return err
	}
	mr, err := e.pool.methodref(internalName(h.Owner), h.Name, enhancer.HookDescriptor)
	if err != nil {
		return err
	}
	a.Ldc(si).Invoke(bytecode.OpInvokestatic, mr)
	return nil
}

// fragment emits private static synthetic void Key(String) passing its
// argument to each call.
func (e *emitter) fragment(f enhancer.Fragment) (classfile.MethodInfo, error) {
	var a bytecode.Assembler
	for _, c := range f.Calls {
		mr, err := e.pool.methodref(internalName(c.Owner), c.Name, enhancer.HookDescriptor)
		if err != nil {
			return classfile.MethodInfo{}, err
		}
		a.Load("Ljava/lang/String;", 0).Invoke(bytecode.OpInvokestatic, mr)
	}
	a.Return("V")
	code, err := a.Bytes()
	if err != nil {
		return classfile.MethodInfo{}, e.g.errorf(ErrInvalidIntent, "fragment %s: %v", f.Key, err)
	}
	codeAttr, err := e.codeAttribute(&classfile.CodeAttribute{MaxStack: 1, MaxLocals: 1, Code: code})
	if err != nil {
		return classfile.MethodInfo{}, err
	}
	ni, err := e.pool.utf8(f.Key)
	if err != nil {
		return classfile.MethodInfo{}, err
	}
	di, err := e.pool.utf8(enhancer.HookDescriptor)
	if err != nil {
		return classfile.MethodInfo{}, err
	}
	return classfile.MethodInfo{
		AccessFlags:     classfile.AccPrivate | classfile.AccStatic | classfile.AccSynthetic,
		NameIndex:       ni,
		DescriptorIndex: di,
		Name:            f.Key,
		Descriptor:      enhancer.HookDescriptor,
		Attributes:      []classfile.AttributeInfo{codeAttr.info},
		Code:            codeAttr.code,
	}, nil
}

type encodedCode struct {
	info classfile.AttributeInfo
	code *classfile.CodeAttribute
}

func (e *emitter) codeAttribute(c *classfile.CodeAttribute) (encodedCode, error) {
	data, err := c.Encode()
	if err != nil {
		return encodedCode{}, e.g.errorf(ErrInvalidIntent, "encoding code: %v", err)
	}
	ni, err := e.pool.utf8(classfile.AttrCode)
	if err != nil {
		return encodedCode{}, err
	}
	return encodedCode{
		info: classfile.AttributeInfo{NameIndex: ni, Name: classfile.AttrCode, Data: data},
		code: c,
	}, nil
}

// fields returns the class's fields followed by the declared ones. A
// declaration repeated verbatim is added once; the same name with another
// type or access is a conflict.
func (e *emitter) fields() ([]classfile.FieldInfo, error) {
	out := append([]classfile.FieldInfo(nil), e.g.cf.Fields...)
	seen := make(map[string]enhancer.Field, len(out))
	for _, f := range out {
		seen[f.Name] = enhancer.Field{Name: f.Name, Descriptor: f.Descriptor, AccessFlags: f.AccessFlags}
	}
	for _, in := range e.g.intents {
		for _, f := range in.Fields {
			if prev, ok := seen[f.Name]; ok {
				if prev == f {
					continue
				}
				return nil, e.g.errorf(ErrConflict, "field %s declared as %s and %s", f.Name, prev.Descriptor, f.Descriptor)
			}
			ni, err := e.pool.utf8(f.Name)
			if err != nil {
				return nil, err
			}
			di, err := e.pool.utf8(f.Descriptor)
			if err != nil {
				return nil, err
			}
			out = append(out, classfile.FieldInfo{
				AccessFlags:     f.AccessFlags,
				NameIndex:       ni,
				DescriptorIndex: di,
				Name:            f.Name,
				Descriptor:      f.Descriptor,
			})
			seen[f.Name] = f
		}
	}
	return out, nil
}

// interfaces returns the class's interfaces followed by the declared ones
// it does not implement yet.
func (e *emitter) interfaces() ([]uint16, error) {
	out := append([]uint16(nil), e.g.cf.Interfaces...)
	names, err := e.g.cf.InterfaceNames()
	if err != nil {
		return nil, e.g.errorf(ErrInvalidIntent, "%v", err)
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, in := range e.g.intents {
		for _, name := range in.Interfaces {
			name = internalName(name)
			if have[name] {
				continue
			}
			idx, err := e.pool.class(name)
			if err != nil {
				return nil, err
			}
			out = append(out, idx)
			have[name] = true
		}
	}
	return out, nil
}

func internalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}
