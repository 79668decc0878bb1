package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daimatz/jenhance/pkg/annotations"
	"github.com/daimatz/jenhance/pkg/bytecode"
	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/enhancer"
)

func newInspectCmd(a *app) *cobra.Command {
	var code bool
	cmd := &cobra.Command{
		Use:   "inspect <class>",
		Short: "Print the members and annotations of a class file",
		Long: `Print the version, members and annotations of a class file, and which
registered enhancers its annotations would be offered to.

Examples:
  jenhance inspect build/classes/com/acme/Service.class
  jenhance inspect --code Service.class`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := classfile.ParseFile(args[0], classfile.WithMaxSize(a.cfg.MaxClassSize))
			if err != nil {
				return err
			}
			reg, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			return printClass(cmd.OutOrStdout(), cf, reg.Snapshot(), code)
		},
	}
	cmd.Flags().BoolVar(&code, "code", false, "Disassemble method bodies")
	return cmd
}

func printClass(w io.Writer, cf *classfile.ClassFile, snap *enhancer.Snapshot, code bool) error {
	name, err := cf.ClassName()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "class %s (version %d.%d, flags 0x%04x)\n", name, cf.MajorVersion, cf.MinorVersion, cf.AccessFlags)
	if super := cf.SuperClassName(); super != "" {
		fmt.Fprintf(w, "  extends %s\n", super)
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return err
	}
	for _, i := range ifaces {
		fmt.Fprintf(w, "  implements %s\n", i)
	}
	for _, ann := range cf.Annotations {
		fmt.Fprintf(w, "  @%s\n", ann.ClassName())
	}

	for _, f := range cf.Fields {
		fmt.Fprintf(w, "field 0x%04x %s %s\n", f.AccessFlags, f.Name, f.Descriptor)
	}

	ix := annotations.NewIndex(cf)
	byMethod := make(map[*classfile.MethodInfo][]*classfile.Annotation)
	for m, ann := range ix.All() {
		byMethod[m] = append(byMethod[m], ann)
	}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		fmt.Fprintf(w, "method 0x%04x %s%s\n", m.AccessFlags, m.Name, m.Descriptor)
		for _, ann := range byMethod[m] {
			fmt.Fprintf(w, "  @%s%s", ann.ClassName(), elements(ann))
			if n := len(snap.Lookup(ann.Type)); n > 0 {
				fmt.Fprintf(w, " [%d enhancer(s)]", n)
			}
			fmt.Fprintln(w)
		}
		if code && m.Code != nil {
			if err := printCode(w, cf.ConstantPool, m.Code); err != nil {
				return fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
			}
		}
	}
	return nil
}

func elements(ann *classfile.Annotation) string {
	if len(ann.Elements) == 0 {
		return ""
	}
	parts := make([]string, len(ann.Elements))
	for i, e := range ann.Elements {
		parts[i] = e.Name + "=" + elementString(e.Value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func elementString(v classfile.ElementValue) string {
	switch v.Tag {
	case classfile.ElemString:
		return fmt.Sprintf("%q", v.Const)
	case classfile.ElemEnum:
		return classfile.DescriptorClassName(v.EnumType) + "." + v.EnumConst
	case classfile.ElemClass:
		return v.Class
	case classfile.ElemAnnotation:
		return "@" + v.Annotation.ClassName() + elements(v.Annotation)
	case classfile.ElemArray:
		parts := make([]string, len(v.Values))
		for i, e := range v.Values {
			parts[i] = elementString(e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v.Const)
}

func printCode(w io.Writer, pool classfile.ConstantPool, c *classfile.CodeAttribute) error {
	insns, err := bytecode.Decode(c.Code)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  stack=%d locals=%d\n", c.MaxStack, c.MaxLocals)
	for _, in := range insns {
		fmt.Fprintf(w, "  %s", in)
		if idx, ok := in.Index(); ok {
			if ref, err := pool.MemberRef(idx); err == nil {
				fmt.Fprintf(w, " // %s", ref)
			} else if s, ok := constString(pool, idx); ok {
				fmt.Fprintf(w, " // %s", s)
			}
		}
		fmt.Fprintln(w)
	}
	for _, h := range c.ExceptionHandlers {
		fmt.Fprintf(w, "  catch [%d, %d) -> %d #%d\n", h.StartPC, h.EndPC, h.HandlerPC, h.CatchType)
	}
	return nil
}

func constString(pool classfile.ConstantPool, idx uint16) (string, bool) {
	e, err := pool.Entry(idx)
	if err != nil {
		return "", false
	}
	switch c := e.(type) {
	case *classfile.ConstantString:
		s, err := pool.Utf8(c.StringIndex)
		return fmt.Sprintf("%q", s), err == nil
	case *classfile.ConstantClass:
		s, err := pool.ClassName(idx)
		return s, err == nil
	case *classfile.ConstantInteger:
		return fmt.Sprint(c.Value), true
	}
	return "", false
}
