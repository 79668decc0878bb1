package classfile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/jenhance/pkg/classfile/classfiletest"
)

func richAnnotation() classfiletest.Ann {
	return classfiletest.Ann{
		Type: "com/acme/Config",
		Elements: []classfiletest.Elem{
			{Name: "name", Value: classfiletest.StringVal("svc")},
			{Name: "roles", Value: classfiletest.ArrayVal(classfiletest.StringVal("admin"), classfiletest.StringVal("ops"))},
			{Name: "level", Value: classfiletest.EnumVal("com/acme/Level", "HIGH")},
			{Name: "types", Value: classfiletest.ArrayVal(classfiletest.ClassVal("java/lang/String"), classfiletest.ClassVal("java/lang/Integer"))},
			{Name: "count", Value: classfiletest.IntVal(3)},
			{Name: "enabled", Value: classfiletest.BoolVal(true)},
			{Name: "limit", Value: classfiletest.LongVal(99)},
			{Name: "nested", Value: classfiletest.AnnVal(classfiletest.Ann{
				Type:     "com/acme/Inner",
				Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.StringVal("x")}},
			})},
			{Name: "ret", Value: classfiletest.ClassVal("V")},
		},
	}
}

func TestParseAnnotationValues(t *testing.T) {
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic, "run", b.Annotations(true, richAnnotation()))
	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)

	run := cf.FindMethodByName("run")
	require.NotNil(t, run)
	require.Len(t, run.Annotations, 1)

	want := Annotation{
		Type:    "Lcom/acme/Config;",
		Visible: true,
		Elements: []ElementPair{
			{Name: "name", Value: ElementValue{Tag: ElemString, Const: "svc"}},
			{Name: "roles", Value: ElementValue{Tag: ElemArray, Values: []ElementValue{
				{Tag: ElemString, Const: "admin"},
				{Tag: ElemString, Const: "ops"},
			}}},
			{Name: "level", Value: ElementValue{Tag: ElemEnum, EnumType: "Lcom/acme/Level;", EnumConst: "HIGH"}},
			{Name: "types", Value: ElementValue{Tag: ElemArray, Values: []ElementValue{
				{Tag: ElemClass, Class: "Ljava/lang/String;"},
				{Tag: ElemClass, Class: "Ljava/lang/Integer;"},
			}}},
			{Name: "count", Value: ElementValue{Tag: ElemInt, Const: int32(3)}},
			{Name: "enabled", Value: ElementValue{Tag: ElemBoolean, Const: true}},
			{Name: "limit", Value: ElementValue{Tag: ElemLong, Const: int64(99)}},
			{Name: "nested", Value: ElementValue{Tag: ElemAnnotation, Annotation: &Annotation{
				Type:     "Lcom/acme/Inner;",
				Elements: []ElementPair{{Name: "value", Value: ElementValue{Tag: ElemString, Const: "x"}}},
			}}},
			{Name: "ret", Value: ElementValue{Tag: ElemClass, Class: "V"}},
		},
	}
	if diff := cmp.Diff(want, run.Annotations[0]); diff != "" {
		t.Errorf("annotation mismatch (-want +got):\n%s", diff)
	}
}

func TestElementValueAccessors(t *testing.T) {
	b := classfiletest.NewService()
	b.Attribute(b.Annotations(true, richAnnotation()))
	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)
	require.Len(t, cf.Annotations, 1)
	ann := cf.Annotations[0]

	v, ok := ann.Get("name")
	require.True(t, ok)
	s, ok := v.AsString()
	assert.True(t, ok)
	assert.Equal(t, "svc", s)

	// a single string counts as a one-element array
	ss, ok := v.AsStrings()
	assert.True(t, ok)
	assert.Equal(t, []string{"svc"}, ss)

	v, _ = ann.Get("roles")
	ss, ok = v.AsStrings()
	assert.True(t, ok)
	assert.Equal(t, []string{"admin", "ops"}, ss)
	_, ok = v.AsString()
	assert.False(t, ok)

	v, _ = ann.Get("level")
	typ, name, ok := v.AsEnum()
	assert.True(t, ok)
	assert.Equal(t, "Lcom/acme/Level;", typ)
	assert.Equal(t, "HIGH", name)

	v, _ = ann.Get("types")
	classes, ok := v.AsClasses()
	assert.True(t, ok)
	assert.Equal(t, []string{"java/lang/String", "java/lang/Integer"}, classes)
	_, ok = v.AsStrings()
	assert.False(t, ok)

	v, _ = ann.Get("count")
	_, _, ok = v.AsEnum()
	assert.False(t, ok)
	_, ok = v.AsClasses()
	assert.False(t, ok)

	_, ok = ann.Get("missing")
	assert.False(t, ok)
}

func TestAnnotationVisibilityOrder(t *testing.T) {
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic, "run",
		b.Annotations(false, classfiletest.Ann{Type: "com/acme/Hidden"}),
		b.Annotations(true, classfiletest.Ann{Type: "com/acme/Shown"}))
	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)

	anns := cf.FindMethodByName("run").Annotations
	require.Len(t, anns, 2)
	assert.Equal(t, "Lcom/acme/Shown;", anns[0].Type)
	assert.True(t, anns[0].Visible)
	assert.Equal(t, "Lcom/acme/Hidden;", anns[1].Type)
	assert.False(t, anns[1].Visible)
}

func TestAnnotationNestingLimit(t *testing.T) {
	v := classfiletest.StringVal("leaf")
	for range maxElementDepth + 1 {
		v = classfiletest.ArrayVal(v)
	}
	b := classfiletest.NewService()
	b.Attribute(b.Annotations(true, classfiletest.Ann{
		Type:     "com/acme/Deep",
		Elements: []classfiletest.Elem{{Name: "value", Value: v}},
	}))
	_, err := ParseBytes(b.Bytes())
	assert.ErrorIs(t, err, ErrBadTag)
}

func TestAnnotationDescriptor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"javax.ejb.TransactionAttribute", "Ljavax/ejb/TransactionAttribute;"},
		{"javax/ejb/TransactionAttribute", "Ljavax/ejb/TransactionAttribute;"},
		{"Ljavax/ejb/TransactionAttribute;", "Ljavax/ejb/TransactionAttribute;"},
		{" com.acme.Secured ", "Lcom/acme/Secured;"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AnnotationDescriptor(tt.in))
		})
	}

	assert.Equal(t, "com/acme/Secured", DescriptorClassName("Lcom/acme/Secured;"))
	assert.Equal(t, "I", DescriptorClassName("I"))
}
