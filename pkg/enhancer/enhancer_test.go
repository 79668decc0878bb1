package enhancer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/classfile/classfiletest"
)

// fragments records registrations the way the generator does.
type fragments struct {
	byKey map[string]Fragment
	order []string
}

func (f *fragments) RegisterFragment(fr Fragment) (bool, error) {
	if f.byKey == nil {
		f.byKey = make(map[string]Fragment)
	}
	if prev, ok := f.byKey[fr.Key]; ok {
		if prev.Equal(fr) {
			return false, nil
		}
		return false, fmt.Errorf("fragment %s redefined", fr.Key)
	}
	f.byKey[fr.Key] = fr
	f.order = append(f.order, fr.Key)
	return true, nil
}

type fixture struct {
	cf  *classfile.ClassFile
	b   *classfiletest.Builder
	reg *fragments
}

func newFixture(t *testing.T, build func(b *classfiletest.Builder)) *fixture {
	t.Helper()
	b := classfiletest.NewService()
	build(b)
	cf, err := classfile.ParseBytes(b.Bytes())
	require.NoError(t, err)
	return &fixture{cf: cf, b: b, reg: &fragments{}}
}

// enhance runs e on the first annotation of method name.
func (f *fixture) enhance(t *testing.T, e Enhancer, name string) (*Intent, error) {
	t.Helper()
	m := f.cf.FindMethodByName(name)
	require.NotNil(t, m, name)
	require.NotEmpty(t, m.Annotations, name)
	ann := &m.Annotations[0]
	require.True(t, e.Supports(ann.Type), ann.Type)
	return e.Enhance(f.cf, m, ann, f.reg)
}

func txAnn(value string) classfiletest.Ann {
	a := classfiletest.Ann{Type: TransactionAttributeType}
	if value != "" {
		a.Elements = []classfiletest.Elem{{Name: "value", Value: classfiletest.EnumVal("javax/ejb/TransactionAttributeType", value)}}
	}
	return a
}

func TestTransactionEnhancer(t *testing.T) {
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "required", b.Annotations(true, txAnn("")))
		b.VoidMethod(classfiletest.AccPublic, "requiresNew", b.Annotations(true, txAnn("REQUIRES_NEW")))
		b.VoidMethod(classfiletest.AccPublic, "bean", b.Annotations(true, txAnn("BEAN")))
		b.VoidMethod(classfiletest.AccPublic, "unknown", b.Annotations(true, txAnn("SOMETIMES")))
		b.VoidMethod(classfiletest.AccPublic, "notEnum", b.Annotations(true, classfiletest.Ann{
			Type:     TransactionAttributeType,
			Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.StringVal("REQUIRED")}},
		}))
		b.VoidMethod(classfiletest.AccPublic|classfiletest.AccFinal, "sealed", b.Annotations(true, txAnn("")))
	})
	e := NewTransactionEnhancer("")
	assert.Equal(t, DefaultTransactionManager, e.Manager)

	in, err := f.enhance(t, e, "required")
	require.NoError(t, err)
	assert.Equal(t, &Intent{
		Enhancer:   "transaction",
		Annotation: TransactionAttributeType,
		Target:     Target{Name: "required", Descriptor: "()V"},
		Hooks: []Hook{
			{Position: Before, Owner: DefaultTransactionManager, Name: "beginRequired"},
			{Position: After, Owner: DefaultTransactionManager, Name: "commit"},
		},
		Exclusive: true,
	}, in)

	in, err = f.enhance(t, e, "requiresNew")
	require.NoError(t, err)
	assert.Equal(t, "beginRequiresNew", in.Before()[0].Name)

	in, err = f.enhance(t, e, "bean")
	require.NoError(t, err)
	assert.Equal(t, []Hook{{Position: Before, Owner: DefaultTransactionManager, Name: "suspend"}}, in.Hooks)
	assert.Empty(t, in.After())

	for _, name := range []string{"unknown", "notEnum"} {
		_, err = f.enhance(t, e, name)
		assert.ErrorIs(t, err, ErrInvalidAnnotationValue, name)
		assert.True(t, IsEnhancementError(err), name)
	}

	_, err = f.enhance(t, e, "sealed")
	assert.ErrorIs(t, err, ErrIncompatibleModifiers)

	var ee *EnhancementError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "transaction", ee.Enhancer)
	assert.Equal(t, "sealed()V", ee.Method)
	assert.Contains(t, ee.Error(), "@javax/ejb/TransactionAttribute")
}

func TestTransactionEnhancerManager(t *testing.T) {
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "run", b.Annotations(true, txAnn("MANDATORY")))
	})
	in, err := f.enhance(t, NewTransactionEnhancer("org/example/Tx"), "run")
	require.NoError(t, err)
	assert.Equal(t, []Hook{
		{Position: Before, Owner: "org/example/Tx", Name: "beginMandatory"},
		{Position: After, Owner: "org/example/Tx", Name: "commit"},
	}, in.Hooks)
}

func TestSecurityEnhancer(t *testing.T) {
	roles := func(vals ...classfiletest.Val) classfiletest.Ann {
		return classfiletest.Ann{Type: RolesAllowedType, Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.ArrayVal(vals...)}}}
	}
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "admin", b.Annotations(true,
			roles(classfiletest.StringVal("admin"), classfiletest.StringVal("ops"))))
		b.VoidMethod(classfiletest.AccPublic, "single", b.Annotations(true, classfiletest.Ann{
			Type:     RolesAllowedType,
			Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.StringVal("user")}},
		}))
		b.VoidMethod(classfiletest.AccPublic, "none", b.Annotations(true, roles()))
		b.VoidMethod(classfiletest.AccPublic, "comma", b.Annotations(true, roles(classfiletest.StringVal("a,b"))))
		b.VoidMethod(classfiletest.AccPublic, "ints", b.Annotations(true, roles(classfiletest.IntVal(1))))
		b.VoidMethod(classfiletest.AccPublic, "missing", b.Annotations(true, classfiletest.Ann{Type: RolesAllowedType}))
		b.VoidMethod(classfiletest.AccPublic, "deny", b.Annotations(true, classfiletest.Ann{Type: DenyAllType}))
		b.VoidMethod(classfiletest.AccPublic, "permit", b.Annotations(true, classfiletest.Ann{Type: PermitAllType}))
		b.Method(classfiletest.AccPublic|classfiletest.AccStatic, "util", "()V",
			b.Code(0, 0, []byte{0xB1}), b.Annotations(true, classfiletest.Ann{Type: DenyAllType}))
	})
	e := NewSecurityEnhancer("")

	in, err := f.enhance(t, e, "admin")
	require.NoError(t, err)
	assert.Equal(t, []Hook{{Position: Before, Owner: DefaultSecurityManager, Name: "checkRoles", Arg: "admin,ops"}}, in.Hooks)
	assert.False(t, in.Exclusive)

	in, err = f.enhance(t, e, "single")
	require.NoError(t, err)
	assert.Equal(t, "user", in.Hooks[0].Arg)

	in, err = f.enhance(t, e, "deny")
	require.NoError(t, err)
	assert.Equal(t, []Hook{{Position: Before, Owner: DefaultSecurityManager, Name: "denyAll"}}, in.Hooks)

	in, err = f.enhance(t, e, "permit")
	assert.NoError(t, err)
	assert.Nil(t, in)

	for _, name := range []string{"none", "comma", "ints", "missing"} {
		_, err := f.enhance(t, e, name)
		assert.ErrorIs(t, err, ErrInvalidAnnotationValue, name)
	}

	_, err = f.enhance(t, e, "util")
	assert.ErrorIs(t, err, ErrIncompatibleModifiers)

	assert.False(t, e.Supports(TransactionAttributeType))
}

func TestInterceptorEnhancer(t *testing.T) {
	interceptors := func(classes ...string) classfiletest.Ann {
		vals := make([]classfiletest.Val, len(classes))
		for i, c := range classes {
			vals[i] = classfiletest.ClassVal(c)
		}
		return classfiletest.Ann{Type: InterceptorsType, Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.ArrayVal(vals...)}}}
	}
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "a", b.Annotations(true, interceptors("com/acme/Log", "com/acme/Metrics")))
		b.VoidMethod(classfiletest.AccPublic, "b", b.Annotations(true, interceptors("com/acme/Log", "com/acme/Metrics")))
		b.VoidMethod(classfiletest.AccPublic, "c", b.Annotations(true, interceptors("com/acme/Metrics")))
		b.VoidMethod(classfiletest.AccPublic, "empty", b.Annotations(true, interceptors()))
		b.VoidMethod(classfiletest.AccPublic, "prim", b.Annotations(true, interceptors("I")))
	})
	e := NewInterceptorEnhancer()

	a, err := f.enhance(t, e, "a")
	require.NoError(t, err)
	b, err := f.enhance(t, e, "b")
	require.NoError(t, err)
	c, err := f.enhance(t, e, "c")
	require.NoError(t, err)

	require.Len(t, f.reg.order, 2)
	key := f.reg.order[0]
	assert.Regexp(t, `^interceptors\$[0-9a-f]{16}$`, key)
	assert.Equal(t, []Hook{
		{Owner: "com/acme/Log", Name: DefaultInterceptorMethod},
		{Owner: "com/acme/Metrics", Name: DefaultInterceptorMethod},
	}, f.reg.byKey[key].Calls)

	assert.Equal(t, []Hook{{Position: Before, Owner: classfiletest.ServiceClass, Name: key}}, a.Hooks)
	assert.Equal(t, a.Hooks, b.Hooks)
	assert.NotEqual(t, a.Hooks, c.Hooks)
	assert.Equal(t, []string{DefaultInterceptedMarker}, a.Interfaces)

	for _, name := range []string{"empty", "prim"} {
		_, err := f.enhance(t, e, name)
		assert.ErrorIs(t, err, ErrInvalidAnnotationValue, name)
	}
}

func TestInterceptorEnhancerRequire(t *testing.T) {
	build := func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "a", b.Annotations(true, classfiletest.Ann{
			Type:     InterceptorsType,
			Elements: []classfiletest.Elem{{Name: "value", Value: classfiletest.ClassVal("com/acme/Log")}},
		}))
	}
	e := &InterceptorEnhancer{Require: "com/acme/Interceptable"}

	_, err := newFixture(t, build).enhance(t, e, "a")
	assert.ErrorIs(t, err, ErrMissingCapability)

	in, err := newFixture(t, func(b *classfiletest.Builder) {
		b.Interface("com/acme/Interceptable")
		build(b)
	}).enhance(t, e, "a")
	require.NoError(t, err)
	assert.Empty(t, in.Interfaces)
}

func TestCheckWrappable(t *testing.T) {
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "ok")
		b.VoidMethod(classfiletest.AccPrivate, "hidden")
		b.VoidMethod(classfiletest.AccPublic|classfiletest.AccStatic, "static")
		b.VoidMethod(classfiletest.AccPublic|classfiletest.AccFinal, "final")
		b.Method(classfiletest.AccPublic|classfiletest.AccAbstract, "abstract", "()V")
		b.Method(classfiletest.AccPublic|0x0100, "native", "()V")
		b.Method(classfiletest.AccPublic, "bodiless", "()V")
		b.Method(classfiletest.AccStatic, "<clinit>", "()V", b.Code(0, 0, []byte{0xB1}))
	})
	for name, ok := range map[string]bool{
		"ok": true, "hidden": true,
		"static": false, "final": false, "abstract": false, "native": false, "bodiless": false,
		"<init>": false, "<clinit>": false,
	} {
		err := CheckWrappable(f.cf, f.cf.FindMethodByName(name))
		if ok {
			assert.NoError(t, err, name)
		} else {
			assert.ErrorIs(t, err, ErrIncompatibleModifiers, name)
		}
	}

	iface := classfiletest.New("com/acme/Api")
	iface.Access = classfiletest.AccPublic | classfiletest.AccInterface | classfiletest.AccAbstract
	iface.VoidMethod(classfiletest.AccPublic, "m")
	cf, err := classfile.ParseBytes(iface.Bytes())
	require.NoError(t, err)
	assert.ErrorIs(t, CheckWrappable(cf, cf.FindMethodByName("m")), ErrIncompatibleModifiers)
}

func TestHookEnhancer(t *testing.T) {
	f := newFixture(t, func(b *classfiletest.Builder) {
		b.VoidMethod(classfiletest.AccPublic, "run", b.Annotations(true, classfiletest.Ann{Type: "com/acme/Audited"}))
	})
	enter, err := ParseHook(Before, "com.acme.Audit.enter")
	require.NoError(t, err)
	exit, err := ParseHook(After, "com/acme/Audit.exit")
	require.NoError(t, err)

	e := &HookEnhancer{
		ID:         "audit",
		Type:       "com.acme.Audited",
		Hooks:      []Hook{enter, exit},
		Fields:     []Field{{Name: "calls", Descriptor: "J", AccessFlags: classfile.AccPrivate}},
		Interfaces: []string{"com/acme/Auditable"},
		Wrapper:    "runAudited",
	}
	assert.True(t, e.Supports("Lcom/acme/Audited;"))

	in, err := f.enhance(t, e, "run")
	require.NoError(t, err)
	require.NoError(t, in.Validate())
	assert.Equal(t, "runAudited", in.WrapperName())
	assert.Equal(t, []Hook{{Position: Before, Owner: "com/acme/Audit", Name: "enter"}}, in.Before())
	assert.Equal(t, []Hook{{Position: After, Owner: "com/acme/Audit", Name: "exit"}}, in.After())

	// The intent does not alias the enhancer's configuration.
	in.Hooks[0].Name = "changed"
	assert.Equal(t, "enter", e.Hooks[0].Name)
}

func TestParseHook(t *testing.T) {
	h, err := ParseHook(After, "  org.example.Hooks.done ")
	require.NoError(t, err)
	assert.Equal(t, Hook{Position: After, Owner: "org/example/Hooks", Name: "done"}, h)
	assert.Equal(t, "after org/example/Hooks.done", h.String())

	for _, s := range []string{"", "noOwner", ".m", "Owner.", "a.b<init>"} {
		_, err := ParseHook(Before, s)
		assert.Error(t, err, s)
	}
}

func TestIntentValidate(t *testing.T) {
	valid := func() *Intent {
		return &Intent{
			Enhancer: "x",
			Target:   Target{Name: "m", Descriptor: "()V"},
			Hooks:    []Hook{{Position: Before, Owner: "A", Name: "b"}},
		}
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*Intent){
		"no target":     func(i *Intent) { i.Target = Target{} },
		"bad wrapper":   func(i *Intent) { i.Name = "a/b" },
		"no hook owner": func(i *Intent) { i.Hooks[0].Owner = "" },
		"bad position":  func(i *Intent) { i.Hooks[0].Position = Position(7) },
		"bad field":     func(i *Intent) { i.Fields = []Field{{Name: "f"}} },
		"bad interface": func(i *Intent) { i.Interfaces = []string{""} },
	} {
		in := valid()
		mutate(in)
		assert.Error(t, in.Validate(), name)
	}

	a, b := valid(), valid()
	assert.True(t, a.Equal(b))
	b.Name = "m"
	assert.True(t, a.Equal(b), "an explicit name equal to the target is the default")
	b.Exclusive = true
	assert.False(t, a.Equal(b))

	assert.Equal(t, "Position(7)", Position(7).String())
}

type stub struct {
	name  string
	types []string
}

func (s *stub) Name() string { return s.name }

func (s *stub) Supports(typ string) bool {
	for _, t := range s.types {
		if t == typ {
			return true
		}
	}
	return false
}

func (s *stub) Enhance(*classfile.ClassFile, *classfile.MethodInfo, *classfile.Annotation, FragmentRegistrar) (*Intent, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	var r Registry // zero value
	assert.Equal(t, 0, r.Snapshot().Len())

	a := &stub{name: "a", types: []string{"Lx/A;"}}
	b := &stub{name: "b", types: []string{"Lx/A;", "Lx/B;"}}
	require.NoError(t, r.Register("x.A", a))
	require.NoError(t, r.Register("x/A", b))
	require.NoError(t, r.Register("Lx/B;", b))
	assert.Error(t, r.Register("x.A", a))
	assert.Error(t, r.Register("", a))

	// An enhancer registered for a type it does not support is filtered.
	require.NoError(t, r.Register("x.C", a))

	snap := r.Snapshot()
	assert.Equal(t, []string{"Lx/A;", "Lx/B;", "Lx/C;"}, snap.Types())
	assert.Equal(t, 4, snap.Len())

	entries := snap.Lookup("x.A")
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Enhancer.Name())
	assert.Equal(t, "b", entries[1].Enhancer.Name())
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Empty(t, snap.Lookup("x.C"))

	assert.True(t, r.Unregister("x.A"))
	assert.False(t, r.Unregister("x.A"))
	assert.Empty(t, r.Snapshot().Lookup("x.A"))

	// Snapshots taken earlier are unaffected.
	assert.Len(t, snap.Lookup("x.A"), 2)
}

func TestRegistryConcurrentReaders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("x.Base", &stub{name: "base", types: []string{"Lx/Base;"}}))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				snap := r.Snapshot()
				assert.Len(t, snap.Lookup("x.Base"), 1)
				n := snap.Len()
				assert.Equal(t, n, snap.Len())
			}
		}()
		typ := fmt.Sprintf("x.T%d", i)
		require.NoError(t, r.Register(typ, &stub{name: "t", types: []string{classfile.AnnotationDescriptor(typ)}}))
	}
	wg.Wait()
	assert.Equal(t, 9, r.Snapshot().Len())
}

func TestMethodID(t *testing.T) {
	m := &classfile.MethodInfo{Name: "compute", Descriptor: "(IJ)J"}
	assert.Equal(t, "com/acme/Service.compute(IJ)J", MethodID(classfiletest.ServiceClass, m))
}
