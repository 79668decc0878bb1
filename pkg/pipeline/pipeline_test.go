package pipeline

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daimatz/jenhance/pkg/bytecode"
	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/classfile/classfiletest"
	"github.com/daimatz/jenhance/pkg/enhancer"
	"github.com/daimatz/jenhance/pkg/generator"
	"github.com/daimatz/jenhance/pkg/intern"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const checker = "com/acme/SecurityCheck"

func securedEnhancer(id string) *enhancer.HookEnhancer {
	return &enhancer.HookEnhancer{
		ID:    id,
		Type:  classfiletest.SecuredType,
		Hooks: []enhancer.Hook{{Position: enhancer.Before, Owner: checker, Name: "check"}},
	}
}

// securedOnly is a class whose only method is process() annotated @Secured.
func securedOnly() []byte {
	b := classfiletest.New(classfiletest.ServiceClass)
	b.VoidMethod(classfiletest.AccPublic, "process", b.Annotations(true, classfiletest.Ann{Type: classfiletest.SecuredType}))
	return b.Bytes()
}

func registry(t *testing.T, pairs ...any) *enhancer.Registry {
	t.Helper()
	reg := enhancer.NewRegistry()
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, reg.Register(pairs[i].(string), pairs[i+1].(enhancer.Enhancer)))
	}
	return reg
}

func methods(t *testing.T, data []byte) []string {
	t.Helper()
	cf, err := classfile.ParseBytes(data)
	require.NoError(t, err)
	var out []string
	for _, m := range cf.Methods {
		out = append(out, m.Name+m.Descriptor)
	}
	return out
}

// calls lists the static methods invoked by method name of the class.
func calls(t *testing.T, data []byte, name string) []string {
	t.Helper()
	cf, err := classfile.ParseBytes(data)
	require.NoError(t, err)
	m := cf.FindMethodByName(name)
	require.NotNil(t, m)
	ins, err := bytecode.Decode(m.Code.Code)
	require.NoError(t, err)
	var out []string
	for _, in := range ins {
		if in.Opcode != bytecode.OpInvokestatic {
			continue
		}
		idx, _ := in.Index()
		ref, err := cf.ConstantPool.MemberRef(idx)
		require.NoError(t, err)
		out = append(out, ref.ClassName+"."+ref.Name)
	}
	return out
}

func TestRunSecuredScenario(t *testing.T) {
	data := securedOnly()
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))

	res, err := p.Run(data)
	require.NoError(t, err)
	assert.True(t, res.Enhanced)
	assert.Equal(t, StateGenerated, res.State)
	assert.Equal(t, classfiletest.ServiceClass, res.Class)
	assert.NotEmpty(t, res.ID)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []Applied{{
		Enhancer:   "secured",
		Annotation: classfiletest.SecuredType,
		Method:     "process()V",
		Wrapper:    "process",
	}}, res.Applied)

	assert.Equal(t, []string{"process()V", "process$original()V"}, methods(t, res.Output))
	assert.Equal(t, []string{checker + ".check"}, calls(t, res.Output, "process"))
}

func TestRunMalformed(t *testing.T) {
	data := securedOnly()
	copy(data, []byte{0, 0, 0, 0})

	res, err := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured"))).Run(data)
	require.Error(t, err)
	assert.True(t, classfile.IsFormatError(err))
	assert.ErrorIs(t, err, classfile.ErrBadMagic)
	assert.Equal(t, data, res.Output)
	assert.Equal(t, StateNew, res.State)
	assert.Empty(t, res.Class)
	assert.False(t, res.Enhanced)
}

func TestRunMaxClassSize(t *testing.T) {
	_, err := New(nil, WithMaxClassSize(16)).Run(securedOnly())
	assert.ErrorIs(t, err, classfile.ErrTooLarge)
}

func TestRunIsIdempotentOnPristineInput(t *testing.T) {
	data := classfiletest.SecuredService()
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))

	first, err := p.Run(data)
	require.NoError(t, err)
	second, err := p.Run(data)
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRunOnEnhancedOutputFailsOpen(t *testing.T) {
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))
	first, err := p.Run(securedOnly())
	require.NoError(t, err)

	again, err := p.Run(first.Output)
	assert.ErrorIs(t, err, generator.ErrConflict)
	assert.Equal(t, first.Output, again.Output)
	assert.False(t, again.Enhanced)
	assert.Empty(t, again.Applied)
	assert.Equal(t, StateEnhanced, again.State)
}

func TestRunConflictFailsOpen(t *testing.T) {
	a := securedEnhancer("a")
	a.Exclusive = true
	b := securedEnhancer("b")
	b.Exclusive = true
	data := securedOnly()

	res, err := New(registry(t, classfiletest.SecuredType, a, classfiletest.SecuredType, b)).Run(data)
	require.Error(t, err)
	assert.True(t, generator.IsGenerationError(err))
	assert.ErrorIs(t, err, generator.ErrConflict)
	assert.Equal(t, data, res.Output)
	assert.Empty(t, res.Applied)
}

func TestRunRecordsWarnings(t *testing.T) {
	tx := classfiletest.Ann{Type: enhancer.TransactionAttributeType}
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic|classfiletest.AccFinal, "sealed", b.Annotations(true, tx))
	b.VoidMethod(classfiletest.AccPublic, "open", b.Annotations(true, tx))

	core, logs := observer.New(zapcore.WarnLevel)
	p := New(registry(t, enhancer.TransactionAttributeType, enhancer.NewTransactionEnhancer("")),
		WithLogger(zap.New(core)))

	res, err := p.Run(b.Bytes())
	require.NoError(t, err)
	assert.True(t, res.Enhanced)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, "transaction", w.Enhancer)
	assert.Equal(t, "sealed()V", w.Method)
	assert.ErrorIs(t, w.Err, enhancer.ErrIncompatibleModifiers)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "open()V", res.Applied[0].Method)
	assert.Contains(t, methods(t, res.Output), "open$original()V")
	assert.NotContains(t, methods(t, res.Output), "sealed$original()V")

	skipped := logs.FilterMessage("enhancement skipped").All()
	require.Len(t, skipped, 1)
	ctx := skipped[0].ContextMap()
	assert.Equal(t, classfiletest.ServiceClass, ctx["class"])
	assert.Equal(t, res.ID, ctx["run"])
	assert.Equal(t, "sealed()V", ctx["method"])
}

type failing struct {
	err   error
	panic bool
}

func (f *failing) Name() string         { return "failing" }
func (f *failing) Supports(string) bool { return true }

func (f *failing) Enhance(*classfile.ClassFile, *classfile.MethodInfo, *classfile.Annotation, enhancer.FragmentRegistrar) (*enhancer.Intent, error) {
	if f.panic {
		panic("enhancer bug")
	}
	return nil, f.err
}

func TestRunTerminalEnhancerFailure(t *testing.T) {
	data := securedOnly()
	for name, e := range map[string]*failing{
		"error": {err: errors.New("boom")},
		"panic": {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			p := New(registry(t,
				classfiletest.SecuredType, securedEnhancer("secured"),
				classfiletest.SecuredType, e,
			), WithLogger(zap.New(core)))

			res, err := p.Run(data)
			require.Error(t, err)
			assert.Equal(t, data, res.Output)
			assert.Empty(t, res.Applied)
			assert.False(t, res.Enhanced)
			assert.Equal(t, 1, logs.FilterMessage("enhancement abandoned, returning original class").Len())
		})
	}
}

func TestRunComposesInRegistrationOrder(t *testing.T) {
	b := classfiletest.New(classfiletest.ServiceClass)
	b.VoidMethod(classfiletest.AccPublic, "run", b.Annotations(true,
		classfiletest.Ann{Type: "com/acme/A"},
		classfiletest.Ann{Type: "com/acme/B"}))
	hooks := func(id, typ string) *enhancer.HookEnhancer {
		return &enhancer.HookEnhancer{
			ID:   id,
			Type: typ,
			Hooks: []enhancer.Hook{
				{Position: enhancer.Before, Owner: "com/acme/Hooks", Name: id + "In"},
				{Position: enhancer.After, Owner: "com/acme/Hooks", Name: id + "Out"},
			},
		}
	}
	// B is registered first, so it wraps outside A.
	p := New(registry(t,
		"com.acme.B", hooks("b", "com.acme.B"),
		"com.acme.A", hooks("a", "com.acme.A"),
	))
	res, err := p.Run(b.Bytes())
	require.NoError(t, err)

	require.Len(t, res.Applied, 2)
	assert.Equal(t, "b", res.Applied[0].Enhancer)
	assert.Equal(t, "a", res.Applied[1].Enhancer)
	// The exception handler repeats the after hooks in the same order.
	assert.Equal(t, []string{
		"com/acme/Hooks.bIn", "com/acme/Hooks.aIn",
		"com/acme/Hooks.aOut", "com/acme/Hooks.bOut",
		"com/acme/Hooks.aOut", "com/acme/Hooks.bOut",
	}, calls(t, res.Output, "run"))
}

func TestRunTransactionCommitsOnThrow(t *testing.T) {
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic, "save", b.Annotations(true, classfiletest.Ann{Type: enhancer.TransactionAttributeType}))
	res, err := New(registry(t, enhancer.TransactionAttributeType, enhancer.NewTransactionEnhancer(""))).Run(b.Bytes())
	require.NoError(t, err)
	require.True(t, res.Enhanced)

	cf, err := classfile.ParseBytes(res.Output)
	require.NoError(t, err)
	m := cf.FindMethod("save", "()V")
	require.NotNil(t, m)
	require.Len(t, m.Code.ExceptionHandlers, 1)
	h := m.Code.ExceptionHandlers[0]
	assert.Equal(t, uint16(0), h.CatchType)

	ins, err := bytecode.Decode(m.Code.Code)
	require.NoError(t, err)
	var handler []string
	for _, in := range ins {
		if in.Offset < int(h.HandlerPC) {
			continue
		}
		s := in.Name()
		if in.Opcode == bytecode.OpInvokestatic {
			idx, _ := in.Index()
			ref, err := cf.ConstantPool.MemberRef(idx)
			require.NoError(t, err)
			s = ref.ClassName + "." + ref.Name
		}
		handler = append(handler, s)
	}
	assert.Equal(t, []string{
		"astore_1", "ldc", enhancer.DefaultTransactionManager + ".commit", "aload_1", "athrow",
	}, handler)
}

func TestRunUnchanged(t *testing.T) {
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic, "open", b.Annotations(true, classfiletest.Ann{Type: enhancer.PermitAllType}))
	b.VoidMethod(classfiletest.AccPublic, "plain")
	data := b.Bytes()

	sec := enhancer.NewSecurityEnhancer("")
	res, err := New(registry(t, enhancer.PermitAllType, sec)).Run(data)
	require.NoError(t, err)
	assert.False(t, res.Enhanced)
	assert.Equal(t, StateGenerated, res.State)
	assert.Equal(t, data, res.Output)
	assert.Empty(t, res.Applied)
}

func TestRunInterceptorsShareFragment(t *testing.T) {
	ann := classfiletest.Ann{Type: enhancer.InterceptorsType, Elements: []classfiletest.Elem{{
		Name:  "value",
		Value: classfiletest.ArrayVal(classfiletest.ClassVal("com/acme/Log")),
	}}}
	b := classfiletest.NewService()
	b.VoidMethod(classfiletest.AccPublic, "a", b.Annotations(true, ann))
	b.VoidMethod(classfiletest.AccPublic, "b", b.Annotations(true, ann))

	res, err := New(registry(t, enhancer.InterceptorsType, enhancer.NewInterceptorEnhancer())).Run(b.Bytes())
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)

	cf, err := classfile.ParseBytes(res.Output)
	require.NoError(t, err)
	var fragments []string
	for _, m := range cf.Methods {
		if m.Is(classfile.AccStatic | classfile.AccSynthetic) {
			fragments = append(fragments, m.Name)
		}
	}
	require.Len(t, fragments, 1)
	assert.Equal(t, []string{classfiletest.ServiceClass + "." + fragments[0]}, calls(t, res.Output, "a"))
	assert.Equal(t, []string{"com/acme/Log.aroundInvoke"}, calls(t, res.Output, fragments[0]))

	ifaces, err := cf.InterfaceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{enhancer.DefaultInterceptedMarker}, ifaces)
}

func TestRunWithInterner(t *testing.T) {
	table, err := intern.New(128)
	require.NoError(t, err)
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")), WithInterner(table))

	for range 2 {
		_, err := p.Run(securedOnly())
		require.NoError(t, err)
	}
	hits, misses := table.Stats()
	assert.Positive(t, misses)
	assert.Positive(t, hits)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")), WithMetrics(m))

	_, err := p.Run(securedOnly())
	require.NoError(t, err)
	_, err = p.Run([]byte{0xCA, 0xFE})
	require.Error(t, err)
	_, err = p.Run(classfiletest.New("Empty").Bytes())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeEnhanced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeUnchanged)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeFailOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applied.WithLabelValues("secured")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	n, err := testutil.GatherAndCount(reg, "jenhance_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAdvance(t *testing.T) {
	r := &run{res: &Result{}}
	assert.ErrorIs(t, r.advance(StateIndexed), ErrInvalidTransition)
	require.NoError(t, r.advance(StateLoaded))
	assert.ErrorIs(t, r.advance(StateLoaded), ErrInvalidTransition)
	require.NoError(t, r.advance(StateIndexed))
	require.NoError(t, r.advance(StateEnhanced))
	require.NoError(t, r.advance(StateGenerated))
	assert.ErrorIs(t, r.advance(StateGenerated+1), ErrInvalidTransition)
	assert.Equal(t, StateGenerated, r.res.State)

	assert.Equal(t, "indexed", StateIndexed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
