package enhancer

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"

	"github.com/daimatz/jenhance/pkg/classfile"
)

const (
	InterceptorsType          = "Ljavax/interceptor/Interceptors;"
	DefaultInterceptorMethod  = "aroundInvoke"
	DefaultInterceptedMarker  = "com/caucho/ejb/Intercepted"
	interceptorFragmentPrefix = "interceptors$"
)

// InterceptorEnhancer runs the static interceptor method of each class
// listed in @Interceptors before the annotated method. The call sequence is
// registered once per distinct interceptor list as a fragment, and the
// class is marked with Marker.
type InterceptorEnhancer struct {
	Method string
	Marker string
	// Require, when set, is an interface the enhanced class must implement.
	Require string
}

// NewInterceptorEnhancer returns an enhancer with the default interceptor
// method and marker interface.
func NewInterceptorEnhancer() *InterceptorEnhancer {
	return &InterceptorEnhancer{Method: DefaultInterceptorMethod, Marker: DefaultInterceptedMarker}
}

func (e *InterceptorEnhancer) Name() string { return "interceptors" }

func (e *InterceptorEnhancer) Supports(annotationType string) bool {
	return annotationType == InterceptorsType
}

func (e *InterceptorEnhancer) Enhance(cf *classfile.ClassFile, m *classfile.MethodInfo, ann *classfile.Annotation, reg FragmentRegistrar) (*Intent, error) {
	if err := CheckWrappable(cf, m); err != nil {
		return nil, Reject(e, m, ann, err)
	}
	if e.Require != "" {
		ifaces, err := cf.InterfaceNames()
		if err != nil {
			return nil, err
		}
		if !slices.Contains(ifaces, e.Require) {
			return nil, Reject(e, m, ann, fmt.Errorf("%w: %s", ErrMissingCapability, e.Require))
		}
	}

	v, ok := ann.Get("value")
	if !ok {
		return nil, Reject(e, m, ann, fmt.Errorf("%w: no interceptor classes", ErrInvalidAnnotationValue))
	}
	classes, ok := v.AsClasses()
	if !ok || len(classes) == 0 {
		return nil, Reject(e, m, ann, fmt.Errorf("%w: value must be a non-empty Class[]", ErrInvalidAnnotationValue))
	}
	for _, c := range classes {
		if len(c) <= 1 || strings.HasPrefix(c, "[") {
			return nil, Reject(e, m, ann, fmt.Errorf("%w: %s is not a class", ErrInvalidAnnotationValue, c))
		}
	}

	method := e.Method
	if method == "" {
		method = DefaultInterceptorMethod
	}
	frag := Fragment{Key: interceptorFragmentKey(classes)}
	for _, c := range classes {
		frag.Calls = append(frag.Calls, Hook{Owner: c, Name: method})
	}
	if _, err := reg.RegisterFragment(frag); err != nil {
		return nil, err
	}

	className, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	intent := &Intent{
		Enhancer:   e.Name(),
		Annotation: ann.Type,
		Target:     Target{Name: m.Name, Descriptor: m.Descriptor},
		Hooks:      []Hook{{Position: Before, Owner: className, Name: frag.Key}},
	}
	if e.Marker != "" {
		intent.Interfaces = []string{e.Marker}
	}
	return intent, nil
}

// interceptorFragmentKey names the fragment for an interceptor list. Equal
// lists share a fragment.
func interceptorFragmentKey(classes []string) string {
	h := fnv.New64a()
	for _, c := range classes {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s%016x", interceptorFragmentPrefix, h.Sum64())
}
