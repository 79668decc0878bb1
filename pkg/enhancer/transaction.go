package enhancer

import (
	"fmt"

	"github.com/daimatz/jenhance/pkg/classfile"
)

const (
	TransactionAttributeType  = "Ljavax/ejb/TransactionAttribute;"
	DefaultTransactionManager = "com/caucho/ejb/xa/TransactionHooks"
)

// transactionBegin maps TransactionAttributeType constants to the manager
// hook opening the demarcation.
var transactionBegin = map[string]string{
	"REQUIRED":      "beginRequired",
	"REQUIRES_NEW":  "beginRequiresNew",
	"MANDATORY":     "beginMandatory",
	"NEVER":         "beginNever",
	"NOT_SUPPORTED": "suspend",
	"SUPPORTS":      "beginSupports",
	"SINGLE_READ":   "beginSingleRead",
	"BEAN":          "suspend",
}

// TransactionEnhancer demarcates @TransactionAttribute methods: a begin
// hook chosen by the attribute value runs before the method and commit
// runs after it. Bean-managed methods only suspend. Two transaction
// demarcations on one method conflict.
type TransactionEnhancer struct {
	Manager string
}

// NewTransactionEnhancer returns an enhancer calling hooks on manager, or on
// DefaultTransactionManager when manager is empty.
func NewTransactionEnhancer(manager string) *TransactionEnhancer {
	if manager == "" {
		manager = DefaultTransactionManager
	}
	return &TransactionEnhancer{Manager: manager}
}

func (e *TransactionEnhancer) Name() string { return "transaction" }

func (e *TransactionEnhancer) Supports(annotationType string) bool {
	return annotationType == TransactionAttributeType
}

func (e *TransactionEnhancer) Enhance(cf *classfile.ClassFile, m *classfile.MethodInfo, ann *classfile.Annotation, _ FragmentRegistrar) (*Intent, error) {
	if err := CheckWrappable(cf, m); err != nil {
		return nil, Reject(e, m, ann, err)
	}

	// REQUIRED is the default when no value is given.
	kind := "REQUIRED"
	if v, ok := ann.Get("value"); ok {
		_, c, ok := v.AsEnum()
		if !ok {
			return nil, Reject(e, m, ann, fmt.Errorf("%w: value is not an enum constant", ErrInvalidAnnotationValue))
		}
		kind = c
	}
	begin, ok := transactionBegin[kind]
	if !ok {
		return nil, Reject(e, m, ann, fmt.Errorf("%w: unknown transaction type %s", ErrInvalidAnnotationValue, kind))
	}

	intent := &Intent{
		Enhancer:   e.Name(),
		Annotation: ann.Type,
		Target:     Target{Name: m.Name, Descriptor: m.Descriptor},
		Hooks:      []Hook{{Position: Before, Owner: e.Manager, Name: begin}},
		Exclusive:  true,
	}
	if kind != "BEAN" {
		intent.Hooks = append(intent.Hooks, Hook{Position: After, Owner: e.Manager, Name: "commit"})
	}
	return intent, nil
}
