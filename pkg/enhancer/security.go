package enhancer

import (
	"fmt"
	"strings"

	"github.com/daimatz/jenhance/pkg/classfile"
)

const (
	RolesAllowedType       = "Ljavax/annotation/security/RolesAllowed;"
	DenyAllType            = "Ljavax/annotation/security/DenyAll;"
	PermitAllType          = "Ljavax/annotation/security/PermitAll;"
	DefaultSecurityManager = "com/caucho/security/SecurityHooks"
)

// SecurityEnhancer inserts an authorization check before methods annotated
// @RolesAllowed or @DenyAll. checkRoles receives the allowed roles joined
// with commas; denyAll receives the method id. @PermitAll needs no code.
type SecurityEnhancer struct {
	Manager string
}

// NewSecurityEnhancer returns an enhancer calling hooks on manager, or on
// DefaultSecurityManager when manager is empty.
func NewSecurityEnhancer(manager string) *SecurityEnhancer {
	if manager == "" {
		manager = DefaultSecurityManager
	}
	return &SecurityEnhancer{Manager: manager}
}

func (e *SecurityEnhancer) Name() string { return "security" }

func (e *SecurityEnhancer) Supports(annotationType string) bool {
	switch annotationType {
	case RolesAllowedType, DenyAllType, PermitAllType:
		return true
	}
	return false
}

func (e *SecurityEnhancer) Enhance(cf *classfile.ClassFile, m *classfile.MethodInfo, ann *classfile.Annotation, _ FragmentRegistrar) (*Intent, error) {
	if ann.Type == PermitAllType {
		return nil, nil
	}
	if err := CheckWrappable(cf, m); err != nil {
		return nil, Reject(e, m, ann, err)
	}

	hook := Hook{Position: Before, Owner: e.Manager, Name: "denyAll"}
	if ann.Type == RolesAllowedType {
		roles, err := allowedRoles(ann)
		if err != nil {
			return nil, Reject(e, m, ann, err)
		}
		hook.Name = "checkRoles"
		hook.Arg = strings.Join(roles, ",")
	}

	return &Intent{
		Enhancer:   e.Name(),
		Annotation: ann.Type,
		Target:     Target{Name: m.Name, Descriptor: m.Descriptor},
		Hooks:      []Hook{hook},
	}, nil
}

func allowedRoles(ann *classfile.Annotation) ([]string, error) {
	v, ok := ann.Get("value")
	if !ok {
		return nil, fmt.Errorf("%w: no roles", ErrInvalidAnnotationValue)
	}
	roles, ok := v.AsStrings()
	if !ok {
		return nil, fmt.Errorf("%w: roles must be strings", ErrInvalidAnnotationValue)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: no roles", ErrInvalidAnnotationValue)
	}
	for _, r := range roles {
		if r == "" || strings.Contains(r, ",") {
			return nil, fmt.Errorf("%w: invalid role %q", ErrInvalidAnnotationValue, r)
		}
	}
	return roles, nil
}
