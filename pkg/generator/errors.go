package generator

import (
	"errors"
	"fmt"
)

// Kinds of GenerationError.
var (
	ErrPoolOverflow  = errors.New("constant pool overflow")
	ErrConflict      = errors.New("conflicting intents")
	ErrInvalidIntent = errors.New("invalid intent")
)

// GenerationError reports why a class could not be generated. The whole
// class's enhancement is abandoned; Kind is one of the Err* values above.
type GenerationError struct {
	Class  string
	Kind   error
	Detail string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v: %s", e.Class, e.Kind, e.Detail)
}

func (e *GenerationError) Unwrap() error { return e.Kind }

// IsGenerationError reports whether err is, or wraps, a *GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

func (g *Generator) errorf(kind error, format string, args ...any) *GenerationError {
	return &GenerationError{Class: g.className, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
