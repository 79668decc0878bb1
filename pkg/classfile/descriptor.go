package classfile

import (
	"fmt"
	"strings"
)

// MethodDescriptor splits a method descriptor into its parameter and return
// type tokens. The tokens themselves stay opaque field descriptors.
type MethodDescriptor struct {
	Params []string
	Return string
}

// ParseMethodDescriptor parses descriptors like "(IJLjava/lang/String;)V".
func ParseMethodDescriptor(desc string) (*MethodDescriptor, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, fmt.Errorf("invalid method descriptor: %s", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end == -1 {
		return nil, fmt.Errorf("invalid method descriptor: %s", desc)
	}

	md := &MethodDescriptor{}
	params := desc[1:end]
	for i := 0; i < len(params); {
		n, err := fieldTypeLen(params[i:])
		if err != nil {
			return nil, fmt.Errorf("%w in %s", err, desc)
		}
		md.Params = append(md.Params, params[i:i+n])
		i += n
	}

	ret := desc[end+1:]
	if ret == "V" {
		md.Return = ret
		return md, nil
	}
	n, err := fieldTypeLen(ret)
	if err != nil || n != len(ret) {
		return nil, fmt.Errorf("invalid return type in method descriptor: %s", desc)
	}
	md.Return = ret
	return md, nil
}

// ParamSlots returns the number of local variable slots the parameters
// occupy, not counting the receiver.
func (d *MethodDescriptor) ParamSlots() int {
	n := 0
	for _, p := range d.Params {
		n += TypeSlots(p)
	}
	return n
}

// IsVoid reports whether the method returns void.
func (d *MethodDescriptor) IsVoid() bool { return d.Return == "V" }

// TypeSlots returns the number of slots a value of the given field type
// occupies: 2 for long and double, 0 for void, 1 otherwise.
func TypeSlots(t string) int {
	switch t {
	case "J", "D":
		return 2
	case "V", "":
		return 0
	}
	return 1
}

// fieldTypeLen returns the length of the field descriptor at the start of s.
func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i > 255 {
		return 0, fmt.Errorf("array of %d dimensions", i)
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type descriptor")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi <= 1 {
			return 0, fmt.Errorf("unterminated class type descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("invalid type descriptor char '%c'", s[i])
	}
}
