package bytecode

import "fmt"

// Assembler builds straight-line method bodies. It only knows the
// instructions the wrap-and-delegate template needs. The first error sticks
// and is reported by Bytes.
type Assembler struct {
	buf []byte
	err error
}

// Op appends an instruction without operands.
func (a *Assembler) Op(op byte) *Assembler {
	if operandLen[op] != 0 {
		a.fail(fmt.Errorf("%s takes operands", Mnemonic(op)))
		return a
	}
	a.buf = append(a.buf, op)
	return a
}

// Ldc pushes a single-slot constant, choosing ldc or ldc_w by index width.
func (a *Assembler) Ldc(index uint16) *Assembler {
	if index <= 0xFF {
		a.buf = append(a.buf, OpLdc, byte(index))
		return a
	}
	a.buf = append(a.buf, OpLdcW, byte(index>>8), byte(index))
	return a
}

// Invoke appends invokevirtual, invokespecial or invokestatic.
func (a *Assembler) Invoke(op byte, index uint16) *Assembler {
	switch op {
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic:
		a.buf = append(a.buf, op, byte(index>>8), byte(index))
	default:
		a.fail(fmt.Errorf("%s is not a supported invoke", Mnemonic(op)))
	}
	return a
}

// Load pushes local slot holding a value of field type typ.
func (a *Assembler) Load(typ string, slot int) *Assembler {
	base, short, err := typedOps(typ, OpIload, OpIload0)
	if err != nil {
		a.fail(err)
		return a
	}
	return a.local(base, short, slot)
}

// Store pops a value of field type typ into local slot.
func (a *Assembler) Store(typ string, slot int) *Assembler {
	base, short, err := typedOps(typ, OpIstore, OpIstore0)
	if err != nil {
		a.fail(err)
		return a
	}
	return a.local(base, short, slot)
}

// Return appends the return instruction for return type typ ("V" for void).
func (a *Assembler) Return(typ string) *Assembler {
	if typ == "V" {
		a.buf = append(a.buf, OpReturn)
		return a
	}
	k, err := kindOf(typ)
	if err != nil {
		a.fail(err)
		return a
	}
	a.buf = append(a.buf, OpIreturn+k)
	return a
}

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.buf) }

// Bytes returns the assembled code or the first error encountered.
func (a *Assembler) Bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.buf, nil
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *Assembler) local(base, short byte, slot int) *Assembler {
	switch {
	case slot < 0 || slot > 0xFFFF:
		a.fail(fmt.Errorf("local slot %d out of range", slot))
	case slot <= 3:
		a.buf = append(a.buf, short+byte(slot))
	case slot <= 0xFF:
		a.buf = append(a.buf, base, byte(slot))
	default:
		a.buf = append(a.buf, OpWide, base, byte(slot>>8), byte(slot))
	}
	return a
}

// kindOf maps a field type to its offset in the i/l/f/d/a instruction
// families.
func kindOf(typ string) (byte, error) {
	if typ == "" {
		return 0, fmt.Errorf("empty type")
	}
	switch typ[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return 0, nil
	case 'J':
		return 1, nil
	case 'F':
		return 2, nil
	case 'D':
		return 3, nil
	case 'L', '[':
		return 4, nil
	}
	return 0, fmt.Errorf("no value instructions for type %q", typ)
}

// typedOps returns the long and _0 forms of a load or store for typ.
func typedOps(typ string, base, short byte) (byte, byte, error) {
	k, err := kindOf(typ)
	if err != nil {
		return 0, 0, err
	}
	return base + k, short + k*4, nil
}
