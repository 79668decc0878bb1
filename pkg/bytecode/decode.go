package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTruncated     = errors.New("truncated instruction")
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// Instruction is one decoded instruction. For a wide-prefixed instruction
// Opcode is the modified opcode, Wide is set, and Offset points at the
// wide prefix.
type Instruction struct {
	Offset   int
	Opcode   byte
	Wide     bool
	Operands []byte
}

// Name returns the mnemonic of the instruction.
func (in Instruction) Name() string {
	return Mnemonic(in.Opcode)
}

// Index returns the constant pool index operand of instructions that carry
// one (ldc, field and method access, new, checkcast, ...).
func (in Instruction) Index() (uint16, bool) {
	switch in.Opcode {
	case OpLdc:
		return uint16(in.Operands[0]), true
	case OpLdcW, OpLdc2W,
		OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface, OpInvokedynamic,
		OpNew, OpAnewarray, OpCheckcast, OpInstanceof, OpMultianewarray:
		return readU16(in.Operands, 0), true
	}
	return 0, false
}

// Local returns the local variable slot addressed by a load, store, iinc or
// ret instruction, including the implicit slot of the _n forms.
func (in Instruction) Local() (int, bool) {
	op := in.Opcode
	switch {
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpIinc, op == OpRet:
		if in.Wide {
			return int(readU16(in.Operands, 0)), true
		}
		return int(in.Operands[0]), true
	case op >= OpIload0 && op <= OpAload3:
		return int(op-OpIload0) % 4, true
	case op >= OpIstore0 && op <= OpAstore3:
		return int(op-OpIstore0) % 4, true
	}
	return 0, false
}

func (in Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d: ", in.Offset)
	if in.Wide {
		sb.WriteString("wide ")
	}
	sb.WriteString(in.Name())
	if idx, ok := in.Index(); ok {
		fmt.Fprintf(&sb, " #%d", idx)
	} else if slot, ok := in.Local(); ok && len(in.Operands) > 0 {
		fmt.Fprintf(&sb, " %d", slot)
	}
	return sb.String()
}

// Mnemonic returns the JVM mnemonic for op, or "op_0xNN" when the opcode is
// not assigned.
func Mnemonic(op byte) string {
	if m := mnemonics[op]; m != "" {
		return m
	}
	return fmt.Sprintf("op_0x%02X", op)
}

// Decode splits a method body into instructions. It checks that every
// instruction lies within code and that opcodes are assigned; it does not
// verify branch targets or stack shape.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(code); {
		in, err := decodeAt(code, pc)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		pc = in.Offset + in.size()
	}
	return out, nil
}

// size returns the encoded length of the instruction.
func (in Instruction) size() int {
	n := 1 + len(in.Operands)
	if in.Wide {
		n++
	}
	return n
}

func decodeAt(code []byte, pc int) (Instruction, error) {
	op := code[pc]
	in := Instruction{Offset: pc, Opcode: op}
	if mnemonics[op] == "" {
		return in, fmt.Errorf("%w 0x%02X at offset %d", ErrUnknownOpcode, op, pc)
	}

	n := int(operandLen[op])
	start := pc + 1
	if n == varLen {
		var err error
		switch op {
		case OpTableswitch:
			n, err = tableswitchLen(code, start)
		case OpLookupswitch:
			n, err = lookupswitchLen(code, start)
		case OpWide:
			return decodeWide(code, pc)
		}
		if err != nil {
			return in, fmt.Errorf("%s at offset %d: %w", mnemonics[op], pc, err)
		}
	}
	if start+n > len(code) {
		return in, fmt.Errorf("%w: %s at offset %d needs %d operand bytes", ErrTruncated, mnemonics[op], pc, n)
	}
	in.Operands = code[start : start+n]
	return in, nil
}

func decodeWide(code []byte, pc int) (Instruction, error) {
	if pc+1 >= len(code) {
		return Instruction{}, fmt.Errorf("%w: wide at offset %d", ErrTruncated, pc)
	}
	op := code[pc+1]
	n := 2
	switch {
	case op == OpIinc:
		n = 4
	case op >= OpIload && op <= OpAload, op >= OpIstore && op <= OpAstore, op == OpRet:
	default:
		return Instruction{}, fmt.Errorf("%w: wide %s at offset %d", ErrUnknownOpcode, Mnemonic(op), pc)
	}
	start := pc + 2
	if start+n > len(code) {
		return Instruction{}, fmt.Errorf("%w: wide %s at offset %d", ErrTruncated, mnemonics[op], pc)
	}
	return Instruction{Offset: pc, Opcode: op, Wide: true, Operands: code[start : start+n]}, nil
}

// switchPad returns the number of padding bytes after a switch opcode so that
// the operands start at a multiple of four from the start of the code.
func switchPad(start int) int {
	return (4 - start%4) % 4
}

func tableswitchLen(code []byte, start int) (int, error) {
	pad := switchPad(start)
	head := start + pad
	if head+12 > len(code) {
		return 0, ErrTruncated
	}
	low := int32(readU32(code, head+4))
	high := int32(readU32(code, head+8))
	if high < low {
		return 0, fmt.Errorf("tableswitch high %d < low %d", high, low)
	}
	return pad + 12 + int(int64(high)-int64(low)+1)*4, nil
}

func lookupswitchLen(code []byte, start int) (int, error) {
	pad := switchPad(start)
	head := start + pad
	if head+8 > len(code) {
		return 0, ErrTruncated
	}
	npairs := int32(readU32(code, head+4))
	if npairs < 0 {
		return 0, fmt.Errorf("lookupswitch npairs %d", npairs)
	}
	return pad + 8 + int(npairs)*8, nil
}

func readU16(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}

func readU32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}
