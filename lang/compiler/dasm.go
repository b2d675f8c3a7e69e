package compiler

import (
	"bytes"
	"errors"
	"fmt"
)

// Dasm writes a compiled program to a textual listing, mostly to support
// debugging and testing of the emitter. The listing looks like this:
//
//	program:
//		constants:
//			number	10	# 000
//			string	"x"	# 001
//		functions:
//			function 012 1 [1]	# 000   (entry, arity, param name indices)
//		code:
//			constant 000	# 000
//			store 001	# 002
func Dasm(p *Program) ([]byte, error) {
	d := dasm{p: p, buf: new(bytes.Buffer)}
	d.program()
	d.code()
	return d.buf.Bytes(), d.err
}

type dasm struct {
	p   *Program
	buf *bytes.Buffer
	err error
}

func (d *dasm) program() {
	d.write("program:\n")

	if len(d.p.Constants) > 0 {
		d.write("\tconstants:\n")
		for i, c := range d.p.Constants {
			switch c := c.(type) {
			case string:
				d.writef("\t\tstring\t%q\t# %03d\n", c, i)
			case float64:
				d.writef("\t\tnumber\t%g\t# %03d\n", c, i)
			case Undefined:
				d.writef("\t\tundefined\t# %03d\n", i)
			default:
				d.err = fmt.Errorf("unsupported constant type: %T", c)
				return
			}
		}
	}

	if len(d.p.Functions) > 0 {
		d.write("\tfunctions:\n")
		for i, fn := range d.p.Functions {
			d.writef("\t\tfunction %03d %d %v\t# %03d\n", fn.Entry, fn.NumParams, fn.Params, i)
		}
	}
}

func (d *dasm) code() {
	if d.err != nil {
		return
	}
	if len(d.p.Code) == 0 {
		d.err = errors.New("missing code")
		return
	}

	d.write("\tcode:\n")
	for addr := 0; addr < len(d.p.Code); {
		op := Opcode(d.p.Code[addr])
		if op > OpcodeMax {
			d.err = fmt.Errorf("illegal opcode %d at address %d", d.p.Code[addr], addr)
			return
		}
		if op.HasArg() {
			if addr+1 >= len(d.p.Code) {
				d.err = fmt.Errorf("missing operand for opcode %s at address %d", op, addr)
				return
			}
			d.writef("\t\t%s %03d\t# %03d\n", op, d.p.Code[addr+1], addr)
			addr += 2
			continue
		}
		d.writef("\t\t%s\t# %03d\n", op, addr)
		addr++
	}
}

func (d *dasm) writef(s string, args ...any) {
	d.write(fmt.Sprintf(s, args...))
}

func (d *dasm) write(s string) {
	if d.err != nil {
		return
	}
	_, d.err = d.buf.WriteString(s)
}
