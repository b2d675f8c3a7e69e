// Package machine implements the virtual machine that executes the
// bytecode-compiled form of the source code. It also provides the runtime
// representation of the values manipulated by a program.
package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mna/lantana/lang/compiler"
)

var errStackUnderflow = errors.New("stack underflow")

// A frame is saved on the call stack when a closure is called and restored
// when it returns.
type frame struct {
	retPC int
	env   *Env
}

func run(th *Thread, p *compiler.Program) (Value, error) {
	// create the value denoted by each program constant
	consts := make([]Value, len(p.Constants))
	for i, c := range p.Constants {
		switch c := c.(type) {
		case float64:
			consts[i] = Float(c)
		case string:
			consts[i] = String(c)
		case compiler.Undefined:
			consts[i] = Undefined
		default:
			return nil, fmt.Errorf("unsupported constant type: %T", c)
		}
	}

	// the global environment is per-execution, pre-populated with the host
	// builtins
	env := NewEnv(nil)
	for name, v := range th.Predeclared {
		env.Define(name, v)
	}

	var (
		stack  []Value
		frames []frame
		pc     int
	)
	code := p.Code

	for {
		th.steps++
		if th.steps >= th.maxSteps {
			return nil, errors.New("thread cancelled: maximum steps reached")
		}
		if th.cancelled.Load() {
			return nil, fmt.Errorf("thread cancelled: %s", context.Cause(th.ctx))
		}

		if pc < 0 || pc >= len(code) {
			return nil, fmt.Errorf("pc out of range: %d", pc)
		}

		opb := code[pc]
		op := compiler.Opcode(opb)
		if th.DecodeOpcode != nil {
			var err error
			if op, err = th.DecodeOpcode(opb, pc); err != nil {
				return nil, err
			}
		}
		pc++

		var arg byte
		if op.HasArg() {
			if pc >= len(code) {
				return nil, fmt.Errorf("truncated instruction at %d", pc-1)
			}
			arg = code[pc]
			if th.DecodeOperand != nil {
				arg = th.DecodeOperand(arg, pc)
			}
			pc++
		}

		switch op {
		case compiler.CONSTANT:
			if int(arg) >= len(consts) {
				return nil, fmt.Errorf("constant index out of range: %d", arg)
			}
			stack = append(stack, consts[int(arg)])

		case compiler.LOAD:
			name, err := constName(consts, int(arg))
			if err != nil {
				return nil, err
			}
			v, ok := env.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("Undefined variable: %s", name)
			}
			stack = append(stack, v)

		case compiler.STORE:
			name, err := constName(consts, int(arg))
			if err != nil {
				return nil, err
			}
			if len(stack) < 1 {
				return nil, errStackUnderflow
			}
			env.Assign(name, stack[len(stack)-1])
			stack = stack[:len(stack)-1]

		case compiler.PLUS, compiler.MINUS, compiler.STAR, compiler.SLASH:
			if len(stack) < 2 {
				return nil, errStackUnderflow
			}
			y, x := stack[len(stack)-1], stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, Binary(op, x, y))

		case compiler.EQL, compiler.NEQ, compiler.LT, compiler.GT, compiler.LE, compiler.GE:
			if len(stack) < 2 {
				return nil, errStackUnderflow
			}
			y, x := stack[len(stack)-1], stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, Bool(Compare(op, x, y)))

		case compiler.PRINT:
			if len(stack) < 1 {
				return nil, errStackUnderflow
			}
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			fmt.Fprintln(th.stdout, AsString(v))

		case compiler.POP:
			if len(stack) < 1 {
				return nil, errStackUnderflow
			}
			stack = stack[:len(stack)-1]

		case compiler.MAKEFUNC:
			if int(arg) >= len(p.Functions) {
				return nil, fmt.Errorf("function index out of range: %d", arg)
			}
			stack = append(stack, &Closure{Funcode: p.Functions[int(arg)], Env: env})

		case compiler.CALL:
			n := int(arg)
			if len(stack) < n+1 {
				return nil, errStackUnderflow
			}
			// pop the arguments (first-pushed first), then the callee
			args := make([]Value, n)
			copy(args, stack[len(stack)-n:])
			stack = stack[:len(stack)-n]
			callee := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			switch callee := callee.(type) {
			case *Closure:
				fc := callee.Funcode
				if n != fc.NumParams {
					return nil, fmt.Errorf("arity mismatch: expect %d, got %d", fc.NumParams, n)
				}
				if len(fc.Params) != fc.NumParams {
					return nil, fmt.Errorf("invalid function descriptor: arity %d does not match %d parameters", fc.NumParams, len(fc.Params))
				}
				frames = append(frames, frame{retPC: pc, env: env})
				env = NewEnv(callee.Env)
				for i, ki := range fc.Params {
					name, err := constName(consts, ki)
					if err != nil {
						return nil, err
					}
					env.Define(name, args[i])
				}
				pc = fc.Entry

			case Callable:
				v, err := callee.CallInternal(th, args)
				if err != nil {
					return nil, err
				}
				stack = append(stack, v)

			default:
				return nil, errors.New("Not callable")
			}

		case compiler.RETURN:
			var v Value = Undefined
			if len(stack) > 0 {
				v = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
			if len(frames) == 0 {
				// top-level return ends the program
				return v, nil
			}
			fr := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			pc = fr.retPC
			env = fr.env
			stack = append(stack, v)

		case compiler.JMP:
			pc = int(arg)

		case compiler.CJMP:
			if len(stack) < 1 {
				return nil, errStackUnderflow
			}
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !Truth(v) {
				pc = int(arg)
			}

		case compiler.HALT:
			if len(stack) > 0 {
				return stack[len(stack)-1], nil
			}
			return Undefined, nil

		default:
			return nil, fmt.Errorf("Bad opcode %d", opb)
		}
	}
}

// constName resolves a constant-pool index to a variable or parameter name.
func constName(consts []Value, idx int) (string, error) {
	if idx < 0 || idx >= len(consts) {
		return "", fmt.Errorf("constant index out of range: %d", idx)
	}
	s, ok := consts[idx].(String)
	if !ok {
		return "", fmt.Errorf("constant %d is not a name", idx)
	}
	return string(s), nil
}
