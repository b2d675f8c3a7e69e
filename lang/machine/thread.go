package machine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/mna/lantana/lang/compiler"
)

type Thread struct {
	// Name is an optional name that describes the thread, mostly for
	// debugging.
	Name string

	// Stdout is where the PRINT instruction writes its output. If nil,
	// os.Stdout is used.
	Stdout io.Writer

	// MaxSteps is the maximum number of "steps", a deliberately unspecified
	// measure of machine execution time, before the thread is cancelled. A
	// value <= 0 means no limit.
	MaxSteps int

	// Predeclared is the set of host builtins and other values bound into
	// the global environment before execution begins.
	Predeclared map[string]Value

	// DecodeOpcode, if set, maps each fetched code byte to its logical
	// opcode; it is how a protected image decodes its permuted opcode table
	// on the fly. When nil, code bytes are the logical opcodes.
	DecodeOpcode func(b byte, pos int) (compiler.Opcode, error)

	// DecodeOperand, if set, is applied to each immediate operand byte as it
	// is consumed, with its absolute offset in the code stream; it is how a
	// protected image decrypts immediates on the fly.
	DecodeOperand func(b byte, pos int) byte

	ctx       context.Context
	ctxCancel func()
	cancelled atomic.Bool

	steps, maxSteps uint64

	stdout io.Writer
}

// RunProgram executes a compiled program on the thread and returns its
// top-level result. A thread runs a single program; runtime errors leave the
// thread in an unspecified state and it must be discarded.
func (th *Thread) RunProgram(ctx context.Context, p *compiler.Program) (Value, error) {
	if th.ctx != nil {
		return nil, fmt.Errorf("thread %s is already executing a program", th.Name)
	}

	ctx, cancel := context.WithCancel(ctx)
	th.ctx = ctx
	th.ctxCancel = cancel
	defer cancel()
	th.init()

	return run(th, p)
}

func (th *Thread) init() {
	if th.MaxSteps <= 0 {
		th.maxSteps-- // (MaxUint64)
	} else {
		th.maxSteps = uint64(th.MaxSteps)
	}
	if th.Stdout != nil {
		th.stdout = th.Stdout
	} else {
		th.stdout = os.Stdout
	}
	go func() {
		<-th.ctx.Done()
		th.cancelled.Store(true)
	}()
}
