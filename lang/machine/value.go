package machine

import (
	"fmt"
	"strconv"

	"github.com/mna/lantana/lang/compiler"
)

// Value is the interface implemented by any value manipulated by the
// machine.
type Value interface {
	// String returns the string representation of the value.
	String() string

	// Type returns a short string describing the value's type.
	Type() string
}

// A Callable value f may be the operand of a function call, f(x). Host
// builtins implement this interface; closures are dispatched by the run
// loop itself so that calls do not nest on the Go stack.
type Callable interface {
	Value
	Name() string
	CallInternal(th *Thread, args []Value) (Value, error)
}

// Float is the type of a number, an IEEE-754 double.
type Float float64

var _ Value = Float(0)

func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}

func (f Float) Type() string { return "number" }

// String is the type of a text string, an immutable sequence of bytes that
// typically holds UTF-8 encoded text.
type String string

var _ Value = String("")

func (s String) String() string { return strconv.Quote(string(s)) }
func (s String) Type() string   { return "string" }

// Bool is the type of a boolean.
type Bool bool

const (
	True  Bool = true
	False Bool = false
)

var _ Value = False

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (b Bool) Type() string { return "boolean" }

// UndefinedType is the type of Undefined. Its only legal value is Undefined.
// (We represent it as a number, not struct{}, so that Undefined may be
// constant.)
type UndefinedType byte

const Undefined = UndefinedType(0)

var _ Value = Undefined

func (UndefinedType) String() string { return "undefined" }
func (UndefinedType) Type() string   { return "undefined" }

// A Closure pairs a function descriptor with the environment captured where
// the function statement executed. It is a first-class value.
type Closure struct {
	Funcode *compiler.Funcode
	Env     *Env
}

var _ Value = (*Closure)(nil)

func (c *Closure) String() string { return fmt.Sprintf("function(%p)", c) }
func (c *Closure) Type() string   { return "function" }

// A Builtin is a function implemented by the host and exposed to bytecode
// via the global environment.
type Builtin struct {
	name string
	fn   func(th *Thread, args []Value) (Value, error)
}

var (
	_ Value    = (*Builtin)(nil)
	_ Callable = (*Builtin)(nil)
)

// NewBuiltin returns a host-callable value with the given name and
// implementation. A nil return value from the implementation is replaced by
// Undefined.
func NewBuiltin(name string, fn func(th *Thread, args []Value) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn}
}

func (b *Builtin) String() string { return fmt.Sprintf("builtin(%s)", b.name) }
func (b *Builtin) Type() string   { return "function" }
func (b *Builtin) Name() string   { return b.name }

func (b *Builtin) CallInternal(th *Thread, args []Value) (Value, error) {
	v, err := b.fn(th, args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = Undefined
	}
	return v, nil
}
