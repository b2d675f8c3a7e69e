package machine

import (
	"math"
	"strconv"
	"strings"

	"github.com/mna/lantana/lang/compiler"
)

// The binary operators follow the loose coercion rules of a permissive
// dynamically typed host language. The full matrix:
//
//	==, !=   number/number: numeric; string/string: exact; functions by
//	         identity; any other pair compares the string coercions of both
//	         operands (the rule is symmetric, so operand order does not
//	         matter)
//	< > <= >= number/number: numeric, NaN compares false; string/string:
//	         lexicographic; otherwise both operands coerce to number
//	+        string concatenation if either operand is a string, numeric sum
//	         otherwise
//	- * /    numeric, IEEE semantics (divide by zero yields ±Inf or NaN)

// Truth returns the truthiness of a value: false, 0, undefined and the
// empty string are false, everything else is true.
func Truth(v Value) bool {
	switch v := v.(type) {
	case Bool:
		return bool(v)
	case Float:
		return v != 0
	case String:
		return len(v) > 0
	case UndefinedType:
		return false
	default:
		return true
	}
}

// AsString coerces a value to its string form: the raw text for strings,
// the shortest round-trip decimal form for numbers.
func AsString(v Value) string {
	switch v := v.(type) {
	case String:
		return string(v)
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Bool:
		return v.String()
	case UndefinedType:
		return "undefined"
	default:
		return "function"
	}
}

// AsNumber coerces a value to a number: booleans to 0 or 1, strings via
// decimal parsing (NaN when not a number), undefined and functions to NaN.
func AsNumber(v Value) float64 {
	switch v := v.(type) {
	case Float:
		return float64(v)
	case Bool:
		if v {
			return 1
		}
		return 0
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// Binary implements the arithmetic opcodes PLUS, MINUS, STAR and SLASH.
func Binary(op compiler.Opcode, x, y Value) Value {
	if op == compiler.PLUS {
		if isString(x) || isString(y) {
			return String(AsString(x) + AsString(y))
		}
		return Float(AsNumber(x) + AsNumber(y))
	}

	a, b := AsNumber(x), AsNumber(y)
	switch op {
	case compiler.MINUS:
		return Float(a - b)
	case compiler.STAR:
		return Float(a * b)
	default: // compiler.SLASH
		return Float(a / b)
	}
}

// Compare implements the comparison opcodes EQL, NEQ, LT, GT, LE and GE.
func Compare(op compiler.Opcode, x, y Value) bool {
	switch op {
	case compiler.EQL:
		return looseEq(x, y)
	case compiler.NEQ:
		return !looseEq(x, y)
	}

	if xs, ok := x.(String); ok {
		if ys, ok := y.(String); ok {
			return ordered(op, strings.Compare(string(xs), string(ys)) < 0,
				strings.Compare(string(xs), string(ys)) > 0, xs == ys)
		}
	}
	a, b := AsNumber(x), AsNumber(y)
	// NaN operands make every ordering false
	return ordered(op, a < b, a > b, a == b)
}

func ordered(op compiler.Opcode, lt, gt, eq bool) bool {
	switch op {
	case compiler.LT:
		return lt
	case compiler.GT:
		return gt
	case compiler.LE:
		return lt || eq
	default: // compiler.GE
		return gt || eq
	}
}

func looseEq(x, y Value) bool {
	if isFunction(x) || isFunction(y) {
		// functions compare by identity
		return x == y
	}
	if xf, ok := x.(Float); ok {
		if yf, ok := y.(Float); ok {
			return xf == yf // NaN != NaN
		}
	}
	if xs, ok := x.(String); ok {
		if ys, ok := y.(String); ok {
			return xs == ys
		}
	}
	return AsString(x) == AsString(y)
}

func isString(v Value) bool {
	_, ok := v.(String)
	return ok
}

func isFunction(v Value) bool {
	switch v.(type) {
	case *Closure, Callable:
		return true
	}
	return false
}
