package machine_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/lantana/lang/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuiltins() map[string]machine.Value {
	return map[string]machine.Value{
		"max": machine.NewBuiltin("max", func(_ *machine.Thread, args []machine.Value) (machine.Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("max: expected 2 arguments, got %d", len(args))
			}
			a, b := machine.AsNumber(args[0]), machine.AsNumber(args[1])
			if a > b {
				return machine.Float(a), nil
			}
			return machine.Float(b), nil
		}),
	}
}

func runSource(t *testing.T, src string) (machine.Value, string, error) {
	t.Helper()

	p, err := compiler.Compile([]byte(src))
	require.NoError(t, err)

	var buf bytes.Buffer
	th := &machine.Thread{Stdout: &buf, Predeclared: testBuiltins()}
	v, err := th.RunProgram(context.Background(), p)
	return v, buf.String(), err
}

func TestExec(t *testing.T) {
	cases := []struct {
		desc string
		src  string
		out  string
	}{
		{
			"nested closures capture the whole lexical chain",
			`let a=10; function o(x){let y=5; function i(z){return x+y+z+a;} return i(7);} print(o(3));`,
			"25\n",
		},
		{
			"host builtin call",
			`let a=2; function f(b){return b*10;} print( max(f(3), a+100) );`,
			"102\n",
		},
		{
			"closure counters observe the captured environment",
			`function mk(s){let c=s; function step(){c=c+1; return c;} return step;} let a=mk(0); let b=mk(100); print(a()); print(a()); print(b()); print(b());`,
			"1\n2\n101\n102\n",
		},
		{
			"recursion",
			`function fact(n){if (n==0){return 1;} else {return n*fact(n-1);}} print(fact(5));`,
			"120\n",
		},
		{
			"string building",
			`let msg="Hello"; function g(n){return msg+" "+n+"!";} print(g("JSVMP"));`,
			"Hello JSVMP!\n",
		},
		{
			"while loop",
			`let i=0; let s=0; while (i<5) { i=i+1; s=s+i; } print(s);`,
			"15\n",
		},
		{
			"if without else",
			`if (1<2) print("yes"); if (2<1) print("no");`,
			"yes\n",
		},
		{
			"relational chains associate left",
			`print(1<2<3); print(10<2);`,
			"true\nfalse\n",
		},
		{
			"division follows IEEE semantics",
			`print(1/0); print(0-1/0); print(0/0);`,
			"+Inf\n-Inf\nNaN\n",
		},
		{
			"print coerces values",
			`print("s"); print(42); print(1==1); print(1==2);`,
			"s\n42\ntrue\nfalse\n",
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			_, out, err := runSource(t, c.src)
			require.NoError(t, err)
			require.Equal(t, c.out, out)
		})
	}
}

func TestExecResult(t *testing.T) {
	// a top-level return ends the program with its value
	v, out, err := runSource(t, `let a = 40; return a + 2;`)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, machine.Float(42), v)

	// falling off the end of the top level yields undefined
	v, _, err = runSource(t, `let a = 40;`)
	require.NoError(t, err)
	require.Equal(t, machine.Undefined, v)
}

func TestExecErrors(t *testing.T) {
	cases := []struct {
		src string
		err string
	}{
		{`print(x);`, "Undefined variable: x"},
		{`let a=1; a(2);`, "Not callable"},
		{`let s="nope"; s();`, "Not callable"},
		{`function f(a){} f(1,2);`, "arity mismatch: expect 1, got 2"},
		{`function f(a,b){} f(1);`, "arity mismatch: expect 2, got 1"},
	}

	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			_, _, err := runSource(t, c.src)
			assert.EqualError(t, err, c.err)
		})
	}
}

func TestExecBadOpcode(t *testing.T) {
	th := &machine.Thread{}
	_, err := th.RunProgram(context.Background(), &compiler.Program{Code: []byte{255}})
	require.EqualError(t, err, "Bad opcode 255")
}

func TestExecBuiltinError(t *testing.T) {
	p, err := compiler.Compile([]byte(`boom();`))
	require.NoError(t, err)

	th := &machine.Thread{Predeclared: map[string]machine.Value{
		"boom": machine.NewBuiltin("boom", func(_ *machine.Thread, _ []machine.Value) (machine.Value, error) {
			return nil, fmt.Errorf("host failure")
		}),
	}}
	_, err = th.RunProgram(context.Background(), p)
	require.EqualError(t, err, "host failure")
}

func TestExecMaxSteps(t *testing.T) {
	p, err := compiler.Compile([]byte(`while (1) {}`))
	require.NoError(t, err)

	th := &machine.Thread{MaxSteps: 100}
	_, err = th.RunProgram(context.Background(), p)
	require.ErrorContains(t, err, "thread cancelled")
}

func TestThreadReuse(t *testing.T) {
	p, err := compiler.Compile([]byte(`return 1;`))
	require.NoError(t, err)

	var th machine.Thread
	_, err = th.RunProgram(context.Background(), p)
	require.NoError(t, err)
	_, err = th.RunProgram(context.Background(), p)
	require.ErrorContains(t, err, "already executing a program")
}
