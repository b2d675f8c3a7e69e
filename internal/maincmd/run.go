package maincmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/lantana/lang/machine"
	"github.com/mna/mainer"
)

// envConfig is the environment configuration honored by the run and exec
// commands.
type envConfig struct {
	MaxSteps int `env:"LANTANA_MAX_STEPS" envDefault:"0"`
}

func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return printError(stdio, err)
	}

	for _, file := range args {
		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}

		p, err := compiler.Compile(b)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}

		th := &machine.Thread{
			Name:        file,
			Stdout:      stdio.Stdout,
			MaxSteps:    cfg.MaxSteps,
			Predeclared: DefaultBuiltins(),
		}
		if _, err := th.RunProgram(ctx, p); err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
	}
	return nil
}

// DefaultBuiltins returns the host builtins bound by the run and exec
// commands: numeric max, min and abs.
func DefaultBuiltins() map[string]machine.Value {
	return map[string]machine.Value{
		"max": machine.NewBuiltin("max", func(_ *machine.Thread, args []machine.Value) (machine.Value, error) {
			return reduceNums("max", args, math.Max)
		}),
		"min": machine.NewBuiltin("min", func(_ *machine.Thread, args []machine.Value) (machine.Value, error) {
			return reduceNums("min", args, math.Min)
		}),
		"abs": machine.NewBuiltin("abs", func(_ *machine.Thread, args []machine.Value) (machine.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("abs: expected 1 argument, got %d", len(args))
			}
			return machine.Float(math.Abs(machine.AsNumber(args[0]))), nil
		}),
	}
}

func reduceNums(name string, args []machine.Value, fn func(float64, float64) float64) (machine.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: expected at least 1 argument", name)
	}
	acc := machine.AsNumber(args[0])
	for _, arg := range args[1:] {
		acc = fn(acc, machine.AsNumber(arg))
	}
	return machine.Float(acc), nil
}
