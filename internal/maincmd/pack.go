package maincmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/lantana/lang/image"
	"github.com/mna/lantana/lang/machine"
	"github.com/mna/mainer"
)

func (c *Cmd) Pack(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, file := range args {
		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}

		p, err := compiler.Compile(b)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}

		var img string
		if c.Protect {
			img, err = image.PackProtected(p)
		} else {
			img, err = image.Pack(p)
		}
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
		fmt.Fprintln(stdio.Stdout, img)
	}
	return nil
}

func (c *Cmd) Exec(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return printError(stdio, err)
	}

	for _, file := range args {
		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}
		img := strings.TrimSpace(string(b))

		th := &machine.Thread{
			Name:        file,
			Stdout:      stdio.Stdout,
			MaxSteps:    cfg.MaxSteps,
			Predeclared: DefaultBuiltins(),
		}

		var p *compiler.Program
		if c.Protect {
			pi, err := image.UnpackProtected(img)
			if err != nil {
				return printError(stdio, fmt.Errorf("%s: %w", file, err))
			}
			pi.Attach(th)
			p = pi.Program
		} else {
			if p, err = image.Unpack(img); err != nil {
				return printError(stdio, fmt.Errorf("%s: %w", file, err))
			}
		}

		if _, err := th.RunProgram(ctx, p); err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
	}
	return nil
}
