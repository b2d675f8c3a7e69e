package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/mainer"
)

func (c *Cmd) Compile(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return CompileFiles(ctx, stdio, args...)
}

// CompileFiles compiles the source files and prints the disassembly of each
// resulting program.
func CompileFiles(_ context.Context, stdio mainer.Stdio, files ...string) error {
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}

		p, err := compiler.Compile(b)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
		listing, err := compiler.Dasm(p)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
		stdio.Stdout.Write(listing)
	}
	return nil
}
