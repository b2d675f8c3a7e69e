package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/lantana/lang/scanner"
	"github.com/mna/lantana/lang/token"
	"github.com/mna/mainer"
)

func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return TokenizeFiles(ctx, stdio, args...)
}

// TokenizeFiles tokenizes the source files and prints the tokens one per
// line, the raw literal following the token name for valued tokens. Tokens
// scanned before a lexical error are printed, then the error is reported on
// stderr.
func TokenizeFiles(_ context.Context, stdio mainer.Stdio, files ...string) error {
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}

		toks, err := scanner.ScanSource(b)
		for _, tok := range toks {
			switch tok.Token {
			case token.IDENT, token.NUMBER, token.STRING:
				fmt.Fprintf(stdio.Stdout, "%s\t%s\n", tok.Token, tok.Value.Raw)
			default:
				fmt.Fprintf(stdio.Stdout, "%s\n", tok.Token)
			}
		}
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
	}
	return nil
}
