package scanner_test

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"testing"

	"github.com/mna/lantana/internal/filetest"
	"github.com/mna/lantana/internal/maincmd"
	"github.com/mna/lantana/lang/scanner"
	"github.com/mna/lantana/lang/token"
	"github.com/mna/mainer"
	"github.com/stretchr/testify/require"
)

var testUpdateScannerTests = flag.Bool("test.update-scanner-tests", false, "If set, replace expected scanner test results with actual results.")

func TestScan(t *testing.T) {
	ctx := context.Background()
	srcDir, resultDir := filepath.Join("testdata", "in"), filepath.Join("testdata", "out")

	for _, fi := range filetest.SourceFiles(t, srcDir, ".lan") {
		t.Run(fi.Name(), func(t *testing.T) {
			var buf, ebuf bytes.Buffer
			stdio := mainer.Stdio{
				Stdout: &buf,
				Stderr: &ebuf,
			}

			// error is ignored, we just want it to be printed to ebuf
			_ = maincmd.TokenizeFiles(ctx, stdio, filepath.Join(srcDir, fi.Name()))
			filetest.DiffOutput(t, fi, buf.String(), resultDir, testUpdateScannerTests)
			filetest.DiffErrors(t, fi, ebuf.String(), resultDir, testUpdateScannerTests)
		})
	}
}

func TestScanTokens(t *testing.T) {
	cases := []struct {
		in   string
		toks []token.Token
	}{
		{"", []token.Token{token.EOF}},
		{"  \t\r\n", []token.Token{token.EOF}},
		{"// comment only", []token.Token{token.EOF}},
		{"let x = 1;", []token.Token{token.LET, token.IDENT, token.ASSIGN, token.NUMBER, token.SEMI, token.EOF}},
		{"a == b != c <= d >= e < f > g", []token.Token{
			token.IDENT, token.EQL, token.IDENT, token.NEQ, token.IDENT,
			token.LE, token.IDENT, token.GE, token.IDENT, token.LT,
			token.IDENT, token.GT, token.IDENT, token.EOF,
		}},
		{"function f(a, b) { return a * b / 2 - 1; }", []token.Token{
			token.FUNCTION, token.IDENT, token.LPAREN, token.IDENT, token.COMMA,
			token.IDENT, token.RPAREN, token.LBRACE, token.RETURN, token.IDENT,
			token.STAR, token.IDENT, token.SLASH, token.NUMBER, token.MINUS,
			token.NUMBER, token.SEMI, token.RBRACE, token.EOF,
		}},
		{"if (x) {} else while (y) print(z);", []token.Token{
			token.IF, token.LPAREN, token.IDENT, token.RPAREN, token.LBRACE,
			token.RBRACE, token.ELSE, token.WHILE, token.LPAREN, token.IDENT,
			token.RPAREN, token.PRINT, token.LPAREN, token.IDENT, token.RPAREN,
			token.SEMI, token.EOF,
		}},
		{`_id $dollar letter9`, []token.Token{token.IDENT, token.IDENT, token.IDENT, token.EOF}},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			toks, err := scanner.ScanSource([]byte(c.in))
			require.NoError(t, err)
			got := make([]token.Token, len(toks))
			for i, tok := range toks {
				got[i] = tok.Token
			}
			require.Equal(t, c.toks, got)
		})
	}
}

func TestScanValues(t *testing.T) {
	toks, err := scanner.ScanSource([]byte(`lets 042 "a\n\t\r\\\"\q" zs`))
	require.NoError(t, err)
	require.Len(t, toks, 5)

	// "lets" is an identifier, not the let keyword
	require.Equal(t, token.IDENT, toks[0].Token)
	require.Equal(t, "lets", toks[0].Value.Raw)

	require.Equal(t, token.NUMBER, toks[1].Token)
	require.Equal(t, float64(42), toks[1].Value.Num)
	require.Equal(t, "042", toks[1].Value.Raw)

	// known escapes decode, unknown escapes pass the character through
	require.Equal(t, token.STRING, toks[2].Token)
	require.Equal(t, "a\n\t\r\\\"q", toks[2].Value.Str)
	require.Equal(t, `"a\n\t\r\\\"\q"`, toks[2].Value.Raw)

	require.Equal(t, token.IDENT, toks[3].Token)
	require.Equal(t, token.EOF, toks[4].Token)
}

func TestScanErrors(t *testing.T) {
	cases := []struct {
		in  string
		err string
	}{
		{"let a = @;", "Unexpected char @"},
		{"a ! b", "Unexpected char !"},
		{"a & b", "Unexpected char &"},
		{"#", "Unexpected char #"},
		{`"abc`, "Unterminated string"},
		{`"abc\`, "Unterminated string"},
		{`let s = "ab
cd";`, ""}, // newlines are allowed inside string literals
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			_, err := scanner.ScanSource([]byte(c.in))
			if c.err == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, c.err)
			}
		})
	}
}
