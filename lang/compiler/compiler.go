// Package compiler takes source code and compiles it to bytecode that can be
// executed by the virtual machine. Parsing and emission happen in a single
// pass: the recursive-descent parser emits instructions as it consumes
// tokens, backpatching forward jump addresses once their target is known. It
// also provides a textual disassembly of a compiled program.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/mna/lantana/lang/scanner"
	"github.com/mna/lantana/lang/token"
)

// Compile tokenizes and compiles a source string to a Program. It returns
// the first lexical or syntax error encountered, or a limit error if the
// generated code exceeds the capacity of the 1-byte immediate encoding.
func Compile(src []byte) (*Program, error) {
	toks, err := scanner.ScanSource(src)
	if err != nil {
		return nil, err
	}

	c := &comp{
		toks:      toks,
		prog:      &Program{},
		constants: make(map[constKey]int),
	}
	if err := c.program(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

// A comp holds the compiler state for a Program.
type comp struct {
	toks []scanner.TokenAndValue
	at   int

	prog      *Program
	constants map[constKey]int
}

// constKey identifies a constant-pool entry by its kind and textual form,
// for deduplication at insertion.
type constKey struct {
	kind byte
	text string
}

const (
	kindUndefined byte = iota
	kindNumber
	kindString
)

func (c *comp) tok() token.Token  { return c.toks[c.at].Token }
func (c *comp) val() *token.Value { return &c.toks[c.at].Value }

func (c *comp) peek() token.Token {
	if c.at+1 < len(c.toks) {
		return c.toks[c.at+1].Token
	}
	return token.EOF
}

func (c *comp) next() {
	if c.at < len(c.toks)-1 {
		c.at++
	}
}

func (c *comp) expect(want token.Token) error {
	if got := c.tok(); got != want {
		return fmt.Errorf("Expect %s, got %s", want, got)
	}
	c.next()
	return nil
}

// program compiles the top level and appends the final HALT. Function bodies
// are emitted inline as they are parsed, each preceded by a jump over the
// body.
func (c *comp) program() error {
	for c.tok() != token.EOF {
		if err := c.stmt(); err != nil {
			return err
		}
	}
	c.emit(HALT)
	if n := len(c.prog.Code); n > maxCodeLen {
		return fmt.Errorf("program too large: %d code bytes exceed the %d-byte limit", n, maxCodeLen)
	}
	return nil
}

func (c *comp) stmt() error {
	switch c.tok() {
	case token.LET:
		return c.letStmt()
	case token.PRINT:
		return c.printStmt()
	case token.FUNCTION:
		return c.funcDecl()
	case token.RETURN:
		return c.returnStmt()
	case token.IF:
		return c.ifStmt()
	case token.WHILE:
		return c.whileStmt()
	case token.LBRACE:
		return c.block()
	case token.IDENT:
		if c.peek() == token.ASSIGN {
			return c.assignStmt()
		}
		return c.exprStmt()
	default:
		return c.exprStmt()
	}
}

func (c *comp) letStmt() error {
	c.next() // let
	name := c.val().Raw
	if err := c.expect(token.IDENT); err != nil {
		return err
	}
	if err := c.expect(token.ASSIGN); err != nil {
		return err
	}
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.SEMI); err != nil {
		return err
	}
	return c.emitStore(name)
}

func (c *comp) assignStmt() error {
	name := c.val().Raw
	c.next() // identifier
	c.next() // =
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.SEMI); err != nil {
		return err
	}
	return c.emitStore(name)
}

func (c *comp) printStmt() error {
	c.next() // print
	if err := c.expect(token.LPAREN); err != nil {
		return err
	}
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.RPAREN); err != nil {
		return err
	}
	if err := c.expect(token.SEMI); err != nil {
		return err
	}
	c.emit(PRINT)
	return nil
}

func (c *comp) returnStmt() error {
	c.next() // return
	if c.tok() == token.SEMI {
		ki, err := c.undefConst()
		if err != nil {
			return err
		}
		c.emit1(CONSTANT, ki)
	} else if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.SEMI); err != nil {
		return err
	}
	c.emit(RETURN)
	return nil
}

func (c *comp) ifStmt() error {
	c.next() // if
	if err := c.expect(token.LPAREN); err != nil {
		return err
	}
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.RPAREN); err != nil {
		return err
	}
	jfalse := c.reserveJump(CJMP)
	if err := c.stmt(); err != nil {
		return err
	}
	if c.tok() == token.ELSE {
		c.next()
		jend := c.reserveJump(JMP)
		c.patchJump(jfalse)
		if err := c.stmt(); err != nil {
			return err
		}
		c.patchJump(jend)
	} else {
		c.patchJump(jfalse)
	}
	return nil
}

func (c *comp) whileStmt() error {
	loopStart := len(c.prog.Code)
	c.next() // while
	if err := c.expect(token.LPAREN); err != nil {
		return err
	}
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.RPAREN); err != nil {
		return err
	}
	jexit := c.reserveJump(CJMP)
	if err := c.stmt(); err != nil {
		return err
	}
	c.emit1(JMP, loopStart)
	c.patchJump(jexit)
	return nil
}

func (c *comp) funcDecl() error {
	c.next() // function
	name := c.val().Raw
	if err := c.expect(token.IDENT); err != nil {
		return err
	}
	if err := c.expect(token.LPAREN); err != nil {
		return err
	}

	var params []int
	if c.tok() == token.IDENT {
		for {
			ki, err := c.strConst(c.val().Raw)
			if err != nil {
				return err
			}
			params = append(params, ki)
			c.next()
			if c.tok() != token.COMMA {
				break
			}
			c.next()
		}
	}
	if err := c.expect(token.RPAREN); err != nil {
		return err
	}

	if len(c.prog.Functions) >= maxPoolLen {
		return fmt.Errorf("too many functions: limit is %d", maxPoolLen)
	}
	fn := &Funcode{NumParams: len(params), Params: params}
	c.prog.Functions = append(c.prog.Functions, fn)
	fidx := len(c.prog.Functions) - 1

	c.emit1(MAKEFUNC, fidx)
	if err := c.emitStore(name); err != nil {
		return err
	}
	jover := c.reserveJump(JMP)
	fn.Entry = len(c.prog.Code)
	if err := c.block(); err != nil {
		return err
	}

	// synthesize the implicit return of undefined
	ki, err := c.undefConst()
	if err != nil {
		return err
	}
	c.emit1(CONSTANT, ki)
	c.emit(RETURN)
	c.patchJump(jover)
	return nil
}

func (c *comp) block() error {
	if err := c.expect(token.LBRACE); err != nil {
		return err
	}
	for c.tok() != token.RBRACE && c.tok() != token.EOF {
		if err := c.stmt(); err != nil {
			return err
		}
	}
	return c.expect(token.RBRACE)
}

func (c *comp) exprStmt() error {
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.expect(token.SEMI); err != nil {
		return err
	}
	c.emit(POP)
	return nil
}

// expr compiles an equality/relational chain. All binary operators are
// left-associative; relational chains associate left, so a < b < c compares
// the boolean result of a < b with c.
func (c *comp) expr() error {
	if err := c.comparison(); err != nil {
		return err
	}
	for {
		op := c.tok()
		if op < token.EQL || op > token.GE {
			return nil
		}
		c.next()
		if err := c.comparison(); err != nil {
			return err
		}
		c.emit(binaryOp(op))
	}
}

func (c *comp) comparison() error {
	if err := c.term(); err != nil {
		return err
	}
	for {
		op := c.tok()
		if op != token.PLUS && op != token.MINUS {
			return nil
		}
		c.next()
		if err := c.term(); err != nil {
			return err
		}
		c.emit(binaryOp(op))
	}
}

func (c *comp) term() error {
	if err := c.factor(); err != nil {
		return err
	}
	for {
		op := c.tok()
		if op != token.STAR && op != token.SLASH {
			return nil
		}
		c.next()
		if err := c.factor(); err != nil {
			return err
		}
		c.emit(binaryOp(op))
	}
}

func (c *comp) factor() error {
	switch c.tok() {
	case token.NUMBER:
		ki, err := c.numConst(c.val().Num)
		if err != nil {
			return err
		}
		c.emit1(CONSTANT, ki)
		c.next()
		return nil

	case token.STRING:
		ki, err := c.strConst(c.val().Str)
		if err != nil {
			return err
		}
		c.emit1(CONSTANT, ki)
		c.next()
		return nil

	case token.LPAREN:
		c.next()
		if err := c.expr(); err != nil {
			return err
		}
		return c.expect(token.RPAREN)

	case token.IDENT:
		name := c.val().Raw
		c.next()
		ki, err := c.strConst(name)
		if err != nil {
			return err
		}
		c.emit1(LOAD, ki)
		if c.tok() != token.LPAREN {
			return nil
		}
		// call: emit each argument left to right, then CALL<argc>
		c.next()
		var argc int
		if c.tok() != token.RPAREN {
			for {
				if err := c.expr(); err != nil {
					return err
				}
				argc++
				if c.tok() != token.COMMA {
					break
				}
				c.next()
			}
		}
		if err := c.expect(token.RPAREN); err != nil {
			return err
		}
		c.emit1(CALL, argc)
		return nil

	default:
		return fmt.Errorf("Unexpected token in Factor: %s", c.tok())
	}
}

// binaryOp maps a binary operator token to its opcode. The token and opcode
// declarations keep the PLUS..GE ranges in the same order.
func binaryOp(tok token.Token) Opcode {
	return Opcode(tok - token.PLUS)
}

func (c *comp) emit(op Opcode) {
	c.prog.Code = append(c.prog.Code, byte(op))
}

func (c *comp) emit1(op Opcode, arg int) {
	c.prog.Code = append(c.prog.Code, byte(op), byte(arg))
}

// reserveJump emits a jump with a placeholder address and returns the
// offset of the instruction for later backpatching.
func (c *comp) reserveJump(op Opcode) int {
	at := len(c.prog.Code)
	c.emit1(op, 0)
	return at
}

// patchJump sets the address immediate of the jump at the given offset to
// the current end of the code stream. Overflow of the 1-byte address is
// caught by the final program size check.
func (c *comp) patchJump(at int) {
	c.prog.Code[at+1] = byte(len(c.prog.Code))
}

func (c *comp) emitStore(name string) error {
	ki, err := c.strConst(name)
	if err != nil {
		return err
	}
	c.emit1(STORE, ki)
	return nil
}

// constIdx returns the pool index for the given key, inserting the value on
// first use. The pool preserves order of first insertion.
func (c *comp) constIdx(key constKey, v any) (int, error) {
	if i, ok := c.constants[key]; ok {
		return i, nil
	}
	if len(c.prog.Constants) >= maxPoolLen {
		return 0, fmt.Errorf("too many constants: limit is %d", maxPoolLen)
	}
	c.prog.Constants = append(c.prog.Constants, v)
	i := len(c.prog.Constants) - 1
	c.constants[key] = i
	return i, nil
}

func (c *comp) numConst(f float64) (int, error) {
	return c.constIdx(constKey{kind: kindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}, f)
}

func (c *comp) strConst(s string) (int, error) {
	return c.constIdx(constKey{kind: kindString, text: s}, s)
}

func (c *comp) undefConst() (int, error) {
	return c.constIdx(constKey{kind: kindUndefined}, Undefined{})
}
