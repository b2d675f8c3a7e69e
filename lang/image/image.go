// Package image serializes compiled programs to hex-encoded byte images and
// back. Two variants exist: the plain format stores the constant pool,
// function table and code stream as-is; the protected format additionally
// permutes the opcode table per image, encrypts immediate operands with an
// offset-keyed mask and appends a keyed integrity tag over the payload.
//
// All multi-byte integers are little-endian except where noted (the
// protected seed and tag are big-endian).
package image

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/mna/lantana/lang/compiler"
)

// constant tags in the serialized pool
const (
	tagUndefined byte = 0x00
	tagNumber    byte = 0x01
	tagString    byte = 0x02
)

// Pack serializes a compiled program to the plain hex-encoded image format.
func Pack(p *compiler.Program) (string, error) {
	var buf bytes.Buffer
	if err := writePayload(&buf, p); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Unpack decodes a plain hex-encoded image. It rejects malformed hex,
// truncated or oversized streams and out-of-range indices.
func Unpack(s string) (*compiler.Program, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex image: %w", err)
	}

	r := &reader{b: b}
	p, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("trailing bytes in image: %d", len(b)-r.off)
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func writePayload(buf *bytes.Buffer, p *compiler.Program) error {
	if err := writeConstants(buf, p.Constants); err != nil {
		return err
	}
	writeFunctions(buf, p.Functions)
	writeUint32(buf, uint32(len(p.Code)))
	buf.Write(p.Code)
	return nil
}

func readPayload(r *reader) (*compiler.Program, error) {
	consts, err := readConstants(r)
	if err != nil {
		return nil, err
	}
	fns, err := readFunctions(r)
	if err != nil {
		return nil, err
	}
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	return &compiler.Program{Code: code, Constants: consts, Functions: fns}, nil
}

func writeConstants(buf *bytes.Buffer, consts []any) error {
	writeUint32(buf, uint32(len(consts)))
	for _, c := range consts {
		switch c := c.(type) {
		case compiler.Undefined:
			buf.WriteByte(tagUndefined)
		case float64:
			buf.WriteByte(tagNumber)
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(c))
			buf.Write(b[:])
		case string:
			buf.WriteByte(tagString)
			writeUint32(buf, uint32(len(c)))
			buf.WriteString(c)
		default:
			return fmt.Errorf("unsupported constant type: %T", c)
		}
	}
	return nil
}

func readConstants(r *reader) ([]any, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// cap the preallocation, the count is untrusted input
	consts := make([]any, 0, min(n, 256))
	for i := uint32(0); i < n; i++ {
		tag, err := r.uint8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagUndefined:
			consts = append(consts, compiler.Undefined{})
		case tagNumber:
			b, err := r.bytes(8)
			if err != nil {
				return nil, err
			}
			consts = append(consts, math.Float64frombits(binary.LittleEndian.Uint64(b)))
		case tagString:
			ln, err := r.uint32()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(ln))
			if err != nil {
				return nil, err
			}
			consts = append(consts, string(b))
		default:
			return nil, fmt.Errorf("invalid constant tag: %d", tag)
		}
	}
	return consts, nil
}

func writeFunctions(buf *bytes.Buffer, fns []*compiler.Funcode) {
	writeUint32(buf, uint32(len(fns)))
	for _, fn := range fns {
		writeUint32(buf, uint32(fn.Entry))
		writeUint32(buf, uint32(fn.NumParams))
		writeUint32(buf, uint32(len(fn.Params)))
		for _, ki := range fn.Params {
			writeUint32(buf, uint32(ki))
		}
	}
}

func readFunctions(r *reader) ([]*compiler.Funcode, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	fns := make([]*compiler.Funcode, 0, min(n, 256))
	for i := uint32(0); i < n; i++ {
		entry, err := r.uint32()
		if err != nil {
			return nil, err
		}
		arity, err := r.uint32()
		if err != nil {
			return nil, err
		}
		np, err := r.uint32()
		if err != nil {
			return nil, err
		}
		var params []int
		for j := uint32(0); j < np; j++ {
			ki, err := r.uint32()
			if err != nil {
				return nil, err
			}
			params = append(params, int(ki))
		}
		fns = append(fns, &compiler.Funcode{
			Entry:     int(entry),
			NumParams: int(arity),
			Params:    params,
		})
	}
	return fns, nil
}

// validate checks the structural invariants of a decoded plain program:
// known opcodes, in-range constant, function and jump operands, and
// consistent function descriptors.
func validate(p *compiler.Program) error {
	for i, fn := range p.Functions {
		if fn.Entry < 0 || fn.Entry >= len(p.Code) {
			return fmt.Errorf("invalid function %d: entry %d out of range", i, fn.Entry)
		}
		if fn.NumParams != len(fn.Params) {
			return fmt.Errorf("invalid function %d: arity %d does not match %d parameters", i, fn.NumParams, len(fn.Params))
		}
		for _, ki := range fn.Params {
			if err := checkNameConst(p, ki); err != nil {
				return fmt.Errorf("invalid function %d: %w", i, err)
			}
		}
	}

	for addr := 0; addr < len(p.Code); {
		op := compiler.Opcode(p.Code[addr])
		if op > compiler.OpcodeMax {
			return fmt.Errorf("Bad opcode %d", p.Code[addr])
		}
		if !op.HasArg() {
			addr++
			continue
		}
		if addr+1 >= len(p.Code) {
			return fmt.Errorf("truncated instruction at %d", addr)
		}
		arg := int(p.Code[addr+1])
		switch op {
		case compiler.CONSTANT:
			if arg >= len(p.Constants) {
				return fmt.Errorf("constant index out of range: %d", arg)
			}
		case compiler.LOAD, compiler.STORE:
			if err := checkNameConst(p, arg); err != nil {
				return err
			}
		case compiler.MAKEFUNC:
			if arg >= len(p.Functions) {
				return fmt.Errorf("function index out of range: %d", arg)
			}
		case compiler.JMP, compiler.CJMP:
			if arg >= len(p.Code) {
				return fmt.Errorf("jump target out of range: %d", arg)
			}
		}
		addr += 2
	}
	return nil
}

func checkNameConst(p *compiler.Program, ki int) error {
	if ki < 0 || ki >= len(p.Constants) {
		return fmt.Errorf("constant index out of range: %d", ki)
	}
	if _, ok := p.Constants[ki].(string); !ok {
		return fmt.Errorf("constant %d is not a name", ki)
	}
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// reader decodes the binary image with truncation checks.
type reader struct {
	b   []byte
	off int
}

func (r *reader) uint8() (byte, error) {
	if r.off+1 > len(r.b) {
		return 0, fmt.Errorf("truncated image at offset %d", r.off)
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, fmt.Errorf("truncated image at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, fmt.Errorf("truncated image at offset %d", r.off)
	}
	v := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return v, nil
}
