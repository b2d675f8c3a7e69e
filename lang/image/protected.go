package image

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"

	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/lantana/lang/machine"
)

// protected image prefix
const (
	magic0  = 'V'
	magic1  = 'M'
	version = 0x03
)

var (
	errBadMagic   = errors.New("Bad magic number")
	errBadVersion = errors.New("Bad version - expected VMP protected format v3 (with immediate encryption)")
	errIntegrity  = errors.New("Integrity check failed - code may be tampered")
)

// PackProtected serializes a compiled program to the protected hex-encoded
// image format: the opcode table is replaced by a fresh random permutation,
// immediate operands are encrypted with an offset-keyed mask derived from a
// fresh random seed, and the payload is sealed with a keyed integrity tag.
func PackProtected(p *compiler.Program) (string, error) {
	return packProtected(p, permutation(), rand.Uint32())
}

func packProtected(p *compiler.Program, perm []byte, seed uint32) (string, error) {
	if len(perm) != compiler.NumOpcodes {
		return "", fmt.Errorf("invalid opcode map length: %d", len(perm))
	}

	var buf bytes.Buffer
	buf.Write([]byte{magic0, magic1, version})

	if err := writeConstants(&buf, p.Constants); err != nil {
		return "", err
	}
	writeFunctions(&buf, p.Functions)

	buf.WriteByte(byte(len(perm)))
	buf.Write(perm)

	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], seed)
	buf.Write(b4[:])

	writeUint32(&buf, uint32(len(p.Code)))
	for addr := 0; addr < len(p.Code); {
		op := compiler.Opcode(p.Code[addr])
		if op > compiler.OpcodeMax {
			return "", fmt.Errorf("Bad opcode %d", p.Code[addr])
		}
		buf.WriteByte(perm[op])
		addr++
		if op.HasArg() {
			if addr >= len(p.Code) {
				return "", fmt.Errorf("truncated instruction at %d", addr-1)
			}
			buf.WriteByte(p.Code[addr] ^ Mask(seed, addr))
			addr++
		}
	}

	binary.BigEndian.PutUint32(b4[:], tag(buf.Bytes()[3:]))
	buf.Write(b4[:])

	return hex.EncodeToString(buf.Bytes()), nil
}

// permutation draws a uniform random permutation of 1..NumOpcodes; 0 is
// reserved as a never-used physical byte.
func permutation() []byte {
	perm := make([]byte, compiler.NumOpcodes)
	for i := range perm {
		perm[i] = byte(i + 1)
	}
	rand.Shuffle(len(perm), func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})
	return perm
}

// A Protected is a decoded protected image whose integrity tag has been
// verified. Its code stream is still permuted and encrypted; it is decoded
// on the fly during execution.
type Protected struct {
	Program *compiler.Program
	Seed    uint32

	perm    []byte
	inverse [256]int16
}

// UnpackProtected decodes and validates a protected hex-encoded image. The
// integrity tag is verified over the whole payload before any of it is
// interpreted, so any tampering with the covered region is reported as an
// integrity error.
func UnpackProtected(s string) (*Protected, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex image: %w", err)
	}

	if len(b) < 3 || b[0] != magic0 || b[1] != magic1 {
		return nil, errBadMagic
	}
	if b[2] != version {
		return nil, errBadVersion
	}
	if len(b) < 3+4 {
		return nil, fmt.Errorf("truncated image at offset %d", len(b))
	}

	covered := b[3 : len(b)-4]
	want := binary.BigEndian.Uint32(b[len(b)-4:])
	if tag(covered) != want {
		return nil, errIntegrity
	}

	r := &reader{b: covered}
	consts, err := readConstants(r)
	if err != nil {
		return nil, err
	}
	fns, err := readFunctions(r)
	if err != nil {
		return nil, err
	}

	mapLen, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if int(mapLen) != compiler.NumOpcodes {
		return nil, fmt.Errorf("invalid opcode map length: %d", mapLen)
	}
	perm, err := r.bytes(int(mapLen))
	if err != nil {
		return nil, err
	}

	pi := &Protected{perm: perm}
	for i := range pi.inverse {
		pi.inverse[i] = -1
	}
	for i, phys := range perm {
		if phys == 0 || int(phys) > len(perm) || pi.inverse[phys] != -1 {
			return nil, fmt.Errorf("invalid opcode map: physical byte %d", phys)
		}
		pi.inverse[phys] = int16(i)
	}

	sb, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	pi.Seed = binary.BigEndian.Uint32(sb)

	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	if r.off != len(covered) {
		return nil, fmt.Errorf("trailing bytes in image: %d", len(covered)-r.off)
	}

	pi.Program = &compiler.Program{Code: code, Constants: consts, Functions: fns}
	return pi, nil
}

// DecodeOpcode maps a fetched physical code byte to its logical opcode
// through the inverse permutation.
func (pi *Protected) DecodeOpcode(b byte, pos int) (compiler.Opcode, error) {
	if l := pi.inverse[b]; l >= 0 {
		return compiler.Opcode(l), nil
	}
	return 0, fmt.Errorf("Unknown physical opcode: %d at position %d", b, pos)
}

// DecodeOperand decrypts an immediate operand byte at its absolute offset in
// the code stream.
func (pi *Protected) DecodeOperand(b byte, pos int) byte {
	return b ^ Mask(pi.Seed, pos)
}

// Attach wires the streaming decode of this image into a thread, which can
// then execute pi.Program.
func (pi *Protected) Attach(th *machine.Thread) {
	th.DecodeOpcode = pi.DecodeOpcode
	th.DecodeOperand = pi.DecodeOperand
}

// RunProtected unpacks, validates and executes a protected image with the
// given host builtins. The integrity check happens before any instruction is
// executed; a tampered image never runs.
func RunProtected(ctx context.Context, image string, builtins map[string]machine.Value) (machine.Value, error) {
	pi, err := UnpackProtected(image)
	if err != nil {
		return nil, err
	}

	th := &machine.Thread{Predeclared: builtins}
	pi.Attach(th)
	return th.RunProgram(ctx, pi.Program)
}
