package image

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/mna/lantana/lang/compiler"
	"github.com/mna/lantana/lang/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixed permutations for deterministic tests; PackProtected draws random
// ones.
func identityPerm() []byte {
	perm := make([]byte, compiler.NumOpcodes)
	for i := range perm {
		perm[i] = byte(i + 1)
	}
	return perm
}

func reversePerm() []byte {
	perm := make([]byte, compiler.NumOpcodes)
	for i := range perm {
		perm[i] = byte(compiler.NumOpcodes - i)
	}
	return perm
}

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

func runPlain(t *testing.T, p *compiler.Program) (machine.Value, string) {
	t.Helper()
	var buf bytes.Buffer
	th := &machine.Thread{Stdout: &buf, Predeclared: testBuiltins()}
	v, err := th.RunProgram(context.Background(), p)
	require.NoError(t, err)
	return v, buf.String()
}

func runProtectedImage(t *testing.T, img string) (machine.Value, string) {
	t.Helper()
	pi, err := UnpackProtected(img)
	require.NoError(t, err)

	var buf bytes.Buffer
	th := &machine.Thread{Stdout: &buf, Predeclared: testBuiltins()}
	pi.Attach(th)
	v, err := th.RunProgram(context.Background(), pi.Program)
	require.NoError(t, err)
	return v, buf.String()
}

// retag recomputes the integrity tag of a raw protected image after a test
// mutated its payload.
func retag(b []byte) {
	binary.BigEndian.PutUint32(b[len(b)-4:], tag(b[3:len(b)-4]))
}

func TestProtectedObservationalEquivalence(t *testing.T) {
	sources := []string{
		sampleSource,
		`let a=2; function f(b){return b*10;} print( max(f(3), a+100) );`,
		`function mk(s){let c=s; function step(){c=c+1; return c;} return step;} let a=mk(0); let b=mk(100); print(a()); print(a()); print(b()); print(b());`,
		`function fact(n){if (n==0){return 1;} else {return n*fact(n-1);}} print(fact(5));`,
		`let msg="Hello"; function g(n){return msg+" "+n+"!";} print(g("JSVMP"));`,
		`return 40 + 2;`,
	}

	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			p, err := compiler.Compile([]byte(src))
			require.NoError(t, err)

			wantV, wantOut := runPlain(t, p)

			img, err := PackProtected(p)
			require.NoError(t, err)
			gotV, gotOut := runProtectedImage(t, img)

			require.Equal(t, wantOut, gotOut)
			require.Equal(t, wantV, gotV)
		})
	}
}

func TestProtectedDecodeStream(t *testing.T) {
	p := compileSample(t)

	img, err := packProtected(p, reversePerm(), 0xDEADBEEF)
	require.NoError(t, err)
	pi, err := UnpackProtected(img)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), pi.Seed)
	require.Equal(t, p.Constants, pi.Program.Constants)
	require.Equal(t, p.Functions, pi.Program.Functions)

	// the streaming decode recovers the exact logical code stream
	code := pi.Program.Code
	require.Equal(t, len(p.Code), len(code))
	decoded := make([]byte, 0, len(code))
	for pos := 0; pos < len(code); {
		op, err := pi.DecodeOpcode(code[pos], pos)
		require.NoError(t, err)
		decoded = append(decoded, byte(op))
		pos++
		if op.HasArg() {
			decoded = append(decoded, pi.DecodeOperand(code[pos], pos))
			pos++
		}
	}
	require.Equal(t, p.Code, decoded)
}

func TestProtectedSeedAndPermIndependence(t *testing.T) {
	p := compileSample(t)

	img1, err := packProtected(p, identityPerm(), 0x00000001)
	require.NoError(t, err)
	img2, err := packProtected(p, reversePerm(), 0xCAFEBABE)
	require.NoError(t, err)
	require.NotEqual(t, img1, img2)

	wantV, wantOut := runPlain(t, p)
	for _, img := range []string{img1, img2} {
		v, out := runProtectedImage(t, img)
		require.Equal(t, wantOut, out)
		require.Equal(t, wantV, v)
	}
}

func TestProtectedTamper(t *testing.T) {
	p, err := compiler.Compile([]byte(`print(1);`))
	require.NoError(t, err)
	img, err := packProtected(p, reversePerm(), 0x12345678)
	require.NoError(t, err)

	raw, err := hex.DecodeString(img)
	require.NoError(t, err)

	// every single-bit flip in the covered region must be detected
	for off := 3; off < len(raw)-4; off++ {
		for bit := 0; bit < 8; bit++ {
			mut := append([]byte(nil), raw...)
			mut[off] ^= 1 << bit
			_, err := UnpackProtected(hex.EncodeToString(mut))
			assert.EqualError(t, err, "Integrity check failed - code may be tampered", "offset %d bit %d", off, bit)
		}
	}
}

func TestProtectedTagTamper(t *testing.T) {
	img, err := PackProtected(compileSample(t))
	require.NoError(t, err)

	// mutate the last 4 hex chars (the low half of the trailing tag)
	tampered := img[:len(img)-4] + flipHex(img[len(img)-4:])
	_, err = UnpackProtected(tampered)
	require.EqualError(t, err, "Integrity check failed - code may be tampered")
}

func flipHex(s string) string {
	b, _ := hex.DecodeString(s)
	for i := range b {
		b[i] ^= 0xFF
	}
	return hex.EncodeToString(b)
}

func TestProtectedBadMagic(t *testing.T) {
	img, err := PackProtected(compileSample(t))
	require.NoError(t, err)
	raw, err := hex.DecodeString(img)
	require.NoError(t, err)

	mut := append([]byte(nil), raw...)
	mut[0] = 'W'
	_, err = UnpackProtected(hex.EncodeToString(mut))
	require.EqualError(t, err, "Bad magic number")

	_, err = UnpackProtected("")
	require.EqualError(t, err, "Bad magic number")
}

func TestProtectedBadVersion(t *testing.T) {
	img, err := PackProtected(compileSample(t))
	require.NoError(t, err)
	raw, err := hex.DecodeString(img)
	require.NoError(t, err)

	// the prefix is not covered by the tag, no retag needed
	mut := append([]byte(nil), raw...)
	mut[2] = 0x02
	_, err = UnpackProtected(hex.EncodeToString(mut))
	require.EqualError(t, err, "Bad version - expected VMP protected format v3 (with immediate encryption)")
}

func TestProtectedUnknownPhysicalOpcode(t *testing.T) {
	p, err := compiler.Compile([]byte(``)) // compiles to a lone HALT
	require.NoError(t, err)
	require.Equal(t, []byte{byte(compiler.HALT)}, p.Code)

	img, err := packProtected(p, identityPerm(), 0)
	require.NoError(t, err)
	raw, err := hex.DecodeString(img)
	require.NoError(t, err)

	// physical byte 0 is reserved and never mapped
	raw[len(raw)-5] = 0
	retag(raw)
	pi, err := UnpackProtected(hex.EncodeToString(raw))
	require.NoError(t, err)

	th := &machine.Thread{}
	pi.Attach(th)
	_, err = th.RunProgram(context.Background(), pi.Program)
	require.EqualError(t, err, "Unknown physical opcode: 0 at position 0")
}

func TestProtectedPackRejectsBadOpcode(t *testing.T) {
	_, err := packProtected(&compiler.Program{Code: []byte{200}}, identityPerm(), 0)
	require.ErrorContains(t, err, "Bad opcode 200")
}

func TestRunProtected(t *testing.T) {
	p, err := compiler.Compile([]byte(`let a = 40; return a + 2;`))
	require.NoError(t, err)
	img, err := PackProtected(p)
	require.NoError(t, err)

	v, err := RunProtected(context.Background(), img, nil)
	require.NoError(t, err)
	require.Equal(t, machine.Float(42), v)
}

func TestProtectedRejectsBadMap(t *testing.T) {
	p := compileSample(t)

	// duplicate physical byte
	perm := identityPerm()
	perm[1] = perm[0]
	img, err := packProtected(p, perm, 0)
	require.NoError(t, err)
	_, err = UnpackProtected(img)
	require.ErrorContains(t, err, "invalid opcode map")

	// wrong map length is rejected at pack time
	_, err = packProtected(p, perm[:3], 0)
	require.ErrorContains(t, err, "invalid opcode map length")
}
