package compiler

// Increment this to force recompilation of saved bytecode images.
const Version = 0

// Undefined is the constant-pool representation of the undefined value.
// Number and string constants are represented as float64 and string.
type Undefined struct{}

// A Program is a compiled program, the unit of compilation and execution.
// The code stream starts with the top-level code; each function body is
// emitted inline where the function is declared and is skipped over by a
// jump, so that straight-line execution from offset 0 runs only the top
// level.
type Program struct {
	Code      []byte     // the byte code, starting with the top level
	Constants []any      // deduplicated pool: float64, string or Undefined
	Functions []*Funcode // function descriptors referenced by MAKEFUNC
}

// A Funcode is the descriptor of a compiled function. Immediate operands are
// a single byte, so a program can reference at most 256 constants and 256
// functions, and the code stream is capped at 255 bytes.
type Funcode struct {
	Entry     int   // offset of the function body in the code stream
	NumParams int   // declared arity
	Params    []int // constant-pool indices of the parameter names (strings)
}

// maxCodeLen caps the code stream so that every jump target fits the 1-byte
// address immediate.
const maxCodeLen = 255

// maxPoolLen caps the constant pool and the function table, indexed by
// 1-byte immediates.
const maxPoolLen = 256
