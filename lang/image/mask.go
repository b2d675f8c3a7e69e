package image

// golden-ratio odd constant, used both as the mask increment and as the tag
// multiplier
const phi32 = 0x9E3779B1

// Mask returns the keystream byte that encrypts the immediate operand byte
// at the given 0-based offset in the code stream. Opcode bytes are never
// masked. All arithmetic is unsigned 32-bit with modular wrap.
func Mask(seed uint32, off int) byte {
	x := (seed ^ uint32(off)) + phi32
	x = (x ^ (x >> 16)) * 0x85EBCA6B
	return byte(x >> 24)
}

// tag computes the keyed integrity tag over the covered region of a
// protected image: every byte after the 3-byte prefix up to and including
// the code bytes.
func tag(b []byte) uint32 {
	h := uint32(phi32)
	for _, bb := range b {
		h ^= uint32(bb)
		h *= 2654435761
	}
	return h
}
