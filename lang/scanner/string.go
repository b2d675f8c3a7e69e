package scanner

import (
	"errors"
	"strings"
)

var errUnterminated = errors.New("Unterminated string")

// shortString scans a double-quoted string literal. It expects the opening
// quote to be consumed. It returns the raw literal including the quotes and
// the decoded string value.
func (s *Scanner) shortString() (lit, decoded string, err error) {
	// '"' opening already consumed, hence the -1
	startOff := s.off - 1

	var sb strings.Builder
	for {
		cur := s.cur
		if cur < 0 {
			return "", "", errUnterminated
		}
		s.advance()
		if cur == '"' {
			break
		}
		if cur == '\\' {
			esc := s.cur
			if esc < 0 {
				return "", "", errUnterminated
			}
			s.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				// unknown escapes pass the escaped character through,
				// which also covers \\ and \"
				sb.WriteByte(byte(esc))
			}
			continue
		}
		// bytes are copied through untouched so that multi-byte UTF-8
		// sequences in the source survive as-is
		sb.WriteByte(byte(cur))
	}
	return string(s.src[startOff:s.off]), sb.String(), nil
}
