package buspirate

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	errNoReadMarker = errors.New("no " + readMarker + " marker in response")
	errTokenCount   = errors.New("unexpected number of byte tokens")
	errBadToken     = errors.New("malformed byte token")
)

// ParseReadTokens extracts the bytes of a raw read from adapter output such as
//
//	[r:4]\r\n/CS ENABLED\r\nREAD: 0x00 0x64 0x02 0x00 \r\n
//
// Tokens are the whitespace-separated fields after the last READ: marker that
// start with "0x". Each must be "0x" and two upper-case hex digits, and there
// must be exactly n of them. Nothing is returned on any mismatch.
func ParseReadTokens(buf []byte, n int) ([]byte, error) {
	i := bytes.LastIndex(buf, []byte(readMarker))
	if i < 0 {
		return nil, errNoReadMarker
	}

	out := make([]byte, 0, n)
	for _, field := range bytes.Fields(buf[i+len(readMarker):]) {
		if !bytes.HasPrefix(field, []byte("0x")) && !bytes.HasPrefix(field, []byte("0X")) {
			continue
		}
		b, err := parseToken(field)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", errTokenCount, len(out), n)
	}
	return out, nil
}

func parseToken(tok []byte) (byte, error) {
	if len(tok) != 4 || tok[0] != '0' || tok[1] != 'x' {
		return 0, fmt.Errorf("%w: %q", errBadToken, tok)
	}
	hi, ok1 := hexDigit(tok[2])
	lo, ok2 := hexDigit(tok[3])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: %q", errBadToken, tok)
	}
	return hi<<4 | lo, nil
}

// hexDigit accepts only the upper-case digits the firmware prints.
func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
