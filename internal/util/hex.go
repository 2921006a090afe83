package util

import "fmt"

// Hex2Bin decodes 2*n case-insensitive hex digits from hex into out, which
// must be at least n bytes long. It returns an error rather than panicking
// on malformed input, since hex almost always originates from a config file
// or the wire.
func Hex2Bin(hex string, out []byte, n int) error {
	if len(hex) != 2*n {
		return fmt.Errorf("util: hex2bin: want %d hex chars, got %d", 2*n, len(hex))
	}
	if len(out) < n {
		return fmt.Errorf("util: hex2bin: output buffer too small (%d < %d)", len(out), n)
	}
	for i := 0; i < n; i++ {
		hi, err := hexNibble(hex[2*i])
		if err != nil {
			return err
		}
		lo, err := hexNibble(hex[2*i+1])
		if err != nil {
			return err
		}
		out[i] = hi<<4 | lo
	}
	return nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("util: hex2bin: invalid hex digit %q", c)
	}
}
