package util

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes fills out[:n] from the system's cryptographically secure RNG.
// Per spec.md §4.A there is no pseudo-random fallback: a failure to read
// from the OS CSPRNG is surfaced as an error, never silently degraded.
func RandomBytes(out []byte, n int) error {
	if len(out) < n {
		return fmt.Errorf("util: random_bytes: output buffer too small (%d < %d)", len(out), n)
	}
	if _, err := rand.Read(out[:n]); err != nil {
		return fmt.Errorf("util: random_bytes: %w", err)
	}
	return nil
}
