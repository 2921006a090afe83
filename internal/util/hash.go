package util

import (
	"crypto/md5" //nolint:gosec // legacy clients only, per spec.md §4.A

	simd "github.com/minio/sha256-simd"
)

// ANSHA256 derives a 16-byte Authentication Number by truncating SHA-256(in)
// to its first 16 bytes, per spec.md §4.A. Used for modern clients
// (encryption-type >= 4). Backed by sha256-simd for AVX2/SHA-NI acceleration.
func ANSHA256(in []byte) [ANSize]byte {
	sum := simd.Sum256(in)
	var an [ANSize]byte
	copy(an[:], sum[:ANSize])
	return an
}

// SHA256Full returns the full 32-byte SHA-256 digest of in, used by Merkle
// leaf/node hashing (spec.md §4.I) where the full digest is required.
func SHA256Full(in []byte) [32]byte {
	return simd.Sum256(in)
}

// ANMD5 derives a 16-byte Authentication Number via legacy MD5(in), used only
// when a client advertises encryption-type < 4 (spec.md §4.A).
func ANMD5(in []byte) [ANSize]byte {
	sum := md5.Sum(in)
	var an [ANSize]byte
	copy(an[:], sum[:])
	return an
}

// DeriveAN picks ANSHA256 or ANMD5 based on the client's advertised
// encryption type, per spec.md §4.F/§4.J ("SHA-256-truncated for modern
// clients (encryption-type >= 4), MD5 for legacy").
func DeriveAN(encryptionType byte, in []byte) [ANSize]byte {
	if encryptionType >= 4 {
		return ANSHA256(in)
	}
	return ANMD5(in)
}
