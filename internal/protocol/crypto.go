package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// ctrIV builds a 16-byte (block-size) IV for AES-CTR from whatever nonce
// material is available (the request's 8-byte truncated nonce when
// decrypting a request body, or the freshly generated 12-byte response
// nonce when encrypting a response), left-aligned and zero-padded.
func ctrIV(nonce []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	n := copy(iv, nonce)
	_ = n
	return iv
}

// DecryptBody reverses AES-CTR encryption of a request body using the
// 16-byte AN of the coin (or locker) referenced by the request's encryption
// fields as the key, and the request nonce as the counter seed.
func DecryptBody(key [16]byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	return xorCTR(key, nonce, ciphertext)
}

// EncryptBody applies AES-CTR to a response body using the same key the
// request was decrypted with, but the response's own freshly generated
// nonce (never the request's — spec.md §9 "Nonce reuse").
func EncryptBody(key [16]byte, nonce []byte, plaintext []byte) ([]byte, error) {
	return xorCTR(key, nonce, plaintext)
}

// xorCTR is shared by encrypt/decrypt: AES-CTR is a stream cipher, so
// applying it twice with the same key/IV is its own inverse.
func xorCTR(key [16]byte, nonce []byte, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("protocol: aes cipher: %w", err)
	}
	stream := cipher.NewCTR(block, ctrIV(nonce))
	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)
	return out, nil
}
