package crypto

import "errors"

var (
	// ErrKeyGeneration indicates asymmetric key material could not be produced.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrEncryption indicates the hybrid encryption pipeline failed before
	// producing a complete envelope. No partial ciphertext is ever returned.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption indicates an integrity or unwrap failure at either stage
	// of decryption. Decryption fails closed: callers never see partial or
	// corrupted plaintext.
	ErrDecryption = errors.New("decryption failed")

	// ErrHashMismatch indicates a recomputed record digest did not match the
	// stored integrity hash.
	ErrHashMismatch = errors.New("record hash mismatch")
)
