package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"time"
)

// Envelope is the hybrid-encrypted form of a record payload, bound to a
// single recipient. The payload is sealed under a fresh data-encryption key
// (DEK) and the DEK is sealed under the recipient's public key. One envelope
// exists per (record, recipient) pair; envelopes are immutable once created.
type Envelope struct {
	EncryptedPayload string    `json:"encrypted_payload"`
	EncryptedKey     string    `json:"encrypted_key"`
	Algorithm        Algorithm `json:"algorithm"`
	Timestamp        time.Time `json:"timestamp"`
}

const dekSize = 32 // AES-256

// generateDEK returns a fresh random data-encryption key. A DEK is used for
// exactly one envelope and never reused.
func generateDEK() ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("%w: generate DEK: %v", ErrEncryption, err)
	}
	return dek, nil
}

// sealGCM encrypts data under key with AES-256-GCM and returns the nonce
// prepended to the ciphertext.
func sealGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	return aead.Seal(nonce, nonce, data, nil), nil
}

// openGCM extracts the nonce from the front of data and decrypts the rest.
func openGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// EncryptRecord seals plaintext for the holder of recipientPublic. A fresh
// DEK is generated per call, so encrypting the same plaintext twice yields
// different ciphertexts and different encapsulated keys.
func EncryptRecord(plaintext, recipientPublic []byte, alg Algorithm) (*Envelope, error) {
	dek, err := generateDEK()
	if err != nil {
		return nil, err
	}

	payload, err := sealGCM(dek, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: seal payload: %v", ErrEncryption, err)
	}

	var wrapped []byte
	switch alg {
	case AlgMLKEM768:
		wrapped, err = wrapDEKMLKEM(dek, recipientPublic)
	case AlgRSAOAEP:
		wrapped, err = wrapDEKRSA(dek, recipientPublic)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrEncryption, alg)
	}
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EncryptedPayload: base64.StdEncoding.EncodeToString(payload),
		EncryptedKey:     base64.StdEncoding.EncodeToString(wrapped),
		Algorithm:        alg,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// DecryptRecord is the exact inverse of EncryptRecord. Any failure at either
// stage — unwrap of the DEK or open of the payload — returns ErrDecryption;
// corrupted plaintext is never returned.
func DecryptRecord(env *Envelope, privateKey []byte) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode encrypted key: %v", ErrDecryption, err)
	}
	payload, err := base64.StdEncoding.DecodeString(env.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrDecryption, err)
	}

	var dek []byte
	switch env.Algorithm {
	case AlgMLKEM768:
		dek, err = unwrapDEKMLKEM(wrapped, privateKey)
	case AlgRSAOAEP:
		dek, err = unwrapDEKRSA(wrapped, privateKey)
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrDecryption, env.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := openGCM(dek, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: open payload: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// wrapDEKMLKEM encapsulates to the recipient's ML-KEM-768 public key and
// seals the DEK under the shared secret. The result is the KEM ciphertext
// followed by the GCM-sealed DEK.
func wrapDEKMLKEM(dek, recipientPublic []byte) ([]byte, error) {
	scheme := mlkemScheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: parse recipient public key: %v", ErrEncryption, err)
	}

	kemCT, shared, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: encapsulate: %v", ErrEncryption, err)
	}

	sealed, err := sealGCM(shared, dek)
	if err != nil {
		return nil, fmt.Errorf("%w: seal DEK: %v", ErrEncryption, err)
	}

	return append(kemCT, sealed...), nil
}

func unwrapDEKMLKEM(wrapped, privateKey []byte) ([]byte, error) {
	scheme := mlkemScheme()
	if len(wrapped) <= scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrDecryption)
	}

	priv, err := scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrDecryption, err)
	}

	kemCT, sealed := wrapped[:scheme.CiphertextSize()], wrapped[scheme.CiphertextSize():]
	shared, err := scheme.Decapsulate(priv, kemCT)
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulate: %v", ErrDecryption, err)
	}

	dek, err := openGCM(shared, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap DEK: %v", ErrDecryption, err)
	}
	return dek, nil
}

func wrapDEKRSA(dek, recipientPublic []byte) ([]byte, error) {
	parsed, err := x509.ParsePKIXPublicKey(recipientPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: parse recipient public key: %v", ErrEncryption, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: recipient key is not RSA", ErrEncryption)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, dek, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap DEK: %v", ErrEncryption, err)
	}
	return wrapped, nil
}

func unwrapDEKRSA(wrapped, privateKey []byte) ([]byte, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrDecryption, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrDecryption)
	}

	dek, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap DEK: %v", ErrDecryption, err)
	}
	return dek, nil
}
