package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// Algorithm identifies the key-encapsulation scheme of a key pair or envelope.
type Algorithm string

const (
	// AlgMLKEM768 is the post-quantum default: ML-KEM-768 encapsulation with
	// AES-256-GCM for both the record payload and the wrapped DEK.
	AlgMLKEM768 Algorithm = "ML-KEM-768+AES-256-GCM"

	// AlgRSAOAEP is the classical fallback, used when post-quantum key
	// generation is disabled by configuration.
	AlgRSAOAEP Algorithm = "RSA-OAEP-SHA256+AES-256-GCM"
)

const rsaKeyBits = 3072

// KeyPair holds one user's asymmetric key material. The private key is
// returned to the caller exactly once and is never persisted or logged by
// this package.
type KeyPair struct {
	PublicKey     []byte    `json:"public_key"`
	PrivateKey    []byte    `json:"-"`
	Algorithm     Algorithm `json:"algorithm"`
	KeySize       int       `json:"key_size"`
	SecurityLevel string    `json:"security_level"`
	GeneratedAt   time.Time `json:"generated_at"`
}

func mlkemScheme() kem.Scheme { return mlkem768.Scheme() }

// GenerateKeyPair produces fresh key material for the given algorithm.
func GenerateKeyPair(alg Algorithm) (*KeyPair, error) {
	switch alg {
	case AlgMLKEM768:
		return generateMLKEM()
	case AlgRSAOAEP:
		return generateRSA()
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrKeyGeneration, alg)
	}
}

func generateMLKEM() (*KeyPair, error) {
	pub, priv, err := mlkemScheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: ml-kem-768: %v", ErrKeyGeneration, err)
	}

	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", ErrKeyGeneration, err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal private key: %v", ErrKeyGeneration, err)
	}

	return &KeyPair{
		PublicKey:     pubBytes,
		PrivateKey:    privBytes,
		Algorithm:     AlgMLKEM768,
		KeySize:       len(pubBytes) * 8,
		SecurityLevel: "NIST-3",
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

func generateRSA() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa: %v", ErrKeyGeneration, err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", ErrKeyGeneration, err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal private key: %v", ErrKeyGeneration, err)
	}

	return &KeyPair{
		PublicKey:     pubBytes,
		PrivateKey:    privBytes,
		Algorithm:     AlgRSAOAEP,
		KeySize:       rsaKeyBits,
		SecurityLevel: "classical-128",
		GeneratedAt:   time.Now().UTC(),
	}, nil
}
