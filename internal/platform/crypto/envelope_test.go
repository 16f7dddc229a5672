package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncryptRecord_RoundTrip_MLKEM(t *testing.T) {
	kp, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	plaintext := []byte(`{"patient":"p-1","diagnosis":"hypertension"}`)
	env, err := EncryptRecord(plaintext, kp.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptRecord(env, kp.PrivateKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptRecord_RoundTrip_RSA(t *testing.T) {
	kp, err := GenerateKeyPair(AlgRSAOAEP)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	plaintext := []byte("lab result: HbA1c 6.1%")
	env, err := EncryptRecord(plaintext, kp.PublicKey, AlgRSAOAEP)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptRecord(env, kp.PrivateKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestEncryptRecord_FreshCiphertextPerCall(t *testing.T) {
	kp, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	plaintext := []byte("same plaintext twice")
	env1, err := EncryptRecord(plaintext, kp.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("first encrypt: %v", err)
	}
	env2, err := EncryptRecord(plaintext, kp.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("second encrypt: %v", err)
	}

	if env1.EncryptedPayload == env2.EncryptedPayload {
		t.Error("expected different payload ciphertexts for repeated encryption")
	}
	if env1.EncryptedKey == env2.EncryptedKey {
		t.Error("expected different encapsulated keys for repeated encryption")
	}
}

func TestDecryptRecord_WrongKeyFailsClosed(t *testing.T) {
	kp1, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	kp2, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate second key pair: %v", err)
	}

	env, err := EncryptRecord([]byte("secret"), kp1.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = DecryptRecord(env, kp2.PrivateKey)
	if !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption with wrong private key, got %v", err)
	}
}

func TestDecryptRecord_TamperedPayloadFailsClosed(t *testing.T) {
	kp, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	env, err := EncryptRecord([]byte("integrity matters"), kp.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(env.EncryptedPayload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	env.EncryptedPayload = base64.StdEncoding.EncodeToString(raw)

	_, err = DecryptRecord(env, kp.PrivateKey)
	if !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption after bit flip, got %v", err)
	}
}

func TestDecryptRecord_TamperedWrappedKeyFailsClosed(t *testing.T) {
	kp, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	env, err := EncryptRecord([]byte("wrapped key integrity"), kp.PublicKey, AlgMLKEM768)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	env.EncryptedKey = base64.StdEncoding.EncodeToString(raw)

	_, err = DecryptRecord(env, kp.PrivateKey)
	if !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption after wrapped key tampering, got %v", err)
	}
}

func TestGenerateKeyPair_UnsupportedAlgorithm(t *testing.T) {
	_, err := GenerateKeyPair(Algorithm("ROT13"))
	if !errors.Is(err, ErrKeyGeneration) {
		t.Errorf("expected ErrKeyGeneration, got %v", err)
	}
}

func TestGenerateKeyPair_MLKEMMetadata(t *testing.T) {
	kp, err := GenerateKeyPair(AlgMLKEM768)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if kp.Algorithm != AlgMLKEM768 {
		t.Errorf("algorithm = %q, want %q", kp.Algorithm, AlgMLKEM768)
	}
	if len(kp.PublicKey) == 0 || len(kp.PrivateKey) == 0 {
		t.Error("expected non-empty key material")
	}
	if kp.GeneratedAt.IsZero() {
		t.Error("expected GeneratedAt to be set")
	}
}
