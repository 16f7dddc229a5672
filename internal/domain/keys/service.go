package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medrec/anchor/internal/domain/audit"
	"github.com/medrec/anchor/internal/platform/crypto"
)

// Service manages per-user asymmetric key material. It persists public keys
// only; private keys pass through to the caller for local custody and are
// never stored or logged.
type Service struct {
	repo    Repository
	auditor *audit.Logger
	alg     crypto.Algorithm
}

// NewService creates a key management service generating keys with the given
// algorithm (post-quantum ML-KEM by default, classical RSA when configured).
func NewService(repo Repository, auditor *audit.Logger, alg crypto.Algorithm) *Service {
	if alg == "" {
		alg = crypto.AlgMLKEM768
	}
	return &Service{repo: repo, auditor: auditor, alg: alg}
}

// EnsureKeyPair returns the user's active public key, generating and
// persisting a new pair when none exists. The private key is present in the
// result only on the generating call. Callers must not proceed to encrypt
// for a recipient without a valid public key.
func (s *Service) EnsureKeyPair(ctx context.Context, actingUser, userID uuid.UUID) (*Issued, error) {
	existing, err := s.repo.GetActiveByUser(ctx, userID)
	if err == nil {
		return &Issued{
			PublicKey:     existing.PublicKey,
			Algorithm:     existing.Algorithm,
			HasPrivateKey: false,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("keys: lookup active key: %w", err)
	}

	pair, err := crypto.GenerateKeyPair(s.alg)
	if err != nil {
		s.auditor.Log(ctx, audit.Entry{
			UserID:   actingUser,
			Action:   audit.ActionKeyIssued,
			Resource: "user_keys",
			Status:   audit.StatusError,
			Details:  "key generation failed",
			TargetID: userID.String(),
		})
		return nil, err
	}

	row := &UserKey{
		UserID:        userID,
		PublicKey:     pair.PublicKey,
		Algorithm:     pair.Algorithm,
		KeySize:       pair.KeySize,
		SecurityLevel: pair.SecurityLevel,
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		// A concurrent caller may have won first-time issuance; fall back to
		// the stored key so the operation stays idempotent.
		if stored, lookupErr := s.repo.GetActiveByUser(ctx, userID); lookupErr == nil {
			return &Issued{
				PublicKey:     stored.PublicKey,
				Algorithm:     stored.Algorithm,
				HasPrivateKey: false,
			}, nil
		}
		return nil, fmt.Errorf("keys: persist public key: %w", err)
	}

	s.auditor.Log(ctx, audit.Entry{
		UserID:   actingUser,
		Action:   audit.ActionKeyIssued,
		Resource: "user_keys",
		Status:   audit.StatusSuccess,
		Details:  string(pair.Algorithm),
		TargetID: userID.String(),
	})

	return &Issued{
		PublicKey:     pair.PublicKey,
		PrivateKey:    pair.PrivateKey,
		Algorithm:     pair.Algorithm,
		HasPrivateKey: true,
	}, nil
}

// RecipientPublicKey returns the active public key for an encryption
// recipient, or ErrNotFound when the recipient has never been issued one.
func (s *Service) RecipientPublicKey(ctx context.Context, recipientID uuid.UUID) (*UserKey, error) {
	return s.repo.GetActiveByUser(ctx, recipientID)
}

// Rotate supersedes the user's current key and issues a fresh pair. Old key
// rows are kept so existing envelopes remain attributable to the key that
// wrapped them.
func (s *Service) Rotate(ctx context.Context, actingUser, userID uuid.UUID) (*Issued, error) {
	if err := s.repo.Supersede(ctx, userID); err != nil {
		return nil, fmt.Errorf("keys: supersede: %w", err)
	}
	return s.EnsureKeyPair(ctx, actingUser, userID)
}
