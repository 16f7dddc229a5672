package consent

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// signedConsentBlob is the decoded form of a signed_consent value: a base64
// JSON container carrying the signer, signing time, and the hash of the
// consented payload.
type signedConsentBlob struct {
	SignerID    string `json:"signer_id"`
	SignedAt    string `json:"signed_at"`
	PayloadHash string `json:"payload_hash"`
	Signature   string `json:"signature"`
}

// NewSignedConsent encodes a signed consent blob. The signature field is the
// caller's client-side signature material and is carried opaquely.
func NewSignedConsent(signerID uuid.UUID, signedAt time.Time, payloadHash, signature string) (string, error) {
	blob := signedConsentBlob{
		SignerID:    signerID.String(),
		SignedAt:    signedAt.UTC().Format(time.RFC3339),
		PayloadHash: payloadHash,
		Signature:   signature,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// VerifySignedConsent performs structural validation of a signed consent
// blob: well-formed container, known signer id, extractable timestamp, and a
// present payload hash. It never errors; malformed input yields an invalid
// result with a reason.
func VerifySignedConsent(blob string) VerificationResult {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return VerificationResult{Reason: "not base64 encoded"}
	}

	var decoded signedConsentBlob
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return VerificationResult{Reason: "malformed signature container"}
	}

	signerID, err := uuid.Parse(decoded.SignerID)
	if err != nil {
		return VerificationResult{Reason: "missing or invalid signer"}
	}

	signedAt, err := time.Parse(time.RFC3339, decoded.SignedAt)
	if err != nil {
		return VerificationResult{SignerID: signerID, Reason: "timestamp not extractable"}
	}

	if decoded.PayloadHash == "" {
		t := signedAt
		return VerificationResult{SignerID: signerID, Timestamp: &t, Reason: "missing payload hash"}
	}

	t := signedAt
	return VerificationResult{IsValid: true, SignerID: signerID, Timestamp: &t}
}
