// Package chain submits integrity hashes to a blockchain network and reports
// the resulting transaction references. The production backend is expected to
// be a JSON-RPC testnet endpoint; the simulated client in testnet.go models
// its latency and failure characteristics for development and tests.
package chain

import (
	"context"
	"errors"
	"time"
)

// ErrSubmission indicates a network or chain failure while anchoring a hash.
// Submissions failing with this error are retryable.
var ErrSubmission = errors.New("anchor submission failed")

// Receipt is the on-chain result of a successful anchor submission.
type Receipt struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	GasUsed     uint64    `json:"gas_used"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// Anchorer submits a record hash plus metadata to the chain. Implementations
// must honor ctx cancellation and deadlines.
type Anchorer interface {
	Anchor(ctx context.Context, hash, recordType string, metadata map[string]string) (*Receipt, error)
}
