package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TestnetConfig tunes the simulated testnet. The defaults model the observed
// behavior of the development chain: roughly 90% of submissions confirm after
// 2-5 seconds of latency.
type TestnetConfig struct {
	SuccessRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// DefaultTestnetConfig returns the development-chain defaults.
func DefaultTestnetConfig() TestnetConfig {
	return TestnetConfig{
		SuccessRate: 0.9,
		MinLatency:  2 * time.Second,
		MaxLatency:  5 * time.Second,
	}
}

// TestnetClient is a simulated Anchorer. Transaction hashes are derived from
// the submitted hash and a per-submission counter, so receipts are stable in
// format but unique per call.
type TestnetClient struct {
	cfg    TestnetConfig
	logger zerolog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	block uint64
	seq   uint64
}

// NewTestnetClient creates a simulated testnet client.
func NewTestnetClient(cfg TestnetConfig, logger zerolog.Logger) *TestnetClient {
	if cfg.SuccessRate <= 0 || cfg.SuccessRate > 1 {
		cfg.SuccessRate = 0.9
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &TestnetClient{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		block:  1_000_000,
	}
}

// Anchor simulates submitting hash to the testnet. It waits out the modeled
// confirmation latency (or returns early on ctx cancellation) and then either
// returns a receipt or a retryable ErrSubmission.
func (c *TestnetClient) Anchor(ctx context.Context, hash, recordType string, metadata map[string]string) (*Receipt, error) {
	c.mu.Lock()
	latency := c.cfg.MinLatency
	if d := c.cfg.MaxLatency - c.cfg.MinLatency; d > 0 {
		latency += time.Duration(c.rng.Int63n(int64(d)))
	}
	ok := c.rng.Float64() < c.cfg.SuccessRate
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrSubmission, ctx.Err())
	case <-time.After(latency):
	}

	if !ok {
		c.logger.Warn().
			Str("hash", hash).
			Str("record_type", recordType).
			Msg("testnet rejected anchor submission")
		return nil, fmt.Errorf("%w: testnet rejected transaction", ErrSubmission)
	}

	c.mu.Lock()
	c.block++
	block := c.block
	gas := 21_000 + uint64(c.rng.Int63n(40_000))
	c.mu.Unlock()

	receipt := &Receipt{
		TxHash:      txHash(hash, seq),
		BlockNumber: block,
		GasUsed:     gas,
		AnchoredAt:  time.Now().UTC(),
	}

	c.logger.Info().
		Str("hash", hash).
		Str("record_type", recordType).
		Str("tx_hash", receipt.TxHash).
		Uint64("block", receipt.BlockNumber).
		Msg("hash anchored on testnet")

	return receipt, nil
}

func txHash(hash string, seq uint64) string {
	h := sha256.New()
	h.Write([]byte(hash))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
