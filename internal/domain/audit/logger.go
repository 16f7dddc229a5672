package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/anchor/internal/platform/crypto"
)

// Logger appends audit entries for every security-relevant operation. Audit
// writes are best-effort by contract: a failed insert is logged locally and
// never surfaced to the caller, so audit failures cannot break the primary
// user-facing operation.
type Logger struct {
	repo Repository
	log  zerolog.Logger
}

func NewLogger(repo Repository, log zerolog.Logger) *Logger {
	return &Logger{repo: repo, log: log}
}

// Log appends one entry. The acting user must be set on the entry by the
// caller; when it is absent the write is skipped with a local warning.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if e.UserID == uuid.Nil {
		l.log.Warn().
			Str("action", e.Action).
			Str("resource", e.Resource).
			Msg("audit entry dropped: no acting user")
		return
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	if err := l.repo.Insert(ctx, &e); err != nil {
		l.log.Warn().
			Err(err).
			Str("action", e.Action).
			Str("resource", e.Resource).
			Str("target_id", e.TargetID).
			Msg("audit write failed")
	}
}

// Service exposes read operations over the audit log for operators.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// BatchDigest hashes the ordered audit entries recorded since the given time
// into a single tamper-evidence digest. Entries are canonicalized
// individually and hashed as one length-prefixed batch.
func (s *Service) BatchDigest(ctx context.Context, since time.Time, limit int) (string, int, error) {
	entries, err := s.repo.ListSince(ctx, since, limit)
	if err != nil {
		return "", 0, err
	}

	canonicals := make([][]byte, 0, len(entries))
	for _, e := range entries {
		c, err := crypto.Canonicalize(e)
		if err != nil {
			return "", 0, err
		}
		canonicals = append(canonicals, c)
	}
	return crypto.HashBatch(canonicals), len(entries), nil
}
