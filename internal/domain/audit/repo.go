package audit

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error)
	// ListSince returns entries recorded at or after the given time, ordered
	// oldest-first, for batch integrity hashing.
	ListSince(ctx context.Context, since time.Time, limit int) ([]*Entry, error)
}
