package sim

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

// writeQueue keeps sink writes in order and holds back everything after
// the first failure until the next flush.
type writeQueue struct {
	pending []pendingWrite
	logger  *slog.Logger
	lastErr error
}

type pendingWrite struct {
	what string
	fn   func() error
}

func (q *writeQueue) push(what string, fn func() error) {
	q.pending = append(q.pending, pendingWrite{what: what, fn: fn})
}

// flush runs queued writes in order and stops at the first failure.
func (q *writeQueue) flush() error {
	for len(q.pending) > 0 {
		w := q.pending[0]
		if err := w.fn(); err != nil {
			q.lastErr = fmt.Errorf("%s: %w: %w", w.what, dynamo.ErrPersistence, err)
			q.logger.Warn("persistence failed, will retry", "write", w.what, "pending", len(q.pending), "error", err)
			return q.lastErr
		}
		q.pending = q.pending[1:]
	}
	q.lastErr = nil
	return nil
}

func (q *writeQueue) unresolved() error {
	if len(q.pending) == 0 {
		return nil
	}
	return errors.Join(q.lastErr, fmt.Errorf("%d writes not persisted: %w", len(q.pending), dynamo.ErrPersistence))
}
