package subscriber

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/model"
)

// ErrNotSubscribed is returned when no push callback is registered for
// the identity.
var ErrNotSubscribed = errors.New("identity not subscribed")

// Table maps identities to live push-callback handles. Entries are weak:
// the first failed push removes the entry; it is never retried.
type Table struct {
	logger *slog.Logger
	subs   sync.Map // identity -> model.Pusher
}

// NewTable creates an empty subscriber table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{logger: logger}
}

// Subscribe registers a push callback for an identity, replacing any
// previous one.
func (t *Table) Subscribe(identity string, cb model.Pusher) {
	t.subs.Store(identity, cb)
	t.logger.Debug("subscriber registered", "identity", identity)
}

// Unsubscribe removes the identity's callback if present.
func (t *Table) Unsubscribe(identity string) {
	t.subs.Delete(identity)
}

// Subscribed reports whether a callback is registered for the identity.
func (t *Table) Subscribed(identity string) bool {
	_, ok := t.subs.Load(identity)
	return ok
}

// Push delivers an event through the identity's callback. A failing
// callback is removed before the error is returned so the caller can
// fall back to another channel.
func (t *Table) Push(identity string, ev model.Event) error {
	v, ok := t.subs.Load(identity)
	if !ok {
		return ErrNotSubscribed
	}

	if err := v.(model.Pusher).Push(ev); err != nil {
		t.subs.Delete(identity)
		t.logger.Warn("removed stale subscriber",
			"identity", identity,
			"error", err,
		)
		return err
	}
	return nil
}

// Count reports the number of registered subscribers.
func (t *Table) Count() int {
	n := 0
	t.subs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
