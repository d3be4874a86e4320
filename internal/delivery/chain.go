package delivery

import (
	"log/slog"

	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

// Link is a single delivery mechanism tried for a recipient. Deliver
// reports whether the event was handed off to the recipient.
type Link interface {
	Name() string
	Deliver(identity string, ev model.Event) bool
}

// Signaler pushes an event over an out-of-band signaling channel such
// as a WebSocket connection. TrySend reports whether the recipient had
// a live signaling connection.
type Signaler interface {
	TrySend(identity string, ev model.Event) bool
}

// Chain tries its links in order and stops at the first that succeeds.
type Chain struct {
	logger *slog.Logger
	links  []Link
}

// NewChain assembles a delivery chain from the given links.
func NewChain(logger *slog.Logger, links ...Link) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger, links: links}
}

// Deliver walks the chain until a link accepts the event. It returns
// the name of the winning link, or "" when every link declined.
func (c *Chain) Deliver(identity string, ev model.Event) string {
	for _, link := range c.links {
		if link.Deliver(identity, ev) {
			c.logger.Debug("event delivered",
				"identity", identity,
				"type", string(ev.Type),
				"via", link.Name())
			return link.Name()
		}
	}
	c.logger.Warn("event undeliverable",
		"identity", identity,
		"type", string(ev.Type))
	return ""
}

type pushLink struct {
	subs *subscriber.Table
}

// NewPushLink delivers through a registered event subscriber.
func NewPushLink(subs *subscriber.Table) Link {
	return &pushLink{subs: subs}
}

func (l *pushLink) Name() string { return "push" }

func (l *pushLink) Deliver(identity string, ev model.Event) bool {
	return l.subs.Push(identity, ev) == nil
}

type signalLink struct {
	signaler Signaler
}

// NewSignalLink delivers through an out-of-band signaling transport.
func NewSignalLink(signaler Signaler) Link {
	return &signalLink{signaler: signaler}
}

func (l *signalLink) Name() string { return "signal" }

func (l *signalLink) Deliver(identity string, ev model.Event) bool {
	if l.signaler == nil {
		return false
	}
	return l.signaler.TrySend(identity, ev)
}

type queueLink struct {
	queue *pending.Queue
}

// NewQueueLink stores the event for later retrieval. It always
// succeeds, so it belongs at the end of a chain.
func NewQueueLink(queue *pending.Queue) Link {
	return &queueLink{queue: queue}
}

func (l *queueLink) Name() string { return "queue" }

func (l *queueLink) Deliver(identity string, ev model.Event) bool {
	l.queue.Enqueue(identity, ev)
	return true
}
