package delivery

import (
	"testing"

	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

type okPusher struct {
	events []model.Event
}

func (p *okPusher) Push(ev model.Event) error {
	p.events = append(p.events, ev)
	return nil
}

type stubSignaler struct {
	online bool
	sent   []model.Event
}

func (s *stubSignaler) TrySend(identity string, ev model.Event) bool {
	if !s.online {
		return false
	}
	s.sent = append(s.sent, ev)
	return true
}

func TestChain_PushWins(t *testing.T) {
	subs := subscriber.NewTable(nil)
	p := &okPusher{}
	subs.Subscribe("alice", p)
	sig := &stubSignaler{online: true}
	queue := pending.New()

	chain := NewChain(nil,
		NewPushLink(subs),
		NewSignalLink(sig),
		NewQueueLink(queue))

	via := chain.Deliver("alice", model.Event{Type: model.EventIncomingCall})
	if via != "push" {
		t.Errorf("Deliver via %q, want %q", via, "push")
	}
	if len(p.events) != 1 {
		t.Errorf("pusher received %d events, want 1", len(p.events))
	}
	if len(sig.sent) != 0 {
		t.Error("signaler should not have been tried")
	}
	if queue.Len("alice") != 0 {
		t.Error("queue should not have been tried")
	}
}

func TestChain_SignalFallback(t *testing.T) {
	subs := subscriber.NewTable(nil)
	sig := &stubSignaler{online: true}
	queue := pending.New()

	chain := NewChain(nil,
		NewPushLink(subs),
		NewSignalLink(sig),
		NewQueueLink(queue))

	via := chain.Deliver("bob", model.Event{Type: model.EventIncomingCall})
	if via != "signal" {
		t.Errorf("Deliver via %q, want %q", via, "signal")
	}
	if len(sig.sent) != 1 {
		t.Errorf("signaler sent %d events, want 1", len(sig.sent))
	}
	if queue.Len("bob") != 0 {
		t.Error("queue should not have been tried")
	}
}

func TestChain_QueueCatchAll(t *testing.T) {
	subs := subscriber.NewTable(nil)
	sig := &stubSignaler{online: false}
	queue := pending.New()

	chain := NewChain(nil,
		NewPushLink(subs),
		NewSignalLink(sig),
		NewQueueLink(queue))

	via := chain.Deliver("carol", model.Event{Type: model.EventMessage, Content: "hi"})
	if via != "queue" {
		t.Errorf("Deliver via %q, want %q", via, "queue")
	}
	if queue.Len("carol") != 1 {
		t.Errorf("queue length = %d, want 1", queue.Len("carol"))
	}
}

func TestChain_NilSignaler(t *testing.T) {
	chain := NewChain(nil, NewSignalLink(nil))

	if via := chain.Deliver("dave", model.Event{}); via != "" {
		t.Errorf("Deliver via %q, want empty", via)
	}
}

func TestChain_Empty(t *testing.T) {
	chain := NewChain(nil)

	if via := chain.Deliver("dave", model.Event{}); via != "" {
		t.Errorf("Deliver via %q, want empty", via)
	}
}
