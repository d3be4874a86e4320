package call

import (
	"errors"
	"sync"
	"testing"

	"github.com/Juancal1728/multichat-relay/internal/delivery"
	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/store"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

type recordingPusher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPusher) Push(ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPusher) byType(t model.EventType) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type stubSignaler struct {
	online map[string]bool
	sent   map[string][]model.Event
}

func newStubSignaler() *stubSignaler {
	return &stubSignaler{online: make(map[string]bool), sent: make(map[string][]model.Event)}
}

func (s *stubSignaler) TrySend(identity string, ev model.Event) bool {
	if !s.online[identity] {
		return false
	}
	s.sent[identity] = append(s.sent[identity], ev)
	return true
}

type callFixture struct {
	coord    Coordinator
	presence presence.Registry
	queue    *pending.Queue
	subs     *subscriber.Table
	signaler *stubSignaler
}

func newFixture(t *testing.T) *callFixture {
	t.Helper()
	dir := t.TempDir()

	history, err := store.NewFileHistoryLog(dir)
	if err != nil {
		t.Fatalf("NewFileHistoryLog: %v", err)
	}
	regStore, err := store.NewFileRegistryStore(dir)
	if err != nil {
		t.Fatalf("NewFileRegistryStore: %v", err)
	}

	groups := group.NewRegistry(regStore, nil)
	queue := pending.New()
	subs := subscriber.NewTable(nil)
	pres := presence.NewRegistry(regStore, history, groups, queue, nil)
	signaler := newStubSignaler()
	chain := delivery.NewChain(nil,
		delivery.NewPushLink(subs),
		delivery.NewSignalLink(signaler),
		delivery.NewQueueLink(queue))

	return &callFixture{
		coord:    NewCoordinator(pres, subs, chain, signaler, nil),
		presence: pres,
		queue:    queue,
		subs:     subs,
		signaler: signaler,
	}
}

func TestStartCall_RequiresBothSessions(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)

	if _, err := f.coord.StartCall("alice", "bob"); !errors.Is(err, ErrCannotStartCall) {
		t.Errorf("offline callee: error = %v, want ErrCannotStartCall", err)
	}
	if _, err := f.coord.StartCall("ghost", "alice"); !errors.Is(err, ErrCannotStartCall) {
		t.Errorf("offline caller: error = %v, want ErrCannotStartCall", err)
	}
	if _, err := f.coord.StartCall("", "alice"); !errors.Is(err, ErrCannotStartCall) {
		t.Errorf("empty caller: error = %v, want ErrCannotStartCall", err)
	}
}

func TestStartCall_PushDelivery(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)

	bob := &recordingPusher{}
	f.subs.Subscribe("bob", bob)

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if rec.Caller != "alice" || rec.Callee != "bob" || !rec.Active {
		t.Errorf("record = %+v", rec)
	}

	incoming := bob.byType(model.EventIncomingCall)
	if len(incoming) != 1 {
		t.Fatalf("bob received %d incoming-call events, want 1", len(incoming))
	}
	if incoming[0].CallID != rec.CallID || incoming[0].From != "alice" {
		t.Errorf("event = %+v", incoming[0])
	}
}

func TestStartCall_SignalFallback(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)
	f.signaler.online["bob"] = true

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if len(f.signaler.sent["bob"]) != 1 {
		t.Fatalf("signaler sent %d events, want 1", len(f.signaler.sent["bob"]))
	}
	if f.signaler.sent["bob"][0].CallID != rec.CallID {
		t.Errorf("signaled CallID = %q, want %q", f.signaler.sent["bob"][0].CallID, rec.CallID)
	}
	if f.queue.Len("bob") != 0 {
		t.Error("queue should not have been used")
	}
}

func TestStartCall_QueueFallback(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	queued := f.queue.Drain("bob")
	if len(queued) != 1 {
		t.Fatalf("queue has %d events, want 1", len(queued))
	}
	if queued[0].Type != model.EventIncomingCall || queued[0].CallID != rec.CallID {
		t.Errorf("queued event = %+v", queued[0])
	}
}

func TestAcceptCall(t *testing.T) {
	f := newFixture(t)
	f.signaler.online["alice"] = true

	if !f.coord.AcceptCall("bob", "alice", "pcm16") {
		t.Fatal("AcceptCall failed with caller online")
	}
	sent := f.signaler.sent["alice"]
	if len(sent) != 1 || sent[0].Type != model.EventCallAccepted || sent[0].Format != "pcm16" {
		t.Errorf("signaled = %+v", sent)
	}

	if f.coord.AcceptCall("bob", "offline", "pcm16") {
		t.Error("AcceptCall succeeded with caller offline")
	}
}

func TestEndCall_NotifiesBothParties(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)
	alice := &recordingPusher{}
	bob := &recordingPusher{}
	f.subs.Subscribe("alice", alice)
	f.subs.Subscribe("bob", bob)

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := f.coord.EndCall(rec.CallID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	for name, p := range map[string]*recordingPusher{"alice": alice, "bob": bob} {
		ended := p.byType(model.EventCallEnded)
		if len(ended) != 1 {
			t.Errorf("%s received %d call-ended events, want 1", name, len(ended))
			continue
		}
		if ended[0].CallID != rec.CallID {
			t.Errorf("%s: CallID = %q, want %q", name, ended[0].CallID, rec.CallID)
		}
	}
}

func TestEndCall_SubscribedButLoggedOut(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	// Bob's login session is gone but his callback subscription is not;
	// the end signal still reaches him.
	bob := &recordingPusher{}
	f.subs.Subscribe("bob", bob)
	f.presence.Logout("bob")

	if err := f.coord.EndCall(rec.CallID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if len(bob.byType(model.EventCallEnded)) != 1 {
		t.Error("subscribed party was not notified")
	}
}

func TestEndCall_UnsubscribedParty(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)
	alice := &recordingPusher{}
	f.subs.Subscribe("alice", alice)

	rec, err := f.coord.StartCall("alice", "bob")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := f.coord.EndCall(rec.CallID); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if len(alice.byType(model.EventCallEnded)) != 1 {
		t.Error("subscribed party was not notified")
	}
}

func TestEndCall_BadToken(t *testing.T) {
	f := newFixture(t)

	for _, callID := range []string{"", "alice", "alice_bob", "alice_bob_xyz"} {
		if err := f.coord.EndCall(callID); !errors.Is(err, ErrBadCallID) {
			t.Errorf("EndCall(%q) error = %v, want ErrBadCallID", callID, err)
		}
	}
}

func TestActiveCalls_Empty(t *testing.T) {
	f := newFixture(t)
	f.presence.Login("alice", 0, nil)
	f.presence.Login("bob", 0, nil)
	f.coord.StartCall("alice", "bob")

	if got := f.coord.ActiveCalls("alice"); len(got) != 0 {
		t.Errorf("ActiveCalls = %v, want empty", got)
	}
}
