package call

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Juancal1728/multichat-relay/internal/delivery"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

// ErrCannotStartCall is returned when either party has no current
// session.
var ErrCannotStartCall = errors.New("cannot start call: party not registered")

// ErrBadCallID is returned when a call token cannot be parsed back
// into its parties.
var ErrBadCallID = errors.New("malformed call id")

// Coordinator manages call signaling between identities.
type Coordinator interface {
	// StartCall synthesizes a call record and notifies the callee
	// through the delivery chain.
	StartCall(caller, callee string) (model.CallRecord, error)

	// AcceptCall relays a call-accepted signal back to the caller.
	AcceptCall(callee, caller, format string) bool

	// EndCall notifies both parties of the given call that it ended,
	// through their subscriber callbacks. Delivery is best effort per
	// party.
	EndCall(callID string) error

	// ActiveCalls returns the identity's in-progress calls.
	ActiveCalls(identity string) []model.CallRecord
}

type coordinator struct {
	presence presence.Registry
	subs     *subscriber.Table
	chain    *delivery.Chain
	signaler delivery.Signaler
	logger   *slog.Logger
}

// NewCoordinator creates a call signaling coordinator.
func NewCoordinator(
	pres presence.Registry,
	subs *subscriber.Table,
	chain *delivery.Chain,
	signaler delivery.Signaler,
	logger *slog.Logger,
) Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &coordinator{
		presence: pres,
		subs:     subs,
		chain:    chain,
		signaler: signaler,
		logger:   logger.With("component", "call"),
	}
}

func (c *coordinator) StartCall(caller, callee string) (model.CallRecord, error) {
	caller, ok := model.NormalizeIdentity(caller)
	if !ok {
		return model.CallRecord{}, fmt.Errorf("caller: %w", ErrCannotStartCall)
	}
	callee, ok = model.NormalizeIdentity(callee)
	if !ok {
		return model.CallRecord{}, fmt.Errorf("callee: %w", ErrCannotStartCall)
	}
	if _, ok := c.presence.Session(caller); !ok {
		return model.CallRecord{}, fmt.Errorf("%w: %s", ErrCannotStartCall, caller)
	}
	if _, ok := c.presence.Session(callee); !ok {
		return model.CallRecord{}, fmt.Errorf("%w: %s", ErrCannotStartCall, callee)
	}

	rec := model.NewCallRecord(caller, callee)
	via := c.chain.Deliver(callee, model.Event{
		Type:      model.EventIncomingCall,
		From:      caller,
		Target:    callee,
		CallID:    rec.CallID,
		Timestamp: time.Now().UnixMilli(),
	})
	c.logger.Info("call started",
		"call_id", rec.CallID, "caller", caller, "callee", callee, "via", via)
	return rec, nil
}

func (c *coordinator) AcceptCall(callee, caller, format string) bool {
	ok := c.signaler != nil && c.signaler.TrySend(caller, model.Event{
		Type:      model.EventCallAccepted,
		From:      callee,
		Target:    caller,
		Format:    format,
		Timestamp: time.Now().UnixMilli(),
	})
	if !ok {
		c.logger.Warn("call accept signal dropped", "caller", caller, "callee", callee)
	}
	return ok
}

func (c *coordinator) EndCall(callID string) error {
	caller, callee, ok := model.ParseCallID(callID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadCallID, callID)
	}

	// Notification goes through the subscriber callbacks, not the login
	// transport, so only subscribed parties hear the end signal.
	for _, party := range []string{caller, callee} {
		ev := model.Event{
			Type:      model.EventCallEnded,
			Target:    party,
			CallID:    callID,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := c.subs.Push(party, ev); err != nil {
			c.logger.Debug("call ended push skipped", "party", party, "error", err)
		}
	}
	c.logger.Info("call ended", "call_id", callID)
	return nil
}

// ActiveCalls reports no calls: call lifetime is not tracked beyond
// the start and end signals.
func (c *coordinator) ActiveCalls(identity string) []model.CallRecord {
	return nil
}
