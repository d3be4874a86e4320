package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/presence"
)

// FrameSink forwards a binary frame to an identity's media connection.
// SendBinary reports whether the identity had a live connection.
type FrameSink interface {
	SendBinary(identity string, data []byte) bool
}

// Binding is an identity's active outbound stream: every binary frame
// it sends is forwarded to Target.
type Binding struct {
	Target string
	Format string
}

// Relay forwards audio frames between identities according to their
// active stream bindings.
type Relay interface {
	// Start begins watching presence changes to drop bindings for
	// identities that disconnect.
	Start(ctx context.Context) error

	// Stop shuts the watcher down.
	Stop(ctx context.Context) error

	// SetSink installs the media transport used for forwarding. It
	// must be called before Forward.
	SetSink(sink FrameSink)

	// SetBinding points the sender's outbound stream at target.
	SetBinding(sender, target, format string)

	// ClearBinding removes the sender's outbound stream.
	ClearBinding(sender string)

	// BindingFor returns the sender's active binding.
	BindingFor(sender string) (Binding, bool)

	// Forward sends one binary frame down the sender's binding.
	// Frames without a binding are dropped.
	Forward(sender string, data []byte)
}

type relay struct {
	presence presence.Registry
	logger   *slog.Logger

	mu   sync.Mutex
	sink FrameSink

	bindings sync.Map // identity -> Binding

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an audio relay. The frame sink is installed later with
// SetSink since the media transport is constructed after the relay.
func New(pres presence.Registry, logger *slog.Logger) Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &relay{
		presence: pres,
		logger:   logger.With("component", "relay"),
	}
}

func (r *relay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	changes := r.presence.SubscribeChanges()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				if change.Type == presence.ChangeLogout || change.Type == presence.ChangeDeleted {
					r.ClearBinding(change.Identity)
				}
			}
		}
	}()

	r.logger.Info("audio relay started")
	return nil
}

func (r *relay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("audio relay stopped")
	return nil
}

func (r *relay) SetSink(sink FrameSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *relay) SetBinding(sender, target, format string) {
	r.bindings.Store(sender, Binding{Target: target, Format: format})
	r.logger.Info("stream binding set",
		"sender", sender, "target", target, "format", format)
}

func (r *relay) ClearBinding(sender string) {
	if _, loaded := r.bindings.LoadAndDelete(sender); loaded {
		r.logger.Info("stream binding cleared", "sender", sender)
	}
}

func (r *relay) BindingFor(sender string) (Binding, bool) {
	v, ok := r.bindings.Load(sender)
	if !ok {
		return Binding{}, false
	}
	return v.(Binding), true
}

func (r *relay) Forward(sender string, data []byte) {
	binding, ok := r.BindingFor(sender)
	if !ok {
		return
	}
	if binding.Target == sender {
		r.logger.Warn("dropping self-addressed frame", "sender", sender)
		return
	}

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return
	}
	if !sink.SendBinary(binding.Target, data) {
		r.logger.Debug("frame dropped, target not connected",
			"sender", sender, "target", binding.Target)
	}
}
