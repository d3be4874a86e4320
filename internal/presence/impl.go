package presence

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/store"
)

// changeBufferSize bounds the presence change stream; slow consumers
// drop transitions rather than blocking logins.
const changeBufferSize = 256

// registry implements the Registry interface.
type registry struct {
	store   store.RegistryStore
	history store.HistoryLog
	groups  *group.Registry
	queue   *pending.Queue
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	known    map[string]struct{}

	changes chan Change
}

// NewRegistry loads the persisted known-identity set and starts with no
// online sessions.
func NewRegistry(
	st store.RegistryStore,
	history store.HistoryLog,
	groups *group.Registry,
	queue *pending.Queue,
	logger *slog.Logger,
) Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &registry{
		store:    st,
		history:  history,
		groups:   groups,
		queue:    queue,
		logger:   logger,
		sessions: make(map[string]*Session),
		known:    make(map[string]struct{}),
		changes:  make(chan Change, changeBufferSize),
	}

	identities, err := st.LoadIdentities()
	if err != nil {
		logger.Warn("failed to load known identities, starting empty", "error", err)
		return r
	}
	for _, id := range identities {
		r.known[id] = struct{}{}
	}
	if len(r.known) > 0 {
		logger.Info("loaded known identities", "count", len(r.known))
	}
	return r
}

// Login registers or reconnects a session.
func (r *registry) Login(identity string, secondaryPort int, handle model.Pusher) bool {
	id, ok := model.NormalizeIdentity(identity)
	if !ok {
		r.logger.Warn("rejected login: empty identity")
		return false
	}

	r.mu.Lock()
	_, knownBefore := r.known[id]
	if !knownBefore {
		r.known[id] = struct{}{}
	}
	sess, online := r.sessions[id]
	if !online {
		sess = &Session{Identity: id}
		r.sessions[id] = sess
	}
	r.mu.Unlock()

	sess.setTransport(handle, secondaryPort)

	if !knownBefore {
		r.persistIdentities()
		r.logger.Debug("new identity registered", "identity", id)
	}

	if online {
		r.Broadcast(model.NewSystemEvent(id + " reconnected"))
	} else {
		r.Broadcast(model.NewSystemEvent(id + " joined"))
		r.notifyChange(Change{Identity: id, Type: ChangeLogin})
	}
	return true
}

// Logout removes the identity's session.
func (r *registry) Logout(identity string) bool {
	r.mu.Lock()
	_, online := r.sessions[identity]
	delete(r.sessions, identity)
	r.mu.Unlock()

	if !online {
		return false
	}

	r.Broadcast(model.NewSystemEvent(identity + " left"))
	r.notifyChange(Change{Identity: identity, Type: ChangeLogout})
	return true
}

// ListOnline returns the identities with a current session.
func (r *registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

// ListAllWithStatus maps every known identity to its online flag.
func (r *registry) ListAllWithStatus() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]bool, len(r.known))
	for id := range r.known {
		_, online := r.sessions[id]
		status[id] = online
	}
	return status
}

// DeleteIdentity permanently removes an identity. The only irreversible
// destructive operation in the registry.
func (r *registry) DeleteIdentity(identity string) bool {
	r.mu.RLock()
	_, known := r.known[identity]
	r.mu.RUnlock()
	if !known {
		return false
	}

	r.Logout(identity)
	r.cascadeRemove(identity)
	r.persistIdentities()

	r.Broadcast(model.NewSystemEvent("user " + identity + " has been deleted from the system"))
	r.notifyChange(Change{Identity: identity, Type: ChangeDeleted})

	r.logger.Info("identity deleted", "identity", identity)
	return true
}

// CleanupInvalid removes empty or whitespace-only identities left behind
// by bad historical writes.
func (r *registry) CleanupInvalid() int {
	r.mu.RLock()
	var invalid []string
	for id := range r.known {
		if strings.TrimSpace(id) == "" {
			invalid = append(invalid, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range invalid {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.cascadeRemove(id)
	}

	if len(invalid) > 0 {
		r.persistIdentities()
		r.logger.Info("removed invalid identities", "count", len(invalid))
	}
	return len(invalid)
}

// cascadeRemove applies the shared removal steps: groups, pending queue,
// known set, history log.
func (r *registry) cascadeRemove(identity string) {
	if err := r.groups.RemoveFromAll(identity); err != nil {
		r.logger.Error("failed to remove identity from groups", "identity", identity, "error", err)
	}
	r.queue.Discard(identity)

	r.mu.Lock()
	delete(r.known, identity)
	r.mu.Unlock()

	if err := r.history.Delete(identity); err != nil {
		r.logger.Error("failed to delete history", "identity", identity, "error", err)
	}
}

// Session returns the live session for an online identity.
func (r *registry) Session(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[identity]
	return sess, ok
}

// Broadcast pushes a system event to every online session. Per-recipient
// failures are ignored; a dead transport never delays the others.
func (r *registry) Broadcast(ev model.Event) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	for _, sess := range sessions {
		if err := sess.Push(ev); err != nil && err != ErrNoTransport {
			r.logger.Debug("broadcast push failed", "identity", sess.Identity, "error", err)
		}
	}
}

// SubscribeChanges returns the presence transition stream.
func (r *registry) SubscribeChanges() <-chan Change {
	return r.changes
}

// OnlineCount reports the number of online sessions.
func (r *registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// KnownCount reports the size of the known-identity set.
func (r *registry) KnownCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}

// notifyChange publishes a transition without blocking.
func (r *registry) notifyChange(change Change) {
	select {
	case r.changes <- change:
	default:
		r.logger.Warn("change buffer full, dropping presence event",
			"identity", change.Identity,
			"type", change.Type,
		)
	}
}

// persistIdentities writes the known-identity snapshot through to the
// registry store.
func (r *registry) persistIdentities() {
	r.mu.RLock()
	identities := make([]string, 0, len(r.known))
	for id := range r.known {
		identities = append(identities, id)
	}
	r.mu.RUnlock()

	sort.Strings(identities)
	if err := r.store.SaveIdentities(identities); err != nil {
		r.logger.Error("failed to persist identities", "error", err)
	}
}
