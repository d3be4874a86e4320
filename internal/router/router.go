package router

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Juancal1728/multichat-relay/internal/delivery"
	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/store"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

// ErrEmptyIdentity is returned when a sender or recipient handle is
// empty after trimming.
var ErrEmptyIdentity = errors.New("empty identity")

// Router moves messages between identities and groups, persisting them
// to history and handing them to recipients.
type Router interface {
	// SendToUser records a direct message and queues it for the recipient.
	SendToUser(from, to, content string) error

	// SendToGroup records a group message and fans it out to members.
	SendToGroup(from, groupName, content string) error

	// SendVoiceNoteToUser stores a voice note blob and pushes it to the
	// recipient's live session if any.
	SendVoiceNoteToUser(from, to string, data []byte) error

	// SendVoiceNoteToGroup stores a voice note blob and pushes it to
	// connected group members.
	SendVoiceNoteToGroup(from, groupName string, data []byte) error

	// NotifySubscribers delivers an event to its target's subscriber,
	// falling back to the signaling channel. Group targets fan out.
	NotifySubscribers(ev model.Event)

	// GetHistory returns the identity's private history followed by the
	// history of each group it belongs to.
	GetHistory(identity string) ([]model.HistoryRecord, error)

	// ClearHistory removes the records exchanged between two identities
	// from both private logs.
	ClearHistory(a, b string) error
}

type messageRouter struct {
	history  store.HistoryLog
	media    store.MediaStore
	presence presence.Registry
	groups   *group.Registry
	queue    *pending.Queue
	subs     *subscriber.Table
	signaler delivery.Signaler
	logger   *slog.Logger
}

// NewRouter creates a message router. signaler may be nil when no
// signaling transport is configured.
func NewRouter(
	history store.HistoryLog,
	media store.MediaStore,
	pres presence.Registry,
	groups *group.Registry,
	queue *pending.Queue,
	subs *subscriber.Table,
	signaler delivery.Signaler,
	logger *slog.Logger,
) Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &messageRouter{
		history:  history,
		media:    media,
		presence: pres,
		groups:   groups,
		queue:    queue,
		subs:     subs,
		signaler: signaler,
		logger:   logger.With("component", "router"),
	}
}

func (r *messageRouter) SendToUser(from, to, content string) error {
	from, ok := model.NormalizeIdentity(from)
	if !ok {
		return fmt.Errorf("sender: %w", ErrEmptyIdentity)
	}
	to, ok = model.NormalizeIdentity(to)
	if !ok {
		return fmt.Errorf("recipient: %w", ErrEmptyIdentity)
	}

	rec := model.NewTextRecord(from, to, false, content)
	persistErr := r.appendBoth(from, to, rec)

	// The recipient drains the queue by polling regardless of whether a
	// live push also happened, so queueing is unconditional.
	r.queue.Enqueue(to, model.Event{
		Type:      model.EventMessage,
		From:      from,
		Target:    to,
		Content:   content,
		Timestamp: rec.Timestamp,
	})

	r.logger.Debug("direct message routed", "from", from, "to", to)
	return persistErr
}

func (r *messageRouter) SendToGroup(from, groupName, content string) error {
	from, ok := model.NormalizeIdentity(from)
	if !ok {
		return fmt.Errorf("sender: %w", ErrEmptyIdentity)
	}

	rec := model.NewTextRecord(from, groupName, true, content)
	persistErr := r.appendBoth(from, model.GroupKey(groupName), rec)

	ev := model.Event{
		Type:      model.EventGroupMessage,
		From:      from,
		Group:     groupName,
		Content:   content,
		Timestamp: rec.Timestamp,
	}
	for _, member := range r.groups.Members(groupName) {
		if member == from {
			continue
		}
		r.queue.Enqueue(member, ev)
		if sess, ok := r.presence.Session(member); ok {
			if err := sess.Push(ev); err != nil {
				r.logger.Debug("group push skipped",
					"group", groupName, "member", member, "error", err)
			}
		}
	}

	r.logger.Debug("group message routed", "from", from, "group", groupName)
	return persistErr
}

func (r *messageRouter) SendVoiceNoteToUser(from, to string, data []byte) error {
	from, ok := model.NormalizeIdentity(from)
	if !ok {
		return fmt.Errorf("sender: %w", ErrEmptyIdentity)
	}
	to, ok = model.NormalizeIdentity(to)
	if !ok {
		return fmt.Errorf("recipient: %w", ErrEmptyIdentity)
	}

	path, err := r.media.Save(data)
	if err != nil {
		return fmt.Errorf("saving voice note: %w", err)
	}

	rec := model.NewVoiceNoteRecord(from, to, false, path)
	persistErr := r.appendBoth(from, to, rec)

	if sess, ok := r.presence.Session(to); ok {
		ev := model.Event{
			Type:      model.EventVoiceNote,
			From:      from,
			Target:    to,
			Content:   path,
			Timestamp: rec.Timestamp,
		}
		if err := sess.Push(ev); err != nil {
			r.logger.Debug("voice note push skipped", "to", to, "error", err)
		}
	}
	return persistErr
}

func (r *messageRouter) SendVoiceNoteToGroup(from, groupName string, data []byte) error {
	from, ok := model.NormalizeIdentity(from)
	if !ok {
		return fmt.Errorf("sender: %w", ErrEmptyIdentity)
	}

	path, err := r.media.Save(data)
	if err != nil {
		return fmt.Errorf("saving voice note: %w", err)
	}

	rec := model.NewVoiceNoteRecord(from, groupName, true, path)
	persistErr := r.appendBoth(from, model.GroupKey(groupName), rec)

	ev := model.Event{
		Type:      model.EventVoiceNote,
		From:      from,
		Group:     groupName,
		Content:   path,
		Timestamp: rec.Timestamp,
	}
	for _, member := range r.groups.Members(groupName) {
		if member == from {
			continue
		}
		if sess, ok := r.presence.Session(member); ok {
			if err := sess.Push(ev); err != nil {
				r.logger.Debug("voice note push skipped",
					"group", groupName, "member", member, "error", err)
			}
		}
	}
	return persistErr
}

func (r *messageRouter) NotifySubscribers(ev model.Event) {
	if model.IsGroupTarget(ev.Target) {
		groupName := model.GroupName(ev.Target)
		for _, member := range r.groups.Members(groupName) {
			if member == ev.From {
				continue
			}
			r.notifyOne(member, ev)
		}
		return
	}
	r.notifyOne(ev.Target, ev)
}

func (r *messageRouter) notifyOne(identity string, ev model.Event) {
	if err := r.subs.Push(identity, ev); err == nil {
		return
	}
	// The subscriber entry is gone now; try the signaling channel.
	if r.signaler != nil && r.signaler.TrySend(identity, ev) {
		return
	}
	r.logger.Debug("subscriber notification dropped",
		"identity", identity, "type", string(ev.Type))
}

func (r *messageRouter) GetHistory(identity string) ([]model.HistoryRecord, error) {
	identity, ok := model.NormalizeIdentity(identity)
	if !ok {
		return nil, ErrEmptyIdentity
	}

	records, err := r.history.ReadAll(identity)
	if err != nil {
		return nil, fmt.Errorf("reading private history: %w", err)
	}
	for _, g := range r.groups.GroupsFor(identity) {
		groupRecs, err := r.history.ReadAll(model.GroupKey(g))
		if err != nil {
			return nil, fmt.Errorf("reading history for group %s: %w", g, err)
		}
		records = append(records, groupRecs...)
	}
	return records, nil
}

func (r *messageRouter) ClearHistory(a, b string) error {
	a, ok := model.NormalizeIdentity(a)
	if !ok {
		return ErrEmptyIdentity
	}
	b, ok = model.NormalizeIdentity(b)
	if !ok {
		return ErrEmptyIdentity
	}

	if err := r.dropCounterparty(a, b); err != nil {
		return err
	}
	return r.dropCounterparty(b, a)
}

// dropCounterparty rewrites owner's private log without the records
// exchanged with other. Group records are kept.
func (r *messageRouter) dropCounterparty(owner, other string) error {
	records, err := r.history.ReadAll(owner)
	if err != nil {
		return fmt.Errorf("reading history for %s: %w", owner, err)
	}
	kept := records[:0]
	for _, rec := range records {
		if !rec.IsGroup && (rec.From == other || rec.Target == other) {
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) == len(records) {
		return nil
	}
	if err := r.history.Rewrite(owner, kept); err != nil {
		return fmt.Errorf("rewriting history for %s: %w", owner, err)
	}
	return nil
}

// appendBoth writes the record to the sender's log and the recipient
// key's log. The first failure is returned after both writes were
// attempted.
func (r *messageRouter) appendBoth(senderKey, recipientKey string, rec model.HistoryRecord) error {
	var firstErr error
	if err := r.history.Append(senderKey, rec); err != nil {
		r.logger.Error("history append failed", "key", senderKey, "error", err)
		firstErr = fmt.Errorf("appending history for %s: %w", senderKey, err)
	}
	if err := r.history.Append(recipientKey, rec); err != nil {
		r.logger.Error("history append failed", "key", recipientKey, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("appending history for %s: %w", recipientKey, err)
		}
	}
	return firstErr
}
