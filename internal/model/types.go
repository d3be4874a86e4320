package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the tagged-variant Event payload.
type EventType string

const (
	EventMessage      EventType = "message"       // direct text message
	EventGroupMessage EventType = "group_message" // group fan-out text message
	EventVoiceNote    EventType = "voice_note"    // voice-note delivery notice
	EventSystem       EventType = "system"        // presence notices (joined, left, ...)
	EventIncomingCall EventType = "incoming_call" // call-start notification
	EventCallEnded    EventType = "call_ended"    // call-end notification
	EventCallAccepted EventType = "call_accepted" // callee answered
	EventSignal       EventType = "signal"        // opaque signaling relay payload
)

// Event is the delivery payload pushed to clients. It replaces the
// original string-delimited sub-protocols: transports encode it for their
// wire format, the core only ever handles the structured form.
type Event struct {
	Type      EventType `json:"type"`
	From      string    `json:"from,omitempty"`
	Target    string    `json:"target,omitempty"`
	Group     string    `json:"group,omitempty"`
	Content   string    `json:"content,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Format    string    `json:"format,omitempty"`
	Timestamp int64     `json:"ts"` // Unix milliseconds
}

// NewSystemEvent builds a broadcast system notice.
func NewSystemEvent(content string) Event {
	return Event{
		Type:      EventSystem,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Pusher is a live push capability bound to one identity: a transport
// connection or an RPC-style callback. Push either returns or fails
// synchronously; there are no cancellation or timeout semantics.
type Pusher interface {
	Push(Event) error
}

// History record types.
const (
	RecordText      = "text"
	RecordVoiceNote = "voice_note"
)

// HistoryRecord is one immutable line in a conversation log. Records are
// appended to the sender's log and to the target's (or group's) log, and
// only ever removed in bulk by a history clear.
type HistoryRecord struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from"`
	Target    string `json:"target"`
	IsGroup   bool   `json:"is_group"`
	Content   string `json:"content,omitempty"`
	FilePath  string `json:"file,omitempty"`
	Timestamp int64  `json:"ts"` // Unix milliseconds
}

// NewTextRecord builds a text message record.
func NewTextRecord(from, target string, isGroup bool, content string) HistoryRecord {
	return HistoryRecord{
		ID:        uuid.NewString(),
		Type:      RecordText,
		From:      from,
		Target:    target,
		IsGroup:   isGroup,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewVoiceNoteRecord builds a voice-note record referencing a stored blob.
func NewVoiceNoteRecord(from, target string, isGroup bool, filePath string) HistoryRecord {
	return HistoryRecord{
		ID:        uuid.NewString(),
		Type:      RecordVoiceNote,
		From:      from,
		Target:    target,
		IsGroup:   isGroup,
		FilePath:  filePath,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Involves reports whether identity is a counterparty of the record.
func (r HistoryRecord) Involves(identity string) bool {
	return r.From == identity || r.Target == identity
}

// callIDSep separates the fields of a call ID token.
const callIDSep = "_"

// CallRecord describes one call attempt. CallID is a structured token,
// not an opaque string: it is parsed back into caller and callee when the
// call ends.
type CallRecord struct {
	CallID    string `json:"call_id"`
	Caller    string `json:"caller"`
	Callee    string `json:"callee"`
	Active    bool   `json:"active"`
	StartedAt int64  `json:"started_at"` // Unix milliseconds
}

// NewCallRecord builds an active call record with a synthesized ID of the
// form caller_callee_startmillis.
func NewCallRecord(caller, callee string) CallRecord {
	now := time.Now().UnixMilli()
	return CallRecord{
		CallID:    caller + callIDSep + callee + callIDSep + strconv.FormatInt(now, 10),
		Caller:    caller,
		Callee:    callee,
		Active:    true,
		StartedAt: now,
	}
}

// ParseCallID recovers caller and callee from a call ID token. The token
// is split from the right, so a caller containing the separator parses
// correctly; a callee containing the separator is ambiguous and yields the
// wrong split. That collision is inherited from the token format and is
// deliberately not papered over with an escaping scheme.
func ParseCallID(callID string) (caller, callee string, ok bool) {
	i := strings.LastIndex(callID, callIDSep)
	if i <= 0 {
		return "", "", false
	}
	if _, err := strconv.ParseInt(callID[i+1:], 10, 64); err != nil {
		return "", "", false
	}
	j := strings.LastIndex(callID[:i], callIDSep)
	if j <= 0 || j == i-1 {
		return "", "", false
	}
	return callID[:j], callID[j+1 : i], true
}

// NormalizeIdentity trims surrounding whitespace and reports whether the
// result is a usable identity. Identities are case-sensitive. Path
// separators and ".." are rejected because identities name files in the
// history store, and a leading group tag would alias a group log.
func NormalizeIdentity(identity string) (string, bool) {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" ||
		strings.ContainsAny(trimmed, `/\`) ||
		strings.Contains(trimmed, "..") ||
		strings.HasPrefix(trimmed, groupPrefix) {
		return trimmed, false
	}
	return trimmed, true
}

// groupPrefix marks a receiver handle as a group tag on the wire.
const groupPrefix = "#"

// IsGroupTarget reports whether a receiver handle names a group.
func IsGroupTarget(target string) bool {
	return strings.HasPrefix(target, groupPrefix)
}

// GroupName strips the group tag prefix from a receiver handle.
func GroupName(target string) string {
	return strings.TrimPrefix(target, groupPrefix)
}

// GroupKey returns the history log key for a group.
func GroupKey(name string) string {
	return groupPrefix + name
}
