package tcp

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownAction is reported to clients that send an action the
// server does not implement.
var ErrUnknownAction = errors.New("unknown action")

// Config holds the TCP listener settings.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Request is one newline-delimited client request.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Response is the reply written back on the same line-oriented stream.
type Response struct {
	Status  string         `json:"status"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func okResponse(message string) Response {
	return Response{Status: "OK", Success: true, Message: message}
}

func errResponse(message string) Response {
	return Response{Status: "ERROR", Success: false, Message: message}
}

func (r *Response) put(key string, value any) {
	if r.Payload == nil {
		r.Payload = make(map[string]any)
	}
	r.Payload[key] = value
}

// Per-action request payloads.

type loginParams struct {
	Username      string `json:"username"`
	SecondaryPort int    `json:"secondaryPort"`
}

type usernameParams struct {
	Username string `json:"username"`
}

type sendUserParams struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type sendGroupParams struct {
	From      string `json:"from"`
	GroupName string `json:"groupName"`
	Content   string `json:"content"`
}

type createGroupParams struct {
	GroupName string `json:"groupName"`
	Creator   string `json:"creator"`
}

type addToGroupParams struct {
	GroupName string `json:"groupName"`
	Username  string `json:"username"`
}

type groupNameParams struct {
	GroupName string `json:"groupName"`
}

type clearHistoryParams struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type callParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type acceptCallParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Format string `json:"format"`
}

type endCallParams struct {
	CallID string `json:"callId"`
}

type voiceNoteUserParams struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Base64-encoded audio payload.
	Data string `json:"data"`
}

type voiceNoteGroupParams struct {
	From      string `json:"from"`
	GroupName string `json:"groupName"`
	Data      string `json:"data"`
}
