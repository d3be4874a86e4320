package tcp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/Juancal1728/multichat-relay/internal/call"
	"github.com/Juancal1728/multichat-relay/internal/delivery"
	"github.com/Juancal1728/multichat-relay/internal/group"
	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/pending"
	"github.com/Juancal1728/multichat-relay/internal/presence"
	"github.com/Juancal1728/multichat-relay/internal/router"
	"github.com/Juancal1728/multichat-relay/internal/store"
	"github.com/Juancal1728/multichat-relay/internal/subscriber"
)

type tcpFixture struct {
	srv  *Server
	deps Deps
}

func newTCPFixture(t *testing.T) *tcpFixture {
	return newTCPFixtureTimeout(t, 5*time.Second)
}

func newTCPFixtureTimeout(t *testing.T, readTimeout time.Duration) *tcpFixture {
	t.Helper()
	dir := t.TempDir()

	history, err := store.NewFileHistoryLog(dir)
	if err != nil {
		t.Fatalf("NewFileHistoryLog: %v", err)
	}
	media, err := store.NewFileMediaStore(dir)
	if err != nil {
		t.Fatalf("NewFileMediaStore: %v", err)
	}
	regStore, err := store.NewFileRegistryStore(dir)
	if err != nil {
		t.Fatalf("NewFileRegistryStore: %v", err)
	}

	groups := group.NewRegistry(regStore, nil)
	queue := pending.New()
	subs := subscriber.NewTable(nil)
	pres := presence.NewRegistry(regStore, history, groups, queue, nil)
	rt := router.NewRouter(history, media, pres, groups, queue, subs, nil, nil)
	chain := delivery.NewChain(nil,
		delivery.NewPushLink(subs),
		delivery.NewQueueLink(queue))
	calls := call.NewCoordinator(pres, subs, chain, nil, nil)

	deps := Deps{
		Presence:    pres,
		Groups:      groups,
		Pending:     queue,
		Subscribers: subs,
		Router:      rt,
		Calls:       calls,
	}
	srv := NewServer(Config{Port: 0, ReadTimeout: readTimeout, WriteTimeout: 5 * time.Second}, deps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return &tcpFixture{srv: srv, deps: deps}
}

type tcpClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (f *tcpFixture) dial(t *testing.T) *tcpClient {
	t.Helper()
	conn, err := net.Dial("tcp", f.srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &tcpClient{conn: conn, reader: bufio.NewReader(conn)}
}

// request sends one action and reads lines until a Response shows up,
// skipping any pushed Event lines interleaved on the stream.
func (c *tcpClient) request(t *testing.T, action string, data any) Response {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	line, err := json.Marshal(Request{Action: action, Data: raw})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		respLine, err := c.reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var resp Response
		if err := json.Unmarshal(respLine, &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", respLine, err)
		}
		if resp.Status != "" {
			return resp
		}
		// A pushed event; keep reading.
	}
}

// readEvent reads lines until a pushed Event shows up.
func (c *tcpClient) readEvent(t *testing.T) model.Event {
	t.Helper()
	for {
		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		if ev.Type != "" {
			return ev
		}
	}
}

func TestLoginLogout(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	resp := c.request(t, "LOGIN", loginParams{Username: "alice", SecondaryPort: 4444})
	if !resp.Success {
		t.Fatalf("LOGIN failed: %s", resp.Message)
	}

	resp = c.request(t, "GET_ONLINE_USERS", nil)
	users, _ := resp.Payload["users"].([]any)
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("online users = %v, want [alice]", users)
	}

	resp = c.request(t, "LOGOUT", usernameParams{Username: "alice"})
	if !resp.Success {
		t.Fatalf("LOGOUT failed: %s", resp.Message)
	}
	resp = c.request(t, "LOGOUT", usernameParams{Username: "alice"})
	if resp.Success {
		t.Error("second LOGOUT should fail")
	}
}

func TestUnknownAction(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	resp := c.request(t, "FROBNICATE", nil)
	if resp.Success || resp.Status != "ERROR" {
		t.Errorf("response = %+v, want error", resp)
	}
}

func TestSendMessageAndPendingDelivery(t *testing.T) {
	f := newTCPFixture(t)
	alice := f.dial(t)

	alice.request(t, "LOGIN", loginParams{Username: "alice"})
	resp := alice.request(t, "SEND_MESSAGE_USER", sendUserParams{From: "alice", To: "bob", Content: "hello"})
	if !resp.Success {
		t.Fatalf("SEND_MESSAGE_USER failed: %s", resp.Message)
	}

	// Bob logs in later and polls his queue.
	bob := f.dial(t)
	bob.request(t, "LOGIN", loginParams{Username: "bob"})
	resp = bob.request(t, "GET_PENDING_MESSAGES", usernameParams{Username: "bob"})
	msgs, _ := resp.Payload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("pending = %v, want 1 message", msgs)
	}
	first, _ := msgs[0].(map[string]any)
	if first["content"] != "hello" || first["from"] != "alice" {
		t.Errorf("pending[0] = %v", first)
	}

	// Drained on delivery.
	resp = bob.request(t, "GET_PENDING_MESSAGES", usernameParams{Username: "bob"})
	if msgs, _ := resp.Payload["messages"].([]any); len(msgs) != 0 {
		t.Errorf("second drain = %v, want empty", msgs)
	}
}

func TestGroupLifecycle(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	if resp := c.request(t, "CREATE_GROUP", createGroupParams{GroupName: "devs", Creator: "alice"}); !resp.Success {
		t.Fatalf("CREATE_GROUP failed: %s", resp.Message)
	}
	if resp := c.request(t, "ADD_TO_GROUP", addToGroupParams{GroupName: "devs", Username: "bob"}); !resp.Success {
		t.Fatalf("ADD_TO_GROUP failed: %s", resp.Message)
	}

	resp := c.request(t, "GET_GROUP_MEMBERS", groupNameParams{GroupName: "devs"})
	members, _ := resp.Payload["members"].([]any)
	if len(members) != 2 {
		t.Errorf("members = %v, want 2", members)
	}

	resp = c.request(t, "GET_GROUPS", nil)
	groups, _ := resp.Payload["groups"].([]any)
	if len(groups) != 1 || groups[0] != "devs" {
		t.Errorf("groups = %v, want [devs]", groups)
	}

	resp = c.request(t, "GET_USER_GROUPS", usernameParams{Username: "bob"})
	userGroups, _ := resp.Payload["groups"].([]any)
	if len(userGroups) != 1 {
		t.Errorf("bob's groups = %v, want 1", userGroups)
	}
}

func TestSubscribePush(t *testing.T) {
	f := newTCPFixture(t)

	bob := f.dial(t)
	bob.request(t, "SUBSCRIBE", usernameParams{Username: "bob"})

	// An event routed to bob's subscriber arrives as a JSON line.
	f.deps.Router.NotifySubscribers(model.Event{
		Type: model.EventMessage, From: "alice", Target: "bob", Content: "direct push",
	})

	ev := bob.readEvent(t)
	if ev.Type != model.EventMessage || ev.Content != "direct push" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSubscribedConnectionSurvivesIdle(t *testing.T) {
	f := newTCPFixtureTimeout(t, 200*time.Millisecond)

	bob := f.dial(t)
	bob.request(t, "SUBSCRIBE", usernameParams{Username: "bob"})

	// Idle well past the read deadline; a registered push channel must
	// stay open and subscribed.
	time.Sleep(600 * time.Millisecond)

	if !f.deps.Subscribers.Subscribed("bob") {
		t.Fatal("idle subscriber was dropped")
	}
	f.deps.Router.NotifySubscribers(model.Event{
		Type: model.EventMessage, From: "alice", Target: "bob", Content: "after idle",
	})
	ev := bob.readEvent(t)
	if ev.Content != "after idle" {
		t.Errorf("event = %+v, want content %q", ev, "after idle")
	}
}

func TestAnonymousConnectionIdleTimeout(t *testing.T) {
	f := newTCPFixtureTimeout(t, 200*time.Millisecond)
	c := f.dial(t)

	// No LOGIN or SUBSCRIBE, so the read deadline stays armed and the
	// server closes the connection.
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadBytes('\n'); err == nil {
		t.Error("expected idle anonymous connection to be closed")
	}
}

func TestVoiceNoteUser(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	blob := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	resp := c.request(t, "SEND_VOICE_NOTE_USER", voiceNoteUserParams{From: "alice", To: "bob", Data: blob})
	if !resp.Success {
		t.Fatalf("SEND_VOICE_NOTE_USER failed: %s", resp.Message)
	}

	resp = c.request(t, "SEND_VOICE_NOTE_USER", voiceNoteUserParams{From: "alice", To: "bob", Data: "not base64!!"})
	if resp.Success {
		t.Error("invalid base64 accepted")
	}
}

func TestHistoryAndClear(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	c.request(t, "SEND_MESSAGE_USER", sendUserParams{From: "alice", To: "bob", Content: "one"})
	c.request(t, "SEND_MESSAGE_USER", sendUserParams{From: "bob", To: "alice", Content: "two"})

	resp := c.request(t, "GET_HISTORY", usernameParams{Username: "alice"})
	history, _ := resp.Payload["history"].([]any)
	if len(history) != 2 {
		t.Fatalf("history = %d records, want 2", len(history))
	}

	if resp := c.request(t, "CLEAR_HISTORY", clearHistoryParams{User1: "alice", User2: "bob"}); !resp.Success {
		t.Fatalf("CLEAR_HISTORY failed: %s", resp.Message)
	}
	resp = c.request(t, "GET_HISTORY", usernameParams{Username: "alice"})
	if history, _ := resp.Payload["history"].([]any); len(history) != 0 {
		t.Errorf("history after clear = %v, want empty", history)
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	c.request(t, "LOGIN", loginParams{Username: "alice"})
	if resp := c.request(t, "DELETE_USER", usernameParams{Username: "alice"}); !resp.Success {
		t.Fatalf("DELETE_USER failed: %s", resp.Message)
	}
	if resp := c.request(t, "DELETE_USER", usernameParams{Username: "ghost"}); resp.Success {
		t.Error("DELETE_USER succeeded for unknown user")
	}

	resp := c.request(t, "CLEANUP_USERS", nil)
	if !resp.Success {
		t.Fatalf("CLEANUP_USERS failed: %s", resp.Message)
	}
	if _, ok := resp.Payload["cleaned"]; !ok {
		t.Error("CLEANUP_USERS response missing cleaned count")
	}
}

func TestCallFlow(t *testing.T) {
	f := newTCPFixture(t)
	alice := f.dial(t)
	bob := f.dial(t)

	alice.request(t, "LOGIN", loginParams{Username: "alice"})
	bob.request(t, "LOGIN", loginParams{Username: "bob"})

	resp := alice.request(t, "START_CALL", callParams{From: "alice", To: "bob"})
	if !resp.Success {
		t.Fatalf("START_CALL failed: %s", resp.Message)
	}
	callID, _ := resp.Payload["callId"].(string)
	if callID == "" {
		t.Fatal("START_CALL returned no callId")
	}

	if resp := alice.request(t, "END_CALL", endCallParams{CallID: callID}); !resp.Success {
		t.Fatalf("END_CALL failed: %s", resp.Message)
	}
	if resp := alice.request(t, "END_CALL", endCallParams{CallID: "garbage"}); resp.Success {
		t.Error("END_CALL accepted malformed call id")
	}

	// Callee offline.
	bob.request(t, "LOGOUT", usernameParams{Username: "bob"})
	if resp := alice.request(t, "START_CALL", callParams{From: "alice", To: "bob"}); resp.Success {
		t.Error("START_CALL succeeded with callee offline")
	}
}

func TestMalformedRequestLine(t *testing.T) {
	f := newTCPFixture(t)
	c := f.dial(t)

	if _, err := c.conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success || resp.Status != "ERROR" {
		t.Errorf("response = %+v, want error", resp)
	}

	// The connection survives for the next request.
	if resp := c.request(t, "GET_GROUPS", nil); !resp.Success {
		t.Errorf("follow-up request failed: %s", resp.Message)
	}
}
