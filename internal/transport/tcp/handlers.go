package tcp

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/Juancal1728/multichat-relay/internal/call"
)

func (s *Server) dispatch(cs *connSession, req Request) Response {
	switch req.Action {
	case "LOGIN":
		return s.handleLogin(cs, req.Data)
	case "LOGOUT":
		return s.handleLogout(req.Data)
	case "SEND_MESSAGE_USER":
		return s.handleSendUser(req.Data)
	case "SEND_MESSAGE_GROUP":
		return s.handleSendGroup(req.Data)
	case "SEND_VOICE_NOTE_USER":
		return s.handleVoiceNoteUser(req.Data)
	case "SEND_VOICE_NOTE_GROUP":
		return s.handleVoiceNoteGroup(req.Data)
	case "CREATE_GROUP":
		return s.handleCreateGroup(req.Data)
	case "ADD_TO_GROUP":
		return s.handleAddToGroup(req.Data)
	case "GET_GROUPS":
		return s.handleGetGroups()
	case "GET_USER_GROUPS":
		return s.handleGetUserGroups(req.Data)
	case "GET_GROUP_MEMBERS":
		return s.handleGetGroupMembers(req.Data)
	case "GET_ONLINE_USERS":
		return s.handleGetOnlineUsers()
	case "GET_ALL_USERS":
		return s.handleGetAllUsers()
	case "GET_PENDING_MESSAGES":
		return s.handleGetPending(req.Data)
	case "GET_HISTORY":
		return s.handleGetHistory(req.Data)
	case "CLEAR_HISTORY":
		return s.handleClearHistory(req.Data)
	case "DELETE_USER":
		return s.handleDeleteUser(req.Data)
	case "CLEANUP_USERS":
		return s.handleCleanupUsers()
	case "SUBSCRIBE":
		return s.handleSubscribe(cs, req.Data)
	case "START_CALL":
		return s.handleStartCall(req.Data)
	case "ACCEPT_CALL":
		return s.handleAcceptCall(req.Data)
	case "END_CALL":
		return s.handleEndCall(req.Data)
	default:
		s.logger.Warn("unknown action", "action", req.Action)
		return errResponse(ErrUnknownAction.Error() + ": " + req.Action)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var params T
	if len(data) == 0 {
		return params, errors.New("missing request data")
	}
	err := json.Unmarshal(data, &params)
	return params, err
}

func (s *Server) handleLogin(cs *connSession, data json.RawMessage) Response {
	params, err := decode[loginParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if !s.deps.Presence.Login(params.Username, params.SecondaryPort, cs) {
		return errResponse("login failed")
	}
	cs.setIdentity(params.Username)
	return okResponse("login successful")
}

func (s *Server) handleLogout(data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if !s.deps.Presence.Logout(params.Username) {
		return errResponse("user not online")
	}
	return okResponse("logout successful")
}

func (s *Server) handleSendUser(data json.RawMessage) Response {
	params, err := decode[sendUserParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Router.SendToUser(params.From, params.To, params.Content); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("message sent")
}

func (s *Server) handleSendGroup(data json.RawMessage) Response {
	params, err := decode[sendGroupParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Router.SendToGroup(params.From, params.GroupName, params.Content); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("group message sent")
}

func (s *Server) handleVoiceNoteUser(data json.RawMessage) Response {
	params, err := decode[voiceNoteUserParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	blob, err := base64.StdEncoding.DecodeString(params.Data)
	if err != nil {
		return errResponse("invalid audio payload: " + err.Error())
	}
	if err := s.deps.Router.SendVoiceNoteToUser(params.From, params.To, blob); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("voice note sent")
}

func (s *Server) handleVoiceNoteGroup(data json.RawMessage) Response {
	params, err := decode[voiceNoteGroupParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	blob, err := base64.StdEncoding.DecodeString(params.Data)
	if err != nil {
		return errResponse("invalid audio payload: " + err.Error())
	}
	if err := s.deps.Router.SendVoiceNoteToGroup(params.From, params.GroupName, blob); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("voice note sent")
}

func (s *Server) handleCreateGroup(data json.RawMessage) Response {
	params, err := decode[createGroupParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Groups.CreateGroup(params.GroupName, params.Creator); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("group created")
}

func (s *Server) handleAddToGroup(data json.RawMessage) Response {
	params, err := decode[addToGroupParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Groups.AddMember(params.GroupName, params.Username); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("user added to group")
}

func (s *Server) handleGetGroups() Response {
	resp := okResponse("")
	resp.put("groups", s.deps.Groups.ListGroups())
	return resp
}

func (s *Server) handleGetUserGroups(data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	resp := okResponse("")
	resp.put("groups", s.deps.Groups.GroupsFor(params.Username))
	return resp
}

func (s *Server) handleGetGroupMembers(data json.RawMessage) Response {
	params, err := decode[groupNameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	resp := okResponse("")
	resp.put("members", s.deps.Groups.Members(params.GroupName))
	return resp
}

func (s *Server) handleGetOnlineUsers() Response {
	resp := okResponse("")
	resp.put("users", s.deps.Presence.ListOnline())
	return resp
}

func (s *Server) handleGetAllUsers() Response {
	resp := okResponse("")
	resp.put("users", s.deps.Presence.ListAllWithStatus())
	return resp
}

func (s *Server) handleGetPending(data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	resp := okResponse("")
	resp.put("messages", s.deps.Pending.Drain(params.Username))
	return resp
}

func (s *Server) handleGetHistory(data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	records, err := s.deps.Router.GetHistory(params.Username)
	if err != nil {
		return errResponse(err.Error())
	}
	resp := okResponse("")
	resp.put("history", records)
	return resp
}

func (s *Server) handleClearHistory(data json.RawMessage) Response {
	params, err := decode[clearHistoryParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Router.ClearHistory(params.User1, params.User2); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("chat history cleared")
}

func (s *Server) handleDeleteUser(data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if !s.deps.Presence.DeleteIdentity(params.Username) {
		return errResponse("user not found")
	}
	return okResponse("user deleted")
}

func (s *Server) handleCleanupUsers() Response {
	cleaned := s.deps.Presence.CleanupInvalid()
	resp := okResponse("cleanup complete")
	resp.put("cleaned", cleaned)
	return resp
}

func (s *Server) handleSubscribe(cs *connSession, data json.RawMessage) Response {
	params, err := decode[usernameParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	s.deps.Subscribers.Subscribe(params.Username, cs)
	cs.setIdentity(params.Username)
	return okResponse("subscribed")
}

func (s *Server) handleStartCall(data json.RawMessage) Response {
	params, err := decode[callParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	rec, err := s.deps.Calls.StartCall(params.From, params.To)
	if err != nil {
		if errors.Is(err, call.ErrCannotStartCall) {
			return errResponse("cannot start call")
		}
		return errResponse(err.Error())
	}
	resp := okResponse("call started")
	resp.put("callId", rec.CallID)
	return resp
}

func (s *Server) handleAcceptCall(data json.RawMessage) Response {
	params, err := decode[acceptCallParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if !s.deps.Calls.AcceptCall(params.From, params.To, params.Format) {
		return errResponse("caller unreachable")
	}
	return okResponse("call accepted")
}

func (s *Server) handleEndCall(data json.RawMessage) Response {
	params, err := decode[endCallParams](data)
	if err != nil {
		return errResponse(err.Error())
	}
	if err := s.deps.Calls.EndCall(params.CallID); err != nil {
		return errResponse(err.Error())
	}
	return okResponse("call ended")
}
