package ws

import (
	"encoding/json"

	"github.com/cotale/backend/internal/session"
)

type MessageType string

// Inbound envelope types.
const (
	MsgYjsUpdate     MessageType = "yjs_update"
	MsgCursorUpdate  MessageType = "cursor_update"
	MsgContentChange MessageType = "content_change"
	MsgAIRequest     MessageType = "ai_request"
	MsgPing          MessageType = "ping"
)

// Outbound envelope types.
const (
	MsgDocumentState  MessageType = "document_state"
	MsgUserJoined     MessageType = "user_joined"
	MsgUserLeft       MessageType = "user_left"
	MsgContentChanged MessageType = "content_changed"
	MsgAIResponse     MessageType = "ai_response"
	MsgAISuggestion   MessageType = "ai_suggestion_broadcast"
	MsgAIError        MessageType = "ai_error"
	MsgError          MessageType = "error"
	MsgPong           MessageType = "pong"
)

// Close codes for admission failures. Each denial closes the connection with
// one of these before any room state is touched.
const (
	CloseMissingToken           = 4001
	CloseInvalidToken           = 4002
	CloseDocumentNotFound       = 4003
	CloseInsufficientPermission = 4004
)

// Envelope is the inbound message unit. Fields beyond Type are type-specific;
// unused ones stay zero.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Update    string          `json:"update,omitempty"`
	Content   string          `json:"content,omitempty"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	CursorPos int             `json:"cursor_position,omitempty"`
}

type documentStatePayload struct {
	Type       MessageType        `json:"type"`
	Title      string             `json:"title"`
	Content    string             `json:"content"`
	Users      session.Roster     `json:"users"`
	Permission session.Permission `json:"permission"`
}

type userJoinedPayload struct {
	Type       MessageType        `json:"type"`
	UserID     string             `json:"user_id"`
	UserName   string             `json:"user_name"`
	Permission session.Permission `json:"permission"`
	Users      session.Roster     `json:"users"`
}

type userLeftPayload struct {
	Type     MessageType    `json:"type"`
	UserID   string         `json:"user_id"`
	UserName string         `json:"user_name"`
	Users    session.Roster `json:"users"`
}

type yjsUpdatePayload struct {
	Type    MessageType `json:"type"`
	Update  string      `json:"update"`
	Content string      `json:"content,omitempty"`
	UserID  string      `json:"user_id"`
}

type cursorUpdatePayload struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"user_id"`
	UserName  string          `json:"user_name"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

type contentChangedPayload struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	UserID  string      `json:"user_id"`
}

type aiResponsePayload struct {
	Type              MessageType `json:"type"`
	RequestID         string      `json:"request_id,omitempty"`
	Content           string      `json:"content"`
	SuggestedPosition int         `json:"suggested_position"`
	UserID            string      `json:"user_id"`
}

type aiErrorPayload struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Error     string      `json:"error"`
	UserID    string      `json:"user_id"`
}

type errorPayload struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type pongPayload struct {
	Type MessageType `json:"type"`
}
