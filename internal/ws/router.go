package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cotale/backend/internal/session"
)

// Route dispatches one inbound envelope. Malformed or unrecognized envelopes
// produce an error reply to the sender only; the connection stays up.
func (h *Hub) Route(sess *session.Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.unicast(sess, errorPayload{Type: MsgError, Message: "invalid JSON format"})
		return
	}

	switch env.Type {
	case MsgPing:
		h.unicast(sess, pongPayload{Type: MsgPong})
	case MsgCursorUpdate:
		h.handleCursorUpdate(sess, env)
	case MsgYjsUpdate:
		h.handleYjsUpdate(sess, env)
	case MsgContentChange:
		h.handleContentChange(sess, env)
	case MsgAIRequest:
		h.handleAIRequest(sess, env)
	default:
		h.unicast(sess, errorPayload{
			Type:    MsgError,
			Message: fmt.Sprintf("unknown message type: %s", env.Type),
		})
	}
}

// gateEdit re-checks the permission cached on the session at admission.
// Violations short-circuit before any broadcast or persistence call.
func (h *Hub) gateEdit(sess *session.Session, env Envelope) bool {
	if sess.Permission.CanEdit() {
		return true
	}
	h.log.Info("mutation rejected",
		"document_id", sess.DocumentID,
		"user_id", sess.UserID,
		"type", string(env.Type),
		"permission", sess.Permission.String())
	h.unicast(sess, errorPayload{
		Type:    MsgError,
		Message: fmt.Sprintf("insufficient permission for %s", env.Type),
	})
	return false
}

func (h *Hub) handleYjsUpdate(sess *session.Session, env Envelope) {
	if !h.gateEdit(sess, env) {
		return
	}
	h.broadcast(sess.DocumentID, yjsUpdatePayload{
		Type:    MsgYjsUpdate,
		Update:  env.Update,
		Content: env.Content,
		UserID:  sess.UserID,
	}, sess)
	h.queuePersist(persistTask{
		documentID: sess.DocumentID,
		userID:     sess.UserID,
		operation:  string(MsgYjsUpdate),
		content:    env.Content,
		hasContent: env.Content != "",
		update:     env.Update,
	})
}

func (h *Hub) handleContentChange(sess *session.Session, env Envelope) {
	if !h.gateEdit(sess, env) {
		return
	}
	h.broadcast(sess.DocumentID, contentChangedPayload{
		Type:    MsgContentChanged,
		Content: env.Content,
		UserID:  sess.UserID,
	}, sess)
	h.queuePersist(persistTask{
		documentID: sess.DocumentID,
		userID:     sess.UserID,
		operation:  string(MsgContentChange),
		content:    env.Content,
		hasContent: true,
	})
}

// handleCursorUpdate relays the cursor position with the sender's identity
// injected. Admission-level read access is sufficient.
func (h *Hub) handleCursorUpdate(sess *session.Session, env Envelope) {
	h.broadcast(sess.DocumentID, cursorUpdatePayload{
		Type:      MsgCursorUpdate,
		UserID:    sess.UserID,
		UserName:  sess.UserName,
		Position:  env.Position,
		Selection: env.Selection,
	}, sess)
}

// handleAIRequest forwards the prompt to the generator. Success goes back to
// the requester as ai_response and to everyone else as
// ai_suggestion_broadcast; failure goes to the requester only.
func (h *Hub) handleAIRequest(sess *session.Session, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), h.aiTimeout)
	defer cancel()

	text, err := h.gen.Generate(ctx, env.Prompt)
	if err != nil {
		h.log.Warn("ai generation failed",
			"document_id", sess.DocumentID,
			"user_id", sess.UserID,
			"err", err)
		h.unicast(sess, aiErrorPayload{
			Type:      MsgAIError,
			RequestID: env.RequestID,
			Error:     err.Error(),
			UserID:    sess.UserID,
		})
		return
	}

	resp := aiResponsePayload{
		Type:              MsgAIResponse,
		RequestID:         env.RequestID,
		Content:           text,
		SuggestedPosition: env.CursorPos,
		UserID:            sess.UserID,
	}
	h.unicast(sess, resp)

	suggestion := resp
	suggestion.Type = MsgAISuggestion
	h.broadcast(sess.DocumentID, suggestion, sess)
}
