package ws

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cotale/backend/internal/session"
	"github.com/cotale/backend/internal/store"
)

func TestPingPong(t *testing.T) {
	h, _, _ := newTestHub(t)
	doc := store.Document{ID: "d1"}

	// ping replies pong regardless of permission level.
	a, fa := joinSession(h, doc, "alice", session.Read)
	fa.reset()

	h.Route(a, []byte(`{"type":"ping"}`))
	require.Len(t, fa.byType(t, MsgPong), 1)
}

func TestUnknownTypeKeepsConnection(t *testing.T) {
	req := require.New(t)
	h, _, reg := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Admin)
	fa.reset()

	h.Route(a, []byte(`{"type":"resize_terminal"}`))

	errs := fa.byType(t, MsgError)
	req.Len(errs, 1)
	req.Contains(errs[0]["message"], "unknown message type")
	req.Equal(1, reg.Count("d1"))

	fa.reset()
	h.Route(a, []byte(`{"type":"ping"}`))
	req.Len(fa.byType(t, MsgPong), 1)
}

func TestMalformedEnvelope(t *testing.T) {
	req := require.New(t)
	h, _, reg := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Admin)
	fa.reset()

	h.Route(a, []byte(`{not json`))

	errs := fa.byType(t, MsgError)
	req.Len(errs, 1)
	req.Equal("invalid JSON format", errs[0]["message"])
	req.Equal(1, reg.Count("d1"))
}

func TestCursorUpdateRelay(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Read)
	_, fb := joinSession(h, doc, "bob", session.Edit)
	fa.reset()
	fb.reset()

	h.Route(a, []byte(`{"type":"cursor_update","position":5,"selection":{"start":1,"end":5}}`))

	// Read access is enough for cursor updates; the relay injects identity.
	got := fb.byType(t, MsgCursorUpdate)
	req.Len(got, 1)
	req.Equal("alice", got[0]["user_id"])
	req.Equal("alice", got[0]["user_name"])
	req.Equal(float64(5), got[0]["position"])
	req.Equal(map[string]any{"start": float64(1), "end": float64(5)}, got[0]["selection"])

	// The sender's own edit is never echoed back.
	req.Empty(fa.decoded(t))
}

func TestContentChangeRelay(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Admin)
	_, fb := joinSession(h, doc, "bob", session.Read)
	fa.reset()
	fb.reset()

	h.Route(a, []byte(`{"type":"content_change","content":"Hello"}`))

	got := fb.byType(t, MsgContentChanged)
	req.Len(got, 1)
	req.Equal("Hello", got[0]["content"])
	req.Equal("alice", got[0]["user_id"])
	req.Empty(fa.decoded(t))
}

func TestYjsUpdateRelay(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Edit)
	_, fb := joinSession(h, doc, "bob", session.Read)
	fa.reset()
	fb.reset()

	h.Route(a, []byte(`{"type":"yjs_update","update":"AAECAw=="}`))

	got := fb.byType(t, MsgYjsUpdate)
	req.Len(got, 1)
	req.Equal("AAECAw==", got[0]["update"])
	req.Equal("alice", got[0]["user_id"])
	req.Empty(fa.decoded(t))
}

func TestAIRequestSuccess(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHub(t)
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Read)
	_, fb := joinSession(h, doc, "bob", session.Edit)
	fa.reset()
	fb.reset()

	h.Route(a, []byte(`{"type":"ai_request","prompt":"add a twist","request_id":"r1","cursor_position":7}`))

	// Requester gets ai_response.
	resp := fa.byType(t, MsgAIResponse)
	req.Len(resp, 1)
	req.Equal("r1", resp[0]["request_id"])
	req.Equal(float64(7), resp[0]["suggested_position"])
	req.Equal("alice", resp[0]["user_id"])
	req.Contains(resp[0]["content"], "add a twist")
	req.Empty(fa.byType(t, MsgAISuggestion))

	// Everyone else gets the same payload under the broadcast type tag.
	sugg := fb.byType(t, MsgAISuggestion)
	req.Len(sugg, 1)
	req.Equal(resp[0]["content"], sugg[0]["content"])
	req.Empty(fb.byType(t, MsgAIResponse))
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("model unavailable")
}

func TestAIRequestFailure(t *testing.T) {
	req := require.New(t)
	h, _, _ := newTestHubWith(t, failingGenerator{})
	doc := store.Document{ID: "d1"}

	a, fa := joinSession(h, doc, "alice", session.Edit)
	_, fb := joinSession(h, doc, "bob", session.Edit)
	fa.reset()
	fb.reset()

	h.Route(a, []byte(`{"type":"ai_request","prompt":"p","request_id":"r2"}`))

	// Failure goes to the requester only, never broadcast.
	fails := fa.byType(t, MsgAIError)
	req.Len(fails, 1)
	req.Equal("r2", fails[0]["request_id"])
	req.Contains(fails[0]["error"], "model unavailable")
	req.Empty(fb.decoded(t))
}
