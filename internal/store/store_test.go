package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cotale/backend/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDocumentRoundTrip(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	doc := Document{
		ID:      "d1",
		Title:   "Act One",
		Content: "FADE IN",
		OwnerID: "u1",
	}
	req.NoError(st.PutDocument(doc))

	got, err := st.GetDocument("d1")
	req.NoError(err)
	req.Equal("Act One", got.Title)
	req.Equal("FADE IN", got.Content)
	req.Equal("u1", got.OwnerID)
	req.False(got.CreatedAt.IsZero())
}

func TestGetDocumentNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetDocument("missing")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAccessLevel(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	req.NoError(st.PutDocument(Document{ID: "private", Title: "p", OwnerID: "owner"}))
	req.NoError(st.PutDocument(Document{ID: "public", Title: "q", OwnerID: "owner", IsPublic: true}))
	req.NoError(st.SetGrant("private", "editor", session.Edit))
	req.NoError(st.SetGrant("private", "reader", session.Read))

	tests := []struct {
		name       string
		documentID string
		userID     string
		want       session.Permission
	}{
		{"owner gets admin", "private", "owner", session.Admin},
		{"edit grant", "private", "editor", session.Edit},
		{"read grant", "private", "reader", session.Read},
		{"no grant on private", "private", "stranger", session.None},
		{"no grant on public", "public", "stranger", session.Read},
		{"owner beats public default", "public", "owner", session.Admin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.AccessLevel(tt.documentID, tt.userID)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAccessLevelUnknownDocument(t *testing.T) {
	st := newTestStore(t)
	_, err := st.AccessLevel("missing", "anyone")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestUpdateContent(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	req.NoError(st.PutDocument(Document{ID: "d1", Title: "t", OwnerID: "u1"}))
	req.NoError(st.UpdateContent("d1", "Hello"))

	got, err := st.GetDocument("d1")
	req.NoError(err)
	req.Equal("Hello", got.Content)
	req.Equal("t", got.Title)
	req.False(got.UpdatedAt.IsZero())

	req.ErrorIs(st.UpdateContent("missing", "x"), ErrDocumentNotFound)
}

func TestAppendHistoryOrder(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	base := time.Now().UTC()
	for i, update := range []string{"u1", "u2", "u3"} {
		req.NoError(st.AppendHistory(HistoryRecord{
			DocumentID: "d1",
			UserID:     "alice",
			Operation:  "yjs_update",
			YjsUpdate:  update,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	// Records for another document must not leak into d1's history.
	req.NoError(st.AppendHistory(HistoryRecord{
		DocumentID: "d2",
		UserID:     "bob",
		Operation:  "content_change",
	}))

	records, err := st.History("d1")
	req.NoError(err)
	req.Len(records, 3)
	for i, want := range []string{"u1", "u2", "u3"} {
		req.Equal(want, records[i].YjsUpdate)
		req.NotEmpty(records[i].ID)
		req.Equal("alice", records[i].UserID)
	}
}

func TestUserRoundTrip(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	id, err := st.PutUser(User{Email: "a@example.com", Name: "Alice"})
	req.NoError(err)
	req.NotEmpty(id)

	got, err := st.GetUser(id)
	req.NoError(err)
	req.Equal("Alice", got.Name)
	req.Equal("a@example.com", got.Email)

	_, err = st.GetUser("missing")
	req.ErrorIs(err, ErrUserNotFound)
}
