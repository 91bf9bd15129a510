package session

import (
	"sync"

	"github.com/samber/lo"
)

// room is the ephemeral per-document unit. Everything that touches its
// session set holds mu, so all mutations and broadcasts for one document are
// totally ordered while distinct documents proceed in parallel.
type room struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// rosterLocked recomputes the roster from the session set. Callers hold mu.
func (r *room) rosterLocked() Roster {
	roster := make(Roster, len(r.sessions))
	for sess := range r.sessions {
		roster[sess.UserID] = RosterEntry{
			UserName:   sess.UserName,
			Permission: sess.Permission,
		}
	}
	return roster
}

// Registry is the table of live rooms, keyed by document id. Rooms are
// created lazily on first join and destroyed eagerly on last leave; a room
// exists iff it has at least one session.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
	}
}

// Register adds sess to its document's room, creating the room when absent,
// and returns the roster snapshot that already includes sess.
func (g *Registry) Register(sess *Session) Roster {
	g.mu.Lock()
	r, ok := g.rooms[sess.DocumentID]
	if !ok {
		r = &room{sessions: make(map[*Session]struct{})}
		g.rooms[sess.DocumentID] = r
	}
	r.mu.Lock()
	g.mu.Unlock()

	r.sessions[sess] = struct{}{}
	roster := r.rosterLocked()
	r.mu.Unlock()
	return roster
}

// Remove deletes sess from its room. It reports whether the session was
// actually present, the roster after removal, and the remaining session
// count. A room left empty is destroyed within the same call, so repeated
// removes for the same session are no-ops.
func (g *Registry) Remove(sess *Session) (removed bool, roster Roster, remaining int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[sess.DocumentID]
	if !ok {
		return false, nil, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, present := r.sessions[sess]; !present {
		return false, nil, 0
	}
	delete(r.sessions, sess)
	remaining = len(r.sessions)
	if remaining == 0 {
		r.closed = true
		delete(g.rooms, sess.DocumentID)
		return true, nil, 0
	}
	return true, r.rosterLocked(), remaining
}

// Broadcast delivers data to every session in the document's room except
// exclude. Delivery is best-effort per recipient: one failed send never
// blocks the rest of the pass. Sessions whose send failed are returned so
// the caller can run the leave path for them. The room lock is held for the
// whole pass, so a broadcast never interleaves with membership changes or
// with teardown of the same room.
func (g *Registry) Broadcast(documentID string, data []byte, exclude *Session) (failed []*Session) {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	for sess := range r.sessions {
		if sess == exclude {
			continue
		}
		if !sess.Sender.TrySend(data) {
			failed = append(failed, sess)
		}
	}
	return failed
}

// List returns a copy of the document's current session set, never a live
// reference, so iteration is not invalidated by concurrent join/leave.
func (g *Registry) List(documentID string) []*Session {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.sessions)
}

// Roster returns the current roster for the document, or nil when no room
// exists.
func (g *Registry) Roster(documentID string) Roster {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

// Count returns the number of live sessions for the document.
func (g *Registry) Count(documentID string) int {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RoomCount returns the number of active rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// ConnectionCount returns the number of live sessions across all rooms.
func (g *Registry) ConnectionCount() int {
	g.mu.Lock()
	rooms := lo.Values(g.rooms)
	g.mu.Unlock()

	total := 0
	for _, r := range rooms {
		r.mu.Lock()
		total += len(r.sessions)
		r.mu.Unlock()
	}
	return total
}
