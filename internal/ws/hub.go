package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cotale/backend/internal/ai"
	"github.com/cotale/backend/internal/session"
	"github.com/cotale/backend/internal/store"
)

// Hub orchestrates the session lifecycle for every room: join, leave,
// eviction of dead connections, envelope fan-out, and the asynchronous
// forwarding of content mutations to the store.
type Hub struct {
	registry  *session.Registry
	store     *store.Store
	gen       ai.Generator
	log       *slog.Logger
	aiTimeout time.Duration

	persist  chan persistTask
	stopped  chan struct{}
	stopOnce sync.Once
}

type persistTask struct {
	documentID string
	userID     string
	operation  string
	content    string
	hasContent bool
	update     string
}

func NewHub(registry *session.Registry, st *store.Store, gen ai.Generator, log *slog.Logger, aiTimeout time.Duration, persistQueue int) *Hub {
	h := &Hub{
		registry:  registry,
		store:     st,
		gen:       gen,
		log:       log,
		aiTimeout: aiTimeout,
		persist:   make(chan persistTask, persistQueue),
		stopped:   make(chan struct{}),
	}
	go h.persistLoop()
	return h
}

// Stop shuts down the persistence worker. Queued tasks not yet applied are
// dropped.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopped)
	})
}

// Join runs the join sequence: register the session, announce it to everyone
// already in the room, then hand the joiner the current document state. The
// roster both sides see already includes the joiner; the joiner never
// receives its own user_joined.
func (h *Hub) Join(sess *session.Session, doc store.Document) {
	roster := h.registry.Register(sess)

	h.broadcast(sess.DocumentID, userJoinedPayload{
		Type:       MsgUserJoined,
		UserID:     sess.UserID,
		UserName:   sess.UserName,
		Permission: sess.Permission,
		Users:      roster,
	}, sess)

	h.unicast(sess, documentStatePayload{
		Type:       MsgDocumentState,
		Title:      doc.Title,
		Content:    doc.Content,
		Users:      roster,
		Permission: sess.Permission,
	})

	h.log.Info("session joined",
		"document_id", sess.DocumentID,
		"user_id", sess.UserID,
		"permission", sess.Permission.String())
}

// Leave runs the leave sequence for an explicit close, a transport failure,
// or a broadcast eviction. It is idempotent: once the session is out of the
// room, further calls do nothing, so no double user_left is ever emitted.
func (h *Hub) Leave(sess *session.Session) {
	removed, roster, remaining := h.registry.Remove(sess)
	if !removed {
		return
	}
	sess.Sender.Close()

	if remaining > 0 {
		h.broadcast(sess.DocumentID, userLeftPayload{
			Type:     MsgUserLeft,
			UserID:   sess.UserID,
			UserName: sess.UserName,
			Users:    roster,
		}, nil)
	}

	h.log.Info("session left",
		"document_id", sess.DocumentID,
		"user_id", sess.UserID,
		"remaining", remaining)
}

// broadcast marshals payload once and delivers it to the room, then runs the
// leave path for any session whose delivery failed, synchronously in the
// same call. The eviction cascade terminates because each round shrinks the
// room.
func (h *Hub) broadcast(documentID string, payload any, exclude *session.Session) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal broadcast payload", "document_id", documentID, "err", err)
		return
	}
	failed := h.registry.Broadcast(documentID, data, exclude)
	for _, sess := range failed {
		h.log.Warn("delivery failed, evicting session",
			"document_id", documentID,
			"user_id", sess.UserID)
		h.Leave(sess)
	}
}

// unicast delivers payload to a single session. A failed unicast is treated
// like any other delivery failure: the recipient is evicted.
func (h *Hub) unicast(sess *session.Session, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal unicast payload", "user_id", sess.UserID, "err", err)
		return
	}
	if !sess.Sender.TrySend(data) {
		h.log.Warn("unicast delivery failed, evicting session",
			"document_id", sess.DocumentID,
			"user_id", sess.UserID)
		h.Leave(sess)
	}
}

// queuePersist hands a mutation to the persistence worker. It never blocks:
// a full queue drops the task with a log line rather than delaying live
// delivery.
func (h *Hub) queuePersist(task persistTask) {
	select {
	case h.persist <- task:
	default:
		h.log.Warn("persist queue full, dropping task",
			"document_id", task.documentID,
			"operation", task.operation)
	}
}

func (h *Hub) persistLoop() {
	for {
		select {
		case <-h.stopped:
			return
		case task := <-h.persist:
			h.applyPersist(task)
		}
	}
}

// applyPersist forwards one mutation to the store. Failures are logged and
// otherwise ignored: the broadcast already happened and is not rolled back.
func (h *Hub) applyPersist(task persistTask) {
	if task.hasContent {
		if err := h.store.UpdateContent(task.documentID, task.content); err != nil {
			h.log.Error("content persist failed",
				"document_id", task.documentID,
				"user_id", task.userID,
				"err", err)
		}
	}
	if task.update != "" {
		rec := store.HistoryRecord{
			DocumentID: task.documentID,
			UserID:     task.userID,
			Operation:  task.operation,
			YjsUpdate:  task.update,
		}
		if err := h.store.AppendHistory(rec); err != nil {
			h.log.Error("history persist failed",
				"document_id", task.documentID,
				"user_id", task.userID,
				"err", err)
		}
	}
}
