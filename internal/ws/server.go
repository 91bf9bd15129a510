package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/cotale/backend/internal/auth"
	"github.com/cotale/backend/internal/session"
	"github.com/cotale/backend/internal/store"
)

type Server struct {
	store          *store.Store
	registry       *session.Registry
	hub            *Hub
	tokens         *auth.Tokens
	log            *slog.Logger
	outboxSize     int
	started        time.Time
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(st *store.Store, registry *session.Registry, hub *Hub, tokens *auth.Tokens, log *slog.Logger, outboxSize int, allowedOrigins []string) *Server {
	s := &Server{
		store:          st,
		registry:       registry,
		hub:            hub,
		tokens:         tokens,
		log:            log,
		outboxSize:     outboxSize,
		started:        time.Now(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/", s.handleWS)
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)
	mux.HandleFunc("/api/health", s.handleHealth)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if documentID == "" || strings.Contains(documentID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newClient(conn, s.outboxSize)
	sess, doc, ok := s.admit(c, r, documentID)
	if !ok {
		return
	}

	s.hub.Join(sess, doc)
	s.readLoop(conn, sess)
}

// admit resolves the credential and the session's effective permission. Each
// denial closes the connection with its own code before any room state is
// touched.
func (s *Server) admit(c *client, r *http.Request, documentID string) (*session.Session, store.Document, bool) {
	deny := func(code int, reason string) (*session.Session, store.Document, bool) {
		s.log.Info("connection denied",
			"document_id", documentID,
			"code", code,
			"reason", reason)
		c.closeWith(code, reason)
		return nil, store.Document{}, false
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		return deny(CloseMissingToken, "authentication token required")
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return deny(CloseInvalidToken, "invalid authentication token")
	}

	user, err := s.store.GetUser(userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return deny(CloseInvalidToken, "user not found")
	}
	if err != nil {
		s.log.Error("user lookup failed", "user_id", userID, "err", err)
		return deny(websocket.CloseInternalServerErr, "internal error")
	}

	doc, err := s.store.GetDocument(documentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return deny(CloseDocumentNotFound, "document not found")
	}
	if err != nil {
		s.log.Error("document lookup failed", "document_id", documentID, "err", err)
		return deny(websocket.CloseInternalServerErr, "internal error")
	}

	perm, err := s.store.AccessLevel(documentID, user.ID)
	if err != nil {
		s.log.Error("access resolution failed", "document_id", documentID, "user_id", user.ID, "err", err)
		return deny(websocket.CloseInternalServerErr, "internal error")
	}
	if perm == session.None {
		return deny(CloseInsufficientPermission, "insufficient permission")
	}

	sess := &session.Session{
		Sender:     c,
		DocumentID: documentID,
		UserID:     user.ID,
		UserName:   user.Name,
		Permission: perm,
		JoinedAt:   time.Now(),
	}
	return sess, doc, true
}

// readLoop processes envelopes until the transport closes, then runs the
// leave path exactly once.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	defer s.hub.Leave(sess)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.Route(sess, data)
	}
}

func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	// Parse: /api/documents/{id}/presence
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "presence" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	documentID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	s.handlePresence(w, r, documentID)
}

type presenceResponse struct {
	DocumentID      string         `json:"document_id"`
	Users           session.Roster `json:"users"`
	ConnectionCount int            `json:"connection_count"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request, documentID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.registry.List(documentID)
	users := make(session.Roster, len(sessions))
	for _, sess := range sessions {
		users[sess.UserID] = session.RosterEntry{
			UserName:   sess.UserName,
			Permission: sess.Permission,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(presenceResponse{
		DocumentID:      documentID,
		Users:           users,
		ConnectionCount: len(sessions),
	})
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Rooms         int     `json:"rooms"`
	Connections   int     `json:"connections"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Rooms:         s.registry.RoomCount(),
		Connections:   s.registry.ConnectionCount(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux, log *slog.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
