package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cotale/backend/internal/ai"
	"github.com/cotale/backend/internal/auth"
	"github.com/cotale/backend/internal/config"
	"github.com/cotale/backend/internal/session"
	"github.com/cotale/backend/internal/store"
	"github.com/cotale/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	seed := flag.Bool("seed", false, "Provision demo users and a document, print their tokens, and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Error("failed to open store", "path", cfg.Store.Path, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	if *seed {
		if err := seedDemo(st, tokens); err != nil {
			log.Error("seed failed", "err", err)
			os.Exit(1)
		}
		return
	}

	var gen ai.Generator = ai.Canned{}
	if cfg.AI.APIKey != "" {
		log.Info("using remote ai generator", "base_url", cfg.AI.BaseURL, "model", cfg.AI.Model)
		gen = ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)
	} else {
		log.Info("no ai api key configured, using canned generator")
	}

	registry := session.NewRegistry()
	hub := ws.NewHub(registry, st, gen, log, cfg.AI.Timeout, cfg.Limits.PersistQueue)
	defer hub.Stop()

	server := ws.NewServer(st, registry, hub, tokens, log, cfg.Limits.OutboxSize, cfg.Server.AllowedOrigins)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		hub.Stop()
		st.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux, log); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

// seedDemo provisions an owner, an editor collaborator, and one document so
// the server can be exercised without a registration surface.
func seedDemo(st *store.Store, tokens *auth.Tokens) error {
	ownerID, err := st.PutUser(store.User{Email: "owner@example.com", Name: "Owner"})
	if err != nil {
		return fmt.Errorf("create owner: %w", err)
	}
	editorID, err := st.PutUser(store.User{Email: "editor@example.com", Name: "Editor"})
	if err != nil {
		return fmt.Errorf("create editor: %w", err)
	}

	if err := st.PutDocument(store.Document{
		ID:      "demo",
		Title:   "Demo Script",
		OwnerID: ownerID,
	}); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if err := st.SetGrant("demo", editorID, session.Edit); err != nil {
		return fmt.Errorf("grant editor: %w", err)
	}

	ownerToken, err := tokens.Mint(ownerID)
	if err != nil {
		return err
	}
	editorToken, err := tokens.Mint(editorID)
	if err != nil {
		return err
	}

	fmt.Printf("document: demo\n")
	fmt.Printf("owner  %s  token: %s\n", ownerID, ownerToken)
	fmt.Printf("editor %s  token: %s\n", editorID, editorToken)
	return nil
}
