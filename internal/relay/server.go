package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/relay/store"
	"github.com/nyroxsystems-boop/partsync/internal/relay/ws"
)

const (
	lockSweepInterval       = 30 * time.Second
	dashboardUpdateInterval = 2 * time.Second
)

// Server is the relay: diff ingest, lock manager, version-chain store,
// conflict detector and reconnection handshake behind one websocket hub.
type Server struct {
	config *Config
	server *http.Server
	hub    *ws.Hub
	store  *store.Store
	locks  *LockTable

	started time.Time

	mu            sync.RWMutex
	clients       map[string]*message.PeerInfo
	dashboardSubs map[string]struct{}
}

func New(config *Config) (*Server, error) {
	st, err := store.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("relay store: %w", err)
	}

	locks := NewLockTable(st)
	if err := locks.RestoreFromStore(); err != nil {
		st.Close()
		return nil, fmt.Errorf("restore locks: %w", err)
	}

	hub := ws.NewHub()

	s := &Server{
		config:        config,
		hub:           hub,
		store:         st,
		locks:         locks,
		clients:       make(map[string]*message.PeerInfo),
		dashboardSubs: make(map[string]struct{}),
	}
	s.server = &http.Server{
		Addr:    config.Http.Addr,
		Handler: s.setupRoutes(),
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("relay start", "name", s.config.Name)
	defer slog.Info("relay stop")

	s.started = time.Now()

	go s.hub.Run(ctx)

	go func() {
		if err := s.runHttpServer(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay http server", "error", err)
		}
	}()

	var wg sync.WaitGroup

	// Single dispatcher: per-connection arrival order is preserved and the
	// per-file version race has one winner.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatchMessages(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.handleDepartures(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runLockSweeper(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runDashboard(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	slog.Info("relay shutdown signal")
	return s.Stop(ctx)
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	s.hub.Shutdown(shutdownCtx)

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.store.Close()
}

func (s *Server) runHttpServer() error {
	if s.config.Http.CertFile != "" && s.config.Http.KeyFile != "" {
		slog.Info("relay listen tls", "addr", s.config.Http.Addr)
		return s.server.ListenAndServeTLS(s.config.Http.CertFile, s.config.Http.KeyFile)
	}
	slog.Info("relay listen http", "addr", s.config.Http.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) dispatchMessages(ctx context.Context) {
	for {
		select {
		case msg := <-s.hub.Messages():
			s.onMessage(msg)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleDepartures(ctx context.Context) {
	for {
		select {
		case client := <-s.hub.Departures():
			s.onDisconnect(client)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) runLockSweeper(ctx context.Context) {
	ticker := time.NewTicker(lockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.locks.SweepExpired(); len(removed) > 0 {
				slog.Info("lock sweep", "expired", removed)
				s.hub.Broadcast(message.NewLocksChanged(s.locks.All()))
			}

		case <-ctx.Done():
			return
		}
	}
}
