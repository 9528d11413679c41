package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

const (
	dashboardRecentDiffs     = 30
	dashboardRecentConflicts = 10
)

// runDashboard pushes a state rollup to every subscribed connection every
// update interval.
func (s *Server) runDashboard(ctx context.Context) {
	ticker := time.NewTicker(dashboardUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pushDashboard()

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) pushDashboard() {
	s.mu.RLock()
	subs := make([]string, 0, len(s.dashboardSubs))
	for connId := range s.dashboardSubs {
		subs = append(subs, connId)
	}
	s.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	state, err := s.snapshot()
	if err != nil {
		slog.Error("dashboard snapshot", "error", err)
		return
	}

	msg := message.NewDashboardState(state)
	for _, connId := range subs {
		s.hub.SendMessage(connId, msg)
	}
}

func (s *Server) snapshot() (*message.DashboardState, error) {
	recentDiffs, err := s.store.Recent(dashboardRecentDiffs)
	if err != nil {
		return nil, err
	}
	recentConflicts, err := s.store.RecentConflicts(dashboardRecentConflicts)
	if err != nil {
		return nil, err
	}
	totalDiffs, err := s.store.TotalDiffs()
	if err != nil {
		return nil, err
	}
	totalFiles, err := s.store.TotalFiles()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	clients := make([]*message.PeerInfo, 0, len(s.clients))
	for _, info := range s.clients {
		c := *info
		clients = append(clients, &c)
	}
	s.mu.RUnlock()

	return &message.DashboardState{
		Clients:         clients,
		Locks:           s.locks.All(),
		RecentDiffs:     recentDiffs,
		RecentConflicts: recentConflicts,
		Health: message.HealthStats{
			UptimeMs:    time.Since(s.started).Milliseconds(),
			DbSizeBytes: s.store.SizeBytes(),
			TotalDiffs:  totalDiffs,
			TotalFiles:  totalFiles,
		},
	}, nil
}
