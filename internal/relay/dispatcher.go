package relay

import (
	"log/slog"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/relay/store"
	"github.com/nyroxsystems-boop/partsync/internal/relay/ws"
)

func (s *Server) onMessage(cm *ws.ClientMessage) {
	s.touchClient(cm)

	switch cm.Message.Type {
	case message.TypeFileDiff:
		if d, ok := cm.Message.Data.(*message.FileDiff); ok {
			s.handleFileDiff(cm, d)
		}
	case message.TypeFileLock:
		if l, ok := cm.Message.Data.(*message.FileLock); ok {
			s.handleFileLock(cm, l)
		}
	case message.TypeFileUnlock:
		if u, ok := cm.Message.Data.(*message.FileUnlock); ok {
			s.handleFileUnlock(cm, u)
		}
	case message.TypeFileDelete:
		if d, ok := cm.Message.Data.(*message.FileDelete); ok {
			s.handleFileDelete(cm, d)
		}
	case message.TypeFileRename:
		if r, ok := cm.Message.Data.(*message.FileRename); ok {
			s.handleFileRename(cm, r)
		}
	case message.TypeSyncFullFile:
		if f, ok := cm.Message.Data.(*message.FullFile); ok {
			s.handleFullFile(cm, f)
		}
	case message.TypeSyncHandshake:
		if hs, ok := cm.Message.Data.(*message.SyncHandshake); ok {
			s.handleHandshake(cm, hs)
		}
	case message.TypeDiffUndo:
		if u, ok := cm.Message.Data.(*message.DiffUndo); ok {
			s.handleDiffUndo(cm, u)
		}
	case message.TypeDashboardSubscribe:
		s.handleDashboardSubscribe(cm)
	default:
		// Malformed or unknown envelopes are absorbed; the connection stays.
		slog.Warn("unhandled message", "msgType", cm.Message.Type, "connId", cm.ConnID)
	}
}

// handleFileDiff validates the version chain, records conflicts, persists
// the diff and re-broadcasts it to every other connection.
func (s *Server) handleFileDiff(cm *ws.ClientMessage, d *message.FileDiff) {
	current, err := s.store.GetVersion(d.File)
	if err != nil {
		s.storageFailure(cm, err)
		return
	}

	if current != nil && current.Hash != d.PreviousVersion {
		latest, err := s.store.DiffsByFile(d.File, 1)
		if err != nil {
			s.storageFailure(cm, err)
			return
		}
		if len(latest) > 0 {
			verdict := DetectConflict(latest[0], d)
			if !verdict.Merged {
				id, err := s.store.InsertConflict(verdict.Event)
				if err != nil {
					s.storageFailure(cm, err)
					return
				}
				verdict.Event.Id = id
				slog.Warn("conflict", "file", d.File, "authorA", verdict.Event.AuthorA, "authorB", verdict.Event.AuthorB, "conflictFile", verdict.ConflictFile)
				s.hub.Broadcast(message.NewFileConflict(verdict.Event))
			}
		}
	}

	id, err := s.store.InsertDiff(d)
	if err != nil {
		s.storageFailure(cm, err)
		return
	}
	d.Id = id

	if err := s.store.UpsertVersion(d.File, d.Version, d.Timestamp); err != nil {
		s.storageFailure(cm, err)
		return
	}
	if err := s.store.Prune(d.File, store.MaxDiffHistory); err != nil {
		slog.Error("prune", "file", d.File, "error", err)
	}

	slog.Debug("diff stored", "file", d.File, "id", d.Id, "author", d.Author, "type", d.Type)
	s.hub.BroadcastExcept(cm.ConnID, message.NewFileDiff(d))
}

func (s *Server) handleFileLock(cm *ws.ClientMessage, l *message.FileLock) {
	res := s.locks.Acquire(l.File, cm.Info.Name, l.LockType, cm.ConnID)
	if !res.OK {
		slog.Debug("lock denied", "file", l.File, "holder", res.Existing.LockedBy, "wantedBy", cm.Info.Name)
	}
	s.hub.Broadcast(message.NewLocksChanged(s.locks.All()))
}

func (s *Server) handleFileUnlock(cm *ws.ClientMessage, u *message.FileUnlock) {
	s.locks.Release(u.File, cm.Info.Name)
	s.hub.Broadcast(message.NewLocksChanged(s.locks.All()))
}

func (s *Server) handleFileDelete(cm *ws.ClientMessage, d *message.FileDelete) {
	s.locks.Release(d.File, "")
	if err := s.store.DeleteVersion(d.File); err != nil {
		slog.Error("delete version", "file", d.File, "error", err)
	}
	s.hub.BroadcastExcept(cm.ConnID, cm.Message)
	s.hub.Broadcast(message.NewLocksChanged(s.locks.All()))
}

func (s *Server) handleFileRename(cm *ws.ClientMessage, r *message.FileRename) {
	s.locks.Release(r.OldFile, "")
	s.hub.BroadcastExcept(cm.ConnID, cm.Message)
}

func (s *Server) handleFullFile(cm *ws.ClientMessage, f *message.FullFile) {
	if err := s.store.UpsertVersion(f.File, f.Hash, time.Now().UnixMilli()); err != nil {
		s.storageFailure(cm, err)
		return
	}
	s.hub.BroadcastExcept(cm.ConnID, message.NewApplyFullFile(f.File, f.Content, f.Hash))
}

// handleDiffUndo synthesizes an inverse-by-reapplication diff: same patch
// text, swapped fingerprints. Broadcast to all connections including the
// sender; clients recognize the reversed chain by the swapped hashes.
func (s *Server) handleDiffUndo(cm *ws.ClientMessage, u *message.DiffUndo) {
	original, err := s.store.ByID(u.DiffId)
	if err != nil {
		s.storageFailure(cm, err)
		return
	}
	if original == nil || original.File != u.File {
		slog.Warn("undo target not found", "file", u.File, "diffId", u.DiffId)
		return
	}

	inverse := &message.FileDiff{
		File:            original.File,
		Patch:           original.Patch,
		Author:          cm.Info.Name,
		Type:            message.AuthorHuman,
		Timestamp:       time.Now().UnixMilli(),
		Version:         original.PreviousVersion,
		PreviousVersion: original.Version,
	}

	// The inverse joins the stored chain so the relay's current hash tracks
	// what clients converge to.
	id, err := s.store.InsertDiff(inverse)
	if err != nil {
		s.storageFailure(cm, err)
		return
	}
	inverse.Id = id
	if err := s.store.UpsertVersion(inverse.File, inverse.Version, inverse.Timestamp); err != nil {
		s.storageFailure(cm, err)
		return
	}
	if err := s.store.Prune(inverse.File, store.MaxDiffHistory); err != nil {
		slog.Error("prune", "file", inverse.File, "error", err)
	}

	slog.Info("undo", "file", inverse.File, "diffId", u.DiffId, "by", cm.Info.Name)
	s.hub.Broadcast(message.NewFileDiff(inverse))
}

func (s *Server) handleHandshake(cm *ws.ClientMessage, hs *message.SyncHandshake) {
	resp, err := s.buildHandshakeResponse(hs)
	if err != nil {
		s.storageFailure(cm, err)
		return
	}
	slog.Info("handshake", "client", hs.ClientId, "name", cm.Info.Name, "knownFiles", len(hs.FileVersions), "missingDiffs", len(resp.MissingDiffs))
	s.hub.SendMessage(cm.ConnID, message.NewSyncHandshakeResponse(cm.Message.Id, resp))
}

// buildHandshakeResponse gathers, for each file the relay knows, the chain
// suffix the client is missing. FullFiles stays empty; the field is
// reserved and clients iterate it regardless.
func (s *Server) buildHandshakeResponse(hs *message.SyncHandshake) (*message.SyncHandshakeResponse, error) {
	versions, err := s.store.AllVersions()
	if err != nil {
		return nil, err
	}

	resp := &message.SyncHandshakeResponse{
		MissingDiffs: []*message.FileDiff{},
		FullFiles:    []*message.FullFile{},
		Locks:        s.locks.All(),
	}

	for _, v := range versions {
		clientHash, known := hs.FileVersions[v.File]
		if known && clientHash == v.Hash {
			continue
		}
		diffs, err := s.store.DiffsSince(v.File, clientHash)
		if err != nil {
			return nil, err
		}
		resp.MissingDiffs = append(resp.MissingDiffs, diffs...)
	}

	return resp, nil
}

func (s *Server) handleDashboardSubscribe(cm *ws.ClientMessage) {
	s.mu.Lock()
	s.dashboardSubs[cm.ConnID] = struct{}{}
	s.mu.Unlock()

	// push once immediately on subscribe
	if state, err := s.snapshot(); err == nil {
		s.hub.SendMessage(cm.ConnID, message.NewDashboardState(state))
	} else {
		slog.Error("dashboard snapshot", "error", err)
	}
}

func (s *Server) onDisconnect(client *ws.Client) {
	s.mu.Lock()
	delete(s.clients, client.ConnID)
	delete(s.dashboardSubs, client.ConnID)
	s.mu.Unlock()

	removed := s.locks.ReleaseForClient(client.Info.Name, client.ConnID)
	slog.Info("client disconnected", "connId", client.ConnID, "name", client.Info.Name, "locksReleased", len(removed))
	if len(removed) > 0 {
		s.hub.Broadcast(message.NewLocksChanged(s.locks.All()))
	}
}

// touchClient registers or refreshes the relay-side ClientInfo row.
func (s *Server) touchClient(cm *ws.ClientMessage) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.clients[cm.ConnID]; ok {
		info.LastActivity = now
		return
	}
	s.clients[cm.ConnID] = &message.PeerInfo{
		ConnId:         cm.ConnID,
		Name:           cm.Info.Name,
		ConnectedSince: cm.Info.ConnectedAt.UnixMilli(),
		LastActivity:   now,
	}
}

// storageFailure is fatal to the request: log and close the offending
// connection; the client reconnects and handshakes.
func (s *Server) storageFailure(cm *ws.ClientMessage, err error) {
	slog.Error("storage failure", "connId", cm.ConnID, "msgType", cm.Message.Type, "error", err)
	s.hub.CloseConn(cm.ConnID)
}
