// Package sync implements the client side of the protocol: watching the
// project tree, turning local writes into diffs, and applying remote diffs
// back onto disk.
package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nyroxsystems-boop/partsync/internal/diffengine"
	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/utils"
)

const (
	// lockIdleTimeout releases our advisory lock after a quiet period.
	lockIdleTimeout = 30 * time.Second

	// maxSyncFileSize bounds the files we track. Bigger files would not fit
	// the wire payload limit once wrapped in a full-file message.
	maxSyncFileSize = 2 * 1024 * 1024

	expectedCacheSize = 512
	maxPendingDiffs   = 1000
)

// Transport is the slice of the relay connection the syncer needs.
type Transport interface {
	Send(msg *message.Message) error
	Request(ctx context.Context, msg *message.Message) (*message.Message, error)
	IsConnected() bool
	Messages() <-chan *message.Message
}

type Options struct {
	Dir        string
	ClientName string
	Transport  Transport
	Watcher    *Watcher
	Ignore     *IgnoreList
}

// Syncer owns the in-memory mirror of the project tree and moves diffs in
// both directions. The relay never sees file contents except in full-file
// messages; the mirror here is what patches are computed against.
type Syncer struct {
	dir       string
	name      string
	clientID  string
	transport Transport
	watcher   *Watcher
	ignore    *IgnoreList
	agent     *AgentDetector

	// expected remembers fingerprints of our own incoming writes so the
	// watcher echo does not bounce back to the relay.
	expected *lru.Cache[string, struct{}]

	mu           stdsync.Mutex
	contents     map[string]string
	versions     map[string]string
	pending      []*message.FileDiff
	flushTimers  map[string]*time.Timer
	unlockTimers map[string]*time.Timer
	locks        map[string]*message.LockState

	ctx context.Context
}

func New(opts Options) (*Syncer, error) {
	expected, err := lru.New[string, struct{}](expectedCacheSize)
	if err != nil {
		return nil, err
	}

	ignore := opts.Ignore
	if ignore == nil {
		ignore = NewIgnoreList(opts.Dir, nil)
	}

	s := &Syncer{
		dir:          opts.Dir,
		name:         opts.ClientName,
		clientID:     uuid.NewString(),
		transport:    opts.Transport,
		watcher:      opts.Watcher,
		ignore:       ignore,
		agent:        NewAgentDetector(),
		expected:     expected,
		contents:     make(map[string]string),
		versions:     make(map[string]string),
		flushTimers:  make(map[string]*time.Timer),
		unlockTimers: make(map[string]*time.Timer),
		locks:        make(map[string]*message.LockState),
		ctx:          context.Background(),
	}

	if s.watcher != nil {
		s.watcher.FilterPaths(func(path string) bool {
			rel, ok := s.relPath(path)
			return !ok || s.ignore.Ignored(rel)
		})
	}

	return s, nil
}

// ClientID identifies this process across reconnects within one run.
func (s *Syncer) ClientID() string {
	return s.clientID
}

// Run scans the tree, then pumps watcher and relay events until the context
// ends. Call OnConnected from the transport's connect hook.
func (s *Syncer) Run(ctx context.Context) error {
	s.ctx = ctx

	if err := s.initialScan(); err != nil {
		return err
	}

	var watchCh <-chan Event
	if s.watcher != nil {
		watchCh = s.watcher.Events()
	}

	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return ctx.Err()

		case ev, ok := <-watchCh:
			if !ok {
				watchCh = nil
				continue
			}
			s.onWatchEvent(ev)

		case msg, ok := <-s.transport.Messages():
			if !ok {
				return nil
			}
			s.handleMessage(msg)
		}
	}
}

// initialScan loads every syncable file into the mirror.
func (s *Syncer) initialScan() error {
	count := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, ok := s.relPath(path)
		if !ok {
			return nil
		}

		if d.IsDir() {
			if rel != "" && s.ignore.Ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignore.Ignored(rel) {
			return nil
		}

		content, ok := s.readSyncable(path)
		if !ok {
			return nil
		}

		s.mu.Lock()
		s.contents[rel] = content
		s.versions[rel] = diffengine.Fingerprint(content)
		s.mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("initial scan done", "dir", s.dir, "files", count)
	return nil
}

// readSyncable reads path and reports whether it is a file we track:
// regular, valid UTF-8, and under the size bound.
func (s *Syncer) readSyncable(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if info.Size() > maxSyncFileSize {
		slog.Warn("file too large, not synced", "path", path, "size", info.Size())
		return "", false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("read failed", "path", path, "error", err)
		return "", false
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// relPath maps an absolute path to the slash-separated project-relative
// path. ok is false for paths outside the project dir.
func (s *Syncer) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		return "", false
	}
	if len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func (s *Syncer) absPath(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}

// ---- outbound -----------------------------------------------------------

func (s *Syncer) onWatchEvent(ev Event) {
	rel, ok := s.relPath(ev.Path)
	if !ok || rel == "" || s.ignore.Ignored(rel) {
		return
	}

	switch ev.Op {
	case OpRemoved:
		s.handleLocalRemove(rel)
	default:
		s.agent.RecordWrite()
		s.scheduleFlush(rel)
	}
}

// scheduleFlush restarts the per-file debounce timer. The delay depends on
// whether an agent burst is in progress.
func (s *Syncer) scheduleFlush(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.flushTimers[rel]; ok {
		t.Stop()
	}
	s.flushTimers[rel] = time.AfterFunc(s.agent.Debounce(), func() {
		s.flushFile(rel)
	})
}

// flushFile turns the current on-disk state of rel into a diff (or a full
// file when there is no base) and ships it.
func (s *Syncer) flushFile(rel string) {
	s.mu.Lock()
	delete(s.flushTimers, rel)
	s.mu.Unlock()

	content, ok := s.readSyncable(s.absPath(rel))
	if !ok {
		return
	}

	fp := diffengine.Fingerprint(content)

	// a write we made ourselves while applying a remote change
	if _, echoed := s.expected.Get(expectedKey(rel, fp)); echoed {
		s.expected.Remove(expectedKey(rel, fp))
		s.mu.Lock()
		s.contents[rel] = content
		s.versions[rel] = fp
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	old, known := s.contents[rel]
	s.contents[rel] = content
	s.versions[rel] = fp
	s.mu.Unlock()

	if !known || old == "" {
		// no patch base: send the whole file once
		s.sendOnline(message.NewFullFile(rel, content, fp))
		s.refreshLock(rel)
		return
	}

	if !diffengine.HasChanged(old, content) {
		return
	}

	d := &message.FileDiff{
		File:            rel,
		Patch:           diffengine.MakePatch(old, content),
		Author:          s.name,
		Type:            s.agent.AuthorType(),
		Timestamp:       time.Now().UnixMilli(),
		Version:         fp,
		PreviousVersion: diffengine.Fingerprint(old),
	}
	s.sendDiff(d)
	s.refreshLock(rel)
}

// sendDiff ships a diff or queues it while offline. The queue preserves
// arrival order so the relay sees a coherent patch chain after reconnect.
func (s *Syncer) sendDiff(d *message.FileDiff) {
	if s.transport.IsConnected() {
		if err := s.transport.Send(message.NewFileDiff(d)); err == nil {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= maxPendingDiffs {
		slog.Warn("pending queue full, dropping oldest diff", "file", s.pending[0].File)
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, d)
	slog.Debug("diff queued offline", "file", d.File, "pending", len(s.pending))
}

// sendOnline ships best effort; full files and lock traffic are not queued.
func (s *Syncer) sendOnline(msg *message.Message) {
	if !s.transport.IsConnected() {
		return
	}
	if err := s.transport.Send(msg); err != nil {
		slog.Warn("send failed", "type", msg.Type, "error", err)
	}
}

// refreshLock (re)acquires our advisory lock on rel and arms the idle
// release timer.
func (s *Syncer) refreshLock(rel string) {
	s.sendOnline(message.NewFileLock(rel, s.agent.LockType()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.unlockTimers[rel]; ok {
		t.Stop()
	}
	s.unlockTimers[rel] = time.AfterFunc(lockIdleTimeout, func() {
		s.mu.Lock()
		delete(s.unlockTimers, rel)
		s.mu.Unlock()
		s.sendOnline(message.NewFileUnlock(rel))
	})
}

func (s *Syncer) handleLocalRemove(rel string) {
	s.mu.Lock()
	if t, ok := s.flushTimers[rel]; ok {
		t.Stop()
		delete(s.flushTimers, rel)
	}
	_, known := s.contents[rel]
	delete(s.contents, rel)
	delete(s.versions, rel)
	s.mu.Unlock()

	if !known {
		return
	}
	s.sendOnline(message.NewFileDelete(rel, s.name))
}

// ---- inbound ------------------------------------------------------------

func (s *Syncer) handleMessage(msg *message.Message) {
	switch msg.Type {
	case message.TypeFileDiff:
		if d, ok := msg.Data.(*message.FileDiff); ok {
			s.applyDiff(d)
		}
	case message.TypeSyncApplyFullFile:
		if f, ok := msg.Data.(*message.FullFile); ok {
			s.applyFullFile(f)
		}
	case message.TypeFileDelete:
		if d, ok := msg.Data.(*message.FileDelete); ok {
			s.applyRemoteDelete(d)
		}
	case message.TypeFileRename:
		if r, ok := msg.Data.(*message.FileRename); ok {
			s.applyRemoteRename(r)
		}
	case message.TypeFileLockChanged:
		if lc, ok := msg.Data.(*message.LocksChanged); ok {
			s.applyLockState(lc)
		}
	case message.TypeFileConflict:
		if e, ok := msg.Data.(*message.ConflictEvent); ok {
			slog.Warn("conflict detected on relay",
				"file", e.File, "authors", e.AuthorA+"/"+e.AuthorB, "copy", e.ConflictFile)
		}
	default:
		slog.Debug("unhandled message", "type", msg.Type)
	}
}

// applyDiff patches the local file with a remote change. An undo arrives as
// the original patch with swapped fingerprints, so when the forward apply
// does not land on the advertised version we try the inverse.
func (s *Syncer) applyDiff(d *message.FileDiff) {
	s.mu.Lock()
	current, known := s.contents[d.File]
	s.mu.Unlock()

	if !known {
		if c, ok := s.readSyncable(s.absPath(d.File)); ok {
			current = c
		}
	}

	result, ok := diffengine.ApplyPatch(d.Patch, current)
	if !ok || diffengine.Fingerprint(result) != d.Version {
		if rev, rok := diffengine.ApplyPatchReverse(d.Patch, current); rok && diffengine.Fingerprint(rev) == d.Version {
			result, ok = rev, true
		}
	}

	if !ok {
		slog.Warn("patch applied partially", "file", d.File, "author", d.Author)
	} else if diffengine.Fingerprint(result) != d.Version {
		slog.Warn("patch applied off-version", "file", d.File,
			"want", d.Version, "got", diffengine.Fingerprint(result))
	}

	// even a partial result is written: staying close beats drifting
	if err := s.writeLocal(d.File, result); err != nil {
		slog.Error("apply write failed", "file", d.File, "error", err)
	}
}

func (s *Syncer) applyFullFile(f *message.FullFile) {
	if f.Hash != "" && diffengine.Fingerprint(f.Content) != f.Hash {
		slog.Warn("full file hash mismatch", "file", f.File, "want", f.Hash)
	}
	if err := s.writeLocal(f.File, f.Content); err != nil {
		slog.Error("full file write failed", "file", f.File, "error", err)
	}
}

// writeLocal writes content to disk and arms both echo guards: the watcher
// ignore-once window and the expected fingerprint cache.
func (s *Syncer) writeLocal(rel, content string) error {
	abs := s.absPath(rel)
	fp := diffengine.Fingerprint(content)

	s.expected.Add(expectedKey(rel, fp), struct{}{})
	if s.watcher != nil {
		s.watcher.IgnoreOnce(abs)
	}

	if err := utils.EnsureParent(abs); err != nil {
		return err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return err
	}

	s.mu.Lock()
	s.contents[rel] = content
	s.versions[rel] = fp
	s.mu.Unlock()
	return nil
}

func (s *Syncer) applyRemoteDelete(d *message.FileDelete) {
	abs := s.absPath(d.File)
	if s.watcher != nil {
		s.watcher.IgnoreOnce(abs)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		slog.Warn("remote delete failed", "file", d.File, "error", err)
	}

	s.mu.Lock()
	delete(s.contents, d.File)
	delete(s.versions, d.File)
	if t, ok := s.flushTimers[d.File]; ok {
		t.Stop()
		delete(s.flushTimers, d.File)
	}
	s.mu.Unlock()
}

func (s *Syncer) applyRemoteRename(r *message.FileRename) {
	oldAbs := s.absPath(r.OldFile)
	newAbs := s.absPath(r.NewFile)
	if s.watcher != nil {
		s.watcher.IgnoreOnce(oldAbs)
		s.watcher.IgnoreOnce(newAbs)
	}

	if err := utils.EnsureParent(newAbs); err == nil {
		if err := os.Rename(oldAbs, newAbs); err != nil && !os.IsNotExist(err) {
			slog.Warn("remote rename failed", "old", r.OldFile, "new", r.NewFile, "error", err)
		}
	}

	s.mu.Lock()
	if c, ok := s.contents[r.OldFile]; ok {
		s.contents[r.NewFile] = c
		s.versions[r.NewFile] = s.versions[r.OldFile]
		delete(s.contents, r.OldFile)
		delete(s.versions, r.OldFile)
	}
	s.mu.Unlock()
}

func (s *Syncer) applyLockState(lc *message.LocksChanged) {
	s.mu.Lock()
	s.locks = make(map[string]*message.LockState, len(lc.Locks))
	for _, l := range lc.Locks {
		s.locks[l.File] = l
	}
	s.mu.Unlock()

	for _, l := range lc.Locks {
		if l.LockedBy != s.name {
			slog.Debug("file locked elsewhere", "file", l.File, "by", l.LockedBy, "type", l.LockType)
		}
	}
}

// Locks returns the last lock table snapshot pushed by the relay.
func (s *Syncer) Locks() []*message.LockState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*message.LockState, 0, len(s.locks))
	for _, l := range s.locks {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

// ---- reconnect ----------------------------------------------------------

// OnConnected runs the catch-up handshake and drains the offline queue.
// Hook this into the transport's connect callback; it runs on every
// reconnect.
func (s *Syncer) OnConnected() {
	s.mu.Lock()
	fileVersions := make(map[string]string, len(s.versions))
	for rel, v := range s.versions {
		fileVersions[rel] = v
	}
	s.mu.Unlock()

	req := message.NewSyncHandshake(&message.SyncHandshake{
		ClientId:     s.clientID,
		ProjectId:    filepath.Base(s.dir),
		FileVersions: fileVersions,
	})

	reply, err := s.transport.Request(s.ctx, req)
	if err != nil {
		slog.Error("handshake failed", "error", err)
		return
	}

	resp, ok := reply.Data.(*message.SyncHandshakeResponse)
	if !ok {
		slog.Error("handshake reply has unexpected payload", "type", reply.Type)
		return
	}

	slog.Info("handshake done",
		"missingDiffs", len(resp.MissingDiffs),
		"fullFiles", len(resp.FullFiles),
		"locks", len(resp.Locks))

	for _, d := range resp.MissingDiffs {
		s.applyDiff(d)
	}
	for _, f := range resp.FullFiles {
		s.applyFullFile(f)
	}
	s.applyLockState(&message.LocksChanged{Locks: resp.Locks})

	s.drainPending()
}

// drainPending replays queued offline diffs in arrival order.
func (s *Syncer) drainPending() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		d := s.pending[0]
		s.pending = s.pending[1:]
		remaining := len(s.pending)
		s.mu.Unlock()

		if err := s.transport.Send(message.NewFileDiff(d)); err != nil {
			s.mu.Lock()
			s.pending = append([]*message.FileDiff{d}, s.pending...)
			s.mu.Unlock()
			slog.Warn("pending replay interrupted", "error", err, "remaining", remaining+1)
			return
		}
	}
}

func (s *Syncer) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for rel, t := range s.flushTimers {
		t.Stop()
		delete(s.flushTimers, rel)
	}
	for rel, t := range s.unlockTimers {
		t.Stop()
		delete(s.unlockTimers, rel)
	}
}

func expectedKey(rel, fingerprint string) string {
	return rel + "\x00" + fingerprint
}
