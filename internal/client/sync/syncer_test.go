package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyroxsystems-boop/partsync/internal/diffengine"
	"github.com/nyroxsystems-boop/partsync/internal/message"
)

type fakeTransport struct {
	mu        stdsync.Mutex
	connected bool
	sendErr   error
	sent      []*message.Message
	messages  chan *message.Message
	reply     func(*message.Message) *message.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		messages:  make(chan *message.Message, 16),
	}
}

func (f *fakeTransport) Send(msg *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Request(_ context.Context, msg *message.Message) (*message.Message, error) {
	if f.reply == nil {
		return nil, errors.New("no reply configured")
	}
	return f.reply(msg), nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Messages() <-chan *message.Message {
	return f.messages
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) sentOfType(typ message.Type) []*message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*message.Message
	for _, m := range f.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func newTestSyncer(t *testing.T) (*Syncer, *fakeTransport, string) {
	t.Helper()

	dir := t.TempDir()
	tr := newFakeTransport()
	s, err := New(Options{
		Dir:        dir,
		ClientName: "alice",
		Transport:  tr,
	})
	require.NoError(t, err)
	return s, tr, dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestInitialScan(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "alpha\n")
	writeFile(t, dir, "src/b.ts", "beta\n")
	writeFile(t, dir, "node_modules/x/y.js", "skip\n")
	writeFile(t, dir, "bin.db", "skip")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.bin"), []byte{0xff, 0xfe, 0x00}, 0o644))

	require.NoError(t, s.initialScan())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.contents, 2)
	assert.Equal(t, "alpha\n", s.contents["a.ts"])
	assert.Equal(t, diffengine.Fingerprint("beta\n"), s.versions["src/b.ts"])
}

func TestFlushNewFileSendsFullFile(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "hello\n")
	s.flushFile("a.ts")

	full := tr.sentOfType(message.TypeSyncFullFile)
	require.Len(t, full, 1)
	f := full[0].Data.(*message.FullFile)
	assert.Equal(t, "a.ts", f.File)
	assert.Equal(t, "hello\n", f.Content)
	assert.Equal(t, diffengine.Fingerprint("hello\n"), f.Hash)

	// the edit also takes a soft lock
	assert.Len(t, tr.sentOfType(message.TypeFileLock), 1)
}

func TestFlushChangedFileSendsDiff(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "one\n")
	s.flushFile("a.ts")

	writeFile(t, dir, "a.ts", "one\ntwo\n")
	s.flushFile("a.ts")

	diffs := tr.sentOfType(message.TypeFileDiff)
	require.Len(t, diffs, 1)
	d := diffs[0].Data.(*message.FileDiff)
	assert.Equal(t, "alice", d.Author)
	assert.Equal(t, message.AuthorHuman, d.Type)
	assert.Equal(t, diffengine.Fingerprint("one\n"), d.PreviousVersion)
	assert.Equal(t, diffengine.Fingerprint("one\ntwo\n"), d.Version)

	applied, ok := diffengine.ApplyPatch(d.Patch, "one\n")
	require.True(t, ok)
	assert.Equal(t, "one\ntwo\n", applied)
}

func TestFlushUnchangedFileSendsNothing(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "same\n")
	s.flushFile("a.ts")
	before := len(tr.sentOfType(message.TypeFileDiff))

	s.flushFile("a.ts")
	assert.Equal(t, before, len(tr.sentOfType(message.TypeFileDiff)))
	assert.Len(t, tr.sentOfType(message.TypeSyncFullFile), 1)
}

func TestOfflineDiffsQueueAndReplay(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "v1\n")
	s.flushFile("a.ts")

	tr.setConnected(false)
	writeFile(t, dir, "a.ts", "v2\n")
	s.flushFile("a.ts")
	writeFile(t, dir, "a.ts", "v3\n")
	s.flushFile("a.ts")

	assert.Empty(t, tr.sentOfType(message.TypeFileDiff))
	s.mu.Lock()
	assert.Len(t, s.pending, 2)
	s.mu.Unlock()

	tr.setConnected(true)
	s.drainPending()

	diffs := tr.sentOfType(message.TypeFileDiff)
	require.Len(t, diffs, 2)
	// replay preserves arrival order
	first := diffs[0].Data.(*message.FileDiff)
	second := diffs[1].Data.(*message.FileDiff)
	assert.Equal(t, diffengine.Fingerprint("v2\n"), first.Version)
	assert.Equal(t, first.Version, second.PreviousVersion)

	s.mu.Lock()
	assert.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestEchoSuppression(t *testing.T) {
	s, tr, _ := newTestSyncer(t)

	s.applyFullFile(&message.FullFile{
		File:    "remote.ts",
		Content: "from the relay\n",
		Hash:    diffengine.Fingerprint("from the relay\n"),
	})
	assert.Equal(t, "from the relay\n", readFile(t, s.dir, "remote.ts"))

	// the watcher echo of our own write must not bounce back out
	s.flushFile("remote.ts")
	assert.Empty(t, tr.sent)
}

func TestApplyDiffForward(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	v0 := "base\n"
	v1 := "base\nmore\n"
	writeFile(t, dir, "a.ts", v0)
	require.NoError(t, s.initialScan())

	s.applyDiff(&message.FileDiff{
		File:            "a.ts",
		Patch:           diffengine.MakePatch(v0, v1),
		Author:          "bob",
		Version:         diffengine.Fingerprint(v1),
		PreviousVersion: diffengine.Fingerprint(v0),
	})

	assert.Equal(t, v1, readFile(t, dir, "a.ts"))
	s.mu.Lock()
	assert.Equal(t, diffengine.Fingerprint(v1), s.versions["a.ts"])
	s.mu.Unlock()
}

func TestApplyDiffRecognizesUndo(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	v0 := "original\nlines\n"
	v1 := "rewritten\nlines\n"
	writeFile(t, dir, "a.ts", v1)
	require.NoError(t, s.initialScan())

	// an undo carries the original patch with swapped fingerprints
	s.applyDiff(&message.FileDiff{
		File:            "a.ts",
		Patch:           diffengine.MakePatch(v0, v1),
		Author:          "bob",
		Version:         diffengine.Fingerprint(v0),
		PreviousVersion: diffengine.Fingerprint(v1),
	})

	assert.Equal(t, v0, readFile(t, dir, "a.ts"))
}

func TestApplyDiffCreatesMissingFile(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	v1 := "created remotely\n"
	s.applyDiff(&message.FileDiff{
		File:            "fresh/new.ts",
		Patch:           diffengine.MakePatch("", v1),
		Author:          "bob",
		Version:         diffengine.Fingerprint(v1),
		PreviousVersion: diffengine.Fingerprint(""),
	})

	assert.Equal(t, v1, readFile(t, dir, "fresh/new.ts"))
}

func TestRemoteDelete(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "doomed\n")
	require.NoError(t, s.initialScan())

	s.applyRemoteDelete(&message.FileDelete{File: "a.ts", Author: "bob"})

	_, err := os.Stat(filepath.Join(dir, "a.ts"))
	assert.True(t, os.IsNotExist(err))
	s.mu.Lock()
	_, known := s.contents["a.ts"]
	s.mu.Unlock()
	assert.False(t, known)
}

func TestRemoteRename(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	writeFile(t, dir, "old.ts", "moving\n")
	require.NoError(t, s.initialScan())

	s.applyRemoteRename(&message.FileRename{OldFile: "old.ts", NewFile: "sub/new.ts", Author: "bob"})

	assert.Equal(t, "moving\n", readFile(t, dir, "sub/new.ts"))
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "moving\n", s.contents["sub/new.ts"])
	_, known := s.contents["old.ts"]
	assert.False(t, known)
}

func TestLocalRemoveSendsDelete(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	writeFile(t, dir, "a.ts", "x\n")
	require.NoError(t, s.initialScan())

	s.handleLocalRemove("a.ts")
	dels := tr.sentOfType(message.TypeFileDelete)
	require.Len(t, dels, 1)
	assert.Equal(t, "a.ts", dels[0].Data.(*message.FileDelete).File)

	// an unknown path does not produce a delete
	s.handleLocalRemove("never-seen.ts")
	assert.Len(t, tr.sentOfType(message.TypeFileDelete), 1)
}

func TestOnConnectedHandshake(t *testing.T) {
	s, tr, dir := newTestSyncer(t)

	v0 := "stale\n"
	v1 := "fresh\n"
	writeFile(t, dir, "a.ts", v0)
	require.NoError(t, s.initialScan())

	tr.reply = func(req *message.Message) *message.Message {
		hs, ok := req.Data.(*message.SyncHandshake)
		require.True(t, ok)
		assert.Equal(t, s.clientID, hs.ClientId)
		assert.Equal(t, diffengine.Fingerprint(v0), hs.FileVersions["a.ts"])

		return message.NewSyncHandshakeResponse(req.Id, &message.SyncHandshakeResponse{
			MissingDiffs: []*message.FileDiff{{
				File:            "a.ts",
				Patch:           diffengine.MakePatch(v0, v1),
				Author:          "bob",
				Version:         diffengine.Fingerprint(v1),
				PreviousVersion: diffengine.Fingerprint(v0),
			}},
			FullFiles: []*message.FullFile{},
			Locks: []*message.LockState{
				{File: "b.ts", LockedBy: "bob", LockType: message.LockEditing, Since: 1},
			},
		})
	}

	// a diff queued while offline replays after the handshake
	tr.setConnected(false)
	writeFile(t, dir, "c.ts", "offline\n")
	s.mu.Lock()
	s.contents["c.ts"] = "old\n"
	s.mu.Unlock()
	s.flushFile("c.ts")
	tr.setConnected(true)

	s.OnConnected()

	assert.Equal(t, v1, readFile(t, dir, "a.ts"))
	require.Len(t, s.Locks(), 1)
	assert.Equal(t, "b.ts", s.Locks()[0].File)
	assert.Len(t, tr.sentOfType(message.TypeFileDiff), 1)
}

func TestRelPath(t *testing.T) {
	s, _, dir := newTestSyncer(t)

	rel, ok := s.relPath(filepath.Join(dir, "src", "a.ts"))
	assert.True(t, ok)
	assert.Equal(t, "src/a.ts", rel)

	_, ok = s.relPath(filepath.Join(dir, "..", "outside.ts"))
	assert.False(t, ok)

	rel, ok = s.relPath(dir)
	assert.True(t, ok)
	assert.Equal(t, "", rel)
}
