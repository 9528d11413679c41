package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func diffN(file string, n int) *message.FileDiff {
	return &message.FileDiff{
		File:            file,
		Patch:           fmt.Sprintf("@@ -%d,1 +%d,1 @@\n", n, n),
		Author:          "alice",
		Type:            message.AuthorHuman,
		Timestamp:       int64(1000 + n),
		Version:         fmt.Sprintf("v%03d", n),
		PreviousVersion: fmt.Sprintf("v%03d", n-1),
	}
}

func TestInsertAndQueryDiffs(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 5; i++ {
		id, err := s.InsertDiff(diffN("a.ts", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}

	diffs, err := s.DiffsByFile("a.ts", 3)
	require.NoError(t, err)
	require.Len(t, diffs, 3)
	// newest first
	assert.Equal(t, "v005", diffs[0].Version)
	assert.Equal(t, "v003", diffs[2].Version)

	other, err := s.DiffsByFile("b.ts", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDiffsSince(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 5; i++ {
		_, err := s.InsertDiff(diffN("a.ts", i))
		require.NoError(t, err)
	}

	// client sits at v002, misses 3..5 in order
	diffs, err := s.DiffsSince("a.ts", "v002")
	require.NoError(t, err)
	require.Len(t, diffs, 3)
	assert.Equal(t, "v003", diffs[0].Version)
	assert.Equal(t, "v005", diffs[2].Version)

	// unknown fingerprint yields the full chain
	diffs, err = s.DiffsSince("a.ts", "deadbeefdeadbeef")
	require.NoError(t, err)
	assert.Len(t, diffs, 5)

	// up to date client gets nothing
	diffs, err = s.DiffsSince("a.ts", "v005")
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestPruneKeepsNewest(t *testing.T) {
	s := newTestStore(t)

	total := MaxDiffHistory + 20
	for i := 1; i <= total; i++ {
		_, err := s.InsertDiff(diffN("a.ts", i))
		require.NoError(t, err)
	}
	// another file's history must survive the prune
	_, err := s.InsertDiff(diffN("b.ts", 1))
	require.NoError(t, err)

	require.NoError(t, s.Prune("a.ts", MaxDiffHistory))

	diffs, err := s.DiffsByFile("a.ts", total)
	require.NoError(t, err)
	require.Len(t, diffs, MaxDiffHistory)
	assert.Equal(t, fmt.Sprintf("v%03d", total), diffs[0].Version)
	assert.Equal(t, fmt.Sprintf("v%03d", total-MaxDiffHistory+1), diffs[len(diffs)-1].Version)

	other, err := s.DiffsByFile("b.ts", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestVersionRows(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetVersion("a.ts")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.UpsertVersion("a.ts", "aaaa", 100))
	require.NoError(t, s.UpsertVersion("a.ts", "bbbb", 200))
	require.NoError(t, s.UpsertVersion("b.ts", "cccc", 300))

	v, err = s.GetVersion("a.ts")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "bbbb", v.Hash)
	assert.Equal(t, int64(200), v.Timestamp)

	all, err := s.AllVersions()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteVersion("a.ts"))
	v, err = s.GetVersion("a.ts")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestByID(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertDiff(diffN("a.ts", 1))
	require.NoError(t, err)

	d, err := s.ByID(id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "a.ts", d.File)
	assert.Equal(t, id, d.Id)

	missing, err := s.ByID(999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConflicts(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertConflict(&message.ConflictEvent{
		File:         "a.ts",
		ConflictFile: "a.conflict-1700000000000.ts",
		AuthorA:      "alice",
		AuthorB:      "bob",
		Timestamp:    1700000000000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	events, err := s.RecentConflicts(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].AuthorA)
	assert.False(t, events[0].Resolved)
}

func TestLockMirror(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveLock(&message.LockState{
		File: "a.ts", LockedBy: "alice", LockType: message.LockEditing, Since: 100,
	}))
	require.NoError(t, s.SaveLock(&message.LockState{
		File: "a.ts", LockedBy: "bob", LockType: message.LockAgentWriting, Since: 200,
	}))

	locks, err := s.AllLocks()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "bob", locks[0].LockedBy)

	require.NoError(t, s.DeleteLock("a.ts"))
	locks, err = s.AllLocks()
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestCounters(t *testing.T) {
	s := newTestStore(t)

	n, err := s.TotalDiffs()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.InsertDiff(diffN("a.ts", 1))
	require.NoError(t, err)
	require.NoError(t, s.UpsertVersion("a.ts", "aaaa", 100))

	n, err = s.TotalDiffs()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.TotalFiles()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Zero(t, s.SizeBytes())
}
