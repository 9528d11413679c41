package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/relay/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1700000000000)}
}

func newTestLockTable(t *testing.T) (*LockTable, *fakeClock) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := newFakeClock()
	lt := NewLockTable(st)
	lt.now = clock.now
	return lt, clock
}

func TestLockAcquireAndDeny(t *testing.T) {
	lt, _ := newTestLockTable(t)

	res := lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")
	assert.True(t, res.OK)

	res = lt.Acquire("a.ts", "bob", message.LockAgentWriting, "conn-2")
	require.False(t, res.OK)
	require.NotNil(t, res.Existing)
	assert.Equal(t, "alice", res.Existing.LockedBy)
	assert.Equal(t, message.LockEditing, res.Existing.LockType)

	// the denied writer is not blocked from anything else
	res = lt.Acquire("b.ts", "bob", message.LockAgentWriting, "conn-2")
	assert.True(t, res.OK)
}

func TestLockRefreshBySameHolder(t *testing.T) {
	lt, clock := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")
	first := lt.Get("a.ts").Since

	clock.advance(time.Minute)
	res := lt.Acquire("a.ts", "alice", message.LockAgentWriting, "conn-1")
	assert.True(t, res.OK)

	state := lt.Get("a.ts")
	assert.Equal(t, message.LockAgentWriting, state.LockType)
	assert.Greater(t, state.Since, first)
}

func TestLockExpiryTakeover(t *testing.T) {
	lt, clock := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")

	clock.advance(LockExpiry - time.Second)
	res := lt.Acquire("a.ts", "bob", message.LockEditing, "conn-2")
	assert.False(t, res.OK)

	clock.advance(2 * time.Second)
	res = lt.Acquire("a.ts", "bob", message.LockEditing, "conn-2")
	assert.True(t, res.OK)
	assert.Equal(t, "bob", lt.Get("a.ts").LockedBy)
}

func TestLockReleaseScoped(t *testing.T) {
	lt, _ := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")

	assert.False(t, lt.Release("a.ts", "bob"))
	assert.NotNil(t, lt.Get("a.ts"))

	assert.True(t, lt.Release("a.ts", "alice"))
	assert.Nil(t, lt.Get("a.ts"))

	// releasing an unheld lock is fine
	assert.True(t, lt.Release("a.ts", "alice"))
}

func TestLockReleaseUnconditional(t *testing.T) {
	lt, _ := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")
	assert.True(t, lt.Release("a.ts", ""))
	assert.Nil(t, lt.Get("a.ts"))
}

func TestReleaseForClient(t *testing.T) {
	lt, _ := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")
	lt.Acquire("b.ts", "alice", message.LockEditing, "conn-1")
	lt.Acquire("c.ts", "bob", message.LockEditing, "conn-2")

	removed := lt.ReleaseForClient("alice", "conn-1")
	assert.Equal(t, []string{"a.ts", "b.ts"}, removed)
	assert.Len(t, lt.All(), 1)
	assert.Equal(t, "bob", lt.All()[0].LockedBy)
}

func TestSweepExpired(t *testing.T) {
	lt, clock := newTestLockTable(t)

	lt.Acquire("a.ts", "alice", message.LockEditing, "conn-1")
	clock.advance(LockExpiry / 2)
	lt.Acquire("b.ts", "bob", message.LockEditing, "conn-2")

	clock.advance(LockExpiry / 2)
	removed := lt.SweepExpired()
	assert.Equal(t, []string{"a.ts"}, removed)

	locks := lt.All()
	require.Len(t, locks, 1)
	assert.Equal(t, "b.ts", locks[0].File)
}

func TestRestoreFromStore(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := newFakeClock()
	now := clock.now().UnixMilli()

	require.NoError(t, st.SaveLock(&message.LockState{
		File: "live.ts", LockedBy: "alice", LockType: message.LockEditing,
		Since: now - time.Minute.Milliseconds(),
	}))
	require.NoError(t, st.SaveLock(&message.LockState{
		File: "stale.ts", LockedBy: "bob", LockType: message.LockEditing,
		Since: now - (LockExpiry + time.Minute).Milliseconds(),
	}))

	lt := NewLockTable(st)
	lt.now = clock.now
	require.NoError(t, lt.RestoreFromStore())

	locks := lt.All()
	require.Len(t, locks, 1)
	assert.Equal(t, "live.ts", locks[0].File)

	// the stale row is gone from the mirror too
	rows, err := st.AllLocks()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "live.ts", rows[0].File)
}
