package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
	"github.com/nyroxsystems-boop/partsync/internal/relay/store"
)

// LockExpiry is the absolute lifetime of a soft lock at the relay.
const LockExpiry = 5 * time.Minute

// lockEntry binds a persisted lock row to the runtime connection identity
// of its holder. The connection id is never persisted; reloading locks at
// startup leaves it empty.
type lockEntry struct {
	state  *message.LockState
	connID string
}

// AcquireResult reports the outcome of a lock acquire.
type AcquireResult struct {
	OK       bool
	Existing *message.LockState
}

// LockTable is the in-memory soft lock map, mirrored to the locks table.
// Locks are advisory: a denied acquire never blocks a writer.
type LockTable struct {
	mu     sync.Mutex
	locks  map[string]*lockEntry
	store  *store.Store
	expiry time.Duration
	now    func() time.Time
}

func NewLockTable(st *store.Store) *LockTable {
	return &LockTable{
		locks:  make(map[string]*lockEntry),
		store:  st,
		expiry: LockExpiry,
		now:    time.Now,
	}
}

// Acquire takes or refreshes the lock on file. A fresh acquire by the same
// holder refreshes since; a different holder succeeds only if the existing
// lock has expired. Takeover of an expired lock is silent.
func (lt *LockTable) Acquire(file, holder string, lockType message.LockType, connID string) AcquireResult {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now().UnixMilli()

	if entry, ok := lt.locks[file]; ok {
		if entry.state.LockedBy == holder {
			entry.state.LockType = lockType
			entry.state.Since = now
			entry.connID = connID
			lt.persist(entry.state)
			return AcquireResult{OK: true}
		}
		if now-entry.state.Since < lt.expiry.Milliseconds() {
			existing := *entry.state
			return AcquireResult{OK: false, Existing: &existing}
		}
		// expired, silently replaced
	}

	state := &message.LockState{File: file, LockedBy: holder, LockType: lockType, Since: now}
	lt.locks[file] = &lockEntry{state: state, connID: connID}
	lt.persist(state)
	return AcquireResult{OK: true}
}

// Release removes the lock on file. With a non-empty holder the release is
// scoped: a mismatched holder fails. An empty holder releases
// unconditionally.
func (lt *LockTable) Release(file, holder string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	entry, ok := lt.locks[file]
	if !ok {
		return true
	}
	if holder != "" && entry.state.LockedBy != holder {
		return false
	}
	delete(lt.locks, file)
	lt.unpersist(file)
	return true
}

// ReleaseForClient removes every lock held by the named holder, or bound to
// the given connection id when provided. Returns the released files.
func (lt *LockTable) ReleaseForClient(holder, connID string) []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	var removed []string
	for file, entry := range lt.locks {
		if entry.state.LockedBy == holder || (connID != "" && entry.connID == connID) {
			delete(lt.locks, file)
			lt.unpersist(file)
			removed = append(removed, file)
		}
	}
	sort.Strings(removed)
	return removed
}

func (lt *LockTable) Get(file string) *message.LockState {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if entry, ok := lt.locks[file]; ok {
		state := *entry.state
		return &state
	}
	return nil
}

func (lt *LockTable) All() []*message.LockState {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	locks := make([]*message.LockState, 0, len(lt.locks))
	for _, entry := range lt.locks {
		state := *entry.state
		locks = append(locks, &state)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].File < locks[j].File })
	return locks
}

// SweepExpired removes every lock past expiry and returns the freed files.
func (lt *LockTable) SweepExpired() []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now().UnixMilli()
	var removed []string
	for file, entry := range lt.locks {
		if now-entry.state.Since >= lt.expiry.Milliseconds() {
			delete(lt.locks, file)
			lt.unpersist(file)
			removed = append(removed, file)
		}
	}
	sort.Strings(removed)
	return removed
}

// RestoreFromStore loads persisted locks at startup, dropping any already
// expired. Connection bindings are not fabricated for restored rows.
func (lt *LockTable) RestoreFromStore() error {
	locks, err := lt.store.AllLocks()
	if err != nil {
		return err
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now().UnixMilli()
	for _, l := range locks {
		if now-l.Since >= lt.expiry.Milliseconds() {
			lt.unpersist(l.File)
			continue
		}
		lt.locks[l.File] = &lockEntry{state: l}
	}
	slog.Info("lock table restored", "locks", len(lt.locks))
	return nil
}

func (lt *LockTable) persist(state *message.LockState) {
	if err := lt.store.SaveLock(state); err != nil {
		slog.Error("lock persist", "file", state.File, "error", err)
	}
}

func (lt *LockTable) unpersist(file string) {
	if err := lt.store.DeleteLock(file); err != nil {
		slog.Error("lock unpersist", "file", file, "error", err)
	}
}
