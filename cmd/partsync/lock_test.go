package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

func locksMsg(locks ...*message.LockState) *message.Message {
	return message.NewLocksChanged(locks)
}

func TestLockConfirmedByOwnEntry(t *testing.T) {
	confirm := lockConfirmed("a.ts", "alice")

	// an unrelated snapshot keeps the wait going
	done, err := confirm(locksMsg(&message.LockState{File: "b.ts", LockedBy: "bob"}))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = confirm(locksMsg(&message.LockState{File: "a.ts", LockedBy: "alice", LockType: message.LockEditing}))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLockDeniedWhenHeldElsewhere(t *testing.T) {
	confirm := lockConfirmed("a.ts", "alice")

	done, err := confirm(locksMsg(&message.LockState{File: "a.ts", LockedBy: "bob"}))
	assert.False(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
}

func TestUnlockConfirmedByAbsence(t *testing.T) {
	confirm := unlockConfirmed("a.ts", "alice")

	done, err := confirm(locksMsg(&message.LockState{File: "b.ts", LockedBy: "bob"}))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestUnlockWaitsWhileStillListed(t *testing.T) {
	confirm := unlockConfirmed("a.ts", "alice")

	done, err := confirm(locksMsg(&message.LockState{File: "a.ts", LockedBy: "alice"}))
	require.NoError(t, err)
	assert.False(t, done)
}

func TestUnlockFailsForForeignHolder(t *testing.T) {
	// the relay keeps a lock held by someone else; reporting success
	// here would be lying
	confirm := unlockConfirmed("a.ts", "alice")

	done, err := confirm(locksMsg(&message.LockState{File: "a.ts", LockedBy: "bob"}))
	assert.False(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
}

func TestUndoConfirmedByInverseDiff(t *testing.T) {
	confirm := undoConfirmed("a.ts", "alice")

	done, err := confirm(&message.Message{Type: message.TypeFileDiff, Data: &message.FileDiff{File: "a.ts", Author: "alice"}})
	require.NoError(t, err)
	assert.True(t, done)

	done, err = confirm(&message.Message{Type: message.TypeFileDiff, Data: &message.FileDiff{File: "a.ts", Author: "bob"}})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestConfirmIgnoresOtherEvents(t *testing.T) {
	confirm := lockConfirmed("a.ts", "alice")

	done, err := confirm(message.NewFileUnlock("a.ts"))
	require.NoError(t, err)
	assert.False(t, done)
}
