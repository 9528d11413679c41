package message

// LockType tags the activity behind a soft lock.
type LockType string

const (
	LockEditing      LockType = "editing"
	LockAgentWriting LockType = "agent-writing"
)

// LockState is a soft advisory lock. At most one per file.
type LockState struct {
	File     string   `json:"file" db:"file"`
	LockedBy string   `json:"lockedBy" db:"locked_by"`
	LockType LockType `json:"lockType" db:"lock_type"`
	Since    int64    `json:"since" db:"since"`
}

type FileLock struct {
	File     string   `json:"file"`
	LockType LockType `json:"lockType"`
}

type FileUnlock struct {
	File string `json:"file"`
}

type LocksChanged struct {
	Locks []*LockState `json:"locks"`
}

func NewFileLock(file string, lockType LockType) *Message {
	return &Message{Id: generateID(), Type: TypeFileLock, Data: &FileLock{File: file, LockType: lockType}}
}

func NewFileUnlock(file string) *Message {
	return &Message{Id: generateID(), Type: TypeFileUnlock, Data: &FileUnlock{File: file}}
}

func NewLocksChanged(locks []*LockState) *Message {
	return &Message{Id: generateID(), Type: TypeFileLockChanged, Data: &LocksChanged{Locks: locks}}
}
