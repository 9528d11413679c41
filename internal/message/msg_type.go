package message

// Type names a wire event. Envelopes are routed on this value.
type Type string

const (
	// client -> relay
	TypeFileDiff           Type = "file:diff"
	TypeFileLock           Type = "file:lock"
	TypeFileUnlock         Type = "file:unlock"
	TypeFileDelete         Type = "file:delete"
	TypeFileRename         Type = "file:rename"
	TypeSyncHandshake      Type = "sync:handshake"
	TypeSyncFullFile       Type = "sync:full-file"
	TypeDashboardSubscribe Type = "dashboard:subscribe"
	TypeDiffUndo           Type = "diff:undo"

	// relay -> client
	TypeFileLockChanged       Type = "file:lock-changed"
	TypeFileConflict          Type = "file:conflict"
	TypeSyncHandshakeResponse Type = "sync:handshake-response"
	TypeSyncApplyFullFile     Type = "sync:apply-full-file"
	TypeDashboardState        Type = "dashboard:state"
)

func (t Type) String() string {
	return string(t)
}
