package message

import (
	"encoding/json"

	"github.com/nyroxsystems-boop/partsync/internal/utils"
)

const IdSize = 3

// MaxPayloadSize bounds a single wire envelope.
const MaxPayloadSize = 5 * 1024 * 1024 // 5MB

type Message struct {
	Id   string `json:"id"`
	Type Type   `json:"typ"`
	Data any    `json:"dat,omitempty"`
}

// UnmarshalJSON decodes the envelope and resolves Data to the payload
// type matching the event name.
func (m *Message) UnmarshalJSON(data []byte) error {
	type tempMessage struct {
		Id   string          `json:"id"`
		Type Type            `json:"typ"`
		Data json.RawMessage `json:"dat"`
	}

	var temp tempMessage
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	m.Id = temp.Id
	m.Type = temp.Type

	switch m.Type {
	case TypeFileDiff:
		return decodeInto[FileDiff](m, temp.Data)
	case TypeFileLock:
		return decodeInto[FileLock](m, temp.Data)
	case TypeFileUnlock:
		return decodeInto[FileUnlock](m, temp.Data)
	case TypeFileDelete:
		return decodeInto[FileDelete](m, temp.Data)
	case TypeFileRename:
		return decodeInto[FileRename](m, temp.Data)
	case TypeFileLockChanged:
		return decodeInto[LocksChanged](m, temp.Data)
	case TypeFileConflict:
		return decodeInto[ConflictEvent](m, temp.Data)
	case TypeSyncHandshake:
		return decodeInto[SyncHandshake](m, temp.Data)
	case TypeSyncHandshakeResponse:
		return decodeInto[SyncHandshakeResponse](m, temp.Data)
	case TypeSyncFullFile, TypeSyncApplyFullFile:
		return decodeInto[FullFile](m, temp.Data)
	case TypeDashboardSubscribe:
		m.Data = nil
		return nil
	case TypeDashboardState:
		return decodeInto[DashboardState](m, temp.Data)
	case TypeDiffUndo:
		return decodeInto[DiffUndo](m, temp.Data)
	default:
		// unknown events decode fine and keep their raw payload; the
		// receiver logs and drops them without closing the connection
		if len(temp.Data) > 0 {
			m.Data = temp.Data
		}
		return nil
	}
}

func decodeInto[T any](m *Message, raw json.RawMessage) error {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
	}
	m.Data = &v
	return nil
}

func generateID() string {
	return utils.TokenHex(IdSize)
}
