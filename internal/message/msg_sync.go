package message

// SyncHandshake synchronizes a reconnecting client's file fingerprints
// against the relay. Request/response, correlated on the envelope id.
type SyncHandshake struct {
	ClientId     string            `json:"clientId"`
	ProjectId    string            `json:"projectId"`
	FileVersions map[string]string `json:"fileVersions"`
}

// SyncHandshakeResponse delivers everything the client missed. FullFiles is
// reserved; the relay sends it empty but clients must iterate it.
type SyncHandshakeResponse struct {
	MissingDiffs []*FileDiff  `json:"missingDiffs"`
	FullFiles    []*FullFile  `json:"fullFiles"`
	Locks        []*LockState `json:"locks"`
}

type DiffUndo struct {
	File   string `json:"file"`
	DiffId int64  `json:"diffId"`
}

func NewSyncHandshake(hs *SyncHandshake) *Message {
	return &Message{Id: generateID(), Type: TypeSyncHandshake, Data: hs}
}

// NewSyncHandshakeResponse reuses the request envelope id so the caller can
// match the reply.
func NewSyncHandshakeResponse(requestId string, resp *SyncHandshakeResponse) *Message {
	return &Message{Id: requestId, Type: TypeSyncHandshakeResponse, Data: resp}
}

func NewDiffUndo(file string, diffId int64) *Message {
	return &Message{Id: generateID(), Type: TypeDiffUndo, Data: &DiffUndo{File: file, DiffId: diffId}}
}
