package message

// PeerInfo describes one connected client, relay-side memory only.
type PeerInfo struct {
	ConnId         string `json:"connId"`
	Name           string `json:"name"`
	ConnectedSince int64  `json:"connectedSince"`
	LastActivity   int64  `json:"lastActivity"`
}

type HealthStats struct {
	UptimeMs    int64 `json:"uptimeMs"`
	DbSizeBytes int64 `json:"dbSizeBytes"`
	TotalDiffs  int64 `json:"totalDiffs"`
	TotalFiles  int64 `json:"totalFiles"`
}

// DashboardState is the periodic rollup pushed to subscribed connections.
type DashboardState struct {
	Clients         []*PeerInfo      `json:"clients"`
	Locks           []*LockState     `json:"locks"`
	RecentDiffs     []*FileDiff      `json:"recentDiffs"`
	RecentConflicts []*ConflictEvent `json:"recentConflicts"`
	Health          HealthStats      `json:"health"`
}

func NewDashboardSubscribe() *Message {
	return &Message{Id: generateID(), Type: TypeDashboardSubscribe}
}

func NewDashboardState(state *DashboardState) *Message {
	return &Message{Id: generateID(), Type: TypeDashboardState, Data: state}
}
