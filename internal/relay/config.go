package relay

// DefaultAddr binds the relay to its well-known port.
const DefaultAddr = ":3777"

// DefaultDBPath is the relay history database location.
const DefaultDBPath = "partsync.db"

type Config struct {
	Http   *HttpServerConfig
	DBPath string
	Name   string
	// Token, when set, is required as an opaque ?token= query parameter on
	// websocket connects.
	Token string
}

type HttpServerConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
}
