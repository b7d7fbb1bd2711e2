package conn

import (
	"time"

	"github.com/asyncrmi/asyncrmi/rmi/wire"
	"github.com/asyncrmi/asyncrmi/util/envconst"
)

type Config struct {
	// Bound on the handshake. Zero means no bound.
	ConnectTimeout time.Duration
	// Deadline of every invocation. Zero means no deadline.
	CallTimeout time.Duration
	// Send a heartbeat if nothing was written for HeartbeatInterval.
	// Zero disables heartbeats and idle timeouts.
	HeartbeatInterval time.Duration
	// Close the connection if the peer was silent for HeartbeatTimeout.
	HeartbeatTimeout time.Duration
	// Also send Cancel to the peer when an invocation times out.
	CancelOnTimeout bool
	RxFrameMax      uint32
	// Client: capabilities required from the server.
	// Server: capabilities offered to clients.
	Capabilities []string
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    envconst.Duration("ASYNCRMI_CONNECT_TIMEOUT", 10*time.Second),
		CallTimeout:       envconst.Duration("ASYNCRMI_CALL_TIMEOUT", 30*time.Second),
		HeartbeatInterval: envconst.Duration("ASYNCRMI_HEARTBEAT_INTERVAL", 5*time.Second),
		HeartbeatTimeout:  envconst.Duration("ASYNCRMI_HEARTBEAT_TIMEOUT", 30*time.Second),
		CancelOnTimeout:   envconst.Bool("ASYNCRMI_CANCEL_ON_TIMEOUT", true),
		RxFrameMax:        wire.DefaultMaxPayloadLen,
	}
}
