package transport

import (
	"errors"
	"net"
	"time"
)

// Connection is one live socket. Handles are not stable across
// reconnects; identity is the ID string.
type Connection interface {
	ID() string
	RemoteAddr() net.Addr

	// Send writes one text frame. It fails with ErrSendFailed but a
	// failure is never fatal to the engine.
	Send(text []byte) error

	// CloseWithReason closes the connection, delivering the reason in
	// the close frame. The close does not suppress the handle's
	// HandleClose upcall: the read loop still delivers it afterwards.
	CloseWithReason(reason string) error

	IsClosed() bool
}

// Handler receives transport upcalls. For a given connection the
// upcalls are totally ordered: HandleOpen, any number of
// HandleMessage, then at most one HandleClose. Between different
// connections no ordering is guaranteed.
type Handler interface {
	HandleOpen(conn Connection)
	HandleMessage(conn Connection, text []byte)
	HandleClose(conn Connection)
}

// Config holds transport construction parameters.
type Config struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	BufferSize       int           `yaml:"buffer_size"`

	TLSEnabled bool   `yaml:"tls_enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             9090,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		KeepAliveTimeout: 5 * time.Minute,
		MaxMessageSize:   64 * 1024,
		BufferSize:       4 * 1024,
	}
}

// Stats contains transport-level counters.
type Stats struct {
	ConnectionsAccepted uint64
	ConnectionsActive   uint64
	MessagesReceived    uint64
	MessagesSent        uint64
	BytesReceived       uint64
	BytesSent           uint64
	UpgradeErrors       uint64
	Uptime              time.Duration
}

var (
	ErrSendFailed      = errors.New("send failed")
	ErrServerClosed    = errors.New("transport server is closed")
	ErrAlreadyRunning  = errors.New("transport server is already running")
	ErrHandlerRequired = errors.New("transport handler is required")
)
