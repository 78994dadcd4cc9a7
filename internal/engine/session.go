package engine

import (
	"sync"

	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/notify"
)

// Session is the protocol state of one client connection: the negotiated
// version, the client identity and the client's log threshold.
type Session struct {
	id        string
	threshold notify.Threshold

	mu              sync.RWMutex
	protocolVersion string
	client          mcp.ImplementationInfo
	initialized     bool
}

// NewSession returns a session identified by id. The id only scopes
// cancellation tracking; it may be empty for single-connection transports.
func NewSession(id string) *Session {
	return &Session{id: id}
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Initialized reports whether the client sent notifications/initialized.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// LogLevel returns the minimum level forwarded as notifications/message.
func (s *Session) LogLevel() mcp.LoggingLevel {
	return s.threshold.Level()
}
