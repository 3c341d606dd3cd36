package wsapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server upgrades incoming HTTP connections to the message-channel
// websocket protocol and runs one Handler per connection.
type Server struct {
	handler      *Handler
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewServer builds a Server for handler. checkOrigin, when non-nil,
// overrides the upgrader's default same-origin check (tests and
// same-process CLI clients typically pass a func that always returns
// true).
func NewServer(handler *Handler, writeTimeout time.Duration, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Server {
	s := &Server{
		handler:      handler,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if checkOrigin != nil {
		s.upgrader.CheckOrigin = checkOrigin
	}
	return s
}

// ServeHTTP implements http.Handler, upgrading the request to a
// websocket connection and blocking for the connection's lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("wsapi: upgrade failed", "error", err.Error())
		}
		return
	}
	transport := NewWebSocketTransport(conn, s.writeTimeout)
	defer transport.Close()

	if err := s.handler.Serve(r.Context(), transport); err != nil && s.logger != nil {
		s.logger.Debug("wsapi: connection closed", "error", err.Error())
	}
}
