package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
)

// Verifier checks the bearer token a charge point presents.
type Verifier interface {
	Verify(token, chargePointID string) error
}

// AcceptFunc serves one charge point connection; it returns when the session is over.
type AcceptFunc func(ctx context.Context, chargePointID string, conn *Connection)

// Server upgrades HTTP connections to OCPP websockets. The charge point id is the last path segment.
type Server struct {
	manager  *Manager
	accept   AcceptFunc
	verifier Verifier
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer builds ws server. verifier may be nil to accept unauthenticated charge points.
func NewServer(manager *Manager, accept AcceptFunc, verifier Verifier, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Server{
		manager:  manager,
		accept:   accept,
		verifier: verifier,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{protocol.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for <prefix>/<chargePointID>.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	escaped := r.URL.EscapedPath()
	id, err := url.PathUnescape(escaped[strings.LastIndex(escaped, "/")+1:])
	if err != nil || id == "" || id == "." {
		http.Error(w, "charge point id is required", http.StatusBadRequest)
		return
	}

	if s.verifier != nil {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := s.verifier.Verify(token, id); err != nil {
			s.logger.Warn("charge point rejected", zap.String("charge_point_id", id), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		s.logger.Warn("charge point did not offer ocpp1.6", zap.String("charge_point_id", id))
		_ = conn.Close()
		return
	}

	connection := NewConnection(conn, s.opts)
	s.manager.Add(id, connection)
	s.logger.Info("charge point connected", zap.String("charge_point_id", id))

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.accept(ctx, id, connection)
		_ = connection.Close()
		s.manager.Remove(id, connection)
		s.logger.Info("charge point disconnected", zap.String("charge_point_id", id))
	}()
}
