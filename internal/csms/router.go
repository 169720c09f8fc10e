package csms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocpp/protocol"
)

// HandlerFunc answers one charge-point-initiated call.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Router maps actions to handlers.
type Router struct {
	handlers map[protocol.Action]HandlerFunc
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{handlers: make(map[protocol.Action]HandlerFunc), logger: logger}
}

// Register binds action to handler. Only actions a charge point sends can be registered.
func (r *Router) Register(action protocol.Action, handler HandlerFunc) {
	if action.Inbound() {
		panic(fmt.Sprintf("csms: %s is sent by the central system", action))
	}
	r.handlers[action] = handler
}

// Route answers msg on behalf of stationID.
func (r *Router) Route(ctx context.Context, stationID string, msg *ocpp.Message) ([]byte, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		r.logger.Info("unsupported action", zap.String("station_id", stationID), zap.String("action", string(msg.Action)))
		return ocpp.BuildCallError(msg.UniqueID, protocol.ErrorNotImplemented, fmt.Sprintf("action %q is not implemented", msg.Action))
	}

	resp, err := handler(ctx, stationID, msg.Payload)
	if err != nil {
		r.logger.Warn("handler failed",
			zap.String("station_id", stationID),
			zap.String("action", string(msg.Action)),
			zap.Error(err),
		)
		return ocpp.BuildCallError(msg.UniqueID, protocol.ErrorFormationViolation, err.Error())
	}
	return ocpp.BuildCallResult(msg.UniqueID, resp)
}

// For binds the router to one charge point so it can serve an ocpp.Client.
func (r *Router) For(stationID string) ocpp.Responder {
	return stationResponder{router: r, stationID: stationID}
}

type stationResponder struct {
	router    *Router
	stationID string
}

func (s stationResponder) Route(ctx context.Context, msg *ocpp.Message) ([]byte, error) {
	return s.router.Route(ctx, s.stationID, msg)
}

var validate = validator.New()

func decode[T any](payload json.RawMessage) (T, error) {
	req, err := ocpp.Decode[T](payload)
	if err != nil {
		return req, fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(&req); err != nil {
		return req, err
	}
	return req, nil
}
