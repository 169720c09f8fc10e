package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
)

// Handler implements every central-system-initiated action the charge point supports.
type Handler interface {
	ChangeConfiguration(ctx context.Context, req *protocol.ChangeConfigurationRequest) (*protocol.ChangeConfigurationResponse, error)
	ClearCache(ctx context.Context, req *protocol.ClearCacheRequest) (*protocol.ClearCacheResponse, error)
	GetConfiguration(ctx context.Context, req *protocol.GetConfigurationRequest) (*protocol.GetConfigurationResponse, error)
	RemoteStartTransaction(ctx context.Context, req *protocol.RemoteStartTransactionRequest) (*protocol.RemoteStartTransactionResponse, error)
	RemoteStopTransaction(ctx context.Context, req *protocol.RemoteStopTransactionRequest) (*protocol.RemoteStopTransactionResponse, error)
	Reset(ctx context.Context, req *protocol.ResetRequest) (*protocol.ResetResponse, error)
	TriggerMessage(ctx context.Context, req *protocol.TriggerMessageRequest) (*protocol.TriggerMessageResponse, error)
	UpdateFirmware(ctx context.Context, req *protocol.UpdateFirmwareRequest) (*protocol.UpdateFirmwareResponse, error)
}

// requestError maps decode and validation failures onto CallError codes.
type requestError struct {
	code protocol.ErrorCode
	err  error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Router dispatches inbound calls to the Handler.
type Router struct {
	handler  Handler
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRouter returns router for h.
func NewRouter(h Handler, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handler:  h,
		validate: validator.New(),
		logger:   logger,
	}
}

// Route executes the handler for msg and returns the CALLRESULT or CALLERROR frame to send back.
func (r *Router) Route(ctx context.Context, msg *Message) ([]byte, error) {
	var (
		resp interface{}
		err  error
	)

	switch msg.Action {
	case protocol.ActionChangeConfiguration:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.ChangeConfiguration)
	case protocol.ActionClearCache:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.ClearCache)
	case protocol.ActionGetConfiguration:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.GetConfiguration)
	case protocol.ActionRemoteStartTransaction:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.RemoteStartTransaction)
	case protocol.ActionRemoteStopTransaction:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.RemoteStopTransaction)
	case protocol.ActionReset:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.Reset)
	case protocol.ActionTriggerMessage:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.TriggerMessage)
	case protocol.ActionUpdateFirmware:
		resp, err = dispatch(ctx, r, msg.Payload, r.handler.UpdateFirmware)
	default:
		r.logger.Info("rejecting unsupported action", zap.String("action", string(msg.Action)))
		return BuildCallError(msg.UniqueID, protocol.ErrorNotImplemented, fmt.Sprintf("action %q is not implemented", msg.Action))
	}

	if err != nil {
		code := protocol.ErrorInternal
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			code = reqErr.code
		}
		r.logger.Warn("ocpp handler failed",
			zap.String("action", string(msg.Action)),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		return BuildCallError(msg.UniqueID, code, err.Error())
	}

	return BuildCallResult(msg.UniqueID, resp)
}

func dispatch[Req, Resp any](ctx context.Context, r *Router, payload json.RawMessage, fn func(context.Context, *Req) (*Resp, error)) (interface{}, error) {
	req, err := Decode[Req](payload)
	if err != nil {
		return nil, &requestError{code: protocol.ErrorFormationViolation, err: fmt.Errorf("decode payload: %w", err)}
	}
	if err := r.validate.Struct(&req); err != nil {
		return nil, &requestError{code: validationCode(err), err: err}
	}
	resp, err := fn(ctx, &req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return struct{}{}, nil
	}
	return resp, nil
}

func validationCode(err error) protocol.ErrorCode {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return protocol.ErrorFormationViolation
	}
	for _, fe := range verrs {
		if strings.HasPrefix(fe.Tag(), "required") {
			return protocol.ErrorOccurrenceConstraintViolation
		}
	}
	return protocol.ErrorPropertyConstraintViolation
}

// Decode convenience helper for handlers. An empty payload decodes to the zero value.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if len(payload) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
