package ocpp

import (
	"context"

	"chargepoint/internal/ocpp/protocol"
)

func invoke[T any](ctx context.Context, c *Client, action protocol.Action, payload interface{}) (*T, error) {
	var resp T
	if err := c.call(ctx, action, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BootNotification registers the charge point.
func (c *Client) BootNotification(ctx context.Context, req protocol.BootNotificationRequest) (*protocol.BootNotificationResponse, error) {
	return invoke[protocol.BootNotificationResponse](ctx, c, protocol.ActionBootNotification, req)
}

// Heartbeat sends a keepalive.
func (c *Client) Heartbeat(ctx context.Context) (*protocol.HeartbeatResponse, error) {
	return invoke[protocol.HeartbeatResponse](ctx, c, protocol.ActionHeartbeat, protocol.HeartbeatRequest{})
}

// Authorize asks the central system about idTag.
func (c *Client) Authorize(ctx context.Context, idTag string) (*protocol.AuthorizeResponse, error) {
	return invoke[protocol.AuthorizeResponse](ctx, c, protocol.ActionAuthorize, protocol.AuthorizeRequest{IdTag: idTag})
}

// StartTransaction reports a transaction start and obtains its id.
func (c *Client) StartTransaction(ctx context.Context, req protocol.StartTransactionRequest) (*protocol.StartTransactionResponse, error) {
	return invoke[protocol.StartTransactionResponse](ctx, c, protocol.ActionStartTransaction, req)
}

// StopTransaction reports a transaction end.
func (c *Client) StopTransaction(ctx context.Context, req protocol.StopTransactionRequest) (*protocol.StopTransactionResponse, error) {
	return invoke[protocol.StopTransactionResponse](ctx, c, protocol.ActionStopTransaction, req)
}

// MeterValues reports samples.
func (c *Client) MeterValues(ctx context.Context, req protocol.MeterValuesRequest) error {
	return c.call(ctx, protocol.ActionMeterValues, req, nil)
}

// StatusNotification reports a connector status.
func (c *Client) StatusNotification(ctx context.Context, req protocol.StatusNotificationRequest) error {
	return c.call(ctx, protocol.ActionStatusNotification, req, nil)
}

// FirmwareStatusNotification reports firmware update progress.
func (c *Client) FirmwareStatusNotification(ctx context.Context, req protocol.FirmwareStatusNotificationRequest) error {
	return c.call(ctx, protocol.ActionFirmwareStatusNotification, req, nil)
}
