package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chargepoint/internal/ocpp/protocol"
)

var ErrSubprotocol = errors.New("ws: central system did not accept the ocpp1.6 subprotocol")

// TokenSource issues the bearer token presented on the handshake.
type TokenSource interface {
	Token() (string, error)
}

// Dialer opens charge point sessions to a central system.
type Dialer struct {
	Endpoint         string
	ChargePointID    string
	Tokens           TokenSource
	HandshakeTimeout time.Duration
	Options          Options
}

// URL is the endpoint with the charge point id appended as the last path segment.
func (d *Dialer) URL() (string, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return "", fmt.Errorf("ws: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ws: unsupported endpoint scheme %q", u.Scheme)
	}
	base := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + d.ChargePointID
	u.RawPath = base + "/" + url.PathEscape(d.ChargePointID)
	return u.String(), nil
}

// Dial connects and checks that the subprotocol was negotiated.
func (d *Dialer) Dial(ctx context.Context) (*Connection, error) {
	target, err := d.URL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if d.Tokens != nil {
		token, err := d.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("ws: issue token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{protocol.Subprotocol},
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", target, err)
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		_ = conn.Close()
		return nil, ErrSubprotocol
	}
	return NewConnection(conn, d.Options), nil
}
