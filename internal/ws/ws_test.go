package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargepoint/internal/ws"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

type verifier struct{ want string }

func (v verifier) Verify(token, id string) error {
	if token != v.want || id != "CP-1" {
		return errors.New("bad token")
	}
	return nil
}

func echo(ctx context.Context, _ string, conn *ws.Connection) {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		if err := conn.Send(ctx, append([]byte("echo:"), msg...)); err != nil {
			return
		}
	}
}

func newServer(t *testing.T, accept ws.AcceptFunc, v ws.Verifier) (*httptest.Server, *ws.Manager) {
	t.Helper()
	manager := ws.NewManager()
	server := ws.NewServer(manager, accept, v, ws.Options{}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", server.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager
}

func TestDialerURL(t *testing.T) {
	d := &ws.Dialer{Endpoint: "https://csms.example.com/ocpp/", ChargePointID: "CP 7"}
	u, err := d.URL()
	require.NoError(t, err)
	assert.Equal(t, "wss://csms.example.com/ocpp/CP%207", u)

	d.ChargePointID = "CP%1/a"
	u, err = d.URL()
	require.NoError(t, err)
	assert.Equal(t, "wss://csms.example.com/ocpp/CP%251%2Fa", u)

	d.Endpoint = "ftp://nope"
	_, err = d.URL()
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	srv, manager := newServer(t, echo, verifier{want: "secret"})
	ctx := context.Background()

	d := &ws.Dialer{Endpoint: srv.URL + "/ocpp", ChargePointID: "CP-1", Tokens: staticToken("secret")}
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "ocpp1.6", conn.Subprotocol())

	require.NoError(t, conn.Send(ctx, []byte(`[2,"1","Heartbeat",{}]`)))
	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `echo:[2,"1","Heartbeat",{}]`, string(msg))

	require.Eventually(t, func() bool {
		_, ok := manager.Get("CP-1")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"CP-1"}, manager.IDs())
}

func TestEscapedChargePointID(t *testing.T) {
	srv, manager := newServer(t, echo, nil)
	d := &ws.Dialer{Endpoint: srv.URL + "/ocpp", ChargePointID: "CP 7%"}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		_, ok := manager.Get("CP 7%")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestRejectedToken(t *testing.T) {
	srv, _ := newServer(t, echo, verifier{want: "secret"})
	d := &ws.Dialer{Endpoint: srv.URL + "/ocpp", ChargePointID: "CP-1", Tokens: staticToken("wrong")}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSubprotocolRequired(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			defer conn.Close()
			_, _, _ = conn.ReadMessage()
		}
	}))
	defer srv.Close()

	d := &ws.Dialer{Endpoint: srv.URL, ChargePointID: "CP-1"}
	_, err := d.Dial(context.Background())
	assert.ErrorIs(t, err, ws.ErrSubprotocol)
}

func TestPeerCloseFailsReceiveAndSend(t *testing.T) {
	srv, _ := newServer(t, func(ctx context.Context, _ string, conn *ws.Connection) {
		_, _ = conn.Receive(ctx)
	}, nil)
	ctx := context.Background()

	d := &ws.Dialer{Endpoint: strings.Replace(srv.URL, "http", "ws", 1) + "/ocpp", ChargePointID: "CP-2"}
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, []byte("bye")))

	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, ws.ErrClosed)
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}
	assert.ErrorIs(t, conn.Send(ctx, []byte("late")), ws.ErrClosed)
}

func TestReceiveHonoursContext(t *testing.T) {
	srv, _ := newServer(t, echo, nil)
	d := &ws.Dialer{Endpoint: srv.URL + "/ocpp", ChargePointID: "CP-3"}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
