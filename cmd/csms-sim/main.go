// Command csms-sim is a bench central system: it accepts charge points on /ocpp/<id>, answers
// their calls and exposes a small HTTP API to send RemoteStart and RemoteStop.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chargepoint/libs/logging"

	"chargepoint/internal/auth"
	"chargepoint/internal/csms"
	"chargepoint/internal/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "listen address")
		secret    = flag.String("token-secret", os.Getenv("CSMS_TOKEN_SECRET"), "HS256 secret charge point tokens must be signed with; empty accepts any charge point")
		interval  = flag.Int("heartbeat", 60, "heartbeat interval granted at boot, seconds")
		tags      = flag.String("tags", "", "comma separated accepted id tags; empty accepts every tag")
		callLimit = flag.Duration("call-timeout", 30*time.Second, "timeout of calls sent to charge points")
	)
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: os.Getenv("LOG_LEVEL"), Name: "csms-sim"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var allowed []string
	for _, tag := range strings.Split(*tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			allowed = append(allowed, tag)
		}
	}

	central := csms.New(csms.Options{
		HeartbeatInterval: *interval,
		AllowedTags:       allowed,
		CallTimeout:       *callLimit,
		Logger:            logger.Named("csms"),
	})

	var verifier ws.Verifier
	if *secret != "" {
		tokens, err := auth.NewTokenService(*secret, "", 0)
		if err != nil {
			logger.Fatal("token verifier", zap.Error(err))
		}
		verifier = tokens
	}

	manager := ws.NewManager()
	server := ws.NewServer(manager, func(ctx context.Context, id string, conn *ws.Connection) {
		central.Accept(ctx, id, conn)
	}, verifier, ws.Options{}, logger.Named("ws"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", server.HandleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	central.Routes(mux)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("csms simulator listening", zap.String("addr", *addr), zap.Bool("auth", verifier != nil))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}
