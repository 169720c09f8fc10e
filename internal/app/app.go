package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargepoint/libs/db"
	libredis "chargepoint/libs/redis"

	"chargepoint/internal/auth"
	"chargepoint/internal/clients"
	"chargepoint/internal/config"
	"chargepoint/internal/events"
	"chargepoint/internal/firmware"
	"chargepoint/internal/handlers"
	"chargepoint/internal/hardware"
	httpserver "chargepoint/internal/http"
	"chargepoint/internal/meter"
	"chargepoint/internal/metrics"
	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
	"chargepoint/internal/redisstore"
	"chargepoint/internal/repository"
	"chargepoint/internal/sampling"
	"chargepoint/internal/session"
	"chargepoint/internal/station"
	"chargepoint/internal/ws"
)

// ErrRestart is returned by Run after a Reset asked for the process to be restarted.
var ErrRestart = errors.New("app: restart requested")

// App wires the charge point.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	settings   *ocppconfig.Store
	connectors int

	state      *station.State
	relay      hardware.Relay
	pipeline   *pipeline.Pipeline
	controller *station.Controller
	engine     *sampling.Engine
	updater    *firmware.Updater
	supervisor *session.Supervisor
	httpServer *httpserver.Server
	estop      *hardware.EmergencyStop
	publisher  *events.NATSPublisher
	restarter  *restarter

	db    *sql.DB
	redis *goredis.Client
	nats  *nats.Conn
}

// New builds the application graph. Postgres, Redis and NATS are only used when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New()}

	settings, err := ocppconfig.Open(cfg.ChargePoint.ConfigFile, ocppconfig.Defaults())
	if err != nil {
		return nil, fmt.Errorf("open ocpp configuration: %w", err)
	}
	a.settings = settings
	a.connectors = settings.IntOr(ocppconfig.KeyNumberOfConnectors, 2)

	var (
		journal       station.Journal          = station.NopJournal()
		transactions  station.TransactionStore = station.NopTransactionStore()
		stationEvents station.Events           = station.NopEvents()
		frameLog      ocpp.FrameLogger
		sessions      httpserver.SessionLister
	)

	if cfg.Database.DSN != "" {
		a.db, err = libdb.NewPostgresDB(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := libdb.Migrate(ctx, a.db, repository.Schema...); err != nil {
			a.Close()
			return nil, err
		}
		sessionJournal := repository.NewSessionJournal(a.db, cfg.ChargePoint.ID)
		journal, sessions = sessionJournal, sessionJournal
		frameLog = repository.NewFrameLog(a.db, cfg.ChargePoint.ID)
	}
	if cfg.Redis.Addr != "" {
		a.redis, err = libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		transactions = redisstore.NewTransactionStore(a.redis, cfg.ChargePoint.ID)
	}
	if cfg.NATS.URL != "" {
		a.nats, err = events.Connect(cfg.NATS.URL, cfg.ChargePoint.ID)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = events.NewNATSPublisher(a.nats, cfg.ChargePoint.ID, 0, logger.Named("events"))
		stationEvents = a.publisher
	}

	a.relay, err = newRelay(cfg, logger.Named("relay"))
	if err != nil {
		a.Close()
		return nil, err
	}
	source, err := meter.NewSource(cfg.Meter, a.connectors, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	meters := meter.NewRegistry(a.connectors, a.metrics)

	a.state = station.NewState(a.connectors)
	a.pipeline = pipeline.New(pipeline.Options{
		Size:    cfg.Queue.Size,
		Policy:  cfg.Queue.Policy,
		OnDrop: func(cmd pipeline.Command) {
			if a.engine != nil {
				a.engine.Dropped(cmd)
			}
		},
		Logger:  logger.Named("pipeline"),
		Metrics: a.metrics,
	})

	notifier := &firmwareNotifier{}
	a.updater = firmware.NewUpdater(firmware.Options{
		Dir:        cfg.Firmware.Dir,
		Downloader: clients.NewFirmwareClient(cfg.DownloadTimeout(), logger.Named("download")),
		Notifier:   notifier,
		Install:    firmware.Command(cfg.Firmware.InstallCommand),
		Logger:     logger.Named("firmware"),
	})

	router := ocpp.NewRouter(handlers.New(a.state, settings, a.pipeline, a.updater, logger.Named("handlers")), logger.Named("router"))
	client := ocpp.NewClient(router, ocpp.ClientConfig{
		CallTimeout: cfg.CallTimeout(),
		FrameLog:    frameLog,
		Metrics:     a.metrics,
		Logger:      logger.Named("ocpp"),
	})
	notifier.client = client

	a.engine = sampling.New(sampling.Options{
		State:    a.state,
		Meters:   meters,
		Config:   settings,
		Reporter: client,
		Queue:    a.pipeline,
		Journal:  journal,
		Events:   stationEvents,
		Metrics:  a.metrics,
		Logger:   logger.Named("sampling"),

		Transactions: transactions,
	})

	dialer := &ws.Dialer{
		Endpoint:         cfg.ChargePoint.Endpoint,
		ChargePointID:    cfg.ChargePoint.ID,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		Options: ws.Options{
			PingInterval: cfg.PingInterval(),
			WriteTimeout: cfg.WriteTimeout(),
			Logger:       logger.Named("ws"),
		},
	}
	if cfg.Auth.TokenSecret != "" {
		tokens, err := auth.NewTokenService(cfg.Auth.TokenSecret, cfg.ChargePoint.ID, cfg.TokenTTL())
		if err != nil {
			a.Close()
			return nil, err
		}
		dialer.Tokens = tokens
	}

	a.supervisor = session.NewSupervisor(session.Options{
		Dialer: session.DialerFunc(func(ctx context.Context) (ocpp.Conn, error) {
			conn, err := dialer.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
		Client: client,
		State:  a.state,
		Config: settings,
		Identity: session.Identity{
			FirmwareVersion: cfg.ChargePoint.FirmwareVersion,
			SerialNumber:    cfg.ChargePoint.SerialNumber,
			MeterType:       cfg.ChargePoint.MeterType,
		},
		Sampler:     a.engine,
		Source:      source,
		Sink:        meters,
		Backoff:     cfg.Reconnect,
		StatusRetry: cfg.StatusRetry(),
		Events:      stationEvents,
		Metrics:     a.metrics,
		Logger:      logger.Named("session"),
	})

	a.restarter = &restarter{cancel: func() {}}
	a.controller = station.NewController(station.Options{
		State:        a.state,
		Central:      client,
		Relay:        a.relay,
		Meter:        meters,
		Config:       settings,
		Journal:      journal,
		Transactions: transactions,
		Events:       stationEvents,
		Restarter:    a.restarter,
		Triggers:     &triggers{supervisor: a.supervisor, engine: a.engine, updater: a.updater},
		ResetDelay:   cfg.ResetDelay(),
		Logger:       logger.Named("controller"),
	})

	routes := httpserver.Routes{
		Health:     httpserver.HealthHandler(a.supervisor.Registered, a.state),
		Metrics:    a.metrics.Handler(),
		Connectors: httpserver.ConnectorsHandler(a.state),
	}
	if sessions != nil {
		routes.Sessions = httpserver.SessionsHandler(sessions, logger.Named("http"))
	}
	a.httpServer = httpserver.NewServer(cfg.HTTP.Addr, httpserver.NewRouter(routes), logger.Named("http"))

	if cfg.EmergencyStop.Path != "" {
		a.estop = &hardware.EmergencyStop{
			Path:      cfg.EmergencyStop.Path,
			Interval:  cfg.EmergencyStopPoll(),
			ActiveLow: cfg.EmergencyStop.ActiveLow,
			Logger:    logger.Named("estop"),
		}
	}

	return a, nil
}

func newRelay(cfg *config.Config, logger *zap.Logger) (hardware.Relay, error) {
	switch cfg.Relay.Kind {
	case "", config.RelayLog:
		return hardware.NewLogRelay(logger), nil
	case config.RelaySysfs:
		return &hardware.SysfsRelay{Pins: cfg.Relay.Pins, ActiveLow: cfg.Relay.ActiveLow, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("app: unknown relay kind %q", cfg.Relay.Kind)
	}
}

// Run starts every loop and blocks until ctx is done or a Reset asks for a restart.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.restarter.cancel = cancel

	// Relays start switched off; restored transactions switch theirs back on.
	if err := hardware.CloseAll(ctx, a.relay, a.connectors); err != nil {
		a.logger.Error("failed to switch relays off", zap.Error(err))
	}
	if err := a.controller.Restore(ctx); err != nil {
		a.logger.Error("failed to restore transactions", zap.Error(err))
	}

	if a.estop != nil {
		a.estop.OnPress = func() {
			if err := hardware.CloseAll(ctx, a.relay, a.connectors); err != nil {
				a.logger.Error("emergency stop could not switch relays off", zap.Error(err))
			}
			a.pipeline.Enqueue(station.EmergencyStopCommand{Pressed: true})
		}
		a.estop.OnRelease = func() {
			a.pipeline.Enqueue(station.EmergencyStopCommand{Pressed: false})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	spawn := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil && gctx.Err() == nil {
				a.logger.Error("loop failed", zap.String("loop", name), zap.Error(err))
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	spawn("pipeline", func(ctx context.Context) error { return a.pipeline.Run(ctx, a.controller) })
	spawn("firmware", a.updater.Run)
	spawn("http", a.httpServer.Run)
	spawn("supervisor", a.supervisor.Run)
	if a.estop != nil {
		spawn("estop", a.estop.Run)
	}
	if a.publisher != nil {
		spawn("events", a.publisher.Run)
	}

	a.logger.Info("charge point started",
		zap.String("charge_point_id", a.cfg.ChargePoint.ID),
		zap.String("endpoint", a.cfg.ChargePoint.Endpoint),
		zap.Int("connectors", a.connectors),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	if a.restarter.kind != "" {
		a.logger.Info("restarting after reset", zap.String("type", string(a.restarter.kind)))
		return ErrRestart
	}
	return nil
}

// Close releases external connections.
func (a *App) Close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.logger.Warn("failed to drain nats", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
