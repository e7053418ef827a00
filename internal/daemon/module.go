// Package daemon assembles the per-profile client daemon: REST client,
// realtime socket, messaging coordinator, local cache, outbox and the gRPC
// control server.
package daemon

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/confchat/internal/api"
	"github.com/matheus3301/confchat/internal/bus"
	"github.com/matheus3301/confchat/internal/clock"
	"github.com/matheus3301/confchat/internal/config"
	"github.com/matheus3301/confchat/internal/credential"
	"github.com/matheus3301/confchat/internal/debounce"
	"github.com/matheus3301/confchat/internal/httpapi"
	"github.com/matheus3301/confchat/internal/lock"
	"github.com/matheus3301/confchat/internal/logging"
	"github.com/matheus3301/confchat/internal/messaging"
	"github.com/matheus3301/confchat/internal/outbox"
	"github.com/matheus3301/confchat/internal/profile"
	"github.com/matheus3301/confchat/internal/realtime"
	"github.com/matheus3301/confchat/internal/store"
	intsync "github.com/matheus3301/confchat/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile      string
	SocketPath   string // optional override for testing; empty = use default
	ConferenceID int64  // overrides config.conference_id when non-zero
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredentials,
			provideHTTPClient,
			provideMessagingAPI,
			provideSocket,
			provideSyncEngine,
			provideSender,
			provideCoordinator,
			provideSearch,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.ConferenceID != 0 {
		cfg.ConferenceID = p.ConferenceID
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("dir", profile.Dir(p.Profile)))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock parameter orders store creation after lock acquisition.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) credential.Provider {
	return credential.NewFile(profile.CredentialsPath(p.Profile))
}

func provideHTTPClient(cfg *config.Config, creds credential.Provider, logger *zap.Logger) (*httpapi.Client, error) {
	return httpapi.New(httpapi.Config{
		BaseURL:     cfg.API.BaseURL,
		Credentials: creds,
		MinInterval: cfg.API.MinRequestInterval.Duration,
		MaxAttempts: cfg.API.MaxAttempts,
		RetryDelay:  cfg.API.RetryDelay.Duration,
		Logger:      logger.Named("http"),
	})
}

func provideMessagingAPI(c *httpapi.Client) *httpapi.MessagingAPI {
	return httpapi.NewMessagingAPI(c)
}

func provideSocket(cfg *config.Config, creds credential.Provider, b *bus.Bus, logger *zap.Logger) *realtime.Client {
	log := logger.Named("realtime")
	return realtime.New(realtime.Config{
		URL:                  cfg.Realtime.URL,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay.Duration,
		BackoffMultiplier:    cfg.Realtime.BackoffMultiplier,
		Hooks: realtime.Hooks{
			OnError: func(err error) {
				log.Warn("socket error, messaging continues over REST", zap.Error(err))
			},
		},
	}, realtime.WebsocketDialer{HandshakeTimeout: cfg.Realtime.HandshakeTimeout.Duration}, creds, b, clock.Real(), log)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideSender(cfg *config.Config, db *store.DB, msgAPI *httpapi.MessagingAPI, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, msgAPI, b, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval.Duration,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, logger.Named("outbox"))
}

func provideCoordinator(cfg *config.Config, creds credential.Provider, msgAPI *httpapi.MessagingAPI, socket *realtime.Client, db *store.DB, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *messaging.Coordinator {
	id, err := creds.Identity(context.Background())
	if err != nil {
		if errors.Is(err, credential.ErrNoToken) {
			logger.Warn("no credentials for profile, requests will be unauthenticated")
		} else {
			logger.Warn("could not read identity", zap.Error(err))
		}
	}
	return messaging.New(messaging.Config{
		ConferenceID: cfg.ConferenceID,
		UserID:       id.ID,
	}, msgAPI, socket, b, logger, messaging.Options{
		Cache:  db,
		Outbox: sender,
	})
}

func provideSearch(cfg *config.Config) *debounce.Executor[*structpb.Struct] {
	return debounce.New[*structpb.Struct](cfg.Search.Debounce.Duration, clock.Real())
}

func provideService(p Params, coord *messaging.Coordinator, socket *realtime.Client, db *store.DB, search *debounce.Executor[*structpb.Struct], logger *zap.Logger) *api.Service {
	return api.NewService(p.Profile, coord, socket, db, search, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, socket *realtime.Client, coord *messaging.Coordinator, engine *intsync.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Cache and coordinator subscribe before the socket produces events.
			engine.Start(context.Background())
			coord.Start(context.Background())
			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				if err := socket.Connect(context.Background()); err != nil {
					logger.Warn("socket connect failed", zap.Error(err))
				}
			}()
			go func() {
				if err := coord.LoadContacts(context.Background()); err != nil {
					logger.Warn("initial contact load failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			coord.Close()
			sender.Stop()
			engine.Stop()
			_ = socket.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
