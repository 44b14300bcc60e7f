// Package app composes the chat client with fx.
package app

import (
	"context"
	"net/http"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config // loaded from ConfigPath when nil
	// ConfigPath overrides the default config location.
	ConfigPath string
	ChatID     string // opened at start when set
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideStore,
			provideConn,
			provideREST,
			provideSender,
			providePipeline,
			provideSyncEngine,
			provideRoom,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		path := p.ConfigPath
		if path == "" {
			path = profile.ConfigPath()
		}
		var err error
		if cfg, err = config.LoadOrDefault(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideStore takes the lock so the cache is never opened without it.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	return store.OpenCache(profile.CachePath(p.Profile), logger.Named("store"))
}

func provideConn() *transport.Conn {
	return transport.Get()
}

func provideREST(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.Server.BaseURL, cfg.Server.Token, nil, logger)
}

func provideSender(conn *transport.Conn, api *rest.Client, db *store.DB, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(conn, api, db, logger)
}

func providePipeline(api *rest.Client, cfg *config.Config, logger *zap.Logger) (*attach.Pipeline, error) {
	return attach.New(api, attach.Options{
		Context:  attach.ContextChat,
		MaxFiles: cfg.Upload.MaxFiles,
		Constraints: attach.Constraints{
			Threshold:    cfg.Upload.CompressThreshold,
			MaxDimension: cfg.Upload.MaxDimension,
			Quality:      cfg.Upload.Quality,
		},
		Logger: logger,
	})
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideRoom(conn *transport.Conn, api *rest.Client, db *store.DB, sender *outbox.Sender, pipeline *attach.Pipeline, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *room.Session {
	return room.New(room.Deps{
		Transport: conn,
		API:       api,
		Cache:     db,
		Outbox:    sender,
		Uploads:   pipeline,
	}, room.Options{
		HistoryLimit:   cfg.History.Limit,
		TypingIdle:     cfg.Timing.TypingIdle.Duration,
		TypingTTL:      cfg.Timing.TypingTTL.Duration,
		TypingSweep:    cfg.Timing.TypingSweep.Duration,
		ReactionWindow: cfg.Timing.ReactionWindow.Duration,
		Bus:            b,
		Logger:         logger,
	})
}

func provideTUI(p Params, session *room.Session, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(session, tui.Options{
		Profile:    p.Profile,
		ChatID:     p.ChatID,
		NearBottom: cfg.Viewport.NearBottomPx,
		Self:       transport.GlobalUserID,
		Bus:        b,
		Logger:     logger,
	})
}

func pushHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, ui *tui.App, session *room.Session, conn *transport.Conn, engine *intsync.Engine, db *store.DB, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			transport.SetGlobalUserID(cfg.Identity.UserID)

			// Start cache engine (subscribes to room.* bus events).
			engine.Start(context.Background())

			if err := conn.Start(context.Background(), transport.Options{
				URL:    cfg.Server.PushURL,
				Header: pushHeader(cfg.Server.Token),
				Bus:    b,
				Logger: logger,
			}); err != nil {
				return err
			}

			// The TUI owns the terminal until the user quits.
			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			session.Close()
			_ = conn.Close()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped", zap.Int64("bus_dropped", b.Dropped()))
			return nil
		},
	})
}
