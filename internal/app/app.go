// Package app assembles the service components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"workorders/internal/config"
	"workorders/internal/db"
	"workorders/internal/engine"
	"workorders/internal/engine/auth"
	"workorders/internal/files"
	"workorders/internal/metrics"
	"workorders/internal/migrate"
	"workorders/internal/notify"
	"workorders/internal/realtime"
	"workorders/internal/repo"
	"workorders/internal/sequence"
)

// App holds the wired component graph. Close releases it.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Log     *zap.Logger
	Engine  engine.Engine
	Auth    auth.Service
	Hub     *realtime.Hub
	Fanout  *notify.Fanout
	Metrics *metrics.Metrics
	Files   files.Local

	closers []func() error
}

// Build opens the database, applies migrations and builds every provider the config
// enables. Push and email providers that are not configured stay nil.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &App{Config: cfg, DB: conn, Log: log}
	a.closers = append(a.closers, conn.Close)
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	counter, err := a.counter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Metrics = metrics.New()
	a.Hub = realtime.NewHub(log)
	a.Files = files.Local{
		Dir:           cfg.Storage.Dir,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		MaxBytes:      cfg.Storage.MaxBytes,
	}
	a.Fanout = &notify.Fanout{
		Log:       log.Named("notify"),
		Broadcast: a.Hub,
		Store:     repo.Repo{DB: conn},
		Metrics:   a.Metrics,
		Timeout:   time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	}
	if err := a.providers(ctx); err != nil {
		a.Close()
		return nil, err
	}

	eng := engine.New(conn, counter, log)
	eng.Notifier = a.Fanout
	eng.Files = a.Files
	eng.Metrics = a.Metrics
	eng.DefaultCurrency = cfg.Costs.DefaultCurrency
	a.Engine = eng
	a.Auth = auth.Service{DB: conn, Rules: cfg.Authorization}
	return a, nil
}

func (a *App) counter(ctx context.Context) (sequence.Counter, error) {
	switch a.Config.Sequence.Backend {
	case "redis":
		rc := sequence.NewRedis(a.Config.Sequence.RedisAddr, a.Config.Sequence.KeyPrefix)
		a.closers = append(a.closers, rc.Close)
		if err := rc.Ping(ctx); err != nil {
			// The counter reports unavailability per request; startup continues.
			a.Log.Warn("redis sequence backend unreachable", zap.String("addr", a.Config.Sequence.RedisAddr), zap.Error(err))
		}
		return rc, nil
	case "sqlite", "":
		return sequence.SQLite{DB: a.DB}, nil
	default:
		return nil, fmt.Errorf("unknown sequence backend %q", a.Config.Sequence.Backend)
	}
}

func (a *App) providers(ctx context.Context) error {
	cfg := a.Config
	if cfg.Push.FCM.Configured() {
		fcm, err := notify.NewFCM(ctx, cfg.Push.FCM.CredentialsFile)
		if err != nil {
			return err
		}
		a.Fanout.FCM = fcm
		a.Log.Info("fcm push enabled")
	}
	if cfg.Push.APNs.Configured() {
		apns, err := notify.NewAPNs(notify.APNsConfig{
			KeyFile:    cfg.Push.APNs.KeyFile,
			KeyID:      cfg.Push.APNs.KeyID,
			TeamID:     cfg.Push.APNs.TeamID,
			Topic:      cfg.Push.APNs.Topic,
			Production: cfg.Push.APNs.Production,
		})
		if err != nil {
			return err
		}
		a.Fanout.APNs = apns
		a.Log.Info("apns push enabled", zap.Bool("production", cfg.Push.APNs.Production))
	}
	if cfg.Email.Configured() {
		a.Fanout.Mailer = notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
		a.Log.Info("smtp email enabled", zap.String("host", cfg.Email.SMTPHost))
	}
	return nil
}

// Close waits for in-flight notifications, then releases resources in reverse order.
func (a *App) Close() error {
	if a.Fanout != nil {
		a.Fanout.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
