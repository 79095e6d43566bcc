// Package app wires the shop: storage, order lifecycle, conversation engine,
// Telegram adapter and the payment webhook.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/keyshop/core/bootstrap"
	coredatabase "github.com/m3rciful/keyshop/core/database"
	"github.com/m3rciful/keyshop/core/logger"
	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/core/telegram/state"
	"github.com/m3rciful/keyshop/internal/bot"
	"github.com/m3rciful/keyshop/internal/conversation"
	"github.com/m3rciful/keyshop/internal/dedup"
	"github.com/m3rciful/keyshop/internal/events"
	"github.com/m3rciful/keyshop/internal/orders"
	"github.com/m3rciful/keyshop/internal/storage"
	"github.com/m3rciful/keyshop/internal/webhook"
	"github.com/m3rciful/keyshop/migrations"
)

const sweepInterval = time.Minute

// App holds the assembled shop.
type App struct {
	cfg *Config
	db  *sqlx.DB

	Repo    *storage.Repository
	Orders  *orders.Controller
	Engine  *conversation.Engine
	Bot     *bot.Bot
	Adapter *bot.Adapter
	Webhook *webhook.Server

	publisher events.Publisher
	claims    dedup.Claimer

	wg sync.WaitGroup
}

// Bootstrap initializes logging, migrates and connects the database, runs
// seeders and assembles the app.
func Bootstrap(ctx context.Context, cfg *Config, seeders ...bootstrap.Seeder) (*App, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		Migrations: migrations.FS,
		Modules:    bootstrap.Modules{Seeders: seeders},
	})
	if err != nil {
		return nil, err
	}
	a, err := New(cfg, res.DB)
	if err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	return a, nil
}

// Migrate initializes logging and applies the schema without starting the bot.
func Migrate(cfg *Config) error {
	if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
		return err
	}
	return coredatabase.RunMigrations(cfg.Database, migrations.FS)
}

// Seed runs the bootstrap pipeline with seeders and closes the database.
func Seed(ctx context.Context, cfg *Config, seeders ...bootstrap.Seeder) error {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		Migrations: migrations.FS,
		Modules:    bootstrap.Modules{Seeders: seeders},
	})
	if err != nil {
		return err
	}
	return res.DB.Close()
}

// New assembles the app over an open database. External brokers are only
// dialled when configured.
func New(cfg *Config, db *sqlx.DB) (*App, error) {
	a := &App{cfg: cfg, db: db, publisher: events.Nop{}}

	if cfg.Events.NATSURL != "" {
		pub, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}

	if cfg.Dedup.RedisAddr != "" {
		claims, err := dedup.NewRedis(cfg.Dedup.RedisAddr, cfg.Dedup.RedisPassword, cfg.Dedup.RedisDB, cfg.Dedup.KeyPrefix)
		if err != nil {
			_ = a.publisher.Close()
			return nil, err
		}
		a.claims = claims
	} else {
		a.claims = dedup.NewMemory(nil)
	}

	a.Repo = storage.New(db)
	a.Orders = orders.New(a.Repo, a.publisher)
	a.Engine = conversation.New(a.Repo, a.Orders, state.Options{TTL: cfg.Shop.SessionTTL})
	a.Bot = bot.New(bot.Options{
		AdminID:             cfg.Telegram.AdminID,
		Currency:            cfg.Shop.Currency,
		PaymentInstructions: cfg.Shop.PaymentInstructions,
		ProviderToken:       cfg.Shop.ProviderToken,
	}, a.Repo, a.Orders, a.Engine)
	a.Adapter = bot.NewAdapter(a.Bot)
	a.Webhook = webhook.New(webhook.Options{
		Secret:   cfg.Payments.WebhookSecret,
		DedupTTL: cfg.Dedup.TTL,
	}, a.Orders, a.Adapter, a.claims)
	return a, nil
}

// TelegramRunOptions builds the bot runtime options.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	if err := a.Adapter.Register(reg); err != nil {
		return tg.RunOptions{}, err
	}
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:      core,
		Registry:    reg,
		Middlewares: tg.DefaultMiddlewares(core, nil),
		Routes:      a.Adapter.Routes(reg),
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt tg.Runtime) error {
	a.Adapter.Attach(rt.Bot)
	a.goRun(func() { a.Engine.Run(ctx, sweepInterval) })
	if addr := a.cfg.Payments.Listen; addr != "" {
		a.goRun(func() {
			if err := a.Webhook.Listen(ctx, addr); err != nil {
				logger.HTTP.Error("payments webhook stopped",
					slog.String("event", "http.listen"),
					slog.String("addr", addr),
					slog.String("err", err.Error()),
				)
			}
		})
	}
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// onStop waits for background workers until ctx expires.
func (a *App) onStop(ctx context.Context, _ tg.Runtime) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases brokers and the database.
func (a *App) Close() error {
	var errs []error
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := a.claims.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
