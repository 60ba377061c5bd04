// Package app wires one checkout session: a reader gateway, its connection
// manager, the status reporter, the orchestrator and the attempt journal.
// The session lives from New to Close.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/checkout"
	"github.com/iliamunaev/tap-checkout/internal/config"
	"github.com/iliamunaev/tap-checkout/internal/connection"
	"github.com/iliamunaev/tap-checkout/internal/journal"
	"github.com/iliamunaev/tap-checkout/internal/journal/postgres"
	"github.com/iliamunaev/tap-checkout/internal/journal/stanpub"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/reader/simulated"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

type App struct {
	Status     *status.Reporter
	Connection *connection.Manager
	Checkout   *checkout.Orchestrator
	Journal    *journal.Memory
	Gateway    reader.Gateway

	Currency       string
	RequestTimeout time.Duration

	log     *zap.Logger
	closers []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	gw    reader.Gateway
	sleep connection.SleepFunc
}

// WithGateway replaces the simulated reader.
func WithGateway(gw reader.Gateway) Option {
	return func(o *options) { o.gw = gw }
}

// WithSleep replaces the connection retry delay.
func WithSleep(fn connection.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// New builds a session from cfg. ctx bounds journal connection setup only.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Status:         status.New(),
		Journal:        journal.NewMemory(cfg.Journal.MemoryLimit),
		Currency:       cfg.Payment.Currency,
		RequestTimeout: cfg.Server.RequestTimeout,
		log:            log,
	}
	if a.RequestTimeout <= 0 {
		a.RequestTimeout = 60 * time.Second
	}

	a.Gateway = o.gw
	if a.Gateway == nil {
		a.Gateway = simulated.New(cfg.Reader.Simulated.Gateway(), log)
	}

	sinks, err := a.openJournal(ctx, cfg.Journal)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Connection = connection.New(a.Gateway, a.Status,
		connection.WithLogger(log),
		connection.WithPolicy(cfg.Reader.Policy()),
		connection.WithSleep(o.sleep),
	)
	a.closers = append(a.closers, a.Connection.Close)

	copts := []checkout.Option{
		checkout.WithLogger(log),
		checkout.WithCurrency(cfg.Payment.Currency),
	}
	for _, s := range sinks {
		copts = append(copts, checkout.WithJournal(s))
	}
	a.Checkout = checkout.New(a.Connection, a.Gateway, a.Status, copts...)

	return a, nil
}

func (a *App) openJournal(ctx context.Context, cfg config.JournalConfig) ([]journal.Sink, error) {
	sinks := []journal.Sink{a.Journal}

	if cfg.PostgresDSN != "" {
		j, pool, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		sinks = append(sinks, j)
		a.log.Info("postgres journal enabled")
	}

	if cfg.Stan.Enabled() {
		p, sc, err := stanpub.Connect(cfg.Stan.ClusterID, cfg.Stan.ClientID, cfg.Stan.URL, cfg.Stan.Subject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := sc.Close(); err != nil {
				a.log.Warn("stan close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, p)
		a.log.Info("stan journal enabled", zap.String("subject", p.Subject()))
	}

	return sinks, nil
}

// Close releases the session in reverse order of creation. It is safe to
// call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLogger builds the process logger.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
