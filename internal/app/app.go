// Package app wires the order pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/config"
	"github.com/iliamunaev/paper-order-pipeline/internal/document"
	"github.com/iliamunaev/paper-order-pipeline/internal/generation"
	"github.com/iliamunaev/paper-order-pipeline/internal/intake"
	"github.com/iliamunaev/paper-order-pipeline/internal/metrics"
	"github.com/iliamunaev/paper-order-pipeline/internal/middleware"
	"github.com/iliamunaev/paper-order-pipeline/internal/order"
	"github.com/iliamunaev/paper-order-pipeline/internal/ratelimit"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/llm"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/notify"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/payment"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/pool"
	"github.com/iliamunaev/paper-order-pipeline/internal/service/sources"
	"github.com/iliamunaev/paper-order-pipeline/internal/store"
	httptransport "github.com/iliamunaev/paper-order-pipeline/internal/transport/http"
)

// sweepInterval is how often idle dialogues are expired.
const sweepInterval = time.Minute

// App holds the wired components.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Metrics      *metrics.Metrics
	Orchestrator *generation.Orchestrator
	Orders       *order.Service
	Sessions     *intake.Sessions
	// Handler serves every HTTP route behind the access log middleware.
	Handler http.Handler
}

// New builds the application. Optional integrations fall back to local
// stand-ins when not configured: the instant gateway for payments, the
// log notifier for messages, and no reference lookup.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	provider, err := llm.NewOpenAIProvider(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	genOpts := []generation.Option{generation.WithMetrics(m)}
	if cfg.Sources.Token != "" && cfg.Sources.WorkflowID != "" {
		lookup, err := sources.NewCoze(sources.CozeConfig{
			Token:      cfg.Sources.Token,
			WorkflowID: cfg.Sources.WorkflowID,
			URL:        cfg.Sources.URL,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		genOpts = append(genOpts, generation.WithSources(lookup))
	} else {
		log.Warn().Msg("source lookup not configured, documents will have no references")
	}
	orch := generation.New(provider, pool.New(cfg.Pipeline.Concurrency), genOpts...)

	gateway, test, err := gateways(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	notifier, err := notifierFor(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	orders := order.New(order.Deps{
		Store:       st,
		Gateway:     gateway,
		TestGateway: test,
		Generator:   orch,
		Renderer:    document.NewPDFRenderer(cfg.Pipeline.Organization),
		Notifier:    notifier,
		Limiter:     ratelimit.New(cfg.Pipeline.RateLimit, cfg.Pipeline.RateWindow),
		Metrics:     m,
	}, order.Config{
		PollInterval:     cfg.Pipeline.PollInterval,
		ReconcileTimeout: cfg.Pipeline.ReconcileTimeout,
		TestUsers:        cfg.Payment.TestUsers,
		ReceiptContact:   cfg.Payment.ReceiptContact,
	})

	sessions := intake.NewSessions(
		intake.NewMachine(orders, st),
		intake.WithTTL(cfg.Pipeline.SessionTTL),
		intake.WithSessionMetrics(m),
	)

	mux := http.NewServeMux()
	httptransport.New(sessions, orders, cfg.Server.RequestTimeout).Register(mux)
	mux.Handle("GET /metrics", m.Handler())

	return &App{
		Config:       cfg,
		Store:        st,
		Metrics:      m,
		Orchestrator: orch,
		Orders:       orders,
		Sessions:     sessions,
		Handler:      middleware.Logging(mux),
	}, nil
}

func gateways(cfg *config.Config) (live, test payment.Gateway, err error) {
	instant := payment.NewInstant(cfg.Payment.ReturnURL)
	if !cfg.LivePayments() {
		log.Warn().Msg("payment gateway not configured, every order is settled instantly")
		return instant, nil, nil
	}
	yk, err := payment.NewYooKassa(payment.YooKassaConfig{
		ShopID:            cfg.Payment.ShopID,
		SecretKey:         cfg.Payment.SecretKey,
		BaseURL:           cfg.Payment.BaseURL,
		ReturnURL:         cfg.Payment.ReturnURL,
		RequestsPerSecond: cfg.Payment.RequestsPerSecond,
		Burst:             cfg.Payment.Burst,
	})
	if err != nil {
		return nil, nil, err
	}
	return yk, instant, nil
}

func notifierFor(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Telegram.Token == "" {
		log.Warn().Msg("telegram not configured, notifications are only logged")
		return &notify.Log{}, nil
	}
	return notify.NewTelegram(notify.TelegramConfig{
		Token:   cfg.Telegram.Token,
		BaseURL: cfg.Telegram.BaseURL,
		Retries: cfg.Telegram.Retries,
	})
}

// Serve runs srv and the background workers until ctx is done, then shuts
// everything down within the configured shutdown timeout.
func (a *App) Serve(ctx context.Context, srv *http.Server) error {
	workers, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go a.Sessions.Run(workers, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	a.Orders.Shutdown()
	a.Orders.Wait()
	return serveErr
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
