package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/luxsuv-confirmations/pkg/config"
	"github.com/diagnosis/luxsuv-confirmations/pkg/events"
	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	mw "github.com/diagnosis/luxsuv-confirmations/pkg/middleware"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/composer"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/handlers"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/listener"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/mailer"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("Notify service error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender, err := mailer.New(cfg.Email)
	if err != nil {
		return fmt.Errorf("configure mailer: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	var bus *events.NATSEventBus
	var publisher events.Publisher
	if cfg.Notify.HasSource(config.SourceNATS) {
		bus, err = events.NewNATSEventBus(cfg.NATS.URL, "notify")
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher = bus
		backend.checks["nats"] = func(context.Context) error { return bus.Ping() }
	}

	confirmations := service.NewConfirmationService(
		backend.store,
		backend.users,
		sender,
		composer.New(cfg.Notify.CurrencySymbol, cfg.Notify.BrandName),
		publisher,
		service.Options{
			StaleAfter:      cfg.Notify.StaleAfter,
			DeliveryTimeout: cfg.Notify.DeliveryTimeout,
			OutcomeTimeout:  cfg.Notify.OutcomeTimeout,
		},
	)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Logging)
	r.Use(mw.Health(backend.checks))
	r.Use(mw.Metrics(func() []mw.Counter { return counters(confirmations.Stats()) }))

	var handler listener.Handler = confirmations
	var handlerOpts []handlers.Option
	if backend.memory != nil {
		handler = listener.Mirrored(backend.memory, confirmations)
		handlerOpts = append(handlerOpts, handlers.WithMirror(backend.memory))
	}
	handlers.New(confirmations, handlerOpts...).Routes(r, cfg.Notify.HasSource(config.SourceHTTP))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting notify service", "addr", srv.Addr, "store", cfg.Notify.RecordStore, "sources", cfg.Notify.EventSources)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if bus != nil {
		l := listener.NewNATSListener(bus, cfg.NATS.Subject, cfg.NATS.Queue, handler)
		g.Go(func() error { return l.Run(gctx) })
	}
	if cfg.Notify.HasSource(config.SourcePostgres) {
		l := listener.NewPostgresListener(backend.pool, backend.store, confirmations)
		g.Go(func() error { return l.Run(gctx) })
	}
	if cfg.Notify.HasSource(config.SourceMongo) {
		l := listener.NewMongoListener(backend.mongoStore.Collection(), confirmations)
		g.Go(func() error { return l.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down notify service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s := confirmations.Stats()
	logger.Info("Notify service stopped", "events", s.Events, "sent", s.Sent, "failed", s.Failed)
	return nil
}

func counters(s service.Stats) []mw.Counter {
	return []mw.Counter{
		{Name: "notify_events_total", Help: "Booking change events received.", Value: s.Events},
		{Name: "notify_events_skipped_total", Help: "Events whose snapshot was not eligible.", Value: s.Skipped},
		{Name: "notify_claims_declined_total", Help: "Claims declined after re-reading the booking.", Value: s.NotClaimed},
		{Name: "notify_claim_errors_total", Help: "Claim transactions that failed.", Value: s.ClaimErrors},
		{Name: "notify_confirmations_sent_total", Help: "Confirmation emails delivered.", Value: s.Sent},
		{Name: "notify_confirmations_failed_total", Help: "Claimed sends that failed.", Value: s.Failed},
		{Name: "notify_outcome_errors_total", Help: "Send outcomes that could not be recorded.", Value: s.OutcomeErrors},
	}
}
