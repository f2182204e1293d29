package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/mockchat/internal/api"
	"github.com/loqalabs/mockchat/internal/bus"
	"github.com/loqalabs/mockchat/internal/chat"
	"github.com/loqalabs/mockchat/internal/config"
	"github.com/loqalabs/mockchat/internal/eventstore"
	"github.com/loqalabs/mockchat/internal/natsserver"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	store       *eventstore.Store
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	chatService *chat.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.stop()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	generator := chat.NewGenerator(chat.OptionsFromConfig(r.cfg.Chat), r.logger)

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, generator); err != nil {
			return err
		}
	}

	handler := api.NewHandler(generator, store, r.cfg.Chat.DefaultModel, r.logger)
	router := api.NewRouter(handler, r.logger)
	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil {
		router.Handle(r.cfg.Telemetry.MetricsPath, metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Request contexts derive from ctx so shutdown ends in-flight streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.Bool("bus", r.cfg.Bus.Enabled))

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if shutdownErr := r.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		r.logger.Error("http shutdown error", slog.String("error", shutdownErr.Error()))
	}
	r.wg.Wait()
	return err
}

func (r *Runtime) startBus(ctx context.Context, generator *chat.Generator) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client

	svc := chat.NewService(ctx, client, generator, r.store, r.logger)
	if err := svc.Start(); err != nil {
		return err
	}
	r.chatService = svc
	return nil
}

// stop releases components in reverse start order.
func (r *Runtime) stop() {
	if r.chatService != nil {
		r.chatService.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.cfg.Bus.Enabled {
		return r.bus.Healthy() && r.chatService != nil && r.chatService.Healthy()
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
