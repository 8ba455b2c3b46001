package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/tsarna/uiflow/pkg/uiflow/chat"
	"github.com/tsarna/uiflow/pkg/uiflow/config"
	"github.com/tsarna/uiflow/pkg/uiflow/memory"
	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
	uiotel "github.com/tsarna/uiflow/pkg/uiflow/otel"
	"github.com/tsarna/uiflow/pkg/uiflow/prom"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
	"go.uber.org/zap"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the uiflow server",
	Long: `Start the uiflow server with the specified configuration files or directories.

Directories are searched recursively for *.ucl files. Without any
configuration the memory game is served on /ws/{room} from an in-memory
store.

Examples:
  uiflow server
  uiflow server uiflow.ucl
  uiflow server ./configs/ --listen :9000`,
	RunE: runServer,
}

var (
	serverName      string
	listenOverride  string
	shutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverName, "server", "", "name of the server block to run (default: the only one)")
	serverCmd.Flags().StringVar(&listenOverride, "listen", "", "listen address, overriding the configuration")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting uiflow server", zap.Strings("config-paths", args))

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(stringSliceToAnySlice(args)...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return diags
	}

	serverCfg, ok := cfg.Server(serverName)
	if !ok {
		return fmt.Errorf("no server block named %q", serverName)
	}
	if listenOverride != "" {
		serverCfg.Listen = listenOverride
	}

	srv, err := newAppServer(cfg, serverCfg, logger)
	if err != nil {
		return err
	}
	srv.Start()

	httpServer := &http.Server{
		Addr:              serverCfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", serverCfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			_ = srv.Shutdown(context.Background())
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := []error{srv.Shutdown(ctx), httpServer.Shutdown(ctx)}
	logger.Info("Shutdown complete")
	return errors.Join(errs...)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// appServer routes every configured app to its own hub and listener.
type appServer struct {
	logger    *zap.Logger
	router    chi.Router
	metrics   *room.Metrics
	tracer    o11y.TracingProvider
	store     storage.Store
	server    *config.ServerConfig
	starters  []func()
	listeners []shutdowner
	hubs      []shutdowner
}

func newAppServer(cfg *config.Config, serverCfg *config.ServerConfig, logger *zap.Logger) (*appServer, error) {
	store, err := cfg.Storage.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Kind, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})

	s := &appServer{
		logger: logger,
		router: r,
		store:  store,
		server: serverCfg,
	}

	var provider o11y.MetricsProvider
	switch serverCfg.Metrics {
	case config.MetricsPrometheus:
		p := prom.NewProvider(prom.Config{})
		r.Handle(serverCfg.MetricsPath, p.Handler())
		provider = p
	case config.MetricsOtel:
		p := uiotel.NewProvider("uiflow", Version)
		provider, s.tracer = p, p
	}
	s.metrics = room.NewMetrics(provider)

	for _, app := range cfg.Apps {
		switch app.Kind {
		case config.AppMemory:
			err = mount[memory.State, memory.View, memory.Delta, memory.Event, memory.Action](s, app, app.Game)
		case config.AppChat:
			err = mount[chat.State, chat.State, chat.Delta, chat.Event, chat.Action](s, app, app.Chat)
		default:
			err = fmt.Errorf("unknown app kind %q", app.Kind)
		}
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func mount[S, V, D, E, A any](s *appServer, app *config.AppConfig, application room.Application[S, V, D, E, A]) error {
	logger := s.logger.With(zap.String("app", app.Kind), zap.String("path", app.Path))
	namespace := strings.ReplaceAll(strings.Trim(app.Path, "/"), "/", "_")

	hub, err := room.NewHub[S, V, D, E, A]().
		WithApplication(application).
		WithStore(storage.WithNamespace(s.store, namespace)).
		WithLogger(logger).
		WithMetrics(s.metrics).
		WithTracing(s.tracer).
		WithIdleTimeout(s.server.IdleTimeout).
		WithSweepSchedule(s.server.IdleSweep).
		Build()
	if err != nil {
		return fmt.Errorf("app %s: %w", app.Path, err)
	}

	listener, err := room.NewListenerConfig().
		WithRooms(hub).
		WithLogger(logger).
		WithMetrics(s.metrics).
		WithQueueSize(s.server.QueueSize).
		WithPingInterval(s.server.PingInterval).
		WithReadTimeout(s.server.ReadTimeout).
		WithWriteTimeout(s.server.WriteTimeout).
		WithOriginPatterns(s.server.Origins...).
		Build()
	if err != nil {
		return fmt.Errorf("app %s: %w", app.Path, err)
	}

	s.router.Get(app.Path+"/{"+room.RoomParam+"}", listener.ServeWebsocket)
	s.starters = append(s.starters, hub.Start)
	s.listeners = append(s.listeners, listener)
	s.hubs = append(s.hubs, hub)

	logger.Info("App mounted", zap.String("route", app.Path+"/{room}"))
	return nil
}

func (s *appServer) Handler() http.Handler {
	return s.router
}

// Start begins the idle sweeps of every hub.
func (s *appServer) Start() {
	for _, start := range s.starters {
		start()
	}
}

// Shutdown closes client connections first so rooms see every disconnect,
// then stops the rooms.
func (s *appServer) Shutdown(ctx context.Context) error {
	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.Shutdown(ctx))
	}
	for _, h := range s.hubs {
		errs = append(errs, h.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
