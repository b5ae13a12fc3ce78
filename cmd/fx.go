package cmd

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/channelstream/broker/config"
	"github.com/channelstream/broker/internal/bus"
	"github.com/channelstream/broker/internal/domain/registry"
	httphandler "github.com/channelstream/broker/internal/handler/http"
	"github.com/channelstream/broker/internal/handler/lp"
	"github.com/channelstream/broker/internal/handler/ws"
	"github.com/channelstream/broker/internal/service"
)

// Module is the fx wiring for the whole process, mirroring the teacher's
// cmd/fx.go: one fx.Provide listing every constructor, fx.Invoke for side-effecting
// lifecycle registration.
var Module = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideRegistry,
		ProvideBus,
		fx.Annotate(service.New, fx.As(new(service.Operations))),
		service.NewDispatcher,
		httphandler.NewHandler,
		ProvideLPHandler,
		ProvideWSHandler,
	),
)

func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func ProvideRegistry() *registry.Registry {
	return registry.New()
}

func ProvideBus(log *slog.Logger) *bus.Bus {
	return bus.New(bus.NewWatermillLogger(log))
}

func ProvideLPHandler(reg *registry.Registry, ops service.Operations, live *config.Live, log *slog.Logger) *lp.Handler {
	return lp.NewHandler(reg, ops, live, lp.DefaultConfig().MaxDrainPulls, log)
}

func ProvideWSHandler(reg *registry.Registry, log *slog.Logger) *ws.Handler {
	return ws.NewHandler(reg, log)
}

// registerLifecycle wires the HTTP server, async dispatcher and GC sweeper
// into fx's OnStart/OnStop hooks.
func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	live *config.Live,
	v *viper.Viper,
	reg *registry.Registry,
	b *bus.Bus,
	httpHandler *httphandler.Handler,
	lpHandler *lp.Handler,
	wsHandler *ws.Handler,
	dispatcher *service.Dispatcher,
	log *slog.Logger,
) {
	mux := nethttp.NewServeMux()
	mux.Handle("/", httpHandler.NewRouter())
	mux.HandleFunc("/listen", lpHandler.Poll)
	mux.HandleFunc("/disconnect", lpHandler.Disconnect)
	mux.HandleFunc("/ws", wsHandler.ServeHTTP)

	server := &nethttp.Server{Addr: cfg.ListenAddr, Handler: mux}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	gcCtx, cancelGC := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if v.ConfigFileUsed() != "" {
				config.WatchReload(v, live, func(next *config.Config) {
					log.Info("config reloaded",
						"gc_interval", next.GCInterval,
						"gc_conns_after", next.GCConnsAfter,
						"wake_connections_after", next.WakeConnectionsAfter,
						"drain_interval", next.DrainInterval,
					)
				})
			}
			go func() {
				if err := dispatcher.Run(dispatchCtx); err != nil && dispatchCtx.Err() == nil {
					log.Error("dispatcher stopped", "err", err)
				}
			}()
			go runGC(gcCtx, reg, live, log)
			go func() {
				log.Info("listening", "addr", cfg.ListenAddr)
				if err := server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
					log.Error("http server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelDispatch()
			cancelGC()
			if err := b.Close(ctx); err != nil {
				log.Warn("bus close failed", "err", err)
			}
			return server.Shutdown(ctx)
		},
	})
}

// runGC drives the periodic idle sweep of spec.md §4.7. Both the cadence
// and the idle threshold are re-read from live on every iteration, so a
// config reload (config.WatchReload) takes effect on the next sweep
// without restarting this goroutine.
func runGC(ctx context.Context, reg *registry.Registry, live *config.Live, log *slog.Logger) {
	timer := time.NewTimer(live.Get().GCInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			cur := live.Get()
			reaped := reg.SweepIdle(cur.GCConnsAfter)
			if len(reaped) > 0 {
				log.Debug("gc sweep reaped idle connections", "count", len(reaped))
			}
			timer.Reset(cur.GCInterval)
		}
	}
}
