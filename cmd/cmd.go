// Package cmd is the CLI bootstrap, mirroring the teacher's urfave/cli
// "server" command: parse flags, load config, build the fx graph, run
// until a signal arrives.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/channelstream/broker/config"
)

// Run is the process entry point invoked from main.go.
func Run() error {
	app := &cli.App{
		Name:  "channelstream",
		Usage: "real-time pub/sub broker",
		Commands: []*cli.Command{
			serverCommand(),
		},
	}
	return app.Run(os.Args)
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run the broker's HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "listen-addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "shared-secret", Usage: "shared secret required on privileged endpoints"},
			&cli.DurationFlag{Name: "wake-connections-after", Usage: "long-poll primary wait"},
			&cli.DurationFlag{Name: "drain-interval", Usage: "long-poll drain-window pull timeout"},
			&cli.DurationFlag{Name: "gc-interval", Usage: "idle connection sweep cadence"},
			&cli.DurationFlag{Name: "gc-conns-after", Usage: "idle threshold before a connection is reaped"},
			&cli.IntFlag{Name: "default-history-size", Usage: "default per-channel history size"},
		},
		Action: runServer,
	}
}

func runServer(c *cli.Context) error {
	flags := config.Flags()
	for _, name := range []string{
		"listen-addr", "shared-secret", "wake-connections-after",
		"drain-interval", "gc-interval", "gc-conns-after", "default-history-size",
	} {
		if c.IsSet(name) {
			if err := flags.Set(name, c.String(name)); err != nil {
				return fmt.Errorf("apply flag %s: %w", name, err)
			}
		}
	}

	cfg, v, err := config.Load(c.String("config"), flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	live := config.NewLive(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := fx.New(
		fx.Supply(cfg, live, v),
		Module,
		fx.Invoke(registerLifecycle),
	)

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Stop(shutdownCtx)
}
