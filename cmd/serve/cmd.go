// Package serve implements the `opsbridge serve` command:  run the gateway
// until interrupted.
package serve

import (
	"context"

	"github.com/opsbridge/opsbridge/cmd/internal/config"
	"github.com/opsbridge/opsbridge/pkg/gateway"
	"github.com/opsbridge/opsbridge/pkg/incident"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/opsbridge/opsbridge/pkg/service"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Run the incident gateway",
		Description: "Serves the session-addressed gateway on /mcp, with /healthz for liveness.",
		Action:      action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to an opsbridge.{json,yaml,yml} config file.",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to bind.",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to bind.",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "Seed for the incident store's generated data.  Zero uses the clock.",
			},
		},
	}
}

func action(ctx context.Context, cmd *cli.Command) error {
	l := logger.StdlibLogger(ctx)
	ctx = logger.WithStdlib(ctx, l)

	cfg, err := config.Load(ctx, cmd)
	if err != nil {
		return err
	}

	var store *incident.Store
	if cfg.Seed != 0 {
		store = incident.NewStore(cfg.Seed)
	}

	return service.Start(ctx, gateway.NewService(gateway.Options{
		Addr:  cfg.Host,
		Port:  cfg.Port,
		Store: store,
	}))
}
