// Package respond implements the `opsbridge respond` command:  execute the
// incident runbook against a gateway and print the transcript.
package respond

import (
	"context"
	"fmt"
	"os"

	"github.com/opsbridge/opsbridge/cmd/internal/config"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/opsbridge/opsbridge/pkg/runbook"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "respond",
		Usage:       "Run the incident runbook against a gateway",
		Description: "Walks triage, investigation, remediation, and report roles over one tool session, then prints the transcript.",
		Action:      action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to an opsbridge.{json,yaml,yml} config file.",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Gateway /mcp endpoint.  Defaults to the local gateway.",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Gateway host, used when no endpoint is given.",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Gateway port, used when no endpoint is given.",
			},
			&cli.StringFlag{
				Name:     "incident",
				Aliases:  []string{"i"},
				Usage:    "Short incident title, used for the ticket and the notification.",
				Required: true,
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

	caller, err := runbook.Dial(ctx, cfg.GatewayEndpoint())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := caller.Close(); cerr != nil {
			l.Warn("closing runbook session", "error", cerr)
		}
	}()

	report, err := runbook.NewDriver(caller, l).Run(ctx, cmd.String("incident"))
	if err != nil {
		return err
	}

	if err := runbook.Render(os.Stdout, report); err != nil {
		return err
	}
	if report.Failed() {
		return fmt.Errorf("runbook completed with failures")
	}
	return nil
}
