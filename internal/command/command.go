// Package command defines the salesforce-router command line.
package command

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"salesforce-router/internal/app"
	"salesforce-router/internal/common/logging"
	"salesforce-router/internal/config"

	"github.com/urfave/cli/v2"
)

const ServiceName = "salesforce-router"

var version = "0.0.0"

// Run parses args and executes the matching command
func Run(args []string) error {
	return New().Run(args)
}

// New builds the command line application
func New() *cli.App {
	return &cli.App{
		Name:    ServiceName,
		Usage:   "Route analytics events to Salesforce",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Usage:   "load environment variables from these files instead of ./.env",
				EnvVars: []string{"ENV_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
			return logging.InitGlobalLogger()
		},
		After: func(*cli.Context) error {
			logging.MustSync()
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			checkCmd(),
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the ingest API and deliver events until interrupted",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx, cfg)
		},
	}
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate configuration and optionally exchange credentials once",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "token",
				Usage: "also request an access token from Salesforce",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if ctx == nil {
				ctx = context.Background()
			}

			report, err := app.Check(ctx, config.Load(), c.Bool("token"))
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "routing: %s\n", report.Routing)
			if c.Bool("token") {
				fmt.Fprintf(c.App.Writer, "token: ok\n")
			}
			fmt.Fprintln(c.App.Writer, "configuration ok")
			return nil
		},
	}
}
