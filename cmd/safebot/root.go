package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/CodeChampian/safebot/engine/app"
	"github.com/CodeChampian/safebot/pkg/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// cli carries what every subcommand needs once the root has loaded config.
type cli struct {
	cfgPath  string
	noColor  bool
	logLevel string

	cfg     *config.Config
	log     *slog.Logger
	out     io.Writer
	appOpts []app.Option
}

func newRootCmd(out, errOut io.Writer, appOpts ...app.Option) *cobra.Command {
	c := &cli{out: out, appOpts: appOpts}

	root := &cobra.Command{
		Use:          "safebot",
		Short:        "Supplier risk assessment over your own documents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.noColor {
				color.NoColor = true
			}
			level, err := config.ParseLevel(c.logLevel)
			if err != nil {
				return err
			}
			// Logs go to stderr so command output stays pipeable.
			c.log = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "safebot.yaml", "config file")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable coloured output")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.assessCmd(),
		c.ingestCmd(),
		c.deleteCmd(),
		c.vendorsCmd(),
		c.collectionCmd(),
	)
	return root
}

// open builds the application for one command. Supplier records are not used
// by the CLI, and NATS is only connected when a command asks for the worker.
func (c *cli) open(ctx context.Context, extra ...app.Option) (*app.App, error) {
	opts := append([]app.Option{app.WithName("safebot-cli"), app.WithoutNeo4j()}, c.appOpts...)
	opts = append(opts, extra...)
	return app.Open(ctx, c.cfg, c.log, opts...)
}
