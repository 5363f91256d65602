package main

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/ragflow/internal/config"
	"github.com/randalmurphal/ragflow/internal/logging"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ragflow",
		Short:         "Multi-agent retrieval-augmented generation engine",
		Long:          `ragflow routes questions through router, retriever, evaluator, and synthesizer agents over an indexed document corpus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")

	cmd.AddCommand(
		newServeCommand(opts),
		newQueryCommand(opts),
		newIndexCommand(opts),
		newMCPCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the settings and builds the logger, applying flag overrides.
func (o *rootOptions) load() (*config.Settings, *slog.Logger, error) {
	s, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		s.App.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		s.App.LogFormat = o.logFormat
	}
	level, err := logging.ParseLevel(s.App.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return s, logging.New(level, s.App.LogFormat), nil
}

// open loads the settings and wires the application.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	s, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, s, logger)
}
