package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mcpreg/internal/app"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpregd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "mcpregd",
		Short:         "Dynamic MCP tool-federation gateway",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	serve := app.ServeConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP registry gateway over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger(app.LoggingConfig{Level: opts.logLevel})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			serve.ConfigPath = opts.configPath
			applyServeFlagBindings(cmd.Flags(), &serve)
			application, err := app.InitializeApplication(serve, logger)
			if err != nil {
				return err
			}
			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&serve.CacheDir, "cache-dir", "", "override the entry snapshot directory")
	cmd.Flags().BoolVar(&serve.Metrics, "metrics", false, "expose prometheus metrics on the observability endpoint")
	cmd.Flags().BoolVar(&serve.Healthz, "healthz", false, "expose the health endpoint")
	cmd.Flags().StringVar(&serve.ObsAddr, "observability-addr", "", "observability listen address")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config and custom catalog without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger(app.LoggingConfig{Level: opts.logLevel})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return app.Validate(cmd.Context(), app.ValidateConfig{ConfigPath: opts.configPath}, logger)
		},
	}
}

// applyServeFlagBindings records which observability flags were set
// explicitly, so --metrics=false can override a config file that enables
// metrics.
func applyServeFlagBindings(flags *pflag.FlagSet, serve *app.ServeConfig) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "metrics":
			serve.Metrics, _ = flags.GetBool("metrics")
			serve.MetricsSet = true
		case "healthz":
			serve.Healthz, _ = flags.GetBool("healthz")
			serve.HealthzSet = true
		}
	})
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
