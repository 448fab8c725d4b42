package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/temcen/comport/internal/app"
	"github.com/temcen/comport/internal/config"
)

type rootOptions struct {
	logLevel string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "comportctl",
		Short:         "Maintenance commands for the ComPORT catalog and comfort model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "operation timeout")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newTrainCmd(opts))
	cmd.AddCommand(newRescoreCmd(opts))

	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

// withApp builds the application, runs fn and shuts everything down.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := app.SetupLogger(cfg)
	logger.SetOutput(cmd.ErrOrStderr())

	a, err := app.NewWithLogger(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	result, runErr := fn(ctx, a)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown reported errors")
	}

	if runErr != nil {
		return runErr
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Merge duplicate catalog products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Services().Reconciler.Reconcile(ctx)
			})
		},
	}
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the comfort model on reviewed products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Services().Trainer.Train(ctx)
			})
		},
	}
}

func newRescoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute and store the comfort score of every product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Services().Comfort.RescoreAll(ctx)
			})
		},
	}
}

