// Command expertrank runs the expert relevancy service and its maintenance
// tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	service "github.com/okian/expertrank/internal/app"
	"github.com/okian/expertrank/internal/config"
	"github.com/okian/expertrank/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "expertrank:", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "expertrank",
		Short:         "Expert relevancy scoring and consistency engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.bootstrap(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"YAML config file (defaults to $"+config.EnvConfigPath+")")

	root.AddCommand(newServeCmd(opts), newSeedCmd(opts), newReconcileCmd(opts))
	return root
}

// bootstrap loads configuration (defaults -> file -> env) and initializes
// logging on stderr so command output stays clean.
func (o *rootOptions) bootstrap(cmd *cobra.Command) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.LoadFile(cmd.Context(), path)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	o.cfg = cfg
	return nil
}

// withService starts a service for the duration of fn and drains it after.
func (o *rootOptions) withService(ctx context.Context, fn func(*service.Service) error) error {
	svc := service.New(service.WithConfig(o.cfg), service.WithLogger(logger.Named("service")))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	runErr := fn(svc)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
