package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath string
	listen     string
	framework  string
}

func newServeCmd(version string) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Long: `Runs the authorization server until interrupted.

Without --config the server keeps everything in memory and knows no clients
or users, which is only useful for trying the binary out. Values of the
form ${VAR} in the configuration file are read from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, version)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "override the listen address")
	cmd.Flags().StringVar(&opts.framework, "framework", "", "override the HTTP framework (net/http, gin, fiber)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions, version string) error {
	cfg := DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = LoadConfig(opts.configPath); err != nil {
			return err
		}
	} else {
		cfg.Tokens.ExpiresIn = defaultExpiresIn()
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.framework != "" {
		cfg.Framework = opts.framework
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Close(closeCtx)
	}()

	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
