package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	biddergw "github.com/chinnucsk/bidder-gateway"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the gateway",
		Long: `Run the gateway HTTP server. Bidders recorded by a previous run are
registered again before the listener opens.

Examples:
  biddergw serve biddergw.toml
  biddergw serve --config=biddergw.toml --daemonize --pidfile=/run/biddergw.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags) error {
	cfg, err := biddergw.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	gw, err := biddergw.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := gw.Replay(ctx)
	if err != nil {
		gw.Logger().Warn("replay incomplete", "registered", n, "error", err)
	}
	gw.Logger().Info("gateway starting", "listen", cfg.Server.Listen, "exec_dir", cfg.Paths.ExecDir, "bidders", n)
	err = gw.Serve(ctx)
	gw.Logger().Info("gateway stopped")
	return err
}
