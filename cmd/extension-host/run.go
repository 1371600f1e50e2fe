package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DhyeyTeraiya/new--sub004/internal/background"
	"github.com/DhyeyTeraiya/new--sub004/pkg/config"
	"github.com/DhyeyTeraiya/new--sub004/pkg/logging"
)

func newRunCmd() *cobra.Command {
	var cfgName string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the background service and hold the server connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(logging.New(logging.LevelInfo), cfgName)
			if err != nil {
				return err
			}
			logger := logging.New(logging.ParseLevel(cfg.Log.Level))
			slog.SetDefault(logger)

			svc, err := background.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(ctx); err != nil {
				return err
			}
			logger.Info("Extension host running",
				slog.String("http", cfg.Backend.HTTPBase),
				slog.String("ws", cfg.Backend.WSBase),
			)

			<-ctx.Done()
			svc.Shutdown()
			logger.Info("Extension host shut down successfully.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgName, "config", "c", "config", "config file name, resolved like config.yaml in the working directory")
	return cmd
}
