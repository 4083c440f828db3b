package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"go.pilab.hu/authz/config"
	"go.pilab.hu/authz/log"
)

var (
	configDir string

	cfg       *config.ServerConfig
	appLogger log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "authz",
	Short:         "authz is an OAuth2 authorization server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var paths []string
		if configDir != "" {
			paths = append(paths, configDir)
		}

		loaded, err := config.LoadConfig(paths...)
		if err != nil {
			return err
		}
		cfg = loaded

		level, err := log.ParseLevel(cfg.LogLevel)
		appLogger = log.NewZerologAdapter(level, cfg.LogPretty)
		if err != nil {
			appLogger.Warn(cmd.Context(), "Invalid LOG_LEVEL configured, defaulting to 'info'", log.Fields{
				"configured_log_level": cfg.LogLevel,
			})
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"directory holding config.yaml (default search: /etc/authz/, $HOME/.authz, .)")

	rootCmd.AddCommand(serveCmd, migrateCmd, clientCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if appLogger != nil {
			appLogger.Error(ctx, "Command failed", err)
		} else {
			stdLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
			stdLog.Error().Err(err).Msg("Command failed")
		}
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
