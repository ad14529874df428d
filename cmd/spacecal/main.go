package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spacecal/internal/config"
	appLog "spacecal/internal/log"
)

var version = "0.1.0-dev"

var (
	// Global flags
	configPath string
	listenAddr string

	// conf is loaded once by the root PersistentPreRunE.
	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "spacecal",
	Short: "Space Scheduler - calendar missions with alarms",
	Long: `spacecal keeps a per-user calendar of missions, renders the current
month as a grid and fires each mission's alarm once when its minute comes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg.ApplyEnv()
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		appLog.Configure(cfg.Log.Level, cfg.Log.Format)
		conf = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLog.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "spacecal", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/spacecal/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")

	rootCmd.AddCommand(serveCmd, gridCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLog.Error("spacecal failed", err)
		os.Exit(1)
	}
}
