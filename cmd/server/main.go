package main

import (
	"fmt"
	"os"

	"github.com/banglalekha/backend/internal/config"
	"github.com/banglalekha/backend/internal/logging"
	"github.com/spf13/cobra"
)

// @title BanglaLekha Credits API
// @version 1.0
// @description Prepaid credit ledger: purchases, metered OCR usage and refunds.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// Version information (set at build time with -ldflags)
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "credits",
	Short:   "BanglaLekha credit ledger service",
	Long:    `Prepaid credit ledger for the Bengali OCR application: purchases, metered usage and refunds.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "auto", Level: "info", Component: "credits"})
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(deactivateCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		Component: "credits",
	})
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
