package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"smartmint/internal/app"
	"smartmint/internal/config"
	"smartmint/internal/logging"
	"smartmint/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	Timeout time.Duration
	Verbose bool
	LogFile string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "smartmint",
	Short: "Sponsored NFT mints from a LightAccount smart account",
	Long: `smartmint drives the same session and mint workflow as the API server
from the command line. Configuration comes from deployments.json, the
environment and an optional .env file.

Examples:
  smartmint eoa
  smartmint account
  smartmint mint
  smartmint balance --owner 0x...
  smartmint grant-role 0x...`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 3*time.Minute, "overall deadline for the command")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "also write JSON logs to this file")

	rootCmd.AddCommand(eoaCmd, accountCmd, mintCmd, balanceCmd, inspectCmd, grantRoleCmd)
}

// withApp loads configuration, dials every endpoint and runs fn under the
// command deadline.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if flags.Verbose {
		level = "debug"
	}
	logFile := cfg.Log.File
	if flags.LogFile != "" {
		logFile = flags.LogFile
	}
	logger, err := logging.New(logging.Options{Level: level, File: logFile, Console: true})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), flags.Timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Debug("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
