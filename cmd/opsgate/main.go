package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/obs"
)

// Exit codes. Callers map decisions onto these.
const (
	exitOK        = 0
	exitDenied    = 1
	exitError     = 2
	exitMFANeeded = 3
)

var storeBackend string

var rootCmd = &cobra.Command{
	Use:           "opsgate",
	Short:         "Authorization and audit core for the operations platform",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "store backend override (memory|postgres)")
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(mfaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

// withApp loads configuration, wires the core, runs fn, and closes external
// connections afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	obs.Init(prometheus.DefaultRegisterer)

	ctx := context.Background()
	a, err := app.Wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
