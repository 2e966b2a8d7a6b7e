// UniBus controller
//
// This is the main entry point for the UniBus greenhouse controller. It
// polls sensor, display and execution modules on 1-Wire bus lines,
// onboards new modules on registration lines, broadcasts the actuator table
// on RS-485 and mirrors every state change to MQTT, InfluxDB and SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "unibus",
	Short: "UniBus greenhouse controller",
	Long: `UniBus polls sensor, display and execution modules on 1-Wire bus lines,
registers new modules, and publishes their state over MQTT and HTTP.

The configuration file is taken from --config, then UNIBUS_CONFIG, then
configs/config.yaml.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file")
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins over UNIBUS_CONFIG, which wins over the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("UNIBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
