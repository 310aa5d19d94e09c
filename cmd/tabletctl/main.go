// Command tabletctl is a thin command-line driver over pkg/client, the
// way cmd/warren drives pkg/manager: it dials the master and coordinator,
// installs a static cell topology, and executes one call per invocation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxtable/tabletclient/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tabletctl",
	Short:   "tabletctl drives the tablet commit client against a running cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tabletctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("master-addr", "127.0.0.1:9100", "Master gRPC address")
	rootCmd.PersistentFlags().String("coordinator-addr", "127.0.0.1:9101", "Coordinator gRPC address")
	rootCmd.PersistentFlags().String("config", "", "Client tuning config YAML (optional)")
	rootCmd.PersistentFlags().String("topology", "", "Cell topology YAML (required for lookup/modify)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
