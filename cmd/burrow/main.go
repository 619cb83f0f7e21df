package main

import (
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - block storage volumes for service instances",
	Long: `Burrow provisions block storage volumes, attaches them to the hosts
running service instances, mounts and formats them, and keeps a shared
record of every volume's state.

Volume state lives in a replicated Raft store run by 'burrow agent',
in etcd, or in a local database for single-host setups.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-json") {
			loaded.Log.JSON, _ = cmd.Flags().GetBool("log-json")
		}
		if cmd.Flags().Changed("cert-dir") {
			loaded.TLS.CertDir, _ = cmd.Flags().GetString("cert-dir")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		log.Init(loaded.Logging())
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	api.Version = Version
	metrics.SetVersion(Version)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON format")
	rootCmd.PersistentFlags().String("cert-dir", "", "Directory with node.crt, node.key and ca.crt for mutual TLS")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(doctorCmd)
}

// overrideString copies a flag into dst when it was set on the command line
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}
