package cli

import (
	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "barrow",
	Short: "Deletion archive service",
	Long: `barrow receives deletion events from change streams and preserves the
deleted state as self-describing documents under deterministic archive
paths.

Run the archiver service, derive archive paths offline, retrieve archived
documents, and inspect the dead letter queue.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/barrow/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
