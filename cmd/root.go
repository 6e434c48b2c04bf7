// Package cmd provides the hub command line: applying write batches,
// reading visible features and versions, and maintaining the store.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "hub - a versioned geospatial feature store",
	Long: `hub stores GeoJSON-like features in spaces with per-feature version
history. Spaces may extend a base space, layering their own changes over it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default <config dir>/xyzhub/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")
}

func Execute() error {
	return rootCmd.Execute()
}
