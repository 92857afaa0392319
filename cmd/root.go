package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "anclora",
	Short: "anclora - file conversion orchestration",
	Long:  "anclora tracks file conversions against a conversion API, aggregates batches and raises notifications.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ANCLORA_CONFIG"), "path to a YAML config file")
}
