package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "sqldraft",
	Short: "Draft SQL over BRFSS survey tables with Gemini",
	Long: `sqldraft turns natural-language questions into SQL over locally loaded
BRFSS survey tables (brfss_2016 ... brfss_2023), using the yearly codebooks
published to the Gemini file store as reference material.

Start the server with "sqldraft start", load tables with "sqldraft load",
then ask with "sqldraft draft".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(presenceCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(samplesCmd)
	rootCmd.AddCommand(draftsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dictCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
