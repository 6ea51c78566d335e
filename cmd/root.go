package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facefinder",
	Short: "Screen batches of photos for a reference face",
	Long: `facefinder compares a reference photo against a batch of candidate photos
using a managed face comparison service and reports which candidates contain
the same person.

Run "facefinder serve" for the HTTP API or "facefinder compare" for a
one-shot pass over local files.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
}
