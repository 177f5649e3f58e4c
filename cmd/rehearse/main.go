package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	candidate string
)

var rootCmd = &cobra.Command{
	Use:           "rehearse",
	Short:         "Personalized mock interviews with scored feedback",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultCandidate := os.Getenv("REHEARSE_CANDIDATE")
	if defaultCandidate == "" {
		defaultCandidate = "default"
	}
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&candidate, "candidate", defaultCandidate, "candidate id (env REHEARSE_CANDIDATE)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
