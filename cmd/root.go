package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "presence",
	Short: "Biometric login and enrollment decisions for the attendance system",
	Long: `Presence decides whether a presented face sample logs an employee in, and
whether a new enrollment duplicates someone already registered.

It serves the decision API over HTTP and provides admin commands for the
stored biometric profiles and the in-memory similarity index.`,
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
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before reading configuration")
}

// initConfig loads the dotenv file into the process environment. A missing
// default file is fine; an explicitly named one must exist.
func initConfig() {
	flags := rootCmd.PersistentFlags()
	path, _ := flags.GetString("env-file")
	if err := godotenv.Load(path); err != nil && flags.Changed("env-file") {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", path, err)
		os.Exit(1)
	}
}
