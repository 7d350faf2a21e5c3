package cmd

import (
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "todoapi",
	Short: "todoapi serves a cookie-authenticated todo list API",
	Long: `A todo list API with JWT session cookies, double-submit CSRF
protection and a pluggable document store (memory, bbolt, MongoDB, Redis,
PostgreSQL).

Configuration is read from the environment and, optionally, a dotenv file.`,
	SilenceUsage: true,
}

// Execute runs the root command. Secrets held in memguard enclaves are
// wiped before the process exits.
func Execute() {
	err := rootCmd.Execute()
	memguard.Purge()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this dotenv file instead of .env.local/.env")
}
