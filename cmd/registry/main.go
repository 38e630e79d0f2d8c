package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "registry",
	Short:        "Property and inspection report registry",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	migrateCmd.PersistentFlags().String("database-url", "", "Postgres URL (defaults to DATABASE_URL)")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)

	tokenCmd.Flags().StringP("principal", "p", "", "Principal address the token is issued to")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to the configured token TTL)")
	_ = tokenCmd.MarkFlagRequired("principal")
	rootCmd.AddCommand(tokenCmd)
}
