package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"propledger/internal/platform/config"
	"propledger/internal/platform/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres ledger schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openMigrationDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.MigrateUp(db); err != nil {
			return err
		}
		status, err := postgres.Status(db)
		if err != nil {
			return err
		}
		fmt.Printf("Schema at version %d\n", status.Current)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied and latest schema versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openMigrationDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		status, err := postgres.Status(db)
		if err != nil {
			return err
		}
		fmt.Printf("Current: %d\n", status.Current)
		fmt.Printf("Latest:  %d\n", status.Latest)
		fmt.Printf("Dirty:   %t\n", status.Dirty)
		if !status.UpToDate() {
			fmt.Println("Pending migrations; run `registry migrate up`")
		}
		return nil
	},
}

func openMigrationDB(cmd *cobra.Command) (*sql.DB, error) {
	url, _ := cmd.Flags().GetString("database-url")
	if url == "" {
		cfg, err := config.Read()
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		url = cfg.Database.URL
	}
	if url == "" {
		return nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return postgres.Open(ctx, postgres.Config{URL: url})
}
