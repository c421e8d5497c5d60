package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"knowbase/internal/storage/postgres"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the database schema, indexes, and search function",
	Long: `Setup applies the schema to every configured backend. The SQLite
backend creates its tables on open; for Postgres this runs the full
bootstrap script: extension, tables, indexes, the match_chunks function,
the read-only role, and row-level security policies. The script is
idempotent and safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager, err := openManager(cfg)
		if err != nil {
			return err
		}
		defer manager.Close()

		for _, b := range manager.Backends() {
			pg, ok := b.(*postgres.Backend)
			if !ok {
				fmt.Printf("%-10s schema managed on open, nothing to do\n", b.Name())
				continue
			}
			if err := pg.Bootstrap(cmd.Context()); err != nil {
				return fmt.Errorf("bootstrap %s: %w", b.Name(), err)
			}
			fmt.Printf("%-10s schema applied\n", b.Name())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
