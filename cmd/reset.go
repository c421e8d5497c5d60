package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"knowbase/internal/storage/postgres"
)

var flagForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all knowledge base tables and data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagForce {
			return fmt.Errorf("reset deletes all stored documents and chunks; re-run with --force to confirm")
		}

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
				fmt.Printf("%-10s not resettable from here, delete its database file instead\n", b.Name())
				continue
			}
			if err := pg.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset %s: %w", b.Name(), err)
			}
			fmt.Printf("%-10s schema dropped\n", b.Name())
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&flagForce, "force", false, "confirm destructive reset")
	rootCmd.AddCommand(resetCmd)
}
