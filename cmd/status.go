package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report backend health and stored document counts",
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

		statuses := manager.HealthCheck(cmd.Context())

		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)

		failed := false
		for _, name := range names {
			st := statuses[name]
			if !st.Healthy {
				failed = true
				fmt.Printf("%-10s unhealthy: %s\n", name, st.Error)
				continue
			}
			fmt.Printf("%-10s ok: %d documents, %d chunks\n", name, st.Documents, st.Chunks)
		}

		if failed {
			return fmt.Errorf("one or more backends are unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
