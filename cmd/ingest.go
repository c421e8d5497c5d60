package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"knowbase/internal/ingest"
)

var (
	flagWorkers       int
	flagSkipUnchanged bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a file or directory into the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
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

		backend, err := manager.Primary()
		if err != nil {
			return err
		}

		pipeline := &ingest.Pipeline{
			Backend:       backend,
			Registry:      newRegistry(cfg),
			Embedder:      newEmbedder(cfg),
			SkipUnchanged: flagSkipUnchanged,
			Workers:       flagWorkers,
		}

		ctx := cmd.Context()
		start := time.Now()

		if !info.IsDir() {
			res, err := pipeline.ProcessFile(ctx, path, filepath.Base(path))
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Printf("Unchanged, skipped: %s\n", res.FilePath)
				return nil
			}
			fmt.Printf("Ingested %s: %d chunks in %s\n",
				res.FilePath, res.Chunks, time.Since(start).Round(time.Millisecond))
			return nil
		}

		fmt.Printf("Ingesting %s...\n", path)
		stats, err := pipeline.ProcessDir(ctx, path, nil)

		if stats != nil {
			fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("  Files:   %d total, %d ingested, %d skipped\n",
				stats.FilesTotal, stats.FilesIngested, stats.FilesSkipped)
			fmt.Printf("  Chunks:  %d\n", stats.ChunksTotal)
		}

		return err
	},
}

func init() {
	ingestCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "parallel workers")
	ingestCmd.Flags().BoolVar(&flagSkipUnchanged, "skip-unchanged", false, "skip files whose content hash is already stored")
	rootCmd.AddCommand(ingestCmd)
}
