package cmd

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"knowbase/internal/storage"
)

var (
	flagThreshold float64
	flagLimit     int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base by semantic similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager, err := openManager(cfg)
		if err != nil {
			return err
		}
		defer manager.Close()

		ctx := cmd.Context()
		embedding, err := newEmbedder(cfg).EmbedSingle(ctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}

		matches, err := manager.Search(ctx, embedding, storage.SearchOptions{
			Threshold: flagThreshold,
			Limit:     flagLimit,
		})
		if err != nil {
			return err
		}

		if len(matches) == 0 {
			fmt.Printf("No results above similarity %.2f for %q\n", flagThreshold, query)
			return nil
		}

		for i, m := range matches {
			fmt.Printf("%d. [%.3f] %s (chunk %d, %s)\n",
				i+1, m.Similarity, m.Chunk.DocumentID, m.Chunk.Index, m.Backend)
			fmt.Println(indent(snippet(m.Chunk.Content), "   "))
		}
		return nil
	},
}

func snippet(s string) string {
	const max = 240
	s = strings.TrimSpace(s)
	if len(s) > max {
		// Back up to a rune boundary so the cut never splits a UTF-8
		// sequence.
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

func init() {
	searchCmd.Flags().Float64Var(&flagThreshold, "threshold", storage.DefaultThreshold, "minimum cosine similarity (0 to 1)")
	searchCmd.Flags().IntVar(&flagLimit, "limit", storage.DefaultLimit, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
