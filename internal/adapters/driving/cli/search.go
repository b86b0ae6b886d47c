package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the published index",
	Long: `Embeds the query and returns the most similar documents from the
published index version. Every result comes from the same version.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errNotConfigured("search service")
	}

	ctx := cmd.Context()
	if swapSubscriber != nil {
		// Loads the published version in the background; the first query
		// waits for it instead of loading in the request path.
		if err := swapSubscriber.Start(ctx); err != nil {
			return fmt.Errorf("loading index: %w", err)
		}
		defer swapSubscriber.Stop() //nolint:errcheck
	}

	results, err := searchService.SearchText(ctx, args[0], searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, results)
	}
	return outputSearchTable(cmd, results)
}

func outputSearchTable(cmd *cobra.Command, results []domain.DocMatch) error {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Printf("Results (version %s):\n", results[0].VersionID)
	cmd.Println()
	for i := range results {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, results[i].DocID, results[i].Score)
		if title := results[i].Metadata["title"]; title != "" {
			cmd.Printf("      %s\n", title)
		}
		if path := results[i].Metadata["path"]; path != "" {
			cmd.Printf("      %s\n", path)
		}
	}
	return nil
}
