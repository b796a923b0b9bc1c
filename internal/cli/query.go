package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the pages most relevant to a question",
	Long: `Embed the question, search the configured vector index and print the
matching pages with their relevance.

Examples:
  siteqa search -q "shipping costs"
  siteqa search -q "return policy" -k 5 --json`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	searchCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()
	if err := cfg.Validate(); err != nil {
		return err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	b, err := openBackends(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	results, err := newRetriever(cfg, embedder, b, log).Search(cmd.Context(), queryText, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No relevant documents found.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. %s (relevance: %.2f)\n   %s\n", i+1, r.Document.Title, r.Score, r.Document.URL)
	}
	return nil
}
