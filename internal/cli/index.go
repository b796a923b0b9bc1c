package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteqa/internal/adapter/corpus"
	"siteqa/internal/adapter/memstore"
	"siteqa/internal/adapter/vectorindex/flat"
	"siteqa/internal/domain"
	"siteqa/internal/port"
	"siteqa/internal/usecase"
)

var (
	buildRecords  []string
	buildExcludes []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the local index from record files",
	Long: `Read JSON record files ({id, title, content, url, embedding?}) matching
the given globs, embed the records that carry no embedding, and write the
local flat index together with its metadata JSON array.

Examples:
  siteqa build --records 'data/**/*.json'
  siteqa build --records 'pages/*.json' --exclude 'pages/drafts/**'`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringSliceVar(&buildRecords, "records", []string{"**/*.json"}, "record file globs, relative to --dir")
	buildCmd.Flags().StringSliceVar(&buildExcludes, "exclude", nil, "globs to skip")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()
	local := cfg.VectorIndex.Local

	records, err := corpus.ReadAll(GetRootDir(), buildRecords, buildExcludes)
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no records matched %v", buildRecords)
	}

	// Records that all carry embeddings need no embedding provider.
	var embedder port.Embedder
	if e, err := newEmbedder(cfg); err == nil {
		embedder = e
	} else if errors.Is(err, domain.ErrConfiguration) {
		log.Warn("embedder unavailable, only precomputed embeddings can be used", zap.Error(err))
	} else {
		return err
	}

	indexPath := resolvePath(local.IndexPath)
	idx, err := flat.New(indexPath, cfg.Embedding.Dimension, cfg.Embedding.Model)
	if err != nil {
		return err
	}
	docs := memstore.NewMemoryStore()

	fmt.Printf("Building index from %d records...\n", len(records))
	result, err := usecase.NewIndexUseCase(embedder, idx, docs, log).Index(cmd.Context(), records, usecase.IndexOptions{
		BatchSize: cfg.Embedding.BatchSize,
		Progress:  progressReporter("Indexing"),
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	metadataPath := resolvePath(local.MetadataPath)
	if err := corpus.SaveMetadata(metadataPath, docs.Documents()); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Records:     %d\n", result.Records)
	fmt.Printf("  Embedded:    %d\n", result.Embedded)
	fmt.Printf("  Precomputed: %d\n", result.Precomputed)
	fmt.Printf("\nIndex stored at: %s\n", indexPath)
	fmt.Printf("Metadata stored at: %s\n", metadataPath)
	return nil
}
