package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"siteqa/internal/domain"
	"siteqa/internal/usecase"
)

var (
	migrateReset     bool
	migrateYes       bool
	migrateBatchSize int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the local index and metadata to the configured backends",
	Long: `Read the local flat index and its metadata JSON, then upsert every
vector into the configured vector index and every document into the metadata
store, batch by batch. Vectors of a batch are written before its documents.

--reset deletes everything in the destination first and requires --yes.

Examples:
  siteqa migrate
  siteqa migrate --reset --yes --batch-size 200`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "delete all destination data before migrating")
	migrateCmd.Flags().BoolVar(&migrateYes, "yes", false, "confirm --reset")
	migrateCmd.Flags().IntVar(&migrateBatchSize, "batch-size", 0, "records per batch (default from config)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()

	if migrateReset && !migrateYes {
		return fmt.Errorf("%w: --reset deletes all destination data; pass --yes to confirm", domain.ErrValidation)
	}
	if err := cfg.ValidateMigration(); err != nil {
		return err
	}

	source, err := openLocalSource(cfg)
	if err != nil {
		return err
	}
	b, err := openBackends(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	batchSize := cfg.Migrate.BatchSize
	if migrateBatchSize > 0 {
		batchSize = migrateBatchSize
	}

	fmt.Printf("Migrating %d documents to %s / %s...\n", len(source.Documents), cfg.VectorIndex.Backend, cfg.Metadata.Backend)
	summary, err := usecase.NewMigrator(source, b.index, b.store, log).Migrate(cmd.Context(), usecase.MigrateOptions{
		Reset:     migrateReset,
		BatchSize: batchSize,
		Progress:  progressReporter("Migrating"),
	})
	printSummary(summary)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func printSummary(s domain.MigrationSummary) {
	fmt.Printf("\nMigration summary:\n")
	fmt.Printf("  Records:   %d\n", s.Total)
	fmt.Printf("  Vectors:   %d\n", s.VectorsMigrated)
	fmt.Printf("  Documents: %d\n", s.DocsMigrated)
	fmt.Printf("  Batches:   %d\n", s.Batches)
}
