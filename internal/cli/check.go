package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"siteqa/internal/domain"
	"siteqa/internal/usecase"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify every vector has metadata and vice versa",
	Long: `Compare the ids in the vector index with the ids in the metadata store.
Exits non-zero when either side holds ids the other lacks.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := openBackends(cmd.Context(), cfg, GetLogger())
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := usecase.CheckConsistency(cmd.Context(), b.index, b.store)
	if err != nil {
		return err
	}

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Vectors:   %d\n", report.VectorCount)
		fmt.Printf("Documents: %d\n", report.DocumentCount)
		printIDs("Vectors without metadata", report.OrphanVectors)
		printIDs("Documents without vectors", report.OrphanDocuments)
	}

	if !report.Consistent() {
		return fmt.Errorf("%w: %d orphan vectors, %d orphan documents", domain.ErrIntegrity, len(report.OrphanVectors), len(report.OrphanDocuments))
	}
	if !checkJSON {
		fmt.Println("Index and metadata are consistent.")
	}
	return nil
}

func printIDs(label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", label, len(ids))
	for i, id := range ids {
		if i == 20 {
			fmt.Printf("  ... and %d more\n", len(ids)-i)
			return
		}
		fmt.Printf("  - %s\n", id)
	}
}
