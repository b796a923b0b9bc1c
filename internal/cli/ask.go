package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteqa/internal/usecase"
)

var askQuestion string

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the indexed pages",
	Long: `Retrieve the most relevant pages and ask the configured LLM to answer
using only those pages. Sources are listed after the answer.

Example:
  siteqa ask -q "How much does shipping cost?"`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "query", "q", "", "question (required)")
	askCmd.MarkFlagRequired("query")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()
	if err := cfg.Validate(); err != nil {
		return err
	}
	llm, err := newLLM(cfg)
	if err != nil {
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

	answerer := usecase.NewAnswerer(newRetriever(cfg, embedder, b, log), llm, cfg.Retrieve.TopK, log)
	answer, err := answerer.Answer(cmd.Context(), askQuestion)
	if err != nil && answer.Text == "" {
		return err
	}
	if err != nil {
		log.Warn("answer is degraded", zap.Error(err))
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		fmt.Print(answer.SourcesMarkdown())
	}
	return nil
}
