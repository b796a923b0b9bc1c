package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteqa/config"
	"siteqa/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	debug   bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "siteqa",
	Short: "Answer questions about a website from its indexed pages",
	Long: `siteqa embeds a question, finds the most relevant pages of a pre-built
corpus in a vector index, and answers from those pages with an LLM. It also
builds local indexes and migrates them to a cloud vector index.

Example usage:
  siteqa build --records 'data/**/*.json'   # Build the local index
  siteqa migrate --reset --yes              # Copy it to the cloud index
  siteqa search -q "shipping costs"         # Find relevant pages
  siteqa ask -q "How much is shipping?"     # Answer with sources`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		// Credentials may live in a .env file; a missing file is fine.
		_ = godotenv.Load()

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level, debug || cfg.Logging.Debug)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./siteqa.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "human-readable debug logging")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

func GetLogger() *zap.Logger {
	return logging.OrNop(logger)
}
