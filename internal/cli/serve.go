package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siteqa/internal/adapter/cache"
	"siteqa/internal/port"
	"siteqa/internal/server"
	"siteqa/internal/usecase"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search and answer HTTP API",
	Long: `Start an HTTP server exposing:
  POST /api/v1/search  {"question": "...", "k": 3}
  POST /api/v1/answer  {"question": "..."}
  GET  /health`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
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

	var retriever port.Retriever = newRetriever(cfg, embedder, b, log)
	if cfg.Retrieve.CacheSize > 0 {
		ttl := time.Duration(cfg.Retrieve.CacheTTLSecs) * time.Second
		retriever = cache.NewCachedRetriever(retriever, cache.NewQueryCache(cfg.Retrieve.CacheSize, ttl))
	}

	var answerer server.Answerer
	if llm, err := newLLM(cfg); err == nil {
		answerer = usecase.NewAnswerer(retriever, llm, cfg.Retrieve.TopK, log)
	} else {
		log.Warn("answer endpoint disabled", zap.Error(err))
	}

	srv := server.NewServer(retriever, answerer, cfg.Retrieve.TopK, &cfg.Server, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}
