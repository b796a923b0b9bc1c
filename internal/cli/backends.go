package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"siteqa/config"
	"siteqa/internal/adapter/corpus"
	"siteqa/internal/adapter/embedding"
	"siteqa/internal/adapter/generation"
	"siteqa/internal/adapter/memstore"
	"siteqa/internal/adapter/metastore/mongo"
	"siteqa/internal/adapter/metastore/sqlite"
	"siteqa/internal/adapter/store"
	"siteqa/internal/adapter/vectorindex/flat"
	"siteqa/internal/adapter/vectorindex/pinecone"
	"siteqa/internal/adapter/vectorindex/qdrant"
	"siteqa/internal/domain"
	"siteqa/internal/port"
	"siteqa/internal/usecase"
)

// resolvePath anchors relative config paths at the root directory.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GetRootDir(), p)
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	ec := cfg.Embedding
	opts := embedding.Options{
		BaseURL:           ec.BaseURL,
		Dimension:         ec.Dimension,
		MaxInputChars:     ec.MaxInputChars,
		Timeout:           config.Timeout(ec.TimeoutSecs),
		RequestsPerSecond: ec.RequestsPerSecond,
	}
	switch ec.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(ec.APIKeyEnv, ec.Model, opts)
	case "ollama":
		return embedding.NewOllamaEmbedder(ec.Model, opts)
	case "compatible":
		return embedding.NewOpenAICompatibleEmbedder(ec.APIKeyEnv, ec.Model, opts)
	case "hash":
		return embedding.NewHashEmbedder(ec.Dimension), nil
	}
	return nil, fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrConfiguration, ec.Provider)
}

func newLLM(cfg *config.Config) (port.LLM, error) {
	if err := cfg.ValidateGeneration(); err != nil {
		return nil, err
	}
	gc := cfg.Generation
	return generation.NewChatClient(gc.APIKeyEnv, gc.Model, generation.Options{
		BaseURL:     gc.BaseURL,
		Temperature: gc.Temperature,
		MaxTokens:   gc.MaxTokens,
		Timeout:     config.Timeout(gc.TimeoutSecs),
	})
}

// backends holds the configured index and metadata store. The bolt index and
// bolt metadata store share one *bbolt.DB when they point at the same file,
// since bbolt locks the file exclusively.
type backends struct {
	index  port.VectorIndex
	store  port.MetadataStore
	boltDB *bbolt.DB
	// sharedStore is set when store wraps boltDB.
	sharedStore bool
	closed      bool
}

func (b *backends) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	if b.store != nil && !b.sharedStore {
		errs = append(errs, b.store.Close())
	}
	if b.boltDB != nil {
		errs = append(errs, b.boltDB.Close())
	}
	return errors.Join(errs...)
}

// openBackends opens the configured vector index and metadata store.
func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}
	index, err := b.openIndex(cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.index = index

	st, err := b.openStore(ctx, cfg, log)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.store = st
	return b, nil
}

func (b *backends) openIndex(cfg *config.Config) (port.VectorIndex, error) {
	vc := cfg.VectorIndex
	dim, model := cfg.Embedding.Dimension, cfg.Embedding.Model
	switch vc.Backend {
	case "flat":
		return flat.Open(resolvePath(vc.Local.IndexPath), dim, model)
	case "bolt":
		path := resolvePath(vc.Local.BoltPath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		db, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
		}
		b.boltDB = db
		return store.NewBoltVectorStore(db, dim, model)
	case "pinecone":
		pc := vc.Pinecone
		return pinecone.New(pinecone.Config{
			APIKey:            os.Getenv(pc.APIKeyEnv),
			ControllerURL:     pc.ControllerURL,
			IndexName:         pc.IndexName,
			Namespace:         pc.Namespace,
			Dimension:         dim,
			Metric:            pc.Metric,
			Cloud:             pc.Cloud,
			Region:            pc.Region,
			Timeout:           config.Timeout(pc.TimeoutSecs),
			RequestsPerSecond: pc.RequestsPerSecond,
			ReadyTimeout:      config.Timeout(pc.ReadyTimeoutSecs),
		})
	case "qdrant":
		qc := vc.Qdrant
		var apiKey string
		if qc.APIKeyEnv != "" {
			apiKey = os.Getenv(qc.APIKeyEnv)
		}
		return qdrant.New(qdrant.Config{
			URL:        qc.URL,
			APIKey:     apiKey,
			Collection: qc.Collection,
			Dimension:  dim,
			Distance:   qc.Distance,
			Timeout:    config.Timeout(qc.TimeoutSecs),
		})
	}
	return nil, fmt.Errorf("%w: unknown vector index backend %q", domain.ErrConfiguration, vc.Backend)
}

func (b *backends) openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.MetadataStore, error) {
	mc := cfg.Metadata
	switch mc.Backend {
	case "mongo":
		return mongo.Connect(ctx, os.Getenv(mc.Mongo.URIEnv), mongo.Options{
			Database:     mc.Mongo.Database,
			Collection:   mc.Mongo.Collection,
			Transactions: mc.Mongo.Transactions,
			Timeout:      config.Timeout(mc.Mongo.TimeoutSecs),
			Logger:       log,
		})
	case "bolt":
		path := resolvePath(mc.Bolt.Path)
		if b.boltDB != nil && path == resolvePath(cfg.VectorIndex.Local.BoltPath) {
			b.sharedStore = true
			return store.NewBoltStoreFromDB(b.boltDB), nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		return store.NewBoltStore(path)
	case "sqlite":
		return sqlite.New(resolvePath(mc.SQLite.Path))
	case "memory":
		docs, err := corpus.LoadMetadata(resolvePath(cfg.VectorIndex.Local.MetadataPath))
		if errors.Is(err, os.ErrNotExist) {
			return memstore.NewMemoryStore(), nil
		}
		if err != nil {
			return nil, err
		}
		return memstore.NewMemoryStore(docs...), nil
	}
	return nil, fmt.Errorf("%w: unknown metadata backend %q", domain.ErrConfiguration, mc.Backend)
}

// openLocalSource opens the local artifact pair a migration reads from.
func openLocalSource(cfg *config.Config) (usecase.MigrationSource, error) {
	local := cfg.VectorIndex.Local
	idx, err := flat.Open(resolvePath(local.IndexPath), cfg.Embedding.Dimension, cfg.Embedding.Model)
	if err != nil {
		return usecase.MigrationSource{}, fmt.Errorf("failed to load local index: %w", err)
	}
	docs, err := corpus.LoadMetadata(resolvePath(local.MetadataPath))
	if err != nil {
		return usecase.MigrationSource{}, fmt.Errorf("failed to load local metadata: %w", err)
	}
	return usecase.MigrationSource{Vectors: idx, Documents: docs}, nil
}

func newRetriever(cfg *config.Config, embedder port.Embedder, b *backends, log *zap.Logger) *usecase.Retriever {
	return usecase.NewRetriever(embedder, b.index, b.store, usecase.RetrieverOptions{
		MetadataConcurrency: cfg.Retrieve.MetadataConcurrency,
		CallTimeout:         config.Timeout(cfg.Retrieve.CallTimeoutSecs),
		Logger:              log,
	})
}
