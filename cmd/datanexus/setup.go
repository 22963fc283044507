package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/smallnest/datanexus/agent"
	"github.com/smallnest/datanexus/config"
	"github.com/smallnest/datanexus/db"
	"github.com/smallnest/datanexus/graph"
	"github.com/smallnest/datanexus/ingest"
	"github.com/smallnest/datanexus/llm"
	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
	"github.com/smallnest/datanexus/store/memory"
	"github.com/smallnest/datanexus/store/postgres"
	redisstore "github.com/smallnest/datanexus/store/redis"
	"github.com/smallnest/datanexus/store/sqlite"
	"github.com/smallnest/datanexus/vectorstore"
)

// runtime bundles the wired components a command needs.
type runtime struct {
	cfg      config.Config
	agent    *agent.Agent
	vectors  vectorstore.Store
	pool     *pgxpool.Pool
	registry *prometheus.Registry
	logger   log.Logger
}

func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// buildRuntime wires the agent from configuration: LLM client, vector store,
// SQL executor, checkpoint store and metrics.
func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	logger := log.GetDefaultLogger()

	var llmOpts []llm.Option
	if cfg.LLM.APIKey != "" {
		llmOpts = append(llmOpts, llm.WithAPIKey(cfg.LLM.APIKey))
	}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.Model != "" {
		llmOpts = append(llmOpts, llm.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.EmbeddingModel != "" {
		llmOpts = append(llmOpts, llm.WithEmbeddingModel(cfg.LLM.EmbeddingModel))
	}
	client, err := llm.NewOpenAIClient(llmOpts...)
	if err != nil {
		return nil, err
	}

	vectors := vectorstore.NewMemoryStore(client)

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	executor := db.NewExecutorWithPool(pool)

	cpStore, err := buildCheckpointStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := graph.NewMetrics(registry)

	a, err := agent.New(client, vectors, executor,
		agent.WithLogger(logger),
		agent.WithStore(cpStore),
		agent.WithMetrics(metrics),
		agent.WithConfig(agent.Config{
			MaxCorrections: cfg.Agent.MaxCorrections,
			SchemaTopK:     cfg.Agent.SchemaTopK,
			FewShotTopK:    cfg.Agent.FewShotTopK,
			MemoryTopK:     cfg.Agent.MemoryTopK,
		}),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		agent:    a,
		vectors:  vectors,
		pool:     pool,
		registry: registry,
		logger:   logger,
	}, nil
}

func buildCheckpointStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return memory.NewMemoryStore(), nil
	case "redis":
		return redisstore.NewRedisStore(redisstore.Options{
			Addr:     cfg.Checkpoint.RedisAddr,
			Password: cfg.Checkpoint.RedisPassword,
		}), nil
	case "postgres":
		s, err := postgres.NewPostgresStore(ctx, postgres.Options{
			ConnString: cfg.Database.DSN(),
			TableName:  cfg.Checkpoint.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("checkpoint store: %w", err)
		}
		if err := s.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("init checkpoint schema: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.NewSqliteStore(sqlite.Options{Path: cfg.Checkpoint.SqlitePath})
		if err != nil {
			return nil, fmt.Errorf("checkpoint store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// ingestKnowledgeBase introspects the live database schema and loads optional
// few-shot examples into the vector store. The in-process vector store starts
// empty, so serve and chat run this before taking questions.
func ingestKnowledgeBase(ctx context.Context, rt *runtime, fewShotPath string) error {
	ing := ingest.NewIngestor(rt.vectors, ingest.WithLogger(rt.logger))

	intro := ingest.NewSchemaIntrospector(rt.pool, rt.cfg.Database.SchemaName)
	schemaDocs, err := intro.FetchSchemaDocs(ctx)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	if _, err := ing.IngestDocuments(ctx, vectorstore.CollectionSchema, schemaDocs); err != nil {
		return err
	}

	if fewShotPath != "" {
		examples, err := ingest.LoadFewShotExamples(fewShotPath)
		if err != nil {
			return err
		}
		if _, err := ing.IngestDocuments(ctx, vectorstore.CollectionFewShot, examples); err != nil {
			return err
		}
	}
	return nil
}
