package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/Ingenimax/workflow-engine/pkg/catalog"
	"github.com/Ingenimax/workflow-engine/pkg/config"
	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/engine"
	"github.com/Ingenimax/workflow-engine/pkg/integrations/github"
	"github.com/Ingenimax/workflow-engine/pkg/integrations/slack"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/inventory"
	"github.com/Ingenimax/workflow-engine/pkg/llm"
	"github.com/Ingenimax/workflow-engine/pkg/llm/bedrock"
	"github.com/Ingenimax/workflow-engine/pkg/llm/gemini"
	"github.com/Ingenimax/workflow-engine/pkg/llm/openai"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
	"github.com/Ingenimax/workflow-engine/pkg/memory"
	"github.com/Ingenimax/workflow-engine/pkg/orders"
	"github.com/Ingenimax/workflow-engine/pkg/quota"
	"github.com/Ingenimax/workflow-engine/pkg/runstore"
	"github.com/Ingenimax/workflow-engine/pkg/storage"
	_ "github.com/Ingenimax/workflow-engine/pkg/storage/gcs"
	_ "github.com/Ingenimax/workflow-engine/pkg/storage/local"
	"github.com/Ingenimax/workflow-engine/pkg/tracing"
)

// services holds everything the daemon opens and must close on shutdown
type services struct {
	db      *sql.DB
	redis   *redis.Client
	source  catalog.Source
	runs    runstore.Store
	lister  runstore.Lister
	host    connector.Host
	closers []func() error
}

func (s *services) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openServices(ctx context.Context, cfg *config.Config, logger logging.Logger) (*services, error) {
	s := &services{}
	if err := s.open(ctx, cfg, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *services) open(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s.db = db
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
	}

	var err error
	if s.source, err = s.openCatalog(ctx, cfg); err != nil {
		return err
	}
	if err := s.openRunStore(ctx, cfg, logger); err != nil {
		return err
	}
	return s.buildHost(ctx, cfg, logger)
}

func (s *services) openCatalog(ctx context.Context, cfg *config.Config) (catalog.Source, error) {
	switch cfg.Workflows.Source {
	case "postgres":
		if s.db == nil {
			return nil, fmt.Errorf("workflows.source is postgres but postgres.dsn is empty")
		}
		c := catalog.NewPostgres(s.db)
		if err := c.Migrate(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case "", "dir":
		dir, err := catalog.NewDir(cfg.Workflows.Dir)
		if err != nil {
			return nil, err
		}
		return dir, nil
	default:
		return nil, fmt.Errorf("unsupported workflows.source %q", cfg.Workflows.Source)
	}
}

func (s *services) openRunStore(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	var primary runstore.Store
	if s.db != nil {
		pg := runstore.NewPostgres(s.db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		primary = pg
	} else {
		primary = runstore.NewMemory()
	}

	opts := []runstore.MultiOption{runstore.WithLogger(logger)}
	if cfg.Storage.Type != "" {
		blobs, err := storage.NewStorageFromConfig(storage.Config{
			Type:  cfg.Storage.Type,
			Local: storage.LocalConfig{Path: cfg.Storage.Local.Path},
			GCS: storage.GCSConfig{
				Bucket:          cfg.Storage.GCS.Bucket,
				Prefix:          cfg.Storage.GCS.Prefix,
				CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create run archive: %w", err)
		}
		opts = append(opts, runstore.WithSecondary(runstore.NewArchive(blobs)))
	}
	multi := runstore.NewMulti(primary, opts...)
	s.runs = multi
	s.lister = multi
	return nil
}

func (s *services) buildHost(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	s.host = connector.Host{
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		Memories:       map[string]interfaces.Memory{memory.TypeBuffer: memory.NewBuffer()},
		Notifiers:      map[string]interfaces.Notifier{},
		DefaultChannel: connector.ChannelSlack,
	}

	if s.db != nil {
		inv := inventory.NewPostgres(s.db)
		if err := inv.Migrate(ctx); err != nil {
			return err
		}
		s.host.Inventory = inv

		o := orders.NewPostgres(s.db)
		if err := o.Migrate(ctx); err != nil {
			return err
		}
		s.host.Orders = o
	} else {
		s.host.Inventory = inventory.NewMemory(nil)
		s.host.Orders = orders.NewMemory(nil)
	}

	if s.redis != nil {
		s.host.Memories[memory.TypeRedis] = memory.NewRedis(s.redis, memory.WithTTL(cfg.Redis.MemoryTTL))
		s.host.Quota = quota.NewLimiter(s.redis,
			quota.WithDefaultLimit(cfg.Quota.DefaultLimit),
			quota.WithReserveBuffer(cfg.Quota.ReserveBuffer),
			quota.WithLogger(logger),
		)
	}

	model, err := buildModel(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	if model != nil {
		s.host.Model = tracing.NewOTELModelMiddleware(model)
	}

	if cfg.Slack.WebhookURL != "" {
		n, err := slack.NewNotifier(cfg.Slack.WebhookURL, slack.WithLogger(logger))
		if err != nil {
			return err
		}
		s.host.Notifiers[connector.ChannelSlack] = n
	}

	if cfg.GitHub.Token != "" {
		issues, err := github.NewIssueCreator(ctx, cfg.GitHub.Token, github.WithLogger(logger))
		if err != nil {
			return err
		}
		s.host.Issues = issues
	}
	return nil
}

// buildModel creates a client for every configured provider. A single
// provider is used directly; several are combined behind a router whose
// default is llm.provider.
func buildModel(ctx context.Context, cfg config.LLMConfig, logger logging.Logger) (interfaces.ModelClient, error) {
	clients := map[string]interfaces.ModelClient{}

	if cfg.OpenAI.APIKey != "" {
		opts := []openai.Option{openai.WithModel(cfg.OpenAI.Model), openai.WithLogger(logger)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		clients["openai"] = openai.NewClient(cfg.OpenAI.APIKey, opts...)
	}
	if cfg.Gemini.APIKey != "" {
		c, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, gemini.WithModel(cfg.Gemini.Model), gemini.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		clients["gemini"] = c
	}
	if cfg.Provider == "bedrock" {
		c, err := bedrock.NewClient(ctx, cfg.Bedrock.Region, bedrock.WithModel(cfg.Bedrock.ModelID), bedrock.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		clients["bedrock"] = c
	}

	switch len(clients) {
	case 0:
		return nil, nil
	case 1:
		for _, c := range clients {
			return c, nil
		}
	}
	router, err := llm.NewRouter(cfg.Provider, clients)
	if err != nil {
		return nil, err
	}
	return router, nil
}

func retryPolicy(cfg config.RetryConfig) engine.RetryPolicy {
	p := engine.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.Factor > 0 {
		p.Factor = cfg.Factor
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}
