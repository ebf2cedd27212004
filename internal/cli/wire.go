package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/bryanwahyu/contract-risk/internal/application/analysis"
	"github.com/bryanwahyu/contract-risk/internal/config"
	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/cache"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/openai"
	"github.com/bryanwahyu/contract-risk/internal/infra/db/mysql"
	"github.com/bryanwahyu/contract-risk/internal/infra/db/postgres"
	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlite"
	"github.com/bryanwahyu/contract-risk/internal/infra/memstore"
	"github.com/bryanwahyu/contract-risk/internal/infra/storage"
)

// buildCatalog extends the default catalog with patterns from file, if any.
func buildCatalog(file string) (*risk.Catalog, error) {
	catalog := risk.DefaultCatalog()
	if file == "" {
		return catalog, nil
	}
	extra, err := risk.LoadCatalogFile(file)
	if err != nil {
		return nil, err
	}
	return catalog.Extend(extra...)
}

func categories(c *risk.Catalog) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Patterns() {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out
}

// backend bundles the stores selected by config.
type backend struct {
	repo    risk.Repository
	texts   risk.TextStore
	checks  map[string]pinger
	closers []io.Closer
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (b *backend) Close() {
	for _, c := range b.closers {
		_ = c.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log hclog.Logger) (*backend, error) {
	b := &backend{checks: make(map[string]pinger)}
	var mem *memstore.Store

	switch cfg.Database.Driver {
	case "memory":
		mem = memstore.New()
		b.repo = mem
		log.Warn("using in-memory store, documents are lost on restart")
	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite open error: %w", err)
		}
		b.repo, b.checks["database"] = repo, repo
		b.closers = append(b.closers, repo)
	case "mysql":
		repo, err := mysql.Open(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect error: %w", err)
		}
		b.repo, b.checks["database"] = repo, repo
		b.closers = append(b.closers, repo)
	case "postgres":
		repo, err := postgres.Open(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect error: %w", err)
		}
		b.repo, b.checks["database"] = repo, repo
		b.closers = append(b.closers, repo)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.Minio.Enabled {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("minio init error: %w", err)
		}
		b.texts, b.checks["storage"] = store, store
		return b, nil
	}
	if mem == nil {
		mem = memstore.New()
		log.Warn("minio disabled, document text is kept in memory only")
	}
	b.texts = mem
	return b, nil
}

// newAnalyzer returns nil when no OpenAI key is configured.
func newAnalyzer(cfg *config.Config, catalog *risk.Catalog) (risk.SemanticAnalyzer, error) {
	if !cfg.SemanticEnabled() {
		return nil, nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:        cfg.OpenAI.APIKey,
		Model:         cfg.OpenAI.Model,
		BaseURL:       cfg.OpenAI.BaseURL,
		Timeout:       cfg.OpenAITimeout(),
		MaxInputChars: cfg.OpenAI.MaxInputChars,
		Categories:    categories(catalog),
	})
	if err != nil {
		return nil, err
	}
	if ttl := cfg.CacheTTL(); ttl > 0 {
		return cache.New(client, ttl), nil
	}
	return client, nil
}

// checkAnalyzerPolicy refuses a server that could never complete an
// attempt: all_or_nothing needs the semantic analyzer.
func checkAnalyzerPolicy(analyzer risk.SemanticAnalyzer, policy analysis.FailurePolicy) error {
	if analyzer == nil && policy == analysis.AllOrNothing {
		return errors.New("no OpenAI key configured: set openai.apiKey (or OPENAI_API_KEY), or set analysis.failurePolicy to pattern_fallback for pattern-only analysis")
	}
	return nil
}

func serviceOptions(cfg *config.Config, catalog *risk.Catalog, log hclog.Logger) (analysis.Options, error) {
	policy, err := analysis.ParsePolicy(cfg.Analysis.FailurePolicy)
	if err != nil {
		return analysis.Options{}, err
	}
	return analysis.Options{
		Matcher:       risk.NewMatcher(catalog),
		Logger:        log.Named("analysis"),
		MaxConcurrent: cfg.Analysis.MaxConcurrent,
		Policy:        policy,
	}, nil
}
