// Package batchrunner drives registry searches from a query file, one query
// per line, and persists every merged result into the company store. It
// shares the web mode's aggregation pipeline but needs no server.
package batchrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosom/registre-express/bodacc"
	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/postgres"
	"github.com/gosom/registre-express/runner"
	"github.com/gosom/registre-express/sqlitestore"
	"github.com/gosom/registre-express/tlmt"
)

type batchrunner struct {
	cfg       *runner.Config
	store     entreprise.CompanyStore
	service   *entreprise.Service
	telemetry tlmt.Telemetry
}

// bulkSaver is the optional fast path of the postgres store; the sqlite
// store saves row by row.
type bulkSaver interface {
	SaveAll(ctx context.Context, companies []entreprise.Company) error
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeBatch {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if err := os.MkdirAll(cfg.DataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data folder: %w", err)
	}

	var (
		store entreprise.CompanyStore
		err   error
	)

	if cfg.Dsn != "" {
		store, err = postgres.NewStore(cfg.Dsn)
	} else {
		store, err = sqlitestore.NewStore(filepath.Join(cfg.DataFolder, "companies.db"))
	}

	if err != nil {
		return nil, err
	}

	insee := entreprise.NewInseeClient(entreprise.InseeConfig{
		ConsumerKey:    cfg.InseeConsumerKey,
		ConsumerSecret: cfg.InseeConsumerSecret,
	})

	inpi := entreprise.NewInpiClient(entreprise.InpiConfig{
		Token:      cfg.InpiToken,
		Username:   cfg.InpiUsername,
		Password:   cfg.InpiPassword,
		UseDemoEnv: cfg.InpiUseDemo,
	})

	clients := []entreprise.Client{
		entreprise.NewLocalClient(store),
		insee,
		inpi,
		entreprise.NewGouvClient(entreprise.GouvConfig{}),
		bodacc.NewService(bodacc.Config{}),
	}

	sources := make([]entreprise.Source, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		sources = append(sources, entreprise.Source(name))
	}

	service := entreprise.NewService(entreprise.ServiceConfig{
		Clients:        clients,
		DefaultSources: sources,
		SourceTimeout:  cfg.SourceTimeout,
		MaxResults:     cfg.MaxResults,
	})

	return &batchrunner{
		cfg:       cfg,
		store:     store,
		service:   service,
		telemetry: runner.Telemetry(cfg),
	}, nil
}

func (b *batchrunner) Run(ctx context.Context) error {
	file, err := os.Open(b.cfg.InputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	queries, err := readQueries(file)
	if err != nil {
		return fmt.Errorf("failed to read queries: %w", err)
	}

	if len(queries) == 0 {
		return fmt.Errorf("input file %s contains no queries", b.cfg.InputFile)
	}

	slog.Info("starting batch search", "queries", len(queries))

	var saved, failures int

	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}

		envelope, err := b.service.Search(ctx, query, entreprise.SearchOptions{})
		if err != nil {
			slog.Warn("batch query failed", "query", query, "error", err)

			failures++

			continue
		}

		for _, srcErr := range envelope.Errors {
			slog.Warn("source degraded",
				"query", query,
				"source", srcErr.Source,
				"kind", srcErr.Kind,
				"message", srcErr.Message,
			)
		}

		n, err := b.persist(ctx, envelope.Results)
		if err != nil {
			slog.Warn("failed to save results", "query", query, "error", err)

			failures++

			continue
		}

		saved += n

		slog.Info("query done", "query", query, "results", envelope.TotalResults, "duration_ms", envelope.Duration)
	}

	slog.Info("batch search finished", "queries", len(queries), "companies_saved", saved, "failures", failures)

	_ = b.telemetry.Send(ctx, tlmt.NewEvent("batch_search", map[string]any{
		"queries":  len(queries),
		"saved":    saved,
		"failures": failures,
	}))

	return nil
}

func (b *batchrunner) Close(context.Context) error {
	_ = b.telemetry.Close()

	return b.store.Close()
}

func (b *batchrunner) persist(ctx context.Context, companies []entreprise.Company) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	if bulk, ok := b.store.(bulkSaver); ok {
		if err := bulk.SaveAll(ctx, companies); err != nil {
			return 0, err
		}

		return len(companies), nil
	}

	saved := 0

	for i := range companies {
		if err := b.store.Save(ctx, &companies[i]); err != nil {
			return saved, err
		}

		saved++
	}

	return saved, nil
}

func readQueries(r io.Reader) ([]string, error) {
	var queries []string

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" || strings.HasPrefix(query, "#") {
			continue
		}

		queries = append(queries, query)
	}

	return queries, scanner.Err()
}
