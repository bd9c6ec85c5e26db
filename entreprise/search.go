package entreprise

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	minQueryLength       = 3
	defaultSourceTimeout = 10 * time.Second
)

// ServiceConfig wires the orchestrator explicitly. Clients are registered by
// their Source tag; DefaultSources picks which ones a plain search hits.
type ServiceConfig struct {
	Clients        []Client
	DefaultSources []Source
	SourceTimeout  time.Duration
	MaxResults     int
	Logger         *slog.Logger
}

// Service fans a query out to every enabled source concurrently and folds
// the per-source outcomes into one envelope.
type Service struct {
	clients    map[Source]Client
	defaults   []Source
	timeout    time.Duration
	maxResults int
	logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	clients := make(map[Source]Client, len(cfg.Clients))
	for _, client := range cfg.Clients {
		clients[client.Source()] = client
	}

	defaults := cfg.DefaultSources
	if len(defaults) == 0 {
		defaults = []Source{SourceLocal, SourceInsee, SourceBodacc}
	}

	timeout := cfg.SourceTimeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		clients:    clients,
		defaults:   defaults,
		timeout:    timeout,
		maxResults: cfg.MaxResults,
		logger:     logger,
	}
}

// sourceSlot is one source's private outcome cell. Each fan-out goroutine
// writes only its own slot, so no lock is needed around collection.
type sourceSlot struct {
	source    Source
	companies []Company
	err       error
}

// Search validates the query, dispatches every enabled source concurrently
// under its own timeout, and merges the outcomes. Source failures become
// envelope error entries; the only hard error is input validation.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) (*ResultEnvelope, error) {
	started := time.Now()

	trimmed := SanitizeQuery(query)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return nil, NewError(KindValidation, "", "query must be at least 3 characters")
	}

	sources := opts.Sources
	if len(sources) == 0 {
		sources = s.defaults
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	slots := make([]sourceSlot, len(sources))

	var wg sync.WaitGroup

	for i, source := range sources {
		slots[i].source = source

		client, ok := s.clients[source]
		if !ok || !client.Configured() {
			slots[i].err = NewError(KindNotConfigured, source, "source is not configured")
			continue
		}

		wg.Add(1)

		go func(slot *sourceSlot, client Client) {
			defer wg.Done()

			lookupCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			companies, err := client.Lookup(lookupCtx, trimmed, LookupAuto, opts)
			if err != nil {
				slot.err = err
				return
			}

			slot.companies = validSirenOnly(companies)
		}(&slots[i], client)
	}

	wg.Wait()

	envelope := &ResultEnvelope{
		Query:          query,
		SanitizedQuery: trimmed,
		Sources:        make(map[Source]int, len(sources)),
		Errors:         make([]SourceError, 0),
	}

	bySource := make(map[Source][]Company, len(sources))

	for i := range slots {
		slot := &slots[i]
		envelope.Sources[slot.source] = 0

		if slot.err != nil {
			if KindOf(slot.err) == KindNotFound {
				continue
			}

			s.logger.Warn("source lookup failed",
				"source", slot.source, "kind", KindOf(slot.err), "error", slot.err)
			envelope.Errors = append(envelope.Errors, toSourceError(slot.source, slot.err))

			continue
		}

		envelope.Sources[slot.source] = len(slot.companies)
		bySource[slot.source] = slot.companies
	}

	results := Merge(bySource, trimmed)
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	envelope.Results = results
	envelope.TotalResults = len(results)
	envelope.Duration = time.Since(started).Milliseconds()

	return envelope, nil
}

// Client returns the registered client for a source, if any.
func (s *Service) Client(source Source) (Client, bool) {
	client, ok := s.clients[source]
	return client, ok
}

func validSirenOnly(companies []Company) []Company {
	valid := companies[:0:0]

	for _, company := range companies {
		siren := NormalizeSiren(company.Siren)
		if siren == "" {
			continue
		}

		company.Siren = siren
		valid = append(valid, company)
	}

	return valid
}
