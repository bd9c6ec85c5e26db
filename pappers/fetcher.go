package pappers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/scrapemateapp"

	"github.com/gosom/registre-express/entreprise"
)

const (
	defaultFetchTimeout = 30 * time.Second
	sourceTag           = entreprise.Source("pappers")
)

// Fetcher scrapes director names and contact addresses from company pages.
// Each fetch spins up a one-job browser pipeline and tears it down again;
// director enrichment is rare enough that keeping a browser warm is not
// worth it.
type Fetcher struct {
	timeout time.Duration
	logger  *slog.Logger
}

type FetcherConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{timeout: timeout, logger: logger}
}

func (f *Fetcher) FetchDirectors(ctx context.Context, company *entreprise.Company) ([]string, []string, error) {
	pappersURL := company.PappersURL
	if pappersURL == "" {
		if company.Name == "" || company.Siren == "" {
			return nil, nil, entreprise.NewError(entreprise.KindValidation, sourceTag, "company name and siren are required")
		}

		pappersURL = entreprise.CreatePappersURL(company.Name, company.Siren)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	results := newCollector()

	app, err := f.newApp(results)
	if err != nil {
		return nil, nil, entreprise.WrapError(entreprise.KindUpstream, sourceTag, "error creating scraper", err)
	}
	defer app.Close()

	f.logger.Debug("scraping directors", "url", pappersURL)

	if err := app.Start(ctx, NewDirectorsJob(pappersURL)); err != nil && ctx.Err() == nil {
		return nil, nil, entreprise.WrapError(entreprise.KindUpstream, sourceTag, "error executing scraping job", err)
	}

	directors, emails := results.results()
	if len(directors) == 0 {
		return nil, nil, entreprise.NewError(entreprise.KindNotFound, sourceTag, "no directors found on page")
	}

	return directors, emails, nil
}

func (f *Fetcher) newApp(writer scrapemate.ResultWriter) (*scrapemateapp.ScrapemateApp, error) {
	opts := []func(*scrapemateapp.Config) error{
		scrapemateapp.WithConcurrency(1),
		scrapemateapp.WithExitOnInactivity(30 * time.Second),
		scrapemateapp.WithJS(scrapemateapp.DisableImages()),
	}

	writers := []scrapemate.ResultWriter{writer}

	cfg, err := scrapemateapp.NewConfig(writers, opts...)
	if err != nil {
		return nil, err
	}

	return scrapemateapp.NewScrapeMateApp(cfg)
}
