package webrunner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gosom/registre-express/bodacc"
	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/pappers"
	"github.com/gosom/registre-express/postgres"
	"github.com/gosom/registre-express/runner"
	"github.com/gosom/registre-express/s3uploader"
	"github.com/gosom/registre-express/sqlitestore"
	"github.com/gosom/registre-express/tlmt"
	"github.com/gosom/registre-express/web"
)

type webrunner struct {
	cfg       *runner.Config
	store     entreprise.CompanyStore
	srv       *web.Server
	telemetry tlmt.Telemetry
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if err := os.MkdirAll(cfg.DataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data folder: %w", err)
	}

	store, err := openStore(cfg)
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

	gouv := entreprise.NewGouvClient(entreprise.GouvConfig{})
	announcements := bodacc.NewService(bodacc.Config{})
	local := entreprise.NewLocalClient(store)

	service := entreprise.NewService(entreprise.ServiceConfig{
		Clients:        []entreprise.Client{local, insee, inpi, gouv, announcements},
		DefaultSources: toSources(cfg.Sources),
		SourceTimeout:  cfg.SourceTimeout,
		MaxResults:     cfg.MaxResults,
	})

	var uploader s3uploader.Uploader

	if cfg.S3Bucket != "" {
		s3up, err := s3uploader.NewS3Uploader(cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to set up the s3 mirror: %w", err)
		}

		uploader = s3up
	}

	materializer := documents.NewMaterializer(documents.Config{
		Insee:     insee,
		Inpi:      inpi,
		Bodacc:    announcements,
		UploadDir: filepath.Join(cfg.DataFolder, "uploads"),
		Uploader:  uploader,
		Bucket:    cfg.S3Bucket,
	})

	cart, err := web.NewCartStore(filepath.Join(cfg.DataFolder, "cart.json"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	directors := entreprise.NewDirectorsService(
		inpi,
		gouv,
		pappers.NewFetcher(pappers.FetcherConfig{}),
		slog.Default(),
	)

	telemetry := runner.Telemetry(cfg)

	srv := web.New(web.ServerConfig{
		Addr:         cfg.Addr,
		Service:      service,
		Companies:    store,
		Directors:    directors,
		Materializer: materializer,
		Manager:      downloader.NewManager(materializer),
		Cart:         cart,
		Telemetry:    telemetry,
	})

	return &webrunner{
		cfg:       cfg,
		store:     store,
		srv:       srv,
		telemetry: telemetry,
	}, nil
}

func (w *webrunner) Run(ctx context.Context) error {
	_ = w.telemetry.Send(ctx, tlmt.NewEvent("web_start", map[string]any{
		"store":  storeKind(w.cfg),
		"mirror": w.cfg.S3Bucket != "",
	}))

	return w.srv.Run(ctx)
}

func (w *webrunner) Close(context.Context) error {
	_ = w.telemetry.Close()

	return w.store.Close()
}

func openStore(cfg *runner.Config) (entreprise.CompanyStore, error) {
	if cfg.Dsn != "" {
		return postgres.NewStore(cfg.Dsn)
	}

	return sqlitestore.NewStore(filepath.Join(cfg.DataFolder, "companies.db"))
}

func storeKind(cfg *runner.Config) string {
	if cfg.Dsn != "" {
		return "postgres"
	}

	return "sqlite"
}

func toSources(names []string) []entreprise.Source {
	if len(names) == 0 {
		return nil
	}

	out := make([]entreprise.Source, 0, len(names))
	for _, name := range names {
		out = append(out, entreprise.Source(name))
	}

	return out
}
