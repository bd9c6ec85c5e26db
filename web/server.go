package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/tlmt"
)

const shutdownTimeout = 5 * time.Second

type ServerConfig struct {
	Addr         string
	Service      *entreprise.Service
	Companies    entreprise.CompanyStore
	Directors    *entreprise.DirectorsService
	Materializer *documents.Materializer
	Manager      *downloader.Manager
	Cart         *CartStore
	Telemetry    tlmt.Telemetry

	// RateLimit is the number of requests allowed per client ip per
	// RateWindow. Zero values fall back to 100 per minute.
	RateLimit  int
	RateWindow time.Duration
}

type Server struct {
	cfg     ServerConfig
	engine  *gin.Engine
	batches *BatchStore
}

func New(cfg ServerConfig) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}

	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	if cfg.Telemetry == nil {
		cfg.Telemetry = tlmt.NewNoop()
	}

	s := &Server{
		cfg:     cfg,
		batches: NewBatchStore(),
	}

	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(requestID())
	engine.Use(recovery())
	engine.Use(requestLogger())
	engine.Use(cors())
	engine.Use(rateLimit(cfg.RateLimit, cfg.RateWindow))

	s.engine = engine
	s.routes()

	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api/v1")

	api.GET("/search", s.handleSearch)

	api.GET("/companies", s.handleCompanySearch)
	api.POST("/companies", s.handleCompanySave)
	api.GET("/companies/:siren", s.handleCompanyGet)
	api.GET("/companies/:siren/directors", s.handleDirectors)

	api.GET("/cart", s.handleCartList)
	api.POST("/cart", s.handleCartAdd)
	api.DELETE("/cart", s.handleCartClear)
	api.DELETE("/cart/:id", s.handleCartRemove)

	api.POST("/downloads", s.handleDownloadBatch)
	api.POST("/downloads/cart", s.handleDownloadCart)
	api.GET("/downloads/:id", s.handleDownloadStatus)

	api.GET("/documents/:type/:siren/preview", s.handleDocumentPreview)
	api.GET("/documents/:type/:siren/download", s.handleDocumentDownload)
	api.GET("/files/:filename", s.handleFileDownload)

	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests before
// returning.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		slog.Info("starting web server", "addr", s.cfg.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down web server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
