package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/tlmt"
)

func writeError(c *gin.Context, err error) {
	status := entreprise.StatusOf(err)

	message := err.Error()
	var e *entreprise.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	c.JSON(status, gin.H{
		"error":      message,
		"kind":       entreprise.KindOf(err),
		"request_id": getRequestID(c),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	opts := entreprise.SearchOptions{
		Department: c.Query("department"),
	}

	if raw := c.Query("sources"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				opts.Sources = append(opts.Sources, entreprise.Source(part))
			}
		}
	}

	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts.MaxResults = n
		}
	}

	envelope, err := s.cfg.Service.Search(c.Request.Context(), c.Query("q"), opts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope)
}

func (s *Server) handleCompanySearch(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	companies, err := s.cfg.Companies.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"companies": companies,
		"total":     len(companies),
	})
}

func (s *Server) handleCompanySave(c *gin.Context) {
	var company entreprise.Company

	if err := c.ShouldBindJSON(&company); err != nil {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "", "invalid request body"))
		return
	}

	siren := entreprise.NormalizeSiren(company.Siren)
	if siren == "" {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("invalid SIREN %q", company.Siren)))
		return
	}

	company.Siren = siren
	if company.Source == "" {
		company.Source = entreprise.SourceLocal
	}

	if err := s.cfg.Companies.Save(c.Request.Context(), &company); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"company": company})
}

func (s *Server) handleCompanyGet(c *gin.Context) {
	siren := entreprise.NormalizeSiren(c.Param("siren"))
	if siren == "" {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("invalid SIREN %q", c.Param("siren"))))
		return
	}

	company, err := s.cfg.Companies.GetBySiren(c.Request.Context(), siren)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"company": company})
}

func (s *Server) handleDirectors(c *gin.Context) {
	siren := entreprise.NormalizeSiren(c.Param("siren"))
	if siren == "" {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("invalid SIREN %q", c.Param("siren"))))
		return
	}

	// Companies without a local record still get the lookup chain; the name
	// query parameter improves the scrape fallback.
	company, err := s.cfg.Companies.GetBySiren(c.Request.Context(), siren)
	if err != nil {
		if entreprise.KindOf(err) != entreprise.KindNotFound {
			writeError(c, err)
			return
		}

		company = &entreprise.Company{Siren: siren, Name: c.Query("name")}
	}

	directors, emails, err := s.cfg.Directors.Directors(c.Request.Context(), company)
	if err != nil {
		writeError(c, err)
		return
	}

	if directors == nil {
		directors = []string{}
	}
	if emails == nil {
		emails = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"siren":     siren,
		"directors": directors,
		"emails":    emails,
	})
}

type cartItemRequest struct {
	DocType string `json:"doc_type"`
	Siren   string `json:"siren"`
	Siret   string `json:"siret"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

func (r cartItemRequest) toCartItem(m *documents.Materializer) (downloader.CartItem, error) {
	docType, ok := documents.ParseDocType(r.DocType)
	if !ok {
		return downloader.CartItem{}, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("unknown document type %q", r.DocType))
	}

	siren := entreprise.NormalizeSiren(r.Siren)
	if siren == "" {
		return downloader.CartItem{}, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("invalid SIREN %q", r.Siren))
	}

	if docType == documents.DocTypeOther && r.URL == "" {
		return downloader.CartItem{}, entreprise.NewError(entreprise.KindValidation, "",
			"a document URL is required for type other")
	}

	return downloader.CartItem{
		ID:        uuid.New().String(),
		DocType:   docType,
		Siren:     siren,
		Siret:     strings.ReplaceAll(r.Siret, " ", ""),
		Name:      r.Name,
		URL:       r.URL,
		Available: m.Available(docType),
		AddedAt:   time.Now(),
	}, nil
}

func (s *Server) handleCartList(c *gin.Context) {
	items := s.cfg.Cart.Items()

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (s *Server) handleCartAdd(c *gin.Context) {
	var req cartItemRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "", "invalid request body"))
		return
	}

	item, err := req.toCartItem(s.cfg.Materializer)
	if err != nil {
		writeError(c, err)
		return
	}

	item, err = s.cfg.Cart.Add(item)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (s *Server) handleCartRemove(c *gin.Context) {
	id := c.Param("id")

	removed, err := s.cfg.Cart.Remove(id)
	if err != nil {
		writeError(c, err)
		return
	}

	if !removed {
		writeError(c, entreprise.NewError(entreprise.KindNotFound, "",
			fmt.Sprintf("cart item %s not found", id)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func (s *Server) handleCartClear(c *gin.Context) {
	if err := s.cfg.Cart.Clear(); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

type batchRequest struct {
	Items []cartItemRequest `json:"items"`
}

func (s *Server) handleDownloadBatch(c *gin.Context) {
	var req batchRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "", "invalid request body"))
		return
	}

	if len(req.Items) == 0 {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "", "batch has no items"))
		return
	}

	items := make([]downloader.CartItem, 0, len(req.Items))

	for _, r := range req.Items {
		item, err := r.toCartItem(s.cfg.Materializer)
		if err != nil {
			writeError(c, err)
			return
		}

		items = append(items, item)
	}

	batchID := s.startBatch(items, false)

	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID})
}

func (s *Server) handleDownloadCart(c *gin.Context) {
	items := s.cfg.Cart.Items()
	if len(items) == 0 {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "", "cart is empty"))
		return
	}

	batchID := s.startBatch(items, true)

	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID})
}

func (s *Server) handleDownloadStatus(c *gin.Context) {
	batch, ok := s.batches.Get(c.Param("id"))
	if !ok {
		writeError(c, entreprise.NewError(entreprise.KindNotFound, "",
			fmt.Sprintf("batch %s not found", c.Param("id"))))
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (s *Server) startBatch(items []downloader.CartItem, fromCart bool) string {
	batchID, live := s.batches.Create(items)

	go s.runBatch(batchID, live, fromCart)

	return batchID
}

// runBatch drives one download batch to completion. The cart is cleared only
// after a cart-sourced batch finishes, so a crash mid-run keeps the selection.
func (s *Server) runBatch(batchID string, items []*downloader.Item, fromCart bool) {
	ctx := context.Background()

	summary, err := s.cfg.Manager.Run(ctx, items, func(item *downloader.Item) {
		s.batches.UpdateItem(batchID, *item)
	})
	if err != nil {
		slog.Error("download batch failed", "batch_id", batchID, "error", err)
	}

	s.batches.Complete(batchID, summary)

	if fromCart && err == nil {
		if err := s.cfg.Cart.Clear(); err != nil {
			slog.Warn("failed to clear cart after batch", "batch_id", batchID, "error", err)
		}
	}

	_ = s.cfg.Telemetry.Send(ctx, tlmt.NewEvent("download_batch", map[string]any{
		"successful": summary.Successful,
		"failed":     summary.Failed,
	}))
}

func (s *Server) documentRequest(c *gin.Context) (documents.Request, bool) {
	docType, ok := documents.ParseDocType(c.Param("type"))
	if !ok {
		writeError(c, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("unknown document type %q", c.Param("type"))))
		return documents.Request{}, false
	}

	return documents.Request{
		DocType: docType,
		Siren:   c.Param("siren"),
		Name:    c.Query("name"),
		URL:     c.Query("url"),
	}, true
}

func (s *Server) handleDocumentPreview(c *gin.Context) {
	req, ok := s.documentRequest(c)
	if !ok {
		return
	}

	artifact, err := s.cfg.Materializer.Fetch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

func (s *Server) handleDocumentDownload(c *gin.Context) {
	req, ok := s.documentRequest(c)
	if !ok {
		return
	}

	artifact, err := s.cfg.Materializer.Materialize(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// handleFileDownload serves an artifact a previous batch already stored, so
// clients can pick files up from a batch status response.
func (s *Server) handleFileDownload(c *gin.Context) {
	filename := c.Param("filename")

	data, err := s.cfg.Materializer.Open(filename)
	if err != nil {
		writeError(c, err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleStats(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := gin.H{
		"goroutines":    runtime.NumGoroutine(),
		"heap_alloc_mb": ms.HeapAlloc / 1024 / 1024,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
		stats["memory_total_mb"] = vm.Total / 1024 / 1024
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}

	c.JSON(http.StatusOK, stats)
}
