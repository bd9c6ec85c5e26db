package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
	"github.com/gosom/registre-express/entreprise"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const pdfBytes = "%PDF-1.4 avis de situation"

type fakeSourceClient struct {
	source    entreprise.Source
	companies []entreprise.Company
	err       error
}

func (f *fakeSourceClient) Source() entreprise.Source { return f.source }
func (f *fakeSourceClient) Configured() bool          { return true }

func (f *fakeSourceClient) Lookup(ctx context.Context, query string, kind entreprise.LookupKind, opts entreprise.SearchOptions) ([]entreprise.Company, error) {
	return f.companies, f.err
}

type fakeCompanyStore struct {
	companies map[string]entreprise.Company
	saved     []entreprise.Company
}

func newFakeCompanyStore(companies ...entreprise.Company) *fakeCompanyStore {
	s := &fakeCompanyStore{companies: make(map[string]entreprise.Company)}
	for _, c := range companies {
		s.companies[c.Siren] = c
	}

	return s
}

func (f *fakeCompanyStore) Search(ctx context.Context, query string, limit int) ([]entreprise.Company, error) {
	if query == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal, "search term is required")
	}

	out := make([]entreprise.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, c)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f *fakeCompanyStore) GetBySiren(ctx context.Context, siren string) (*entreprise.Company, error) {
	c, ok := f.companies[siren]
	if !ok {
		return nil, entreprise.NewError(entreprise.KindNotFound, entreprise.SourceLocal, "no company with siren "+siren)
	}

	return &c, nil
}

func (f *fakeCompanyStore) Save(ctx context.Context, company *entreprise.Company) error {
	f.companies[company.Siren] = *company
	f.saved = append(f.saved, *company)

	return nil
}

func (f *fakeCompanyStore) Close() error { return nil }

type fakePappers struct {
	directors []string
	emails    []string
	err       error
}

func (f *fakePappers) FetchDirectors(ctx context.Context, company *entreprise.Company) ([]string, []string, error) {
	return f.directors, f.emails, f.err
}

type fakeInsee struct {
	configured bool
	data       []byte
	err        error
}

func (f *fakeInsee) Configured() bool { return f.configured }

func (f *fakeInsee) AvisSituation(ctx context.Context, siren string) ([]byte, error) {
	return f.data, f.err
}

type fakeLister struct {
	announcements []entreprise.Announcement
	err           error
}

func (f *fakeLister) Announcements(ctx context.Context, siren string) ([]entreprise.Announcement, error) {
	return f.announcements, f.err
}

type testServerOptions struct {
	store   *fakeCompanyStore
	pappers *fakePappers
	insee   *fakeInsee
}

func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()

	if opts.store == nil {
		opts.store = newFakeCompanyStore()
	}
	if opts.pappers == nil {
		opts.pappers = &fakePappers{err: entreprise.NewError(entreprise.KindNotFound, entreprise.Source("pappers"), "no page")}
	}
	if opts.insee == nil {
		opts.insee = &fakeInsee{configured: true, data: []byte(pdfBytes)}
	}

	local := entreprise.NewLocalClient(opts.store)
	service := entreprise.NewService(entreprise.ServiceConfig{
		Clients:        []entreprise.Client{local},
		DefaultSources: []entreprise.Source{entreprise.SourceLocal},
	})

	materializer := documents.NewMaterializer(documents.Config{
		Insee:     opts.insee,
		Bodacc:    &fakeLister{},
		UploadDir: t.TempDir(),
	})

	cart, err := NewCartStore(filepath.Join(t.TempDir(), "cart.json"))
	if err != nil {
		t.Fatalf("NewCartStore failed: %v", err)
	}

	return New(ServerConfig{
		Addr:         ":0",
		Service:      service,
		Companies:    opts.store,
		Directors:    entreprise.NewDirectorsService(nil, nil, opts.pappers, nil),
		Materializer: materializer,
		Manager:      downloader.NewManager(materializer),
		Cart:         cart,
	})
}

func doRequest(srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}

	return out
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	for _, target := range []string{"/health", "/api/v1/health"} {
		w := doRequest(srv, "GET", target, nil)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, expected 200", target, w.Code)
		}

		body := decodeBody(t, w)
		if body["status"] != "ok" {
			t.Errorf("GET %s status field = %v, expected ok", target, body["status"])
		}
	}
}

func TestSearchEndpoint(t *testing.T) {
	store := newFakeCompanyStore(entreprise.Company{
		Siren:  "552032534",
		Name:   "DANONE",
		Source: entreprise.SourceLocal,
	})
	srv := newTestServer(t, testServerOptions{store: store})

	w := doRequest(srv, "GET", "/api/v1/search?q=danone", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)

	results, ok := body["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("Expected 1 result, got %v", body["results"])
	}

	first := results[0].(map[string]any)
	if first["siren"] != "552032534" {
		t.Errorf("result siren = %v, expected 552032534", first["siren"])
	}
}

func TestSearchEndpointRejectsShortQuery(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/search?q=ab", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["kind"] != string(entreprise.KindValidation) {
		t.Errorf("kind = %v, expected %s", body["kind"], entreprise.KindValidation)
	}

	if body["request_id"] == "" {
		t.Error("error response is missing request_id")
	}
}

func TestCompanyGetEndpoint(t *testing.T) {
	store := newFakeCompanyStore(entreprise.Company{
		Siren: "552032534",
		Name:  "DANONE",
	})
	srv := newTestServer(t, testServerOptions{store: store})

	tests := []struct {
		name           string
		siren          string
		expectedStatus int
	}{
		{name: "known siren", siren: "552032534", expectedStatus: http.StatusOK},
		{name: "spaced siren is normalized", siren: "552%20032%20534", expectedStatus: http.StatusOK},
		{name: "unknown siren", siren: "123456789", expectedStatus: http.StatusNotFound},
		{name: "invalid siren", siren: "12ab", expectedStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(srv, "GET", "/api/v1/companies/"+tc.siren, nil)

			if w.Code != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tc.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCompanySaveEndpoint(t *testing.T) {
	store := newFakeCompanyStore()
	srv := newTestServer(t, testServerOptions{store: store})

	w := doRequest(srv, "POST", "/api/v1/companies", map[string]any{
		"siren": "552 032 534",
		"name":  "DANONE",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	if len(store.saved) != 1 {
		t.Fatalf("Expected 1 saved company, got %d", len(store.saved))
	}

	saved := store.saved[0]
	if saved.Siren != "552032534" {
		t.Errorf("saved siren = %s, expected normalized 552032534", saved.Siren)
	}

	if saved.Source != entreprise.SourceLocal {
		t.Errorf("saved source = %s, expected %s", saved.Source, entreprise.SourceLocal)
	}
}

func TestCompanySaveEndpointRejectsBadSiren(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "POST", "/api/v1/companies", map[string]any{
		"siren": "12345",
		"name":  "TOO SHORT",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestCompanySearchEndpoint(t *testing.T) {
	store := newFakeCompanyStore(
		entreprise.Company{Siren: "552032534", Name: "DANONE"},
		entreprise.Company{Siren: "552100554", Name: "TOTALENERGIES"},
	)
	srv := newTestServer(t, testServerOptions{store: store})

	w := doRequest(srv, "GET", "/api/v1/companies?q=dan", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if total, ok := body["total"].(float64); !ok || int(total) != 2 {
		t.Errorf("total = %v, expected 2", body["total"])
	}
}

func TestDirectorsEndpoint(t *testing.T) {
	store := newFakeCompanyStore(entreprise.Company{Siren: "552032534", Name: "DANONE"})
	pappers := &fakePappers{
		directors: []string{"Antoine DUPONT"},
		emails:    []string{"contact@danone.fr"},
	}
	srv := newTestServer(t, testServerOptions{store: store, pappers: pappers})

	w := doRequest(srv, "GET", "/api/v1/companies/552032534/directors", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)

	directors, ok := body["directors"].([]any)
	if !ok || len(directors) != 1 || directors[0] != "Antoine DUPONT" {
		t.Errorf("directors = %v, expected [Antoine DUPONT]", body["directors"])
	}

	emails, ok := body["emails"].([]any)
	if !ok || len(emails) != 1 {
		t.Errorf("emails = %v, expected one address", body["emails"])
	}
}

func TestDirectorsEndpointNotFound(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/companies/552032534/directors", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDocumentPreviewEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/documents/insee/552032534/preview", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %s, expected application/pdf", ct)
	}

	if w.Body.String() != pdfBytes {
		t.Error("preview body does not match the fetched document")
	}
}

func TestDocumentDownloadEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/documents/insee/552032534/download", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	disposition := w.Header().Get("Content-Disposition")
	if !bytes.Contains([]byte(disposition), []byte("attachment")) {
		t.Errorf("Content-Disposition = %q, expected an attachment", disposition)
	}

	if !bytes.Contains([]byte(disposition), []byte("INSEE_552032534_")) {
		t.Errorf("Content-Disposition = %q, expected the artifact filename", disposition)
	}
}

func TestFileDownloadEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	stored := doRequest(srv, "GET", "/api/v1/documents/insee/552032534/download", nil)
	if stored.Code != http.StatusOK {
		t.Fatalf("document download failed with status %d", stored.Code)
	}

	_, params, err := mime.ParseMediaType(stored.Header().Get("Content-Disposition"))
	if err != nil || params["filename"] == "" {
		t.Fatalf("Failed to parse Content-Disposition %q: %v", stored.Header().Get("Content-Disposition"), err)
	}

	w := doRequest(srv, "GET", "/api/v1/files/"+params["filename"], nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if w.Body.String() != pdfBytes {
		t.Error("served file does not match the stored artifact")
	}
}

func TestFileDownloadUnknownFile(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/files/INSEE_552032534_1.pdf", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}

func TestDocumentEndpointRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/documents/kbis/552032534/preview", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestDocumentPreviewNotConfigured(t *testing.T) {
	srv := newTestServer(t, testServerOptions{insee: &fakeInsee{configured: false}})

	w := doRequest(srv, "GET", "/api/v1/documents/insee/552032534/preview", nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["kind"] != string(entreprise.KindNotConfigured) {
		t.Errorf("kind = %v, expected %s", body["kind"], entreprise.KindNotConfigured)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/stats", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if _, ok := body["goroutines"]; !ok {
		t.Error("stats response is missing goroutines")
	}
}

func waitForBatch(t *testing.T, srv *Server, batchID string) *Batch {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		batch, ok := srv.batches.Get(batchID)
		if ok && batch.Status == batchStatusCompleted {
			return batch
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("batch did not complete in time")
	return nil
}

func TestDownloadBatchEndpoint(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "POST", "/api/v1/downloads", map[string]any{
		"items": []map[string]any{
			{"doc_type": "insee", "siren": "552 032 534", "name": "DANONE"},
		},
	})

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	batchID, _ := body["batch_id"].(string)
	if batchID == "" {
		t.Fatal("response is missing batch_id")
	}

	batch := waitForBatch(t, srv, batchID)

	if batch.Summary == nil || batch.Summary.Successful != 1 {
		t.Fatalf("summary = %+v, expected 1 successful item", batch.Summary)
	}

	item := batch.Items[0]
	if item.Status != downloader.StatusCompleted {
		t.Errorf("item status = %s, expected %s", item.Status, downloader.StatusCompleted)
	}

	if item.Progress != 100 {
		t.Errorf("item progress = %d, expected 100", item.Progress)
	}

	if item.File == "" {
		t.Error("completed item has no file")
	}
}

func TestDownloadBatchEndpointValidation(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "no items", body: map[string]any{"items": []map[string]any{}}},
		{
			name: "unknown type",
			body: map[string]any{"items": []map[string]any{{"doc_type": "kbis", "siren": "552032534"}}},
		},
		{
			name: "bad siren",
			body: map[string]any{"items": []map[string]any{{"doc_type": "insee", "siren": "12"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(srv, "POST", "/api/v1/downloads", tc.body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestDownloadCartEndpointClearsCart(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	addResp := doRequest(srv, "POST", "/api/v1/cart", map[string]any{
		"doc_type": "insee",
		"siren":    "552032534",
		"name":     "DANONE",
	})
	if addResp.Code != http.StatusCreated {
		t.Fatalf("cart add failed with status %d: %s", addResp.Code, addResp.Body.String())
	}

	w := doRequest(srv, "POST", "/api/v1/downloads/cart", nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	batchID, _ := body["batch_id"].(string)

	waitForBatch(t, srv, batchID)

	// The cart clear happens right after completion; poll briefly.
	deadline := time.Now().Add(time.Second)
	for srv.cfg.Cart.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if n := srv.cfg.Cart.Len(); n != 0 {
		t.Errorf("cart has %d items after the batch, expected 0", n)
	}
}

func TestDownloadCartEndpointEmptyCart(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "POST", "/api/v1/downloads/cart", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
}

func TestDownloadStatusUnknownBatch(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})

	w := doRequest(srv, "GET", "/api/v1/downloads/"+fmt.Sprintf("%d", time.Now().UnixNano()), nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}
