package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/s3uploader"
)

// DocType tags the document families the materializer can produce.
type DocType string

const (
	DocTypeInsee  DocType = "insee"
	DocTypeInpi   DocType = "inpi"
	DocTypeBodacc DocType = "bodacc"
	DocTypeOther  DocType = "other"
)

const pdfMagic = "%PDF"

// ParseDocType validates a raw document type tag.
func ParseDocType(s string) (DocType, bool) {
	switch DocType(s) {
	case DocTypeInsee, DocTypeInpi, DocTypeBodacc, DocTypeOther:
		return DocType(s), true
	default:
		return "", false
	}
}

// Request identifies one document to produce.
type Request struct {
	DocType DocType
	Siren   string
	Siret   string
	Name    string
	URL     string
}

// Artifact is a fetched document, plus its stored filename once Store ran.
type Artifact struct {
	DocType     DocType
	Siren       string
	Ext         string
	ContentType string
	Data        []byte
	Filename    string
}

// InseeFetcher delivers the avis de situation PDF.
type InseeFetcher interface {
	Configured() bool
	AvisSituation(ctx context.Context, siren string) ([]byte, error)
}

// InpiFetcher delivers the RNE extract PDF.
type InpiFetcher interface {
	Configured() bool
	Extract(ctx context.Context, siren string) ([]byte, error)
}

// AnnouncementLister delivers the BODACC publications backing the report.
type AnnouncementLister interface {
	Announcements(ctx context.Context, siren string) ([]entreprise.Announcement, error)
}

type fetchFunc func(ctx context.Context, req Request) (*Artifact, error)

// Config wires the materializer. Insee, Inpi and Bodacc may be nil; the
// matching document types then fail with NOT_CONFIGURED.
type Config struct {
	Insee      InseeFetcher
	Inpi       InpiFetcher
	Bodacc     AnnouncementLister
	HTTPClient *http.Client
	UploadDir  string
	Uploader   s3uploader.Uploader
	Bucket     string
}

// Materializer produces official documents for a company: registry PDFs,
// the synthesized BODACC report, or a direct URL fetch. Fetch and Store are
// split so the batch manager can report the two phases separately.
type Materializer struct {
	insee     InseeFetcher
	inpi      InpiFetcher
	bodacc    AnnouncementLister
	client    *http.Client
	uploadDir string
	uploader  s3uploader.Uploader
	bucket    string

	fetchers map[DocType]fetchFunc
}

func NewMaterializer(cfg Config) *Materializer {
	m := &Materializer{
		insee:     cfg.Insee,
		inpi:      cfg.Inpi,
		bodacc:    cfg.Bodacc,
		client:    cfg.HTTPClient,
		uploadDir: cfg.UploadDir,
		uploader:  cfg.Uploader,
		bucket:    cfg.Bucket,
	}

	if m.client == nil {
		m.client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableKeepAlives:   false,
				MaxIdleConnsPerHost: 2,
			},
		}
	}

	if m.uploadDir == "" {
		m.uploadDir = "uploads"
	}

	m.fetchers = map[DocType]fetchFunc{
		DocTypeInsee:  m.fetchInsee,
		DocTypeInpi:   m.fetchInpi,
		DocTypeBodacc: m.fetchBodacc,
		DocTypeOther:  m.fetchOther,
	}

	return m
}

// Available reports whether the pipeline can currently produce a document
// type, based on which clients are wired and configured.
func (m *Materializer) Available(dt DocType) bool {
	switch dt {
	case DocTypeInsee:
		return m.insee != nil && m.insee.Configured()
	case DocTypeInpi:
		return m.inpi != nil && m.inpi.Configured()
	case DocTypeBodacc:
		return m.bodacc != nil
	case DocTypeOther:
		return true
	default:
		return false
	}
}

// Fetch retrieves the document bytes without persisting them.
func (m *Materializer) Fetch(ctx context.Context, req Request) (*Artifact, error) {
	fetch, ok := m.fetchers[req.DocType]
	if !ok {
		return nil, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("unknown document type %q", req.DocType))
	}

	siren := entreprise.NormalizeSiren(req.Siren)
	if siren == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, "",
			fmt.Sprintf("invalid SIREN %q", req.Siren))
	}

	req.Siren = siren

	return fetch(ctx, req)
}

// Store writes the artifact into the flat uploads directory and mirrors it
// to the bucket when an uploader is configured. It returns the filename and
// records it on the artifact.
func (m *Materializer) Store(ctx context.Context, art *Artifact) (string, error) {
	if err := os.MkdirAll(m.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%d.%s",
		strings.ToUpper(string(art.DocType)), art.Siren, time.Now().UnixMilli(), art.Ext)

	if err := os.WriteFile(filepath.Join(m.uploadDir, filename), art.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}

	if m.uploader != nil && m.bucket != "" {
		if err := m.uploader.Upload(ctx, m.bucket, filename, bytes.NewReader(art.Data)); err != nil {
			return "", err
		}
	}

	art.Filename = filename

	return filename, nil
}

// Materialize is Fetch followed by Store.
func (m *Materializer) Materialize(ctx context.Context, req Request) (*Artifact, error) {
	art, err := m.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := m.Store(ctx, art); err != nil {
		return nil, err
	}

	return art, nil
}

// Open returns a stored artifact by filename for serving.
func (m *Materializer) Open(filename string) ([]byte, error) {
	clean := filepath.Base(filename)

	data, err := os.ReadFile(filepath.Join(m.uploadDir, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, entreprise.NewError(entreprise.KindNotFound, "",
				fmt.Sprintf("artifact %s not found", clean))
		}

		return nil, fmt.Errorf("failed to read %s: %w", clean, err)
	}

	return data, nil
}

func (m *Materializer) fetchInsee(ctx context.Context, req Request) (*Artifact, error) {
	if m.insee == nil || !m.insee.Configured() {
		return nil, entreprise.NewError(entreprise.KindNotConfigured, entreprise.SourceInsee,
			"INSEE credentials are not configured")
	}

	data, err := m.insee.AvisSituation(ctx, req.Siren)
	if err != nil {
		return nil, err
	}

	if !isPDF(data) {
		return nil, entreprise.NewError(entreprise.KindInvalidArtifact, entreprise.SourceInsee,
			"avis de situation response is not a PDF")
	}

	return &Artifact{
		DocType:     DocTypeInsee,
		Siren:       req.Siren,
		Ext:         "pdf",
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

func (m *Materializer) fetchInpi(ctx context.Context, req Request) (*Artifact, error) {
	if m.inpi == nil || !m.inpi.Configured() {
		return nil, entreprise.NewError(entreprise.KindNotConfigured, entreprise.SourceInpi,
			"INPI credentials are not configured")
	}

	data, err := m.inpi.Extract(ctx, req.Siren)
	if err != nil {
		return nil, err
	}

	if !isPDF(data) {
		return nil, entreprise.NewError(entreprise.KindInvalidArtifact, entreprise.SourceInpi,
			"RNE extract response is not a PDF")
	}

	return &Artifact{
		DocType:     DocTypeInpi,
		Siren:       req.Siren,
		Ext:         "pdf",
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

func (m *Materializer) fetchBodacc(ctx context.Context, req Request) (*Artifact, error) {
	if m.bodacc == nil {
		return nil, entreprise.NewError(entreprise.KindNotConfigured, entreprise.SourceBodacc,
			"BODACC client is not configured")
	}

	announcements, err := m.bodacc.Announcements(ctx, req.Siren)
	if err != nil {
		return nil, err
	}

	if len(announcements) == 0 {
		return nil, entreprise.NewError(entreprise.KindNotFound, entreprise.SourceBodacc,
			fmt.Sprintf("no BODACC announcements for %s", req.Siren))
	}

	data, err := renderReport(req.Siren, req.Name, announcements)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindUpstream, entreprise.SourceBodacc,
			"failed to render announcement report", err)
	}

	return &Artifact{
		DocType:     DocTypeBodacc,
		Siren:       req.Siren,
		Ext:         "html",
		ContentType: "text/html; charset=utf-8",
		Data:        data,
	}, nil
}

func (m *Materializer) fetchOther(ctx context.Context, req Request) (*Artifact, error) {
	if req.URL == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, "",
			"document URL is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindValidation, "", "invalid document URL", err)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, entreprise.WrapError(entreprise.KindTimeout, "", "document fetch timed out", err)
		}

		return nil, entreprise.WrapError(entreprise.KindUpstream, "", "document fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, entreprise.NewError(entreprise.KindFromStatus(resp.StatusCode), "",
			fmt.Sprintf("document fetch returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindUpstream, "", "failed to read document body", err)
	}

	ext := extFromURL(req.URL)
	if ext == "" {
		ext = extFromContentType(resp.Header.Get("Content-Type"))
	}

	if ext == "pdf" && !isPDF(data) {
		return nil, entreprise.NewError(entreprise.KindInvalidArtifact, "",
			"document does not look like a PDF")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Artifact{
		DocType:     DocTypeOther,
		Siren:       req.Siren,
		Ext:         ext,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func isPDF(data []byte) bool {
	return len(data) >= len(pdfMagic) && string(data[:len(pdfMagic)]) == pdfMagic
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if len(ext) > 5 {
		return ""
	}

	return ext
}

func extFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bin"
	}

	switch mediaType {
	case "application/pdf":
		return "pdf"
	case "text/html":
		return "html"
	case "application/json":
		return "json"
	case "text/plain":
		return "txt"
	default:
		return "bin"
	}
}
