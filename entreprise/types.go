package entreprise

import (
	"context"
	"time"
)

// Source identifies where a company record came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceInsee  Source = "insee"
	SourceBodacc Source = "bodacc"
	SourceInpi   Source = "inpi"
	SourceGouv   Source = "gouv"
)

// LookupKind selects how a registry client interprets a query.
type LookupKind string

const (
	LookupName  LookupKind = "name"
	LookupSiren LookupKind = "siren"
	LookupAuto  LookupKind = "auto"
)

// Company is the canonical record shape shared by every source.
type Company struct {
	Siren            string        `json:"siren"`
	Siret            string        `json:"siret,omitempty"`
	Name             string        `json:"name"`
	LegalForm        string        `json:"legal_form,omitempty"`
	Active           bool          `json:"active"`
	Created          string        `json:"created,omitempty"`
	Closed           string        `json:"closed,omitempty"`
	Address          string        `json:"address,omitempty"`
	PostalCode       string        `json:"postal_code,omitempty"`
	City             string        `json:"city,omitempty"`
	ActivityCode     string        `json:"activity_code,omitempty"`
	ActivityLabel    string        `json:"activity_label,omitempty"`
	Capital          string        `json:"capital,omitempty"`
	Directors        []string      `json:"directors,omitempty"`
	Emails           []string      `json:"emails,omitempty"`
	Source           Source        `json:"source"`
	Sources          []Source      `json:"sources,omitempty"`
	Score            float64       `json:"score,omitempty"`
	PappersURL       string        `json:"pappers_url,omitempty"`
	SourceURL        string        `json:"source_url,omitempty"`
	LastAnnouncement *Announcement `json:"last_announcement,omitempty"`
}

// Announcement is the most recent BODACC publication attached to a company.
type Announcement struct {
	Type     string `json:"type"`
	Date     string `json:"date"`
	Court    string `json:"court,omitempty"`
	City     string `json:"city,omitempty"`
	Title    string `json:"title,omitempty"`
	Registre string `json:"registre,omitempty"`
	URL      string `json:"url,omitempty"`
}

// SourceError is a per-source failure surfaced as data inside the envelope.
type SourceError struct {
	Source  Source `json:"source"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ResultEnvelope is what a search returns: merged results plus the per-source
// outcome, failures included. It is always delivered, even when every remote
// source failed.
type ResultEnvelope struct {
	Query          string         `json:"query"`
	SanitizedQuery string         `json:"sanitized_query"`
	Results        []Company      `json:"results"`
	Sources        map[Source]int `json:"sources"`
	Errors         []SourceError  `json:"errors"`
	TotalResults   int            `json:"total_results"`
	Duration       int64          `json:"duration_ms"`
}

// SearchOptions tune a single search call. Zero values fall back to the
// service defaults.
type SearchOptions struct {
	Sources    []Source
	Timeout    time.Duration
	Department string
	MaxResults int
}

// Client is implemented by every registry source, local store included.
type Client interface {
	Source() Source
	Configured() bool
	Lookup(ctx context.Context, query string, kind LookupKind, opts SearchOptions) ([]Company, error)
}

// CompanyStore is the persisted local company table.
type CompanyStore interface {
	Search(ctx context.Context, query string, limit int) ([]Company, error)
	GetBySiren(ctx context.Context, siren string) (*Company, error)
	Save(ctx context.Context, company *Company) error
	Close() error
}
