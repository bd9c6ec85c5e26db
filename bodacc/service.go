package bodacc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosom/registre-express/entreprise"
)

const (
	defaultBaseURL = "https://bodacc-datadila.opendatasoft.com/api/explore/v2.1"
	defaultDataset = "annonces-commerciales"

	pageSize  = 20
	userAgent = "RegistreExpress/1.0"

	// familleavis codes of the dataset. radiation marks a strike-off; dpc
	// records carry accounting close dates, not company events.
	familleCreation     = "creation"
	familleRadiation    = "radiation"
	familleDepotComptes = "dpc"
)

// Config overrides the public dataset endpoint, mainly for tests.
type Config struct {
	BaseURL    string
	Dataset    string
	HTTPClient *http.Client
}

// Service queries the official announcements dataset. It is an open API:
// no credentials, no auth flow.
type Service struct {
	baseURL string
	dataset string
	client  *http.Client
}

func NewService(cfg Config) *Service {
	s := &Service{
		baseURL: cfg.BaseURL,
		dataset: cfg.Dataset,
		client:  cfg.HTTPClient,
	}

	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}

	if s.dataset == "" {
		s.dataset = defaultDataset
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}

	return s
}

func (s *Service) Source() entreprise.Source {
	return entreprise.SourceBodacc
}

func (s *Service) Configured() bool {
	return true
}

// Lookup searches announcements by SIREN or company name and folds them into
// one company record per SIREN, the most recent publication becoming the
// company's last announcement.
func (s *Service) Lookup(ctx context.Context, query string, kind entreprise.LookupKind, opts entreprise.SearchOptions) ([]entreprise.Company, error) {
	resolved := entreprise.ResolveKind(query, kind)

	var where string
	if resolved == entreprise.LookupSiren {
		where = whereSiren(query)
	} else {
		where = whereName(query)
	}

	annonces, err := s.fetchAnnonces(ctx, where, opts.Department)
	if err != nil {
		return nil, err
	}

	if len(annonces) == 0 && resolved == entreprise.LookupName {
		// Hyphenated and abbreviated trade names miss the full-text
		// index; retry word by word.
		if fallback := likeConditions(shortenForSearch(query)); fallback != "" {
			annonces, err = s.fetchAnnonces(ctx, "("+fallback+")", opts.Department)
			if err != nil {
				return nil, err
			}
		}
	}

	return s.groupBySiren(annonces), nil
}

// Announcements returns every publication for a SIREN, most recent first.
func (s *Service) Announcements(ctx context.Context, siren string) ([]entreprise.Announcement, error) {
	annonces, err := s.fetchAnnonces(ctx, whereSiren(siren), "")
	if err != nil {
		return nil, err
	}

	announcements := make([]entreprise.Announcement, 0, len(annonces))
	for i := range annonces {
		announcements = append(announcements, toAnnouncement(&annonces[i]))
	}

	// Parution dates are ISO, string order is date order.
	sort.SliceStable(announcements, func(i, j int) bool {
		return announcements[i].Date > announcements[j].Date
	})

	return announcements, nil
}

func (s *Service) fetchAnnonces(ctx context.Context, where, department string) ([]annonce, error) {
	params := url.Values{}
	params.Add("where", where)
	if department != "" {
		params.Add("refine", fmt.Sprintf(`numerodepartement:"%s"`, department))
	}
	params.Add("limit", strconv.Itoa(pageSize))

	searchURL := fmt.Sprintf("%s/catalog/datasets/%s/records?%s", s.baseURL, s.dataset, params.Encode())

	slog.Debug("bodacc search", "url", searchURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindUpstream, entreprise.SourceBodacc, "error creating search request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, entreprise.WrapError(entreprise.KindTimeout, entreprise.SourceBodacc, "search timed out", err)
		}

		return nil, entreprise.WrapError(entreprise.KindUpstream, entreprise.SourceBodacc, "error executing search request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, entreprise.NewError(entreprise.KindFromStatus(resp.StatusCode), entreprise.SourceBodacc,
			fmt.Sprintf("search failed: status %d, body: %s", resp.StatusCode, string(body)))
	}

	var data apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, entreprise.WrapError(entreprise.KindUpstream, entreprise.SourceBodacc, "error decoding search response", err)
	}

	return data.Results, nil
}

func (s *Service) groupBySiren(annonces []annonce) []entreprise.Company {
	companies := make([]entreprise.Company, 0)
	index := make(map[string]int)
	latest := make(map[string]string)
	closures := make(map[string]string)

	// Radiation records mark the company struck off. Collected first, keyed
	// by SIREN, so the closure lands regardless of record order.
	for i := range annonces {
		a := &annonces[i]
		if a.Familleavis != familleRadiation {
			continue
		}

		siren := SirenFromRegistre(a.Registre)
		if siren == "" {
			continue
		}

		if a.Dateparution > closures[siren] {
			closures[siren] = a.Dateparution
		}
	}

	for i := range annonces {
		a := &annonces[i]

		siren := SirenFromRegistre(a.Registre)
		if siren == "" {
			continue
		}

		at, seen := index[siren]
		if !seen {
			at = len(companies)
			index[siren] = at
			companies = append(companies, entreprise.Company{
				Siren:  siren,
				Source: entreprise.SourceBodacc,
			})
		}

		company := &companies[at]

		if company.Name == "" {
			company.Name = a.Commercant
		}

		if company.City == "" {
			company.City = a.Ville
		}

		directors, forme := parsePersonnes(a.Listepersonnes)
		if len(company.Directors) == 0 {
			company.Directors = directors
		}

		if company.LegalForm == "" {
			company.LegalForm = forme
		}

		if a.Familleavis == familleCreation {
			if company.Created == "" || a.Dateparution < company.Created {
				company.Created = a.Dateparution
			}
		}

		if a.Dateparution >= latest[siren] {
			latest[siren] = a.Dateparution
			announcement := toAnnouncement(a)
			company.LastAnnouncement = &announcement
		}
	}

	for i := range companies {
		company := &companies[i]

		company.Closed = closures[company.Siren]
		company.Active = company.Closed == ""

		if company.Name != "" {
			company.PappersURL = entreprise.CreatePappersURL(company.Name, company.Siren)
		}
	}

	return companies
}

func toAnnouncement(a *annonce) entreprise.Announcement {
	annType := a.Familleavis
	if annType == "" {
		annType = a.Typeavis
	}

	title := a.Commercant
	if a.Familleavis == familleDepotComptes {
		if date := parseDepot(a.Depot); date != "" {
			title = fmt.Sprintf("%s (comptes clos au %s)", a.Commercant, date)
		}
	}

	return entreprise.Announcement{
		Type:     annType,
		Date:     a.Dateparution,
		Court:    a.Tribunal,
		City:     a.Ville,
		Title:    title,
		Registre: strings.Join(a.Registre, ","),
		URL:      a.URLComplete,
	}
}
