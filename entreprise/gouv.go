package entreprise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	gouvBaseURL        = "https://recherche-entreprises.api.gouv.fr"
	gouvSearchEndpoint = "/search"
	gouvPageSize       = 20
)

// GouvClient queries the public annuaire des entreprises. No credentials,
// so it is always configured; it stays opt-in at the service level.
type GouvClient struct {
	baseURL string
	client  *http.Client
}

type GouvConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

type gouvSearchResponse struct {
	Results      []gouvEntreprise `json:"results"`
	TotalResults int              `json:"total_results"`
	Page         int              `json:"page"`
	PerPage      int              `json:"per_page"`
}

type gouvEntreprise struct {
	Siren              string          `json:"siren"`
	NomComplet         string          `json:"nom_complet"`
	NomRaisonSociale   string          `json:"nom_raison_sociale"`
	Sigle              string          `json:"sigle"`
	Siege              *gouvSiege      `json:"siege"`
	ActivitePrincipale string          `json:"activite_principale"`
	DateCreation       string          `json:"date_creation"`
	DateFermeture      string          `json:"date_fermeture"`
	EtatAdministratif  string          `json:"etat_administratif"`
	NatureJuridique    string          `json:"nature_juridique"`
	Dirigeants         []gouvDirigeant `json:"dirigeants"`
}

type gouvSiege struct {
	Siret          string `json:"siret"`
	Adresse        string `json:"adresse"`
	CodePostal     string `json:"code_postal"`
	LibelleCommune string `json:"libelle_commune"`
}

type gouvDirigeant struct {
	Nom           string `json:"nom"`
	Prenoms       string `json:"prenoms"`
	Denomination  string `json:"denomination"`
	Qualite       string `json:"qualite"`
	TypeDirigeant string `json:"type_dirigeant"`
}

func NewGouvClient(cfg GouvConfig) *GouvClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = gouvBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newRegistryHTTPClient()
	}

	return &GouvClient{baseURL: baseURL, client: client}
}

func (c *GouvClient) Source() Source {
	return SourceGouv
}

func (c *GouvClient) Configured() bool {
	return true
}

func (c *GouvClient) Lookup(ctx context.Context, query string, kind LookupKind, opts SearchOptions) ([]Company, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", "1")

	perPage := gouvPageSize
	if opts.MaxResults > 0 && opts.MaxResults < perPage {
		perPage = opts.MaxResults
	}
	params.Set("per_page", strconv.Itoa(perPage))

	if ResolveKind(query, kind) == LookupSiren {
		params.Set("q", strings.ReplaceAll(query, " ", ""))
	}

	if opts.Department != "" {
		params.Set("departement", opts.Department)
	}

	searchURL := fmt.Sprintf("%s%s?%s", c.baseURL, gouvSearchEndpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceGouv, "error creating search request", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(KindTimeout, SourceGouv, "search timed out", err)
		}

		return nil, WrapError(KindUpstream, SourceGouv, "error executing search request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceGouv,
			fmt.Sprintf("search failed: status %d, body: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var searchResp gouvSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, WrapError(KindUpstream, SourceGouv, "error decoding search response", err)
	}

	companies := make([]Company, 0, len(searchResp.Results))
	for i := range searchResp.Results {
		company := transformGouvResult(&searchResp.Results[i])
		if company.Siren == "" {
			continue
		}

		companies = append(companies, company)
	}

	return companies, nil
}

func transformGouvResult(result *gouvEntreprise) Company {
	company := Company{
		Source:       SourceGouv,
		Siren:        NormalizeSiren(result.Siren),
		Name:         result.NomRaisonSociale,
		LegalForm:    result.NatureJuridique,
		Created:      result.DateCreation,
		Closed:       result.DateFermeture,
		ActivityCode: result.ActivitePrincipale,
		Active:       result.EtatAdministratif == "A",
	}

	if company.Name == "" {
		company.Name = result.NomComplet
	}

	if result.Siege != nil {
		company.Siret = result.Siege.Siret
		company.Address = result.Siege.Adresse
		company.PostalCode = result.Siege.CodePostal
		company.City = result.Siege.LibelleCommune
	}

	for _, dirigeant := range result.Dirigeants {
		if name := dirigeantName(dirigeant); name != "" {
			company.Directors = append(company.Directors, name)
		}
	}

	if company.Siren != "" && company.Name != "" {
		company.PappersURL = CreatePappersURL(company.Name, company.Siren)
		company.SourceURL = fmt.Sprintf("https://annuaire-entreprises.data.gouv.fr/entreprise/%s", company.Siren)
	}

	return company
}

func dirigeantName(d gouvDirigeant) string {
	if d.Denomination != "" {
		return d.Denomination
	}

	name := strings.TrimSpace(d.Prenoms + " " + d.Nom)

	return multiSpaceRe.ReplaceAllString(name, " ")
}
