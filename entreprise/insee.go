package entreprise

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	inseeBaseURL       = "https://api.insee.fr/api-sirene/3.11"
	inseeTokenURL      = "https://api.insee.fr/token"
	inseeAvisURL       = "https://api-avis-situation-sirene.insee.fr/identification/pdf"
	inseeSiretEndpoint = "/siret"
	inseePageSize      = 200

	// tokenSafetyMargin shaves the advertised TTL so a token is refreshed
	// before the registry stops honoring it.
	tokenSafetyMargin = 60 * time.Second
	defaultTokenTTL   = 55 * time.Minute
)

// InseeConfig carries the OAuth client credentials ("consumer" key pair in
// the INSEE portal) plus optional endpoint overrides for tests.
type InseeConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	BaseURL        string
	TokenURL       string
	AvisURL        string
	HTTPClient     *http.Client
}

// InseeClient queries the SIRENE registry. The bearer token is fetched via
// the OAuth client-credentials exchange, cached until expiry, and refreshed
// by exactly one caller at a time; concurrent expired-token callers share a
// single refresh flight.
type InseeClient struct {
	baseURL        string
	tokenURL       string
	avisURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client

	tokenMutex  sync.RWMutex
	token       string
	tokenExpiry time.Time
	refreshing  singleflight.Group
}

type inseeTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewInseeClient(cfg InseeConfig) *InseeClient {
	c := &InseeClient{
		baseURL:        cfg.BaseURL,
		tokenURL:       cfg.TokenURL,
		avisURL:        cfg.AvisURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		client:         cfg.HTTPClient,
	}

	if c.baseURL == "" {
		c.baseURL = inseeBaseURL
	}

	if c.tokenURL == "" {
		c.tokenURL = inseeTokenURL
	}

	if c.avisURL == "" {
		c.avisURL = inseeAvisURL
	}

	if c.client == nil {
		c.client = newRegistryHTTPClient()
	}

	return c
}

func (c *InseeClient) Source() Source {
	return SourceInsee
}

func (c *InseeClient) Configured() bool {
	return c.consumerKey != "" && c.consumerSecret != ""
}

// getAuthToken returns the cached bearer token, refreshing it when expired.
func (c *InseeClient) getAuthToken(ctx context.Context) (string, error) {
	c.tokenMutex.RLock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMutex.RUnlock()

		return token, nil
	}
	c.tokenMutex.RUnlock()

	v, err, _ := c.refreshing.Do("token", func() (interface{}, error) {
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *InseeClient) refreshToken(ctx context.Context) (string, error) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	// Re-check under the lock: another flight may have refreshed between
	// the read-side miss and this call.
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", WrapError(KindAuth, SourceInsee, "error creating token request", err)
	}

	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", WrapError(KindAuth, SourceInsee, "error executing token request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", NewError(KindAuth, SourceInsee,
			fmt.Sprintf("token request failed: status %d, body: %s", resp.StatusCode, string(body)))
	}

	var tokenResp inseeTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", WrapError(KindAuth, SourceInsee, "error decoding token response", err)
	}

	if tokenResp.AccessToken == "" {
		return "", NewError(KindAuth, SourceInsee, "no access token in response")
	}

	ttl := time.Duration(tokenResp.ExpiresIn) * time.Second
	if ttl <= tokenSafetyMargin {
		ttl = defaultTokenTTL
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - tokenSafetyMargin)

	slog.Debug("insee token refreshed", "expires_at", c.tokenExpiry)

	return c.token, nil
}

func (c *InseeClient) Lookup(ctx context.Context, query string, kind LookupKind, opts SearchOptions) ([]Company, error) {
	if !c.Configured() {
		return nil, NewError(KindNotConfigured, SourceInsee, "missing INSEE consumer credentials")
	}

	token, err := c.getAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	q := buildSireneQuery(query, ResolveKind(query, kind), opts)
	searchURL := fmt.Sprintf("%s%s?q=%s&nombre=%d",
		c.baseURL, inseeSiretEndpoint, url.QueryEscape(q), inseePageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInsee, "error creating search request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json;charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(KindTimeout, SourceInsee, "search timed out", err)
		}

		return nil, WrapError(KindUpstream, SourceInsee, "error executing search request", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// SIRENE answers 404 for zero matches.
		return []Company{}, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceInsee,
			fmt.Sprintf("search failed: status %d, body: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, WrapError(KindUpstream, SourceInsee, "error decoding search response", err)
	}

	rawEtabs, _ := data["etablissements"].([]interface{})

	companies := make([]Company, 0, len(rawEtabs))
	siege := make(map[string]bool)
	index := make(map[string]int)

	for _, raw := range rawEtabs {
		etab, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		company, isSiege := transformEtablissement(etab)
		if company.Siren == "" {
			continue
		}

		// One record per SIREN, head office preferred.
		at, seen := index[company.Siren]
		switch {
		case !seen:
			index[company.Siren] = len(companies)
			siege[company.Siren] = isSiege
			companies = append(companies, company)
		case isSiege && !siege[company.Siren]:
			companies[at] = company
			siege[company.Siren] = true
		}
	}

	return companies, nil
}

// AvisSituation downloads the situation notice PDF for a SIREN. Callers
// validate the bytes; this only surfaces transport-level failures.
func (c *InseeClient) AvisSituation(ctx context.Context, siren string) ([]byte, error) {
	fetchURL := fmt.Sprintf("%s/%s", c.avisURL, siren)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInsee, "error creating document request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInsee, "error fetching document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceInsee,
			fmt.Sprintf("document fetch failed: status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInsee, "error reading document body", err)
	}

	return data, nil
}

func buildSireneQuery(query string, kind LookupKind, opts SearchOptions) string {
	var q string

	if kind == LookupSiren {
		q = fmt.Sprintf("siren:%s", strings.ReplaceAll(query, " ", ""))
	} else {
		q = fmt.Sprintf("denominationUniteLegale:%q", NormalizeCompanyName(query))
	}

	if opts.Department != "" {
		q += fmt.Sprintf(" AND codePostalEtablissement:%s*", opts.Department)
	}

	return q
}

func transformEtablissement(etab map[string]interface{}) (Company, bool) {
	company := Company{Source: SourceInsee}

	siret, _ := etab["siret"].(string)
	siren, _ := etab["siren"].(string)

	if siren == "" && len(siret) >= 9 {
		siren = siret[:9]
	}

	company.Siren = NormalizeSiren(siren)
	company.Siret = siret

	isSiege, _ := etab["etablissementSiege"].(bool)

	if ul, ok := etab["uniteLegale"].(map[string]interface{}); ok {
		company.Name, _ = ul["denominationUniteLegale"].(string)
		company.LegalForm, _ = ul["categorieJuridiqueUniteLegale"].(string)
		company.Created, _ = ul["dateCreationUniteLegale"].(string)
		company.ActivityCode, _ = ul["activitePrincipaleUniteLegale"].(string)

		etat, _ := ul["etatAdministratifUniteLegale"].(string)
		company.Active = etat == "A"

		// Sole traders have no denomination; fall back to the person's
		// name the way SIRENE publishes it.
		if company.Name == "" {
			company.Name = personName(ul)
			if company.Name != "" {
				company.Directors = []string{company.Name}
			}
		}
	}

	if adresse, ok := etab["adresseEtablissement"].(map[string]interface{}); ok {
		company.Address = joinAddress(adresse)
		company.PostalCode, _ = adresse["codePostalEtablissement"].(string)
		company.City, _ = adresse["libelleCommuneEtablissement"].(string)
	}

	statutDiffusion, _ := etab["statutDiffusionEtablissement"].(string)
	if statutDiffusion != "" && statutDiffusion != "O" {
		// Partially diffused records expose no usable identity.
		company.Active = false
	}

	if company.Siren != "" && company.Name != "" {
		company.PappersURL = CreatePappersURL(company.Name, company.Siren)
		company.SourceURL = fmt.Sprintf("https://annuaire-entreprises.data.gouv.fr/entreprise/%s", company.Siren)
	}

	return company, isSiege
}

func personName(ul map[string]interface{}) string {
	nomUsage, _ := ul["nomUsageUniteLegale"].(string)
	nom, _ := ul["nomUniteLegale"].(string)
	prenom, _ := ul["prenomUsuelUniteLegale"].(string)

	name := nomUsage
	if name == "" {
		name = nom
	}

	if prenom != "" {
		r := []rune(prenom)
		prenomFormatted := strings.ToUpper(string(r[:1])) + strings.ToLower(string(r[1:]))

		if name != "" {
			return name + " " + prenomFormatted
		}

		return prenomFormatted
	}

	return name
}

func joinAddress(adresse map[string]interface{}) string {
	parts := make([]string, 0, 3)

	for _, key := range []string{"numeroVoieEtablissement", "typeVoieEtablissement", "libelleVoieEtablissement"} {
		if v, _ := adresse[key].(string); v != "" {
			parts = append(parts, v)
		}
	}

	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}

func newRegistryHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			DisableKeepAlives:   false,
			MaxIdleConnsPerHost: 2,
		},
	}
}
