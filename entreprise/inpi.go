package entreprise

import (
	"bytes"
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
)

const (
	inpiBaseURL     = "https://registre-national-entreprises.inpi.fr"
	inpiDemoBaseURL = "https://registre-national-entreprises-pprod.inpi.fr"

	inpiCompaniesEndpoint = "/api/companies"
	inpiSSOLoginEndpoint  = "/api/sso/login"

	inpiTokenTTL = 55 * time.Minute
)

// InpiConfig configures the RNE client. A static bearer token provisioned
// out-of-band takes precedence; otherwise the SSO login flow derives one
// from the username/password pair.
type InpiConfig struct {
	Token      string
	Username   string
	Password   string
	UseDemoEnv bool
	BaseURL    string
	HTTPClient *http.Client
}

type InpiClient struct {
	baseURL     string
	authURL     string
	staticToken string
	username    string
	password    string
	client      *http.Client

	tokenMutex  sync.RWMutex
	token       string
	tokenExpiry time.Time
}

type inpiAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type inpiAuthResponse struct {
	Token string `json:"token"`
}

type inpiFormality struct {
	Formality struct {
		Content struct {
			PersonneMorale *struct {
				Identite struct {
					Entreprise struct {
						Siren          string `json:"siren"`
						Denomination   string `json:"denomination"`
						FormeJuridique string `json:"formeJuridique"`
						DateImmat      string `json:"dateImmat"`
					} `json:"entreprise"`
					Description struct {
						Montant float64 `json:"montantCapital"`
					} `json:"description"`
				} `json:"identite"`
				AdresseEntreprise struct {
					Adresse struct {
						CodePostal string `json:"codePostal"`
						Commune    string `json:"commune"`
						Voie       string `json:"voie"`
						NumVoie    string `json:"numVoie"`
						TypeVoie   string `json:"typeVoie"`
					} `json:"adresse"`
				} `json:"adresseEntreprise"`
				DetailCessationEntreprise *struct {
					DateRadiation string `json:"dateRadiation"`
				} `json:"detailCessationEntreprise"`
			} `json:"personneMorale"`
			PersonnePhysique *struct {
				Identite struct {
					Entrepreneur struct {
						DescriptionPersonne struct {
							Nom     string   `json:"nom"`
							Prenoms []string `json:"prenoms"`
						} `json:"descriptionPersonne"`
					} `json:"entrepreneur"`
					Entreprise struct {
						Siren          string `json:"siren"`
						FormeJuridique string `json:"formeJuridique"`
						DateImmat      string `json:"dateImmat"`
					} `json:"entreprise"`
				} `json:"identite"`
				AdresseEntreprise struct {
					Adresse struct {
						CodePostal string `json:"codePostal"`
						Commune    string `json:"commune"`
						Voie       string `json:"voie"`
						NumVoie    string `json:"numVoie"`
						TypeVoie   string `json:"typeVoie"`
					} `json:"adresse"`
				} `json:"adresseEntreprise"`
				DetailCessationEntreprise *struct {
					DateRadiation string `json:"dateRadiation"`
				} `json:"detailCessationEntreprise"`
			} `json:"personnePhysique"`
			NatureCreation *struct {
				DateCreation string `json:"dateCreation"`
			} `json:"natureCreation"`
		} `json:"content"`
		Siren          string `json:"siren"`
		FormeJuridique string `json:"formeJuridique"`
	} `json:"formality"`
	Siren string `json:"siren"`
}

func NewInpiClient(cfg InpiConfig) *InpiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = inpiBaseURL
		if cfg.UseDemoEnv {
			baseURL = inpiDemoBaseURL
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newRegistryHTTPClient()
	}

	return &InpiClient{
		baseURL:     baseURL,
		authURL:     baseURL + inpiSSOLoginEndpoint,
		staticToken: cfg.Token,
		username:    cfg.Username,
		password:    cfg.Password,
		client:      client,
	}
}

func (c *InpiClient) Source() Source {
	return SourceInpi
}

func (c *InpiClient) Configured() bool {
	return c.staticToken != "" || (c.username != "" && c.password != "")
}

func (c *InpiClient) authenticate(ctx context.Context) error {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	authReq := inpiAuthRequest{Username: c.username, Password: c.password}

	jsonData, err := json.Marshal(authReq)
	if err != nil {
		return WrapError(KindAuth, SourceInpi, "error marshaling auth request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return WrapError(KindAuth, SourceInpi, "error creating auth request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return WrapError(KindAuth, SourceInpi, "error executing auth request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return NewError(KindAuth, SourceInpi,
			fmt.Sprintf("authentication failed: status %d, body: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var authResp inpiAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return WrapError(KindAuth, SourceInpi, "error decoding auth response", err)
	}

	if authResp.Token == "" {
		return NewError(KindAuth, SourceInpi, "no token received in auth response")
	}

	c.token = authResp.Token
	c.tokenExpiry = time.Now().Add(inpiTokenTTL)

	slog.Info("inpi authentication successful", "expires_at", c.tokenExpiry)

	return nil
}

func (c *InpiClient) getAuthToken(ctx context.Context) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}

	c.tokenMutex.RLock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMutex.RUnlock()

		return token, nil
	}
	c.tokenMutex.RUnlock()

	if err := c.authenticate(ctx); err != nil {
		return "", err
	}

	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()

	return c.token, nil
}

func (c *InpiClient) Lookup(ctx context.Context, query string, kind LookupKind, opts SearchOptions) ([]Company, error) {
	if !c.Configured() {
		return nil, NewError(KindNotConfigured, SourceInpi, "missing INPI credentials")
	}

	params := url.Values{}

	if ResolveKind(query, kind) == LookupSiren {
		params.Set("siren", strings.ReplaceAll(query, " ", ""))
	} else {
		params.Set("companyName", query)
		if opts.Department != "" {
			params.Set("departments", opts.Department)
		}
	}

	formalities, err := c.fetchFormalities(ctx, params)
	if err != nil {
		return nil, err
	}

	companies := make([]Company, 0, len(formalities))
	for i := range formalities {
		company := parseFormality(&formalities[i])
		if company.Siren == "" {
			continue
		}

		companies = append(companies, company)
	}

	return companies, nil
}

func (c *InpiClient) fetchFormalities(ctx context.Context, params url.Values) ([]inpiFormality, error) {
	token, err := c.getAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, inpiCompaniesEndpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error creating search request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(KindTimeout, SourceInpi, "search timed out", err)
		}

		return nil, WrapError(KindUpstream, SourceInpi, "error executing search request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []inpiFormality{}, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceInpi,
			fmt.Sprintf("search failed: status %d, body: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var formalities []inpiFormality
	if err := json.NewDecoder(resp.Body).Decode(&formalities); err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error decoding search response", err)
	}

	return formalities, nil
}

// Extract downloads the RNE extract PDF for a SIREN.
func (c *InpiClient) Extract(ctx context.Context, siren string) ([]byte, error) {
	if !c.Configured() {
		return nil, NewError(KindNotConfigured, SourceInpi, "missing INPI credentials")
	}

	token, err := c.getAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s%s/%s/download/pdf", c.baseURL, inpiCompaniesEndpoint, siren)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error creating document request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error fetching document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceInpi,
			fmt.Sprintf("document fetch failed: status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error reading document body", err)
	}

	return data, nil
}

// Directors fetches the formality for a SIREN and walks its composition
// block. The powers tree is loosely typed upstream, so this decodes into
// maps and digs for representative names.
func (c *InpiClient) Directors(ctx context.Context, siren string) ([]string, error) {
	token, err := c.getAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("siren", siren)

	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, inpiCompaniesEndpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error creating company request", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error executing company request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewError(KindNotFound, SourceInpi, "no formality for siren")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindFromStatus(resp.StatusCode), SourceInpi,
			fmt.Sprintf("get company failed: status %d", resp.StatusCode))
	}

	var raw []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, WrapError(KindUpstream, SourceInpi, "error decoding company response", err)
	}

	if len(raw) == 0 {
		return nil, NewError(KindNotFound, SourceInpi, "no formality for siren")
	}

	directors := extractDirectorsFromFormality(raw[0])
	if len(directors) == 0 {
		return nil, NewError(KindNotFound, SourceInpi, "no directors in formality")
	}

	return directors, nil
}

func parseFormality(formality *inpiFormality) Company {
	company := Company{Source: SourceInpi}

	company.Siren = NormalizeSiren(formality.Siren)
	if company.Siren == "" {
		company.Siren = NormalizeSiren(formality.Formality.Siren)
	}

	content := &formality.Formality.Content

	switch {
	case content.PersonneMorale != nil:
		pm := content.PersonneMorale
		company.Name = pm.Identite.Entreprise.Denomination
		company.LegalForm = pm.Identite.Entreprise.FormeJuridique
		company.Created = pm.Identite.Entreprise.DateImmat

		if capital := pm.Identite.Description.Montant; capital > 0 {
			company.Capital = fmt.Sprintf("%.0f", capital)
		}

		if pm.DetailCessationEntreprise != nil {
			company.Closed = pm.DetailCessationEntreprise.DateRadiation
		}

		adresse := pm.AdresseEntreprise.Adresse
		company.City = adresse.Commune
		company.PostalCode = adresse.CodePostal
		if adresse.NumVoie != "" && adresse.Voie != "" {
			company.Address = strings.TrimSpace(fmt.Sprintf("%s %s %s", adresse.NumVoie, adresse.TypeVoie, adresse.Voie))
		}
	case content.PersonnePhysique != nil:
		pp := content.PersonnePhysique
		personne := pp.Identite.Entrepreneur.DescriptionPersonne

		nameParts := append([]string{}, personne.Prenoms...)
		if personne.Nom != "" {
			nameParts = append(nameParts, personne.Nom)
		}

		if len(nameParts) > 0 {
			company.Name = strings.Join(nameParts, " ")
			company.Directors = []string{company.Name}
		}

		company.LegalForm = pp.Identite.Entreprise.FormeJuridique
		company.Created = pp.Identite.Entreprise.DateImmat

		if pp.DetailCessationEntreprise != nil {
			company.Closed = pp.DetailCessationEntreprise.DateRadiation
		}

		adresse := pp.AdresseEntreprise.Adresse
		company.City = adresse.Commune
		company.PostalCode = adresse.CodePostal
		if adresse.NumVoie != "" && adresse.Voie != "" {
			company.Address = strings.TrimSpace(fmt.Sprintf("%s %s %s", adresse.NumVoie, adresse.TypeVoie, adresse.Voie))
		}
	}

	if company.LegalForm == "" {
		company.LegalForm = formality.Formality.FormeJuridique
	}

	if company.Created == "" && content.NatureCreation != nil {
		company.Created = content.NatureCreation.DateCreation
	}

	company.Active = company.Closed == ""

	if company.Siren != "" && company.Name != "" {
		company.PappersURL = CreatePappersURL(company.Name, company.Siren)
		company.SourceURL = fmt.Sprintf("https://www.inpi.fr/recherche-entreprise/entreprise/%s", company.Siren)
	}

	return company
}

func extractDirectorsFromFormality(formality map[string]interface{}) []string {
	content, _ := dig(formality, "formality", "content")
	personneMorale, ok := dig(content, "personneMorale")
	if !ok {
		return nil
	}

	composition, ok := dig(personneMorale, "composition")
	if !ok {
		return nil
	}

	pouvoirs, ok := composition["pouvoirs"].([]interface{})
	if !ok {
		return nil
	}

	var directors []string

	for _, raw := range pouvoirs {
		pouvoir, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		for _, holder := range []string{"representant", "individu"} {
			person, ok := dig(pouvoir, holder, "descriptionPersonne")
			if !ok {
				continue
			}

			if name := personFullName(person); name != "" {
				directors = append(directors, name)
			}
		}
	}

	return directors
}

func personFullName(person map[string]interface{}) string {
	nom, _ := person["nom"].(string)
	if nom == "" {
		nom, _ = person["nomUsage"].(string)
	}

	if nom == "" {
		nom, _ = person["nomPatronymique"].(string)
	}

	var prenoms []string

	if rawPrenoms, ok := person["prenoms"].([]interface{}); ok {
		for _, p := range rawPrenoms {
			if s, ok := p.(string); ok && s != "" {
				prenoms = append(prenoms, s)
			}
		}
	} else if p, ok := person["prenom"].(string); ok && p != "" {
		prenoms = append(prenoms, p)
	}

	parts := append(prenoms, nom)
	name := strings.TrimSpace(strings.Join(parts, " "))

	return multiSpaceRe.ReplaceAllString(name, " ")
}

func dig(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	current := m

	for _, key := range keys {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return nil, false
		}

		current = next
	}

	return current, true
}
