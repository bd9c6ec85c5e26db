package entreprise

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestInseeClient(t *testing.T, handler http.Handler) (*InseeClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewInseeClient(InseeConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		BaseURL:        server.URL,
		TokenURL:       server.URL + "/token",
		AvisURL:        server.URL + "/avis",
		HTTPClient:     server.Client(),
	})

	return client, server
}

func inseeTestHandler(tokenCalls, searchCalls *int32) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)

		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`,
			atomic.LoadInt32(tokenCalls))
	})

	mux.HandleFunc("/siret", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(searchCalls, 1)

		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		fmt.Fprint(w, `{"etablissements":[{
			"siren":"652014051",
			"siret":"65201405100033",
			"etablissementSiege":true,
			"uniteLegale":{
				"denominationUniteLegale":"CARREFOUR",
				"categorieJuridiqueUniteLegale":"5699",
				"dateCreationUniteLegale":"1959-07-11",
				"activitePrincipaleUniteLegale":"70.10Z",
				"etatAdministratifUniteLegale":"A"
			},
			"adresseEtablissement":{
				"numeroVoieEtablissement":"93",
				"typeVoieEtablissement":"AV",
				"libelleVoieEtablissement":"DE PARIS",
				"codePostalEtablissement":"91300",
				"libelleCommuneEtablissement":"MASSY"
			}
		}]}`)
	})

	return mux
}

func TestInseeLookupCachesToken(t *testing.T) {
	var tokenCalls, searchCalls int32

	client, _ := newTestInseeClient(t, inseeTestHandler(&tokenCalls, &searchCalls))

	for i := 0; i < 3; i++ {
		companies, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{})
		if err != nil {
			t.Fatalf("Lookup(carrefour) returned error: %v", err)
		}

		if len(companies) != 1 {
			t.Fatalf("Lookup(carrefour) returned %d companies, expected 1", len(companies))
		}
	}

	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("token endpoint was called %d times, expected the token to be cached after 1", n)
	}

	if n := atomic.LoadInt32(&searchCalls); n != 3 {
		t.Errorf("search endpoint was called %d times, expected 3", n)
	}
}

func TestInseeConcurrentCallersShareOneRefresh(t *testing.T) {
	var tokenCalls, searchCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		time.Sleep(30 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/siret", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searchCalls, 1)
		fmt.Fprint(w, `{"etablissements":[]}`)
	})

	client, _ := newTestInseeClient(t, mux)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{}); err != nil {
				t.Errorf("Lookup(carrefour) returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("token endpoint was called %d times, expected concurrent callers to share 1 refresh", n)
	}

	if n := atomic.LoadInt32(&searchCalls); n != 8 {
		t.Errorf("search endpoint was called %d times, expected 8", n)
	}
}

func TestInseeLookupTransformsEtablissement(t *testing.T) {
	var tokenCalls, searchCalls int32

	client, _ := newTestInseeClient(t, inseeTestHandler(&tokenCalls, &searchCalls))

	companies, err := client.Lookup(context.Background(), "652014051", LookupAuto, SearchOptions{})
	if err != nil {
		t.Fatalf("Lookup(652014051) returned error: %v", err)
	}

	if len(companies) != 1 {
		t.Fatalf("Lookup(652014051) returned %d companies, expected 1", len(companies))
	}

	company := companies[0]

	if company.Siren != "652014051" {
		t.Errorf("Siren = %s, expected 652014051", company.Siren)
	}

	if company.Siret != "65201405100033" {
		t.Errorf("Siret = %s, expected 65201405100033", company.Siret)
	}

	if company.Name != "CARREFOUR" {
		t.Errorf("Name = %s, expected CARREFOUR", company.Name)
	}

	if !company.Active {
		t.Error("Active = false, expected true for etatAdministratif A")
	}

	if company.Address != "93 AV DE PARIS" {
		t.Errorf("Address = %s, expected 93 AV DE PARIS", company.Address)
	}

	if company.PostalCode != "91300" {
		t.Errorf("PostalCode = %s, expected 91300", company.PostalCode)
	}

	if company.City != "MASSY" {
		t.Errorf("City = %s, expected MASSY", company.City)
	}

	if company.Source != SourceInsee {
		t.Errorf("Source = %s, expected %s", company.Source, SourceInsee)
	}
}

func TestInseeLookupZeroMatches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/siret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, _ := newTestInseeClient(t, mux)

	companies, err := client.Lookup(context.Background(), "nonexistent", LookupAuto, SearchOptions{})
	if err != nil {
		t.Fatalf("Lookup() returned error for a 404: %v", err)
	}

	if len(companies) != 0 {
		t.Errorf("Lookup() returned %d companies, expected 0 for a 404", len(companies))
	}
}

func TestInseeLookupClassifiesFailures(t *testing.T) {
	tests := []struct {
		status   int
		expected Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindUpstream},
	}

	for _, test := range tests {
		status := test.status

		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
		})
		mux.HandleFunc("/siret", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		client, _ := newTestInseeClient(t, mux)

		_, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{})
		if err == nil {
			t.Fatalf("Lookup() returned nil error for status %d", status)
		}

		if KindOf(err) != test.expected {
			t.Errorf("KindOf(err) for status %d = %s, expected %s", status, KindOf(err), test.expected)
		}
	}
}

func TestInseeNotConfigured(t *testing.T) {
	client := NewInseeClient(InseeConfig{})

	if client.Configured() {
		t.Error("Configured() = true without credentials, expected false")
	}

	_, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{})
	if KindOf(err) != KindNotConfigured {
		t.Errorf("KindOf(err) = %s, expected %s", KindOf(err), KindNotConfigured)
	}
}

func TestBuildSireneQuery(t *testing.T) {
	tests := []struct {
		query    string
		kind     LookupKind
		opts     SearchOptions
		expected string
	}{
		{"652014051", LookupSiren, SearchOptions{}, "siren:652014051"},
		{"652 014 051", LookupSiren, SearchOptions{}, "siren:652014051"},
		{"carrefour", LookupName, SearchOptions{}, `denominationUniteLegale:"CARREFOUR"`},
		{"carrefour", LookupName, SearchOptions{Department: "91"}, `denominationUniteLegale:"CARREFOUR" AND codePostalEtablissement:91*`},
	}

	for _, test := range tests {
		result := buildSireneQuery(test.query, test.kind, test.opts)
		if result != test.expected {
			t.Errorf("buildSireneQuery(%q, %s) = %s, expected %s", test.query, test.kind, result, test.expected)
		}
	}
}
