package entreprise

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePappers struct {
	directors []string
	emails    []string
	err       error
	calls     int
}

func (f *fakePappers) FetchDirectors(ctx context.Context, company *Company) ([]string, []string, error) {
	f.calls++
	return f.directors, f.emails, f.err
}

func TestDirectorsPrefersInpi(t *testing.T) {
	var loginCalls int32

	inpi := newTestInpiClient(t, InpiConfig{Token: "static-token"}, inpiTestHandler(&loginCalls))
	pappers := &fakePappers{directors: []string{"FALLBACK"}}

	service := NewDirectorsService(inpi, nil, pappers, nil)

	directors, _, err := service.Directors(context.Background(), &Company{Siren: "652014051"})
	if err != nil {
		t.Fatalf("Directors() returned error: %v", err)
	}

	if len(directors) != 2 || directors[0] != "Alexandre BOMPARD" {
		t.Errorf("Directors() = %v, expected the RNE pouvoirs", directors)
	}

	if pappers.calls != 0 {
		t.Errorf("pappers fallback was called %d times, expected 0", pappers.calls)
	}
}

func TestDirectorsFallsBackToGouv(t *testing.T) {
	inpiMux := http.NewServeMux()
	inpiMux.HandleFunc("/api/companies", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	inpi := newTestInpiClient(t, InpiConfig{Token: "static-token"}, inpiMux)

	gouvMux := http.NewServeMux()
	gouvMux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"results": [{
				"siren": "652014051",
				"nom_raison_sociale": "CARREFOUR",
				"etat_administratif": "A",
				"dirigeants": [{"nom": "BOMPARD", "prenoms": "Alexandre"}]
			}],
			"total_results": 1, "page": 1, "per_page": 1
		}`)
	})

	gouvServer := httptest.NewServer(gouvMux)
	t.Cleanup(gouvServer.Close)

	gouv := NewGouvClient(GouvConfig{BaseURL: gouvServer.URL, HTTPClient: gouvServer.Client()})

	service := NewDirectorsService(inpi, gouv, nil, nil)

	directors, _, err := service.Directors(context.Background(), &Company{Siren: "652014051"})
	if err != nil {
		t.Fatalf("Directors() returned error: %v", err)
	}

	if len(directors) != 1 || directors[0] != "Alexandre BOMPARD" {
		t.Errorf("Directors() = %v, expected the annuaire dirigeants", directors)
	}
}

func TestDirectorsFallsBackToPappers(t *testing.T) {
	pappers := &fakePappers{directors: []string{"Jean DUPONT"}, emails: []string{"contact@dupont.fr"}}

	service := NewDirectorsService(nil, nil, pappers, nil)

	directors, emails, err := service.Directors(context.Background(), &Company{Siren: "512345678"})
	if err != nil {
		t.Fatalf("Directors() returned error: %v", err)
	}

	if len(directors) != 1 || directors[0] != "Jean DUPONT" {
		t.Errorf("Directors() = %v, expected the scraped name", directors)
	}

	if len(emails) != 1 || emails[0] != "contact@dupont.fr" {
		t.Errorf("emails = %v, expected the scraped address", emails)
	}
}

func TestDirectorsExhaustedChain(t *testing.T) {
	service := NewDirectorsService(nil, nil, &fakePappers{}, nil)

	_, _, err := service.Directors(context.Background(), &Company{Siren: "512345678"})
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf(err) = %s, expected %s", KindOf(err), KindNotFound)
	}
}

func TestDirectorsRequiresSiren(t *testing.T) {
	service := NewDirectorsService(nil, nil, nil, nil)

	_, _, err := service.Directors(context.Background(), &Company{})
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf(err) = %s, expected %s", KindOf(err), KindValidation)
	}
}
