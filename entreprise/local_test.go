package entreprise

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	companies []Company
	err       error
	gotLimit  int
}

func (f *fakeStore) Search(ctx context.Context, query string, limit int) ([]Company, error) {
	f.gotLimit = limit
	return f.companies, f.err
}

func (f *fakeStore) GetBySiren(ctx context.Context, siren string) (*Company, error) {
	return nil, nil
}

func (f *fakeStore) Save(ctx context.Context, company *Company) error { return nil }
func (f *fakeStore) Close() error                                     { return nil }

func TestLocalLookupStampsSource(t *testing.T) {
	store := &fakeStore{companies: []Company{{Siren: "652014051", Name: "CARREFOUR"}}}
	client := NewLocalClient(store)

	companies, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{})
	if err != nil {
		t.Fatalf("Lookup(carrefour) returned error: %v", err)
	}

	if len(companies) != 1 {
		t.Fatalf("Lookup(carrefour) returned %d companies, expected 1", len(companies))
	}

	if companies[0].Source != SourceLocal {
		t.Errorf("Source = %s, expected %s", companies[0].Source, SourceLocal)
	}

	if store.gotLimit != defaultLocalLimit {
		t.Errorf("store limit = %d, expected default %d", store.gotLimit, defaultLocalLimit)
	}
}

func TestLocalLookupWrapsStoreError(t *testing.T) {
	client := NewLocalClient(&fakeStore{err: errors.New("disk gone")})

	_, err := client.Lookup(context.Background(), "carrefour", LookupAuto, SearchOptions{})
	if KindOf(err) != KindDatabase {
		t.Errorf("KindOf(err) = %s, expected %s", KindOf(err), KindDatabase)
	}
}

func TestLocalNotConfiguredWithoutStore(t *testing.T) {
	client := NewLocalClient(nil)

	if client.Configured() {
		t.Error("Configured() = true without a store, expected false")
	}
}
