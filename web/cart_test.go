package web

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
)

func newTestCart(t *testing.T) (*CartStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cart.json")

	store, err := NewCartStore(path)
	if err != nil {
		t.Fatalf("NewCartStore failed: %v", err)
	}

	return store, path
}

func cartItem(siren string) downloader.CartItem {
	return downloader.CartItem{
		DocType:   documents.DocTypeInsee,
		Siren:     siren,
		Name:      "TEST SA",
		Available: true,
	}
}

func TestCartStoreAddAssignsID(t *testing.T) {
	store, _ := newTestCart(t)

	item, err := store.Add(cartItem("552032534"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if item.ID == "" {
		t.Error("added item has no id")
	}

	if item.AddedAt.IsZero() {
		t.Error("added item has no timestamp")
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, expected 1", store.Len())
	}
}

func TestCartStorePersistsAcrossReload(t *testing.T) {
	store, path := newTestCart(t)

	if _, err := store.Add(cartItem("552032534")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.Add(cartItem("552100554")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	reloaded, err := NewCartStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	items := reloaded.Items()
	if len(items) != 2 {
		t.Fatalf("reloaded cart has %d items, expected 2", len(items))
	}

	if items[0].Siren != "552032534" || items[1].Siren != "552100554" {
		t.Errorf("reloaded cart order changed: %s, %s", items[0].Siren, items[1].Siren)
	}
}

func TestCartStoreRemove(t *testing.T) {
	store, _ := newTestCart(t)

	item, err := store.Add(cartItem("552032534"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	removed, err := store.Remove(item.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Error("Remove reported false for an existing item")
	}

	removed, err = store.Remove("no-such-id")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed {
		t.Error("Remove reported true for a missing item")
	}

	if store.Len() != 0 {
		t.Errorf("Len() = %d, expected 0", store.Len())
	}
}

func TestCartStoreClearRewritesFile(t *testing.T) {
	store, path := newTestCart(t)

	if _, err := store.Add(cartItem("552032534")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cart file failed: %v", err)
	}

	if string(data) != "[]" {
		t.Errorf("cart file after Clear = %q, expected []", string(data))
	}

	reloaded, err := NewCartStore(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if reloaded.Len() != 0 {
		t.Errorf("reloaded cart has %d items, expected 0", reloaded.Len())
	}
}

func TestCartStoreIgnoresMissingFile(t *testing.T) {
	store, err := NewCartStore(filepath.Join(t.TempDir(), "sub", "cart.json"))
	if err != nil {
		t.Fatalf("NewCartStore failed: %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("fresh cart has %d items, expected 0", store.Len())
	}

	// First mutation creates the parent directory.
	if _, err := store.Add(cartItem("552032534")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
}
