package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosom/registre-express/downloader"
)

// CartStore holds the document selection between sessions. It loads its JSON
// file once at construction and rewrites it on every mutation, so a crash
// never loses more than the in-flight change.
type CartStore struct {
	mu    sync.Mutex
	path  string
	items []downloader.CartItem
}

func NewCartStore(path string) (*CartStore, error) {
	s := &CartStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cart file %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.items); err != nil {
			return nil, fmt.Errorf("failed to parse cart file %s: %w", path, err)
		}
	}

	return s, nil
}

// Items returns a copy of the cart contents.
func (s *CartStore) Items() []downloader.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]downloader.CartItem(nil), s.items...)
}

func (s *CartStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

// Add appends an item, assigning an id and timestamp when missing, and
// persists the cart. The item is not kept if persisting fails.
func (s *CartStore) Add(item downloader.CartItem) (downloader.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}

	s.items = append(s.items, item)

	if err := s.persistLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return downloader.CartItem{}, err
	}

	return item, nil
}

// Remove deletes the item with the given id. It reports whether the id was
// present.
func (s *CartStore) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true, s.persistLocked()
		}
	}

	return false, nil
}

func (s *CartStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil

	return s.persistLocked()
}

func (s *CartStore) persistLocked() error {
	items := s.items
	if items == nil {
		items = []downloader.CartItem{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cart directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cart file: %w", err)
	}

	return nil
}
