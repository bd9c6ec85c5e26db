package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosom/registre-express/downloader"
)

const (
	batchStatusRunning   = "running"
	batchStatusCompleted = "completed"
)

// Batch is the queryable state of one download run. Items holds value
// snapshots, never the live items the runner mutates, so reads race with
// nothing.
type Batch struct {
	ID        string              `json:"id"`
	Status    string              `json:"status"`
	Items     []downloader.Item   `json:"items"`
	Summary   *downloader.Summary `json:"summary,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// BatchStore tracks download batches in memory. Batches do not survive a
// restart; the artifacts they produced are already on disk.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[string]*Batch)}
}

// Create registers a running batch seeded from cart items and returns its id
// together with the live items to hand to the runner.
func (s *BatchStore) Create(cartItems []downloader.CartItem) (string, []*downloader.Item) {
	id := uuid.New().String()

	live := make([]*downloader.Item, 0, len(cartItems))
	snapshot := make([]downloader.Item, 0, len(cartItems))

	for _, ci := range cartItems {
		item := downloader.NewItem(ci)
		live = append(live, item)
		snapshot = append(snapshot, *item)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[id] = &Batch{
		ID:        id,
		Status:    batchStatusRunning,
		Items:     snapshot,
		CreatedAt: time.Now(),
	}

	return id, live
}

// UpdateItem replaces the stored snapshot of one item with its current state.
func (s *BatchStore) UpdateItem(batchID string, item downloader.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return
	}

	for i := range batch.Items {
		if batch.Items[i].ID == item.ID {
			batch.Items[i] = item
			return
		}
	}
}

// Complete marks the batch finished and records its summary.
func (s *BatchStore) Complete(batchID string, summary downloader.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return
	}

	batch.Status = batchStatusCompleted
	batch.Summary = &summary
}

// Get returns a copy of the batch so callers never observe later mutations.
func (s *BatchStore) Get(batchID string) (*Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, false
	}

	copied := *batch
	copied.Items = append([]downloader.Item(nil), batch.Items...)

	if batch.Summary != nil {
		summary := *batch.Summary
		copied.Summary = &summary
	}

	return &copied, true
}
