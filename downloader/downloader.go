package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/entreprise"
)

// Status is the per-item batch state. Items only move forward; error is
// terminal and reachable from every non-terminal state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// transitions lists the states each state may move to.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusDownloading, StatusError},
	StatusDownloading: {StatusUploading, StatusError},
	StatusUploading:   {StatusCompleted, StatusError},
	StatusCompleted:   {},
	StatusError:       {},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// Progress milestones reported around the two phases of each item.
const (
	progressQueued       = 0
	progressFetchStarted = 20
	progressFetchDone    = 50
	progressStoreStarted = 60
	progressDone         = 100
)

// CartItem is one selected document, as stored in the cart.
type CartItem struct {
	ID        string            `json:"id"`
	DocType   documents.DocType `json:"doc_type"`
	Siren     string            `json:"siren"`
	Siret     string            `json:"siret,omitempty"`
	Name      string            `json:"name"`
	URL       string            `json:"url,omitempty"`
	Available bool              `json:"available"`
	AddedAt   time.Time         `json:"added_at"`
}

// Item tracks one cart item through a batch run.
type Item struct {
	ID       string            `json:"id"`
	DocType  documents.DocType `json:"doc_type"`
	Siren    string            `json:"siren"`
	Siret    string            `json:"siret,omitempty"`
	Name     string            `json:"name,omitempty"`
	URL      string            `json:"url,omitempty"`
	Status   Status            `json:"status"`
	Progress int               `json:"progress"`
	Error    string            `json:"error,omitempty"`
	File     string            `json:"file,omitempty"`
}

// NewItem seeds a progress record from a cart item.
func NewItem(ci CartItem) *Item {
	return &Item{
		ID:       ci.ID,
		DocType:  ci.DocType,
		Siren:    ci.Siren,
		Siret:    ci.Siret,
		Name:     ci.Name,
		URL:      ci.URL,
		Status:   StatusQueued,
		Progress: progressQueued,
	}
}

// Transition moves the item forward, validating against the allowed-next
// table. Progress only ever rises; a lower value is ignored.
func (it *Item) Transition(to Status, progress int) error {
	if to != it.Status && !canTransition(it.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s", it.Status, to)
	}

	it.Status = to

	if progress > it.Progress {
		it.Progress = progress
	}

	return nil
}

// fail marks the item as terminally failed. Terminal items are left alone.
func (it *Item) fail(message string) {
	if it.Status == StatusCompleted || it.Status == StatusError {
		return
	}

	it.Status = StatusError
	it.Error = message
}

func (it *Item) request() documents.Request {
	return documents.Request{
		DocType: it.DocType,
		Siren:   it.Siren,
		Siret:   it.Siret,
		Name:    it.Name,
		URL:     it.URL,
	}
}

// Summary partitions a finished batch.
type Summary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Materializer is the document pipeline the manager drives, split into the
// fetch and store phases so progress can distinguish them.
type Materializer interface {
	Fetch(ctx context.Context, req documents.Request) (*documents.Artifact, error)
	Store(ctx context.Context, art *documents.Artifact) (string, error)
}

// Manager runs document batches one item at a time, in input order. An item
// failure is recorded on that item only; the batch keeps going.
type Manager struct {
	materializer Materializer
}

func NewManager(materializer Materializer) *Manager {
	return &Manager{materializer: materializer}
}

// Run processes the batch sequentially and reports every state change
// through onProgress. The only hard failures are an empty batch and a
// cancelled context; the latter marks all unprocessed items as failed
// before returning.
func (m *Manager) Run(ctx context.Context, items []*Item, onProgress func(*Item)) (Summary, error) {
	if len(items) == 0 {
		return Summary{}, entreprise.NewError(entreprise.KindValidation, "", "batch has no items")
	}

	if onProgress == nil {
		onProgress = func(*Item) {}
	}

	var summary Summary

	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				rest.fail("batch cancelled")
				onProgress(rest)
				summary.Failed++
			}

			return summary, ctx.Err()
		}

		if m.processItem(ctx, item, onProgress) {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	slog.Info("batch finished", "successful", summary.Successful, "failed", summary.Failed)

	return summary, nil
}

func (m *Manager) processItem(ctx context.Context, item *Item, onProgress func(*Item)) bool {
	slog.Debug("processing batch item", "id", item.ID, "doc_type", item.DocType, "siren", item.Siren)

	if !step(item, StatusDownloading, progressFetchStarted, onProgress) {
		return false
	}

	artifact, err := m.materializer.Fetch(ctx, item.request())
	if err != nil {
		slog.Warn("batch item fetch failed", "id", item.ID, "error", err)
		item.fail(err.Error())
		onProgress(item)

		return false
	}

	if !step(item, StatusDownloading, progressFetchDone, onProgress) {
		return false
	}

	if !step(item, StatusUploading, progressStoreStarted, onProgress) {
		return false
	}

	filename, err := m.materializer.Store(ctx, artifact)
	if err != nil {
		slog.Warn("batch item store failed", "id", item.ID, "error", err)
		item.fail(err.Error())
		onProgress(item)

		return false
	}

	item.File = filename

	return step(item, StatusCompleted, progressDone, onProgress)
}

// step advances the item and emits progress, converting an invalid move
// into an item failure.
func step(item *Item, to Status, progress int, onProgress func(*Item)) bool {
	if err := item.Transition(to, progress); err != nil {
		item.fail(err.Error())
		onProgress(item)

		return false
	}

	onProgress(item)

	return true
}
