// Package library owns the document list, its selection flags and the
// sequential upload queue. All mutation happens behind one mutex; uploads
// are processed strictly one at a time by a single worker goroutine.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thanyathonk/read-pdf-anything/internal/cache"
	"github.com/thanyathonk/read-pdf-anything/internal/gateway"
	"github.com/thanyathonk/read-pdf-anything/internal/models"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

const (
	// MaxFileBytes mirrors the server's per-file upload cap.
	MaxFileBytes = 10 << 20
	// MaxDocuments bounds documents plus live upload tasks.
	MaxDocuments = 20
)

var (
	// ErrRenameRequiresLogin is returned when an anonymous caller renames.
	ErrRenameRequiresLogin = errors.New("renaming requires an account")
	// ErrUnknownDocument is returned for an id the library does not hold.
	ErrUnknownDocument = errors.New("unknown document")
)

// Options tunes a Library. Zero values select production behavior.
type Options struct {
	Epoch        func() int64  // identity epoch source; nil pins epoch 0
	Token        func() string // bearer token source; nil means anonymous
	Clock        cache.Clock
	SuccessGrace time.Duration // settled-task removal delay after success
	FailureGrace time.Duration // settled-task removal delay after failure
}

// Library reconciles the in-memory document set with its persistence
// authority. The gateway decides where reads and write-throughs go; the
// library's semantics are the same in both identity modes.
type Library struct {
	api *remote.Client

	epoch func() int64
	token func() string
	clock cache.Clock
	newID func() string

	successGrace time.Duration
	failureGrace time.Duration

	mu          sync.RWMutex
	gw          gateway.Gateway
	docs        []models.Document
	tasks       []models.UploadTask
	loadedEpoch int64

	queue chan *uploadJob
	quit  chan struct{}
	once  sync.Once
}

// New builds a Library over gw and api and starts its upload worker.
func New(gw gateway.Gateway, api *remote.Client, opts Options) *Library {
	l := &Library{
		api:          api,
		epoch:        opts.Epoch,
		token:        opts.Token,
		clock:        opts.Clock,
		newID:        uuid.NewString,
		successGrace: opts.SuccessGrace,
		failureGrace: opts.FailureGrace,
		gw:           gw,
		loadedEpoch:  -1,
		queue:        make(chan *uploadJob, MaxDocuments),
		quit:         make(chan struct{}),
	}
	if l.epoch == nil {
		l.epoch = func() int64 { return 0 }
	}
	if l.token == nil {
		l.token = func() string { return "" }
	}
	if l.clock == nil {
		l.clock = cache.RealClock{}
	}
	if l.successGrace <= 0 {
		l.successGrace = 2 * time.Second
	}
	if l.failureGrace <= 0 {
		l.failureGrace = 5 * time.Second
	}
	go l.runQueue()
	return l
}

// SetGateway swaps the persistence strategy. The identity coordinator calls
// this between epoch bumps, never while consumers are mid-operation.
func (l *Library) SetGateway(gw gateway.Gateway) {
	l.mu.Lock()
	l.gw = gw
	l.mu.Unlock()
}

// Load populates the library for the current identity epoch. A repeat call
// in the same epoch is a no-op, and a read failure degrades to an empty
// library rather than surfacing the error.
func (l *Library) Load(ctx context.Context) {
	epoch := l.epoch()
	l.mu.RLock()
	loaded := l.loadedEpoch == epoch
	gw := l.gw
	l.mu.RUnlock()
	if loaded {
		return
	}

	docs, err := gw.LoadDocuments(ctx)
	if err != nil {
		log.Printf("library: load failed, starting empty: %v", err)
		docs = nil
	}

	l.mu.Lock()
	// Commit only if the identity is still the one we fetched for.
	if l.epoch() == epoch && l.loadedEpoch != epoch {
		l.docs = docs
		l.loadedEpoch = epoch
	}
	l.mu.Unlock()
}

// Refresh re-reads the authority and reconciles with in-memory state:
// selection flags survive for documents we already hold, and documents
// added locally after the authority's snapshot are kept.
func (l *Library) Refresh(ctx context.Context) error {
	l.mu.RLock()
	gw := l.gw
	l.mu.RUnlock()

	fetched, err := gw.LoadDocuments(ctx)
	if err != nil {
		return fmt.Errorf("refresh documents: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held := make(map[string]models.Document, len(l.docs))
	for _, doc := range l.docs {
		held[doc.ID] = doc
	}
	seen := make(map[string]bool, len(fetched))
	merged := make([]models.Document, 0, len(fetched))
	for _, doc := range fetched {
		if prev, ok := held[doc.ID]; ok {
			doc.Selected = prev.Selected
		}
		seen[doc.ID] = true
		merged = append(merged, doc)
	}
	for _, doc := range l.docs {
		if !seen[doc.ID] {
			merged = append(merged, doc)
		}
	}
	l.docs = merged
	return nil
}

// Delete removes id from the library immediately and write-throughs the new
// snapshot. The remote delete runs in the background; a failure there is
// logged and the document is never re-added.
func (l *Library) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	removed := false
	docs := make([]models.Document, 0, len(l.docs))
	for _, doc := range l.docs {
		if doc.ID == id {
			removed = true
			continue
		}
		docs = append(docs, doc)
	}
	if removed {
		l.docs = docs
	}
	gw := l.gw
	snapshot := append([]models.Document(nil), docs...)
	l.mu.Unlock()

	if !removed {
		return ErrUnknownDocument
	}
	if err := gw.SaveDocuments(ctx, snapshot); err != nil {
		log.Printf("library: document write-through failed: %v", err)
	}
	token := l.token()
	go func() {
		if err := l.api.DeletePDF(context.Background(), token, id); err != nil {
			log.Printf("library: remote delete %s failed: %v", id, err)
		}
	}()
	return nil
}

// Rename applies the new name optimistically, then confirms with the server.
// On rejection the optimistic name is rolled back by a forced refresh.
func (l *Library) Rename(ctx context.Context, id, name string) error {
	token := l.token()
	if token == "" {
		return ErrRenameRequiresLogin
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("a document name is required")
	}

	l.mu.Lock()
	found := false
	for i := range l.docs {
		if l.docs[i].ID == id {
			l.docs[i].Name = name
			found = true
			break
		}
	}
	l.mu.Unlock()
	if !found {
		return ErrUnknownDocument
	}

	if err := l.api.RenamePDF(ctx, token, id, name); err != nil {
		if refreshErr := l.Refresh(ctx); refreshErr != nil {
			log.Printf("library: rename rollback refresh failed: %v", refreshErr)
		}
		return fmt.Errorf("rename %s: %w", id, err)
	}
	return nil
}

// ToggleSelection flips one document's selection flag.
func (l *Library) ToggleSelection(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.docs {
		if l.docs[i].ID == id {
			l.docs[i].Selected = !l.docs[i].Selected
			return nil
		}
	}
	return ErrUnknownDocument
}

// ToggleAllSelection selects every document unless all are already selected,
// in which case it clears the selection.
func (l *Library) ToggleAllSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := true
	for i := range l.docs {
		if !l.docs[i].Selected {
			all = false
			break
		}
	}
	for i := range l.docs {
		l.docs[i].Selected = !all
	}
}

// Documents returns a copy of the current document list in display order.
func (l *Library) Documents() []models.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Document(nil), l.docs...)
}

// Tasks returns a copy of the upload tasks still on display.
func (l *Library) Tasks() []models.UploadTask {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.UploadTask(nil), l.tasks...)
}

// SelectedDocumentIDs returns the ids a chat request should target.
func (l *Library) SelectedDocumentIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.docs))
	for _, doc := range l.docs {
		if doc.Selected {
			ids = append(ids, doc.ID)
		}
	}
	return ids
}

// Reset drops all in-memory state so the next Load repopulates it for the
// new identity epoch. Queued uploads from the old epoch settle as dropped.
func (l *Library) Reset() {
	l.mu.Lock()
	l.docs = nil
	l.tasks = nil
	l.loadedEpoch = -1
	l.mu.Unlock()
}

// Close stops the upload worker and releases jobs still queued.
func (l *Library) Close() {
	l.once.Do(func() { close(l.quit) })
}
