// Package gateway decides where the document library and the chat transcript
// authoritatively live. Guests own a cache-backed copy; authenticated users
// read and write their account on the server. The identity coordinator is the
// only component that swaps one implementation for the other.
package gateway

import (
	"context"
	"log"

	"github.com/thanyathonk/read-pdf-anything/internal/cache"
	"github.com/thanyathonk/read-pdf-anything/internal/models"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

// Guest dataset keys. Each key has exactly one writer component; the pdf-id
// index mirrors the documents key so the migration payload can be assembled
// without decoding the full document list.
const (
	KeyGuestDocuments   = "readpdf_guest_documents"
	KeyGuestChatHistory = "readpdf_guest_chat_history"
	KeyGuestPDFIDs      = "readpdf_guest_pdf_ids"
)

// GuestKeys returns every key the guest datasets may occupy.
func GuestKeys() []string {
	return []string{KeyGuestDocuments, KeyGuestChatHistory, KeyGuestPDFIDs}
}

// Gateway is the persistence strategy behind the library and the transcript.
type Gateway interface {
	LoadDocuments(ctx context.Context) ([]models.Document, error)
	SaveDocuments(ctx context.Context, docs []models.Document) error
	LoadTranscript(ctx context.Context) ([]models.ChatMessage, error)
	SaveTranscript(ctx context.Context, messages []models.ChatMessage) error
}

// Guest persists both datasets in the expiring local store.
type Guest struct {
	store *cache.Store
}

// NewGuest builds the anonymous-mode gateway over store.
func NewGuest(store *cache.Store) *Guest {
	return &Guest{store: store}
}

func (g *Guest) LoadDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	ok, err := g.store.Get(ctx, KeyGuestDocuments, &docs)
	if err != nil || !ok {
		return nil, err
	}
	return docs, nil
}

func (g *Guest) SaveDocuments(ctx context.Context, docs []models.Document) error {
	if docs == nil {
		docs = []models.Document{}
	}
	if err := g.store.Put(ctx, KeyGuestDocuments, docs); err != nil {
		return err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return g.store.Put(ctx, KeyGuestPDFIDs, ids)
}

func (g *Guest) LoadTranscript(ctx context.Context) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	ok, err := g.store.Get(ctx, KeyGuestChatHistory, &messages)
	if err != nil || !ok {
		return nil, err
	}
	return messages, nil
}

func (g *Guest) SaveTranscript(ctx context.Context, messages []models.ChatMessage) error {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return g.store.Put(ctx, KeyGuestChatHistory, messages)
}

// Remote serves an authenticated identity from the account on the server.
// The transcript is also written through to the local store so a failed
// remote read can degrade to the last copy this client saw.
type Remote struct {
	api   *remote.Client
	token string
	local *cache.Store
}

// NewRemote builds the authenticated-mode gateway. token stays fixed for the
// life of the value; a new login constructs a new Remote.
func NewRemote(api *remote.Client, token string, local *cache.Store) *Remote {
	return &Remote{api: api, token: token, local: local}
}

// LoadDocuments fetches the account's list. A fresh account fetch arrives
// fully selected; callers that already hold a document overlay their own
// selection flag.
func (r *Remote) LoadDocuments(ctx context.Context) ([]models.Document, error) {
	docs, err := r.api.ListPDFs(ctx, r.token)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Selected = true
	}
	return docs, nil
}

// SaveDocuments is a no-op: the server's list is maintained by the individual
// upload, rename and delete calls.
func (r *Remote) SaveDocuments(ctx context.Context, docs []models.Document) error {
	return nil
}

func (r *Remote) LoadTranscript(ctx context.Context) ([]models.ChatMessage, error) {
	messages, err := r.api.ChatHistory(ctx, r.token)
	if err == nil {
		return messages, nil
	}

	var local []models.ChatMessage
	ok, localErr := r.local.Get(ctx, KeyGuestChatHistory, &local)
	if localErr != nil || !ok {
		return nil, err
	}
	log.Printf("gateway: chat history fetch failed, serving local copy: %v", err)
	return local, nil
}

func (r *Remote) SaveTranscript(ctx context.Context, messages []models.ChatMessage) error {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	if err := r.api.SaveChatHistory(ctx, r.token, messages); err != nil {
		return err
	}
	if err := r.local.Put(ctx, KeyGuestChatHistory, messages); err != nil {
		log.Printf("gateway: local transcript write-through failed: %v", err)
	}
	return nil
}
