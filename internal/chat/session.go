// Package chat drives the question-and-answer transcript over the selected
// documents. At most one question is in flight at a time: a newer question
// aborts and supersedes the older one, and an explicit stop is recorded in
// the transcript.
package chat

import (
	"context"
	"errors"
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

// stoppedText is the transcript entry recorded for an explicit stop.
const stoppedText = "Response stopped by user."

var (
	// ErrEmptyMessage rejects a blank question. The transcript is untouched.
	ErrEmptyMessage = errors.New("a question is required")
	// ErrNoSelection rejects a question with no documents selected.
	ErrNoSelection = errors.New("no documents are selected")
	// ErrStopped reports that the caller's question was stopped via Cancel.
	ErrStopped = errors.New("response stopped by user")
	// ErrSuperseded reports that a newer question replaced the caller's.
	ErrSuperseded = errors.New("superseded by a newer question")
	// ErrInvalidEdit rejects an edit index that is not a user turn.
	ErrInvalidEdit = errors.New("only user turns can be edited")
)

// Options tunes a Session. Zero values select production behavior.
type Options struct {
	Epoch    func() int64    // identity epoch source; nil pins epoch 0
	Token    func() string   // bearer token source; nil means anonymous
	Selected func() []string // target document ids for each question
	Clock    cache.Clock
}

// Session owns the transcript and the in-flight question, if any. All
// mutation happens behind mu; the persistence write-through after each
// append is best-effort.
type Session struct {
	api *remote.Client

	epoch    func() int64
	token    func() string
	selected func() []string
	clock    cache.Clock
	newID    func() string

	mu          sync.Mutex
	gw          gateway.Gateway
	messages    []models.ChatMessage
	loadedEpoch int64
	sending     bool
	cancel      context.CancelCauseFunc
	generation  uint64
}

// New builds a Session over gw and api.
func New(gw gateway.Gateway, api *remote.Client, opts Options) *Session {
	s := &Session{
		api:         api,
		epoch:       opts.Epoch,
		token:       opts.Token,
		selected:    opts.Selected,
		clock:       opts.Clock,
		newID:       uuid.NewString,
		gw:          gw,
		loadedEpoch: -1,
	}
	if s.epoch == nil {
		s.epoch = func() int64 { return 0 }
	}
	if s.token == nil {
		s.token = func() string { return "" }
	}
	if s.selected == nil {
		s.selected = func() []string { return nil }
	}
	if s.clock == nil {
		s.clock = cache.RealClock{}
	}
	return s
}

// SetGateway swaps the persistence strategy. The identity coordinator calls
// this between epoch bumps.
func (s *Session) SetGateway(gw gateway.Gateway) {
	s.mu.Lock()
	s.gw = gw
	s.mu.Unlock()
}

// LoadHistory populates the transcript for the current identity epoch. A
// repeat call in the same epoch is a no-op, and a read failure degrades to
// an empty transcript.
func (s *Session) LoadHistory(ctx context.Context) {
	epoch := s.epoch()
	s.mu.Lock()
	loaded := s.loadedEpoch == epoch
	gw := s.gw
	s.mu.Unlock()
	if loaded {
		return
	}

	messages, err := gw.LoadTranscript(ctx)
	if err != nil {
		log.Printf("chat: history load failed, starting empty: %v", err)
		messages = nil
	}

	s.mu.Lock()
	if s.epoch() == epoch && s.loadedEpoch != epoch {
		s.messages = messages
		s.loadedEpoch = epoch
	}
	s.mu.Unlock()
}

// Send appends the question to the transcript, asks it over the currently
// selected documents and appends the reply. It blocks until the answer
// arrives, the question is stopped, or a newer question supersedes it.
func (s *Session) Send(ctx context.Context, content string) (*models.ChatMessage, error) {
	return s.ask(ctx, content, -1)
}

// Edit rewrites the user turn at index: the transcript is truncated to just
// before it, dropping any reply that followed, and the new content is sent
// as a fresh question.
func (s *Session) Edit(ctx context.Context, index int, content string) (*models.ChatMessage, error) {
	return s.ask(ctx, content, index)
}

func (s *Session) ask(ctx context.Context, content string, truncateTo int) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	ids := s.selected()
	if len(ids) == 0 {
		return nil, ErrNoSelection
	}

	s.mu.Lock()
	if truncateTo >= 0 {
		if truncateTo >= len(s.messages) || s.messages[truncateTo].Role != models.RoleUser {
			s.mu.Unlock()
			return nil, ErrInvalidEdit
		}
		s.messages = s.messages[:truncateTo]
	}
	if s.sending && s.cancel != nil {
		// The older question is aborted without a transcript marker; its
		// caller sees ErrSuperseded.
		s.cancel(ErrSuperseded)
	}
	s.generation++
	gen := s.generation

	history := sanitize(s.messages)
	s.messages = append(s.messages, models.ChatMessage{
		ID:        s.newID(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: s.now(),
	})
	reqCtx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	s.sending = true
	gw := s.gw
	snapshot := append([]models.ChatMessage(nil), s.messages...)
	s.mu.Unlock()

	s.persist(gw, snapshot)

	answer, err := s.api.Chat(reqCtx, s.token(), content, ids, history)

	s.mu.Lock()
	if s.generation != gen {
		// Cancel or a newer ask owns the transcript now; this result is
		// dropped even if it arrived intact.
		s.mu.Unlock()
		if cause := context.Cause(reqCtx); errors.Is(cause, ErrStopped) {
			return nil, ErrStopped
		}
		return nil, ErrSuperseded
	}
	s.sending = false
	s.cancel = nil
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller's own context died; nothing is recorded.
			s.mu.Unlock()
			return nil, err
		}
		s.messages = append(s.messages, models.ChatMessage{
			ID:        s.newID(),
			Role:      models.RoleAssistant,
			Content:   remote.Reason(err),
			IsError:   true,
			Timestamp: s.now(),
		})
		gw = s.gw
		snapshot = append([]models.ChatMessage(nil), s.messages...)
		s.mu.Unlock()
		s.persist(gw, snapshot)
		return nil, err
	}

	reply := models.ChatMessage{
		ID:        s.newID(),
		Role:      models.RoleAssistant,
		Content:   answer.Response,
		Sources:   answer.Sources,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, reply)
	gw = s.gw
	snapshot = append([]models.ChatMessage(nil), s.messages...)
	s.mu.Unlock()

	s.persist(gw, snapshot)
	return &reply, nil
}

// Cancel aborts the in-flight question, if any, and records the stop in the
// transcript. It reports whether a question was actually stopped.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if !s.sending || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	s.cancel(ErrStopped)
	s.cancel = nil
	s.sending = false
	s.generation++
	s.messages = append(s.messages, models.ChatMessage{
		ID:        s.newID(),
		Role:      models.RoleAssistant,
		Content:   stoppedText,
		IsStopped: true,
		Timestamp: s.now(),
	})
	gw := s.gw
	snapshot := append([]models.ChatMessage(nil), s.messages...)
	s.mu.Unlock()

	s.persist(gw, snapshot)
	return true
}

// Clear empties the transcript and persists the empty state.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.sending && s.cancel != nil {
		s.cancel(ErrSuperseded)
		s.cancel = nil
		s.sending = false
	}
	s.generation++
	s.messages = nil
	gw := s.gw
	s.mu.Unlock()
	return gw.SaveTranscript(ctx, []models.ChatMessage{})
}

// Messages returns a copy of the transcript in display order.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

// Sending reports whether a question is currently in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Reset drops all in-memory state so the next LoadHistory repopulates it
// for the new identity epoch. An in-flight question is abandoned.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.sending && s.cancel != nil {
		s.cancel(ErrSuperseded)
	}
	s.cancel = nil
	s.sending = false
	s.generation++
	s.messages = nil
	s.loadedEpoch = -1
	s.mu.Unlock()
}

// sanitize returns the turns worth replaying to the answering endpoint:
// user and assistant entries with content, minus error and stop markers.
func sanitize(messages []models.ChatMessage) []models.ChatMessage {
	clean := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsError || m.IsStopped {
			continue
		}
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		clean = append(clean, m)
	}
	return clean
}

func (s *Session) persist(gw gateway.Gateway, messages []models.ChatMessage) {
	if err := gw.SaveTranscript(context.Background(), messages); err != nil {
		log.Printf("chat: transcript write-through failed: %v", err)
	}
}

func (s *Session) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}
