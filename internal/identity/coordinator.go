// Package identity tracks who the client is acting as and drives every
// transition between anonymous and authenticated mode: session restore,
// login, logout, guest-data migration and the epoch counter that scopes
// component state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/thanyathonk/read-pdf-anything/internal/cache"
	"github.com/thanyathonk/read-pdf-anything/internal/gateway"
	"github.com/thanyathonk/read-pdf-anything/internal/models"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

// tokenFile is the session token's filename inside the state directory.
const tokenFile = "token"

// Consumer is a component whose state is scoped to one identity epoch. The
// coordinator re-points it at the new gateway and resets it on every
// transition.
type Consumer interface {
	SetGateway(gw gateway.Gateway)
	Reset()
}

// Coordinator owns the active identity. It starts anonymous; Restore,
// Login, Register, GoogleLogin and Logout move it between modes, bumping
// the epoch on every transition so stale asynchronous work can recognise
// itself.
type Coordinator struct {
	api   *remote.Client
	store *cache.Store
	path  string

	mu        sync.RWMutex
	identity  models.Identity
	epoch     int64
	migrated  int64
	consumers []Consumer
	gw        gateway.Gateway
}

// NewCoordinator builds an anonymous coordinator. stateDir holds the
// session token file between runs.
func NewCoordinator(api *remote.Client, store *cache.Store, stateDir string) *Coordinator {
	return &Coordinator{
		api:      api,
		store:    store,
		path:     filepath.Join(stateDir, tokenFile),
		migrated: -1,
		gw:       gateway.NewGuest(store),
	}
}

// Attach registers components that follow the identity epoch and points
// them at the current gateway.
func (c *Coordinator) Attach(consumers ...Consumer) {
	c.mu.Lock()
	gw := c.gw
	c.consumers = append(c.consumers, consumers...)
	c.mu.Unlock()
	for _, consumer := range consumers {
		consumer.SetGateway(gw)
	}
}

// Current returns the active identity.
func (c *Coordinator) Current() models.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Token returns the bearer token, empty when anonymous.
func (c *Coordinator) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.Token
}

// Epoch returns the identity epoch counter.
func (c *Coordinator) Epoch() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Gateway returns the persistence gateway for the active identity.
func (c *Coordinator) Gateway() gateway.Gateway {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gw
}

// Restore rebuilds the session from the stored token. A missing, stale or
// unverifiable token leaves the client anonymous and drops the file.
func (c *Coordinator) Restore(ctx context.Context) error {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil
	}

	user, err := c.api.Me(ctx, token)
	if err != nil {
		log.Printf("identity: stored session rejected, starting anonymous: %v", err)
		c.dropTokenFile()
		return nil
	}
	c.become(models.Identity{Token: token, User: user})
	return nil
}

// Login authenticates a password account and migrates any guest data into
// it.
func (c *Coordinator) Login(ctx context.Context, email, password string) (*models.User, error) {
	res, err := c.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, res)
}

// Register creates an account and signs it in.
func (c *Coordinator) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	res, err := c.api.Register(ctx, email, name, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, res)
}

// GoogleLogin exchanges a Google ID token for a session.
func (c *Coordinator) GoogleLogin(ctx context.Context, credential string) (*models.User, error) {
	res, err := c.api.GoogleLogin(ctx, credential)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, res)
}

func (c *Coordinator) establish(ctx context.Context, res *remote.AuthResult) (*models.User, error) {
	if err := c.saveToken(res.Token); err != nil {
		return nil, err
	}
	user := res.User
	c.become(models.Identity{Token: res.Token, User: &user})
	if err := c.MigrateGuestData(ctx); err != nil {
		// Migration is best-effort: the login stands and the guest cache
		// stays for the next attempt.
		log.Printf("identity: guest data migration failed: %v", err)
	}
	return &user, nil
}

// Logout ends the session server-side, drops the token file, purges every
// guest-scoped cache entry and returns the client to anonymous.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.RLock()
	token := c.identity.Token
	c.mu.RUnlock()

	if token != "" {
		if err := c.api.Logout(ctx, token); err != nil {
			log.Printf("identity: server logout failed: %v", err)
		}
	}
	c.dropTokenFile()
	if err := c.store.RemoveAll(ctx, gateway.GuestKeys()...); err != nil {
		return fmt.Errorf("purge guest cache: %w", err)
	}
	c.become(models.Identity{})
	return nil
}

// MigrateGuestData copies guest-cached document ids and transcript into the
// account, at most once per login epoch. The guest cache is purged only
// after the server confirms the merge.
func (c *Coordinator) MigrateGuestData(ctx context.Context) error {
	c.mu.Lock()
	if !c.identity.IsAuthenticated() || c.migrated == c.epoch {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	token := c.identity.Token
	c.mu.Unlock()

	var pdfIDs []string
	if _, err := c.store.Get(ctx, gateway.KeyGuestPDFIDs, &pdfIDs); err != nil {
		return fmt.Errorf("read guest pdf ids: %w", err)
	}
	var messages []models.ChatMessage
	if _, err := c.store.Get(ctx, gateway.KeyGuestChatHistory, &messages); err != nil {
		return fmt.Errorf("read guest transcript: %w", err)
	}
	if len(pdfIDs) == 0 && len(messages) == 0 {
		c.markMigrated(epoch)
		return nil
	}

	summary, err := c.api.MigrateGuestData(ctx, token, pdfIDs, messages)
	if err != nil {
		return err
	}
	log.Printf("identity: migrated %d documents and %d messages", summary.PDFs, summary.Messages)

	c.markMigrated(epoch)
	if err := c.store.RemoveAll(ctx, gateway.GuestKeys()...); err != nil {
		log.Printf("identity: purge guest cache after migration: %v", err)
	}
	return nil
}

// become installs id as the active identity: epoch bump, fresh gateway,
// consumer reset. Guest cache keys are untouched here; Logout and a
// confirmed migration are the only purge points.
func (c *Coordinator) become(id models.Identity) {
	c.mu.Lock()
	c.identity = id
	c.epoch++
	if id.IsAuthenticated() {
		c.gw = gateway.NewRemote(c.api, id.Token, c.store)
	} else {
		c.gw = gateway.NewGuest(c.store)
	}
	gw := c.gw
	consumers := append([]Consumer(nil), c.consumers...)
	c.mu.Unlock()

	for _, consumer := range consumers {
		consumer.SetGateway(gw)
		consumer.Reset()
	}
}

func (c *Coordinator) markMigrated(epoch int64) {
	c.mu.Lock()
	if c.epoch == epoch {
		c.migrated = epoch
	}
	c.mu.Unlock()
}

func (c *Coordinator) saveToken(token string) error {
	if err := os.WriteFile(c.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	return nil
}

func (c *Coordinator) dropTokenFile() {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("identity: drop session token: %v", err)
	}
}
