package devserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thanyathonk/read-pdf-anything/internal/models"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newServer starts an in-memory instance and returns the typed client the
// application itself uses, so these tests double as wire-contract checks.
func newServer(t *testing.T) (*Server, *remote.Client) {
	t.Helper()
	srv, err := New(Options{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, remote.NewClient(ts.URL, 2*time.Second)
}

func uploadPDF(t *testing.T, client *remote.Client, token, name string, size int) *models.Document {
	t.Helper()
	doc, err := client.UploadPDF(context.Background(), token, name, bytes.NewReader(bytes.Repeat([]byte("x"), size)))
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return doc
}

func TestHealth(t *testing.T) {
	_, client := newServer(t)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	res, err := client.Register(ctx, "Ada@Example.COM", "Ada", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Token == "" {
		t.Fatal("register issued no token")
	}
	if res.User.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", res.User.Email)
	}
	if res.User.Provider != models.ProviderLocal {
		t.Fatalf("provider = %q", res.User.Provider)
	}
	if res.User.CreatedAt == "" {
		t.Fatal("created_at missing")
	}

	if _, err := client.Register(ctx, "ada@example.com", "Ada", "secret123"); remote.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("duplicate register: %v", err)
	} else if remote.Reason(err) != "Email already registered" {
		t.Fatalf("duplicate register reason: %q", remote.Reason(err))
	}

	if _, err := client.Login(ctx, "ada@example.com", "wrong"); remote.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("bad password: %v", err)
	}

	login, err := client.Login(ctx, "ada@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	me, err := client.Me(ctx, login.Token)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ID != res.User.ID {
		t.Fatalf("me returned user %q, registered %q", me.ID, res.User.ID)
	}

	if err := client.Logout(ctx, login.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := client.Me(ctx, login.Token); remote.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("me after logout: %v", err)
	}
	// Logout revokes one session, not the account's other tokens.
	if _, err := client.Me(ctx, res.Token); err != nil {
		t.Fatalf("me with first session: %v", err)
	}
}

func TestGoogleLoginIsStable(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	first, err := client.GoogleLogin(ctx, "opaque-id-token")
	if err != nil {
		t.Fatalf("google login: %v", err)
	}
	if first.User.Provider != models.ProviderGoogle {
		t.Fatalf("provider = %q", first.User.Provider)
	}
	again, err := client.GoogleLogin(ctx, "opaque-id-token")
	if err != nil {
		t.Fatalf("repeat google login: %v", err)
	}
	if again.User.ID != first.User.ID {
		t.Fatal("same credential produced a different account")
	}
	other, err := client.GoogleLogin(ctx, "another-token")
	if err != nil {
		t.Fatalf("other google login: %v", err)
	}
	if other.User.ID == first.User.ID {
		t.Fatal("different credentials share an account")
	}
}

func TestGuestUploadLifecycle(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	doc := uploadPDF(t, client, "", "notes.pdf", 1200)
	if doc.Name != "notes.pdf" || doc.SizeBytes != 1200 {
		t.Fatalf("upload echoed %q/%d", doc.Name, doc.SizeBytes)
	}
	if doc.ChunkCount != 3 {
		t.Fatalf("chunkCount = %d, want 3", doc.ChunkCount)
	}

	if _, err := client.UploadPDF(ctx, "", "notes.txt", strings.NewReader("nope")); remote.Reason(err) != "Only PDF files are allowed" {
		t.Fatalf("txt upload: %v", err)
	}
	if _, err := client.UploadPDF(ctx, "", "big.pdf", bytes.NewReader(make([]byte, maxUploadBytes+1))); remote.Reason(err) != "File size exceeds maximum limit of 10MB" {
		t.Fatalf("oversize upload: %v", err)
	}

	docs, err := client.ListPDFs(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("guest list = %+v", docs)
	}
	if docs[0].UploadedAt == 0 {
		t.Fatal("list dropped uploadedAt")
	}

	if err := client.RenamePDF(ctx, "", doc.ID, "renamed.pdf"); remote.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("guest rename: %v", err)
	}

	if err := client.DeletePDF(ctx, "", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if docs, _ := client.ListPDFs(ctx, ""); len(docs) != 0 {
		t.Fatalf("list after delete = %+v", docs)
	}
	if err := client.DeletePDF(ctx, "", doc.ID); remote.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("second delete: %v", err)
	}
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	reg, err := client.Register(ctx, "owner@example.com", "Owner", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	doc := uploadPDF(t, client, reg.Token, "draft.pdf", 800)

	if guestDocs, _ := client.ListPDFs(ctx, ""); len(guestDocs) != 0 {
		t.Fatalf("guest sees owned documents: %+v", guestDocs)
	}
	if _, err := client.PDFInfo(ctx, "", doc.ID); remote.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("guest info on owned doc: %v", err)
	}

	if err := client.RenamePDF(ctx, reg.Token, doc.ID, "annual-report.pdf"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	info, err := client.PDFInfo(ctx, reg.Token, doc.ID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Name != "annual-report.pdf" {
		t.Fatalf("rename not applied: %q", info.Name)
	}
	if err := client.RenamePDF(ctx, reg.Token, "ghost", "x.pdf"); remote.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("rename unknown id: %v", err)
	}
}

func TestMigrationClaimsGuestData(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	d1 := uploadPDF(t, client, "", "one.pdf", 600)
	d2 := uploadPDF(t, client, "", "two.pdf", 700)

	reg, err := client.Register(ctx, "mover@example.com", "Mover", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	}
	sum, err := client.MigrateGuestData(ctx, reg.Token, []string{d1.ID, d2.ID, "ghost"}, msgs)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if sum.PDFs != 2 || sum.Messages != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	owned, err := client.ListPDFs(ctx, reg.Token)
	if err != nil {
		t.Fatalf("owned list: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("owned list = %+v", owned)
	}
	if guestDocs, _ := client.ListPDFs(ctx, ""); len(guestDocs) != 0 {
		t.Fatalf("guest pool kept documents: %+v", guestDocs)
	}
	history, err := client.ChatHistory(ctx, reg.Token)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "q" {
		t.Fatalf("history = %+v", history)
	}

	// Already-claimed documents do not count twice; messages append.
	sum, err = client.MigrateGuestData(ctx, reg.Token, []string{d1.ID, d2.ID}, msgs)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if sum.PDFs != 0 || sum.Messages != 2 {
		t.Fatalf("second summary = %+v", sum)
	}
	if history, _ := client.ChatHistory(ctx, reg.Token); len(history) != 4 {
		t.Fatalf("history after second migrate = %d messages", len(history))
	}
}

func TestChatAnswersFromSelection(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	doc := uploadPDF(t, client, "", "paper.pdf", 900)
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	ans, err := client.Chat(ctx, "", "What is chapter 2 about?", []string{doc.ID}, history)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(ans.Response, `"What is chapter 2 about?"`) {
		t.Fatalf("answer lost the question: %q", ans.Response)
	}
	if !strings.Contains(ans.Response, "paper.pdf") {
		t.Fatalf("answer lost the document: %q", ans.Response)
	}
	if !strings.Contains(ans.Response, "2 earlier turns") {
		t.Fatalf("answer ignored history: %q", ans.Response)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].PDFID != doc.ID || ans.Sources[0].PDFName != "paper.pdf" {
		t.Fatalf("sources = %+v", ans.Sources)
	}

	if _, err := client.Chat(ctx, "", "anything", nil, nil); remote.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("chat without selection: %v", err)
	}
	if _, err := client.Chat(ctx, "", "anything", []string{"ghost"}, nil); remote.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("chat over unknown ids: %v", err)
	}
	if _, err := client.Chat(ctx, "", "   ", []string{doc.ID}, nil); remote.StatusOf(err) != http.StatusUnprocessableEntity {
		t.Fatalf("blank question: %v", err)
	}
}

func TestChatHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newServer(t)

	reg, err := client.Register(ctx, "historian@example.com", "Historian", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	msgs := []models.ChatMessage{
		{ID: "m1", Role: models.RoleUser, Content: "q", Timestamp: "2026-08-23T10:00:00"},
		{ID: "m2", Role: models.RoleAssistant, Content: "a", Timestamp: "2026-08-23T10:00:05"},
	}
	if err := client.SaveChatHistory(ctx, reg.Token, msgs); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, err := client.ChatHistory(ctx, reg.Token)
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v", history)
	}
	// Timestamps are opaque strings and must survive untouched.
	if history[0].Timestamp != "2026-08-23T10:00:00" || history[1].Role != models.RoleAssistant {
		t.Fatalf("history mangled: %+v", history)
	}

	if _, err := client.ChatHistory(ctx, ""); remote.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("guest history: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ctx := context.Background()
	srv, client := newServer(t)

	reg, err := client.Register(ctx, "sleepy@example.com", "Sleepy", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := srv.store.db.Exec(`UPDATE user_tokens SET expires_at = ?`, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("backdate token: %v", err)
	}
	if _, err := client.Me(ctx, reg.Token); remote.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("me with expired token: %v", err)
	}
	var n int
	if err := srv.store.db.QueryRow(`SELECT COUNT(*) FROM user_tokens`).Scan(&n); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired token not pruned, %d rows left", n)
	}
}
