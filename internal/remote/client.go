// Package remote is the typed client for the ReadPDF API server. Every call
// takes the bearer token explicitly; an empty token means the caller is a
// guest, which the server accepts on the pdf and chat endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/thanyathonk/read-pdf-anything/internal/models"
)

// APIError carries the status code and detail message of a failed call.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// StatusOf returns the HTTP status behind err when it wraps an APIError,
// zero otherwise.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Reason returns the server's own message when err carries one, falling
// back to the plain error text. UI surfaces show this string directly.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

// AuthResult is a successful login or registration.
type AuthResult struct {
	Token string
	User  models.User
}

// MigrationSummary reports what migrate-guest-data merged server-side.
type MigrationSummary struct {
	PDFs     int
	Messages int
}

// Client calls the ReadPDF API server.
type Client struct {
	baseURL string
	http    *http.Client
	long    *http.Client
}

// NewClient builds a client for the API at baseURL. timeout bounds every call
// except Chat and UploadPDF, which run server-side processing of unbounded
// duration and are governed by their contexts instead.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		long:    &http.Client{},
	}
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		AccessToken string      `json:"access_token"`
		TokenType   string      `json:"token_type"`
		User        models.User `json:"user"`
	} `json:"data"`
}

func (r *authResponse) result() (*AuthResult, error) {
	if r.Data == nil || r.Data.AccessToken == "" {
		return nil, fmt.Errorf("auth response missing token: %s", r.Message)
	}
	return &AuthResult{Token: r.Data.AccessToken, User: r.Data.User}, nil
}

// Register creates a password account and returns its first session.
func (c *Client) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "name": name, "password": password}
	var resp authResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/register", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

// Login authenticates a password account.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var resp authResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/login", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

// GoogleLogin exchanges a Google ID token for a session.
func (c *Client) GoogleLogin(ctx context.Context, credential string) (*AuthResult, error) {
	body := map[string]string{"credential": credential}
	var resp authResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/google", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

// Me returns the account behind token.
func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, c.http, http.MethodGet, "/api/auth/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout tells the server the session ended. Token invalidation is
// client-side, so failures only matter to the caller's logging.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, c.http, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// MigrateGuestData merges guest documents and chat history into the account
// behind token.
func (c *Client) MigrateGuestData(ctx context.Context, token string, pdfIDs []string, messages []models.ChatMessage) (*MigrationSummary, error) {
	if pdfIDs == nil {
		pdfIDs = []string{}
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	body := struct {
		PDFIDs       []string             `json:"pdf_ids"`
		ChatMessages []models.ChatMessage `json:"chat_messages"`
	}{PDFIDs: pdfIDs, ChatMessages: messages}

	var resp struct {
		Success  bool `json:"success"`
		Migrated struct {
			PDFs     int `json:"pdfs_count"`
			Messages int `json:"messages_count"`
		} `json:"migrated"`
	}
	if err := c.do(ctx, c.http, http.MethodPost, "/api/auth/migrate-guest-data", token, body, &resp); err != nil {
		return nil, err
	}
	return &MigrationSummary{PDFs: resp.Migrated.PDFs, Messages: resp.Migrated.Messages}, nil
}

// ChatHistory returns the transcript stored on the account behind token.
func (c *Client) ChatHistory(ctx context.Context, token string) ([]models.ChatMessage, error) {
	var resp struct {
		Success bool                 `json:"success"`
		History []models.ChatMessage `json:"chat_history"`
		Count   int                  `json:"count"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/api/auth/chat/history", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// SaveChatHistory replaces the transcript stored on the account behind token.
func (c *Client) SaveChatHistory(ctx context.Context, token string, messages []models.ChatMessage) error {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return c.do(ctx, c.http, http.MethodPost, "/api/auth/chat/history", token, messages, nil)
}

// ListPDFs returns the caller's documents. UploadedAt comes from the server;
// Selected is left false for the library to decide.
func (c *Client) ListPDFs(ctx context.Context, token string) ([]models.Document, error) {
	var resp struct {
		Success bool              `json:"success"`
		PDFs    []models.Document `json:"pdfs"`
		Count   int               `json:"count"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/api/pdf/all", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.PDFs, nil
}

// PDFInfo returns one document by id.
func (c *Client) PDFInfo(ctx context.Context, token, id string) (*models.Document, error) {
	var resp struct {
		Success bool            `json:"success"`
		PDF     models.Document `json:"pdf"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/api/pdf/"+id, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.PDF, nil
}

// UploadPDF sends one file for processing. The response carries no upload
// timestamp, so Document.UploadedAt is zero and the caller stamps it.
func (c *Client) UploadPDF(ctx context.Context, token, filename string, data io.Reader) (*models.Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("read upload payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pdf/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.long.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var payload struct {
		Success    bool   `json:"success"`
		PDFID      string `json:"pdfId"`
		Filename   string `json:"filename"`
		Size       int64  `json:"size"`
		ChunkCount int    `json:"chunkCount"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &models.Document{
		ID:         payload.PDFID,
		Name:       payload.Filename,
		SizeBytes:  payload.Size,
		ChunkCount: payload.ChunkCount,
	}, nil
}

// RenamePDF updates a document's display name. The server restricts this to
// authenticated callers.
func (c *Client) RenamePDF(ctx context.Context, token, id, filename string) error {
	body := map[string]string{"filename": filename}
	return c.do(ctx, c.http, http.MethodPatch, "/api/pdf/"+id+"/name", token, body, nil)
}

// DeletePDF removes a document and its processed chunks.
func (c *Client) DeletePDF(ctx context.Context, token, id string) error {
	return c.do(ctx, c.http, http.MethodDelete, "/api/pdf/"+id, token, nil, nil)
}

// Chat asks a question over the selected documents. The call runs until the
// server answers or ctx is canceled.
func (c *Client) Chat(ctx context.Context, token, message string, pdfIDs []string, history []models.ChatMessage) (*models.Answer, error) {
	body := struct {
		Message     string               `json:"message"`
		PDFIDs      []string             `json:"pdfIds"`
		ChatHistory []models.ChatMessage `json:"chatHistory,omitempty"`
	}{Message: message, PDFIDs: pdfIDs, ChatHistory: history}

	var answer models.Answer
	if err := c.do(ctx, c.long, http.MethodPost, "/api/chat/pdf", token, body, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, c.http, http.MethodGet, "/health", "", nil, nil)
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path, token string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeAPIError extracts the {"detail": ...} body the server attaches to
// failures. Validation failures carry a structured detail, which is kept as
// raw JSON text.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	detail := strings.TrimSpace(string(body))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			detail = text
		} else {
			detail = string(payload.Detail)
		}
	}
	if detail == "" {
		detail = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: detail}
}
