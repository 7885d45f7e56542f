package devserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thanyathonk/read-pdf-anything/internal/models"
)

const (
	maxUploadBytes = 10 << 20
	// bytesPerChunk fakes the ingestion pipeline's chunking so uploads
	// report a plausible chunkCount.
	bytesPerChunk = 500
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if !strings.Contains(req.Email, "@") || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "A valid email and a name are required"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Password must be at least 6 characters"})
		return
	}
	user, err := s.store.CreateUser(c.Request.Context(), req.Email, req.Name, req.Password)
	if errors.Is(err, ErrEmailTaken) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.issueSession(c, user, "Registration successful")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	user, err := s.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect email or password"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.issueSession(c, user, "Login successful")
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

// googleLogin cannot verify a real ID token. It derives a stable account from
// the credential text so repeated sign-ins land on the same user.
func (s *Server) googleLogin(c *gin.Context) {
	var req googleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Credential == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "A Google credential is required"})
		return
	}
	tag := hashPassword(req.Credential)[:12]
	user, err := s.store.EnsureGoogleUser(c.Request.Context(), tag+"@google.dev", "Google User", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	s.issueSession(c, user, "Login successful")
}

func (s *Server) issueSession(c *gin.Context, user *models.User, message string) {
	token, err := s.store.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data": gin.H{
			"access_token": token,
			"token_type":   "bearer",
			"user":         user,
		},
	})
}

func (s *Server) me(c *gin.Context) {
	user, err := s.store.UserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid or expired token"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) logout(c *gin.Context) {
	if err := s.store.RevokeToken(c.Request.Context(), currentToken(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

type migrateRequest struct {
	PDFIDs       []string             `json:"pdf_ids"`
	ChatMessages []models.ChatMessage `json:"chat_messages"`
}

func (s *Server) migrateGuestData(c *gin.Context) {
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	userID := currentUserID(c)
	claimed, err := s.store.ClaimGuestPDFs(c.Request.Context(), userID, req.PDFIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	appended, err := s.store.AppendChatHistory(c.Request.Context(), userID, req.ChatMessages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"migrated": gin.H{
			"pdfs_count":     claimed,
			"messages_count": appended,
		},
	})
}

func (s *Server) chatHistory(c *gin.Context) {
	history, err := s.store.ChatHistory(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chat_history": history, "count": len(history)})
}

// saveChatHistory takes the transcript as a bare JSON array and replaces the
// stored one wholesale.
func (s *Server) saveChatHistory(c *gin.Context) {
	var messages []models.ChatMessage
	if err := c.ShouldBindJSON(&messages); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if err := s.store.SaveChatHistory(c.Request.Context(), currentUserID(c), messages); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat history saved", "count": len(messages)})
}

func (s *Server) uploadPDF(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "A PDF file is required"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Only PDF files are allowed"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "File size exceeds maximum limit of 10MB"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	defer f.Close()
	// The development server keeps no file bytes, only the metadata the
	// client renders.
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	rec := pdfRecord{
		ID:         uuid.NewString(),
		OwnerID:    currentUserID(c),
		Filename:   header.Filename,
		Size:       size,
		ChunkCount: int(size/bytesPerChunk) + 1,
		UploadedAt: time.Now().UnixMilli(),
	}
	if err := s.store.InsertPDF(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"pdfId":      rec.ID,
		"filename":   rec.Filename,
		"size":       rec.Size,
		"chunkCount": rec.ChunkCount,
		"message":    "PDF processed successfully",
	})
}

func (s *Server) listPDFs(c *gin.Context) {
	recs, err := s.store.ListPDFs(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	docs := make([]models.Document, len(recs))
	for i := range recs {
		docs[i] = recs[i].info()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pdfs": docs, "count": len(docs)})
}

func (s *Server) pdfInfo(c *gin.Context) {
	rec, err := s.store.PDFByID(c.Request.Context(), currentUserID(c), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "PDF not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pdf": rec.info()})
}

type renameRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) renamePDF(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "A filename is required"})
		return
	}
	err := s.store.RenamePDF(c.Request.Context(), currentUserID(c), c.Param("id"), name)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "PDF not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "PDF renamed successfully"})
}

func (s *Server) deletePDF(c *gin.Context) {
	err := s.store.DeletePDF(c.Request.Context(), currentUserID(c), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "PDF not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "PDF deleted successfully"})
}

type chatRequest struct {
	Message     string               `json:"message"`
	PDFIDs      []string             `json:"pdfIds"`
	ChatHistory []models.ChatMessage `json:"chatHistory"`
}

func (s *Server) chatPDF(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "A message is required"})
		return
	}
	if len(req.PDFIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No documents selected"})
		return
	}

	owner := currentUserID(c)
	var recs []pdfRecord
	for _, id := range req.PDFIDs {
		rec, err := s.store.PDFByID(c.Request.Context(), owner, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		recs = append(recs, *rec)
	}
	if len(recs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No matching documents found"})
		return
	}
	c.JSON(http.StatusOK, cannedAnswer(req.Message, req.ChatHistory, recs))
}

// cannedAnswer fabricates a grounded-looking reply without a language model.
func cannedAnswer(message string, history []models.ChatMessage, recs []pdfRecord) models.Answer {
	names := make([]string, len(recs))
	sources := make([]models.Source, len(recs))
	for i, rec := range recs {
		names[i] = rec.Filename
		sources[i] = models.Source{
			PDFID:   rec.ID,
			PDFName: rec.Filename,
			Pages:   []int{1},
			Types:   []string{"text"},
		}
	}
	response := fmt.Sprintf("Development answer to %q from %s.", message, strings.Join(names, ", "))
	if n := len(history); n > 0 {
		response += fmt.Sprintf(" The conversation has %d earlier turns.", n)
	}
	return models.Answer{Response: response, Sources: sources}
}
