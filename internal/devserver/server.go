// Package devserver is a self-contained stand-in for the ReadPDF API server.
// It speaks the same wire contract over a local SQLite database and answers
// chat questions with canned text, so the client can be exercised end to end
// without the real ingestion and retrieval pipeline.
package devserver

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Options configures a development server instance.
type Options struct {
	// DSN is the SQLite database location. Empty means ":memory:".
	DSN string
	// TokenTTL bounds how long issued bearer tokens stay valid.
	// Zero means 7 days, matching the real server's session lifetime.
	TokenTTL time.Duration
	// RequestLog attaches gin's request logger, for running standalone.
	RequestLog bool
}

// Server owns the store behind the development API.
type Server struct {
	store      *Store
	requestLog bool
}

// New opens the backing store and returns a server ready to route.
func New(opts Options) (*Server, error) {
	store, err := OpenStore(opts.DSN, opts.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &Server{store: store, requestLog: opts.RequestLog}, nil
}

// Close releases the backing store.
func (s *Server) Close() error {
	return s.store.Close()
}

// Router builds the HTTP surface. Rename requires a session; upload, list,
// delete and chat accept guests.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.requestLog {
		r.Use(gin.Logger())
	}

	r.GET("/health", s.health)

	auth := r.Group("/api/auth")
	{
		auth.POST("/register", s.register)
		auth.POST("/login", s.login)
		auth.POST("/google", s.googleLogin)

		session := auth.Group("", requireAuth(s.store))
		{
			session.GET("/me", s.me)
			session.POST("/logout", s.logout)
			session.POST("/migrate-guest-data", s.migrateGuestData)
			session.GET("/chat/history", s.chatHistory)
			session.POST("/chat/history", s.saveChatHistory)
		}
	}

	pdf := r.Group("/api/pdf", optionalAuth(s.store))
	{
		pdf.POST("/upload", s.uploadPDF)
		pdf.GET("/all", s.listPDFs)
		pdf.GET("/:id", s.pdfInfo)
		pdf.DELETE("/:id", s.deletePDF)
	}
	r.PATCH("/api/pdf/:id/name", requireAuth(s.store), s.renamePDF)

	r.POST("/api/chat/pdf", optionalAuth(s.store), s.chatPDF)

	return r
}
