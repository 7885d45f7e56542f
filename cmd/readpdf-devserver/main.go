// Command readpdf-devserver runs a local stand-in for the ReadPDF API, so the
// client can be tried end to end without the real ingestion pipeline.
package main

import (
	"log"
	"os"
	"time"

	"github.com/thanyathonk/read-pdf-anything/internal/devserver"
)

func main() {
	dsn := os.Getenv("READPDF_DEV_DB")
	if dsn == "" {
		dsn = ":memory:"
	}
	var ttl time.Duration
	if raw := os.Getenv("READPDF_DEV_TOKEN_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse READPDF_DEV_TOKEN_TTL: %v", err)
		}
		ttl = parsed
	}

	srv, err := devserver.New(devserver.Options{DSN: dsn, TokenTTL: ttl, RequestLog: true})
	if err != nil {
		log.Fatalf("start devserver: %v", err)
	}
	defer srv.Close()

	addr := os.Getenv("READPDF_DEV_ADDR")
	if addr == "" {
		addr = ":8000"
	}
	log.Printf("readpdf-devserver listening on %s (db %s)", addr, dsn)
	if err := srv.Router().Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
