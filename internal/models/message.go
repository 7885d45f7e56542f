package models

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single transcript entry. IsError and IsStopped mark
// display-only entries that never travel back to the answering endpoint.
type ChatMessage struct {
	ID        string   `json:"id,omitempty"`
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	IsError   bool     `json:"isError,omitempty"`
	IsStopped bool     `json:"isStopped,omitempty"`
}

// Source points at the document passages an answer drew from.
type Source struct {
	PDFID   string   `json:"pdfId"`
	PDFName string   `json:"pdfName"`
	Pages   []int    `json:"pages,omitempty"`
	Types   []string `json:"types,omitempty"`
}

// Answer is the reply produced for one question.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources,omitempty"`
}
