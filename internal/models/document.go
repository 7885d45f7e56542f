package models

// UploadStatus is the lifecycle state of one queued upload.
type UploadStatus string

const (
	UploadQueued    UploadStatus = "queued"
	UploadInFlight  UploadStatus = "uploading"
	UploadSucceeded UploadStatus = "success"
	UploadFailed    UploadStatus = "failure"
)

// Document is one processed PDF as the client sees it. UploadedAt is the
// server's millisecond timestamp; Selected is purely client-side.
type Document struct {
	ID         string `json:"id"`
	Name       string `json:"filename"`
	SizeBytes  int64  `json:"size"`
	ChunkCount int    `json:"chunkCount"`
	UploadedAt int64  `json:"uploadedAt"`
	Selected   bool   `json:"selected"`
}

// UploadTask tracks one file moving through the upload queue. TempID is a
// client-generated id and is never promoted to a Document ID.
type UploadTask struct {
	TempID    string       `json:"tempId"`
	Name      string       `json:"filename"`
	SizeBytes int64        `json:"size"`
	Progress  int          `json:"progress"`
	Status    UploadStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
}
