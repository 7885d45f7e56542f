package models

// RejectedFile records why a file never entered the upload queue.
type RejectedFile struct {
	Name   string `json:"filename"`
	Reason string `json:"reason"`
}

// Notification summarises the outcome of an upload batch for the UI layer.
type Notification struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Rejected  []RejectedFile `json:"rejected,omitempty"`
}
