package models

import "time"

const (
	UploadPending  = "pending"
	UploadConsumed = "consumed"
)

// Upload is a document stored on disk waiting for the confirm action.
type Upload struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"-"`
	Kind       string    `json:"kind"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
