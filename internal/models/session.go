package models

import "time"

// Page identifies which screen a browser session is on.
type Page string

const (
	PageHome Page = "home"
	PageChat Page = "chat"
)

// Session is one browser conversation about a single property document.
type Session struct {
	ID           int64     `json:"id"`
	Page         Page      `json:"page"`
	DocumentName string    `json:"document_name,omitempty"`
	DocumentText string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InChat reports whether the document has been ingested and chatting is allowed.
func (s *Session) InChat() bool {
	return s != nil && s.Page == PageChat
}
