package assistant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrWrongPage is returned when an action is not allowed on the session's current page.
	ErrWrongPage = errors.New("action not allowed on the current page")
	// ErrNoUpload is returned by Start when no document is waiting to be ingested.
	ErrNoUpload = errors.New("upload a document first")
	// ErrEmptyMessage is returned for blank chat messages.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrExtraction wraps failures to read text out of an uploaded document.
	ErrExtraction = errors.New("could not read the uploaded document")
)

const DefaultUploadTTL = 24 * time.Hour

// Extractor reads the plain text of a stored upload.
type Extractor interface {
	LoadFile(ctx context.Context, path string) (string, error)
}

// Service persists sessions, turns and pending uploads and drives the home to chat transition.
type Service struct {
	db        *sql.DB
	extractor Extractor
	log       *zap.Logger
	uploadTTL time.Duration
}

// NewService builds a new assistant service.
func NewService(db *sql.DB, extractor Extractor, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, extractor: extractor, log: log, uploadTTL: DefaultUploadTTL}
}

// WithUploadTTL sets how long a pending upload is kept before the cleaner removes it.
func (s *Service) WithUploadTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.uploadTTL = ttl
	}
	return s
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
