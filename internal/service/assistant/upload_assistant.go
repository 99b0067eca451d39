package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"estatechat/internal/models"

	"go.uber.org/zap"
)

// RecordUpload registers a stored file as the session's pending document,
// replacing any earlier pending upload.
func (s *Service) RecordUpload(ctx context.Context, upload models.Upload) (saved *models.Upload, err error) {
	now := time.Now().UTC()
	upload.Status = models.UploadPending
	upload.CreatedAt = now
	upload.ExpiresAt = now.Add(s.uploadTTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var page models.Page
	err = tx.QueryRowContext(ctx, `SELECT page FROM sessions WHERE id = ?`, upload.SessionID).Scan(&page)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if page != models.PageHome {
		return nil, ErrWrongPage
	}

	var replaced []string
	rows, err := tx.QueryContext(ctx,
		`SELECT stored_path FROM uploads WHERE session_id = ? AND status = ?`, upload.SessionID, models.UploadPending)
	if err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", err)
	}
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		replaced = append(replaced, p)
	}
	rows.Close()
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM uploads WHERE session_id = ? AND status = ?`, upload.SessionID, models.UploadPending); err != nil {
		return nil, fmt.Errorf("drop pending uploads: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO uploads (session_id, file_name, stored_path, kind, size, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		upload.SessionID, upload.FileName, upload.StoredPath, upload.Kind, upload.Size, upload.Status, upload.CreatedAt, upload.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}
	if upload.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("upload id: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upload: %w", err)
	}

	for _, p := range replaced {
		if p != upload.StoredPath {
			s.removeFile(p)
		}
	}
	return &upload, nil
}

// PendingUpload returns the document waiting for confirmation, or ErrNoUpload.
func (s *Service) PendingUpload(ctx context.Context, sessionID int64) (*models.Upload, error) {
	var u models.Upload
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, file_name, stored_path, kind, size, status, created_at, expires_at
		 FROM uploads WHERE session_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		sessionID, models.UploadPending,
	).Scan(&u.ID, &u.SessionID, &u.FileName, &u.StoredPath, &u.Kind, &u.Size, &u.Status, &u.CreatedAt, &u.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoUpload
		}
		return nil, fmt.Errorf("get pending upload: %w", err)
	}
	return &u, nil
}

// Start ingests the pending upload and moves the session from home to chat.
// The document text is written exactly once, in the same transaction as the page change.
func (s *Service) Start(ctx context.Context, sessionID int64) (*models.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Page != models.PageHome {
		return nil, ErrWrongPage
	}
	upload, err := s.PendingUpload(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}

	text, err := s.extractor.LoadFile(ctx, upload.StoredPath)
	if err != nil {
		s.log.Warn("extract upload", zap.Int64("session_id", sessionID), zap.String("file", upload.FileName), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	if err := s.commitStart(ctx, session, upload, text); err != nil {
		return nil, err
	}
	s.removeFile(upload.StoredPath)
	s.log.Info("session started", zap.Int64("session_id", sessionID), zap.String("document", upload.FileName), zap.Int("text_len", len(text)))
	return session, nil
}

func (s *Service) commitStart(ctx context.Context, session *models.Session, upload *models.Upload, text string) (err error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET page = ?, document_name = ?, document_text = ?, updated_at = ? WHERE id = ? AND page = ?`,
		models.PageChat, upload.FileName, text, now, session.ID, models.PageHome,
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrWrongPage
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE uploads SET status = ? WHERE id = ?`, models.UploadConsumed, upload.ID); err != nil {
		return fmt.Errorf("consume upload: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit start: %w", err)
	}

	session.Page = models.PageChat
	session.DocumentName = upload.FileName
	session.DocumentText = text
	session.UpdatedAt = now
	return nil
}

func (s *Service) uploadPaths(ctx context.Context, sessionID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stored_path FROM uploads WHERE session_id = ? AND status = ?`, sessionID, models.UploadPending)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
