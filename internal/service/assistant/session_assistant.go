package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"estatechat/internal/models"

	"go.uber.org/zap"
)

// CreateSession inserts a fresh session on the home page.
func (s *Service) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (page, document_name, created_at, updated_at) VALUES (?, '', ?, ?)`,
		models.PageHome, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{ID: id, Page: models.PageHome, CreatedAt: now, UpdatedAt: now}, nil
}

// CreateSessionID adapts CreateSession for the session middleware.
func (s *Service) CreateSessionID(ctx context.Context) (int64, error) {
	session, err := s.CreateSession(ctx)
	if err != nil {
		return 0, err
	}
	return session.ID, nil
}

// GetSession loads one session. A missing session yields sql.ErrNoRows.
func (s *Service) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	var (
		session models.Session
		docText sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page, document_name, document_text, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.Page, &session.DocumentName, &docText, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.DocumentText = docText.String
	return &session, nil
}

// ListTurns returns the session history in append order.
func (s *Service) ListTurns(ctx context.Context, sessionID int64) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		t := new(models.Turn)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendExchange stores the user's message and the assistant reply as one pair
// at the end of the history. Only sessions on the chat page accept turns.
func (s *Service) AppendExchange(ctx context.Context, sessionID int64, message, reply string) (userTurn, replyTurn *models.Turn, err error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ? AND page = ?`, now, sessionID, models.PageChat)
	if err != nil {
		return nil, nil, fmt.Errorf("touch session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil, s.pageError(ctx, tx, sessionID)
	}

	if userTurn, err = insertTurn(ctx, tx, sessionID, models.RoleUser, message, now); err != nil {
		return nil, nil, err
	}
	if replyTurn, err = insertTurn(ctx, tx, sessionID, models.RoleAssistant, reply, now); err != nil {
		return nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit turns: %w", err)
	}
	return userTurn, replyTurn, nil
}

func insertTurn(ctx context.Context, tx *sql.Tx, sessionID int64, role models.Role, content string, at time.Time) (*models.Turn, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, at,
	)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("turn id: %w", err)
	}
	return &models.Turn{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: at}, nil
}

// DeleteSession removes a session with its turns, tokens and uploaded files.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64) error {
	if sessionID <= 0 {
		return errors.New("invalid session id")
	}
	paths, err := s.uploadPaths(ctx, sessionID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	// mysql and sqlite both cascade, but sqlite only with foreign_keys on
	for _, stmt := range []string{
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM uploads WHERE session_id = ?`,
		`DELETE FROM session_tokens WHERE session_id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("delete session rows: %w", err)
		}
	}
	for _, p := range paths {
		s.removeFile(p)
	}
	return nil
}

// pageError explains why a page-guarded update touched no rows.
func (s *Service) pageError(ctx context.Context, tx *sql.Tx, sessionID int64) error {
	var page string
	err := tx.QueryRowContext(ctx, `SELECT page FROM sessions WHERE id = ?`, sessionID).Scan(&page)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("load session page: %w", err)
	}
	return ErrWrongPage
}

func (s *Service) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove upload file", zap.String("path", path), zap.Error(err))
	}
}
