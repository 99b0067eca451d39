package assistant

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"estatechat/internal/models"

	"go.uber.org/zap"
)

const DefaultUploadCleanupInterval = time.Hour

// orphanGrace keeps a just-created session alive until its token is issued.
const orphanGrace = 10 * time.Minute

// StartUploadCleaner periodically removes pending uploads past their expiry,
// expired session tokens and the sessions left without a live token.
// It stops when ctx is cancelled.
func (s *Service) StartUploadCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUploadCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx, time.Now().UTC()); err != nil {
				s.log.Warn("cleanup expired uploads", zap.Error(err))
			}
		}
	}
}

// CleanupExpired deletes uploads that expired before now and returns how many were removed.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_path FROM uploads WHERE status = ? AND expires_at <= ?`, models.UploadPending, now)
	if err != nil {
		return 0, err
	}
	type uploadRow struct {
		id   int64
		path string
	}
	var expired []uploadRow
	for rows.Next() {
		var r uploadRow
		if err := rows.Scan(&r.id, &r.path); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, r := range expired {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove expired upload", zap.String("path", r.path), zap.Error(err))
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, r.id); err != nil {
			s.log.Warn("delete upload record", zap.Int64("upload_id", r.id), zap.Error(err))
			continue
		}
		removed++
		// prune the per-session directory once empty
		_ = os.Remove(filepath.Dir(r.path))
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at <= ?`, now); err != nil {
		s.log.Warn("delete expired tokens", zap.Error(err))
	}
	if n, err := s.deleteOrphanSessions(ctx, now); err != nil {
		s.log.Warn("delete orphan sessions", zap.Error(err))
	} else if n > 0 {
		s.log.Info("deleted orphan sessions", zap.Int("count", n))
	}
	return removed, nil
}

// deleteOrphanSessions removes sessions no cookie can reach any more.
func (s *Service) deleteOrphanSessions(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE updated_at <= ?
		AND NOT EXISTS (
			SELECT 1 FROM session_tokens t WHERE t.session_id = sessions.id AND t.expires_at > ?
		)`, now.Add(-orphanGrace), now)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("delete orphan session", zap.Int64("session_id", id), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}
