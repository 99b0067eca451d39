package assistant

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"estatechat/internal/config"
	"estatechat/internal/models"
	"estatechat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	text  string
	err   error
	paths []string
}

func (f *fakeExtractor) LoadFile(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

func TestStartRequiresUpload(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{text: "doc"})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PageHome, session.Page)

	_, err = svc.Start(ctx, session.ID)
	require.ErrorIs(t, err, ErrNoUpload)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageHome, got.Page)
}

func TestStartMovesToChatOnce(t *testing.T) {
	extractor := &fakeExtractor{text: "address,price\n12 Elm St,350000\n"}
	svc, dir := newTestService(t, extractor)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	path := writeUpload(t, dir, "a.csv")
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "homes.csv", StoredPath: path, Kind: "csv", Size: 10})
	require.NoError(t, err)

	started, err := svc.Start(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageChat, started.Page)
	assert.Equal(t, "homes.csv", started.DocumentName)
	assert.Equal(t, extractor.text, started.DocumentText)
	assert.Equal(t, []string{path}, extractor.paths)

	stored, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, extractor.text, stored.DocumentText)

	// stored file is gone once the text lives in the session
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// no second start, no uploads on the chat page
	_, err = svc.Start(ctx, session.ID)
	require.ErrorIs(t, err, ErrWrongPage)
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "x.csv", StoredPath: writeUpload(t, dir, "b.csv"), Kind: "csv"})
	require.ErrorIs(t, err, ErrWrongPage)
}

func TestStartExtractionFailureStaysHome(t *testing.T) {
	boom := errors.New("corrupt pdf")
	svc, dir := newTestService(t, &fakeExtractor{err: boom})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "l.pdf", StoredPath: writeUpload(t, dir, "l.pdf"), Kind: "pdf"})
	require.NoError(t, err)

	_, err = svc.Start(ctx, session.ID)
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, boom)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PageHome, got.Page)
	assert.Empty(t, got.DocumentText)

	// upload remains pending so the user can retry or replace it
	_, err = svc.PendingUpload(ctx, session.ID)
	require.NoError(t, err)
}

func TestRecordUploadReplacesPending(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{text: "x"})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	first := writeUpload(t, dir, "first.csv")
	second := writeUpload(t, dir, "second.pdf")

	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "first.csv", StoredPath: first, Kind: "csv"})
	require.NoError(t, err)
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "second.pdf", StoredPath: second, Kind: "pdf"})
	require.NoError(t, err)

	pending, err := svc.PendingUpload(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "second.pdf", pending.FileName)

	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err), "replaced upload should be removed from disk")
}

func TestAppendExchangeOnlyInChat(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{text: "doc"})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	_, _, err = svc.AppendExchange(ctx, session.ID, "hi", "hello")
	require.ErrorIs(t, err, ErrWrongPage)

	_, _, err = svc.AppendExchange(ctx, session.ID+100, "hi", "hello")
	require.ErrorIs(t, err, sql.ErrNoRows)

	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "a.csv", StoredPath: writeUpload(t, dir, "a.csv"), Kind: "csv"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, session.ID)
	require.NoError(t, err)

	user, reply, err := svc.AppendExchange(ctx, session.ID, "hi", "hello")
	require.NoError(t, err)
	assert.Less(t, user.ID, reply.ID)

	turns, err := svc.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, "hello", turns[1].Content)
}

func TestAppendExchangeStoresNothingOnFailure(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{text: "doc"})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "a.csv", StoredPath: writeUpload(t, dir, "a.csv"), Kind: "csv"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, session.ID)
	require.NoError(t, err)

	// a reply the schema rejects must not leave the user turn behind
	_, err = svc.db.Exec(`CREATE TRIGGER reject_reply BEFORE INSERT ON turns
		WHEN NEW.role = 'assistant' BEGIN SELECT RAISE(ABORT, 'reply rejected'); END`)
	require.NoError(t, err)

	_, _, err = svc.AppendExchange(ctx, session.ID, "hi", "hello")
	require.Error(t, err)

	turns, err := svc.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestCleanupExpiredRemovesStaleUploads(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{})
	svc.WithUploadTTL(time.Minute)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	path := writeUpload(t, dir, "old.csv")
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "old.csv", StoredPath: path, Kind: "csv"})
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = svc.CleanupExpired(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = svc.PendingUpload(ctx, session.ID)
	require.ErrorIs(t, err, ErrNoUpload)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupExpiredDeletesSessionsWithoutLiveToken(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{text: "doc"})
	ctx := context.Background()
	now := time.Now().UTC()

	stale, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	path := writeUpload(t, dir, "stale.csv")
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: stale.ID, FileName: "stale.csv", StoredPath: path, Kind: "csv"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, stale.ID)
	require.NoError(t, err)
	_, _, err = svc.AppendExchange(ctx, stale.ID, "hi", "hello")
	require.NoError(t, err)
	insertToken(t, svc, "stale-token", stale.ID, now.Add(-time.Hour))

	live, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	insertToken(t, svc, "live-token", live.ID, now.Add(time.Hour))

	later := now.Add(orphanGrace + time.Minute)
	_, err = svc.CleanupExpired(ctx, later)
	require.NoError(t, err)

	_, err = svc.GetSession(ctx, stale.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)
	var turns int
	require.NoError(t, svc.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, stale.ID).Scan(&turns))
	assert.Zero(t, turns)

	_, err = svc.GetSession(ctx, live.ID)
	require.NoError(t, err)
}

func TestCleanupExpiredKeepsFreshSessionWithoutToken(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = svc.CleanupExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
}

func TestDeleteSession(t *testing.T) {
	svc, dir := newTestService(t, &fakeExtractor{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	path := writeUpload(t, dir, "a.csv")
	_, err = svc.RecordUpload(ctx, models.Upload{SessionID: session.ID, FileName: "a.csv", StoredPath: path, Kind: "csv"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, session.ID))
	_, err = svc.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.ErrorIs(t, svc.DeleteSession(ctx, session.ID), sql.ErrNoRows)
}

func newTestService(t *testing.T, extractor Extractor) (*Service, string) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return NewService(db, extractor, nil), t.TempDir()
}

func insertToken(t *testing.T, svc *Service, token string, sessionID int64, expires time.Time) {
	t.Helper()
	_, err := svc.db.Exec(`INSERT INTO session_tokens (token, session_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, sessionID, expires.Add(-time.Hour), expires)
	require.NoError(t, err)
}

func writeUpload(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	return path
}
