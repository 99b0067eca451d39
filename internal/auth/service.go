package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"estatechat/internal/redis"

	"go.uber.org/zap"
)

const redisTokenPrefix = "session_token:"

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// Service binds opaque browser tokens to chat sessions.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	log            *zap.Logger
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	csrfFormField  string
	secureCookies  bool
}

// NewService constructs the token service. cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		log:            zap.NewNop(),
		tokenTTL:       ttl,
		cookieName:     "estate_session",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		csrfFormField:  "csrf_token",
	}
}

// WithLogger attaches a logger used for cache failures.
func (s *Service) WithLogger(log *zap.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

// WithSecureCookies marks issued cookies Secure.
func (s *Service) WithSecureCookies(secure bool) *Service {
	s.secureCookies = secure
	return s
}

// IssueToken mints a new random token for the session and persists it.
func (s *Service) IssueToken(ctx context.Context, sessionID int64) (string, error) {
	if sessionID <= 0 {
		return "", errors.New("invalid session id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, lastErr = s.db.ExecContext(ctx,
			`INSERT INTO session_tokens (token, session_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, sessionID, now, expiresAt,
		)
		if lastErr == nil {
			s.cacheToken(ctx, token, sessionID, s.tokenTTL)
			return token, nil
		}
	}
	return "", fmt.Errorf("could not issue token: %w", lastErr)
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the session id.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrTokenRequired
	}
	if sessionID, ok := s.cachedSession(ctx, token); ok {
		return sessionID, nil
	}

	var sessionID int64
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, expires_at FROM session_tokens WHERE token = ?`, token,
	).Scan(&sessionID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token)
		return 0, ErrTokenExpired
	}
	s.cacheToken(ctx, token, sessionID, remaining)
	return sessionID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+token); err != nil {
			s.log.Warn("drop cached token", zap.Error(err))
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *Service) cacheToken(ctx context.Context, token string, sessionID int64, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, strconv.FormatInt(sessionID, 10), ttl); err != nil {
		s.log.Warn("cache token", zap.Error(err))
	}
}

func (s *Service) cachedSession(ctx context.Context, token string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	raw, err := s.cache.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn("read cached token", zap.Error(err))
		}
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie name storing session tokens.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFormField returns the form field accepted in place of the CSRF header.
func (s *Service) CSRFFormField() string {
	return s.csrfFormField
}
