package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionIDContextKey = "estate_session_id"
	tokenContextKey     = "estate_session_token"
	csrfContextKey      = "estate_csrf_token"
)

// SessionCreator allocates a fresh chat session for a browser without a valid token.
type SessionCreator func(ctx context.Context) (int64, error)

// Middleware resolves the caller's session from a bearer token or cookie.
// Browsers without a valid token get a new session and cookie.
func (s *Service) Middleware(create SessionCreator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token := s.extractToken(c)
		sessionID, err := s.ValidateToken(ctx, token)
		if err != nil {
			if token != "" {
				s.log.Debug("discarding session token", zap.Error(err))
			}
			sessionID, err = create(ctx)
			if err != nil {
				s.log.Error("create session", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
				return
			}
			token, err = s.IssueToken(ctx, sessionID)
			if err != nil {
				s.log.Error("issue session token", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
				return
			}
			s.setCookie(c, s.cookieName, token, true)
		}

		csrf, err := c.Cookie(s.csrfCookieName)
		if err != nil || csrf == "" {
			if csrf, err = s.NewCSRFToken(); err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
				return
			}
			s.setCookie(c, s.csrfCookieName, csrf, false)
		}

		c.Set(sessionIDContextKey, sessionID)
		c.Set(tokenContextKey, token)
		c.Set(csrfContextKey, csrf)
		c.Next()
	}
}

// ClearSession expires the session cookie so the next request starts over.
func (s *Service) ClearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secureCookies, true)
}

func (s *Service) setCookie(c *gin.Context, name, value string, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(s.tokenTTL.Seconds()), "/", "", s.secureCookies, httpOnly)
	// make the value visible to cookie reads later in this request
	c.Request.AddCookie(&http.Cookie{Name: name, Value: value})
}

// SessionIDFromContext retrieves the session id resolved by the middleware.
func SessionIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := val.(int64)
	return id, ok
}

// TokenFromContext retrieves the session token captured by the middleware.
func TokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(tokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// CSRFTokenFromContext returns the token templates embed in forms.
func CSRFTokenFromContext(c *gin.Context) string {
	return c.GetString(csrfContextKey)
}

func (s *Service) extractToken(c *gin.Context) string {
	if token := bearerToken(c.GetHeader(s.headerName)); token != "" {
		return token
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}

func bearerToken(header string) string {
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
