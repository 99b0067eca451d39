package api

import (
	"database/sql"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"estatechat/internal/auth"
	"estatechat/internal/models"
	"estatechat/internal/service/ai"
	"estatechat/internal/service/assistant"
	"estatechat/internal/service/ingest"
	"estatechat/internal/worker"
)

//go:embed templates/*.html
var templateFS embed.FS

var errGeneratorUnavailable = errors.New("the assistant is not available, check the API key configuration")

// ChatWorker runs chat turns in per-session order.
type ChatWorker interface {
	Chat(worker.ChatRequest) (*worker.ChatResult, error)
	Purge(sessionID int64)
}

type Options struct {
	FileBaseDir    string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Handler wires HTTP routes to the assistant service and the chat workers.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	workers   ChatWorker
	generator ai.Generator
	fileBase  string
	maxUpload int64
	log       *zap.Logger
	templates *template.Template
}

// NewHandler constructs a Handler. A nil generator keeps every session on the home page.
func NewHandler(service *assistant.Service, authService *auth.Service, workers ChatWorker, generator ai.Generator, opts Options) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.FileBaseDir == "" {
		opts.FileBaseDir = "./data/uploads"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		assistant: service,
		auth:      authService,
		workers:   workers,
		generator: generator,
		fileBase:  opts.FileBaseDir,
		maxUpload: opts.MaxUploadBytes,
		log:       opts.Logger,
		templates: tmpl,
	}, nil
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.templates)
	router.GET("/healthz", h.health)

	sessionMW := []gin.HandlerFunc{
		h.limitBody(),
		h.auth.Middleware(h.assistant.CreateSessionID),
		h.auth.CSRFMiddleware(),
	}

	pages := router.Group("/")
	pages.Use(sessionMW...)
	pages.GET("", h.homePage)
	pages.POST("upload", h.uploadPage)
	pages.POST("start", h.startPage)
	pages.GET("chat", h.chatPage)
	pages.POST("chat", h.sendPage)
	pages.POST("reset", h.resetPage)

	api := router.Group("/api")
	api.Use(sessionMW...)
	api.GET("/session", h.getSession)
	api.POST("/upload", h.uploadFile)
	api.POST("/start", h.startChat)
	api.GET("/messages", h.listMessages)
	api.POST("/messages", h.sendMessage)
	api.POST("/reset", h.resetSession)
}

func (h *Handler) health(c *gin.Context) {
	if err := h.assistant.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "generator": h.generator != nil})
}

// limitBody caps request bodies before the CSRF check parses form fields.
func (h *Handler) limitBody() gin.HandlerFunc {
	limit := h.maxUpload + 1<<20
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// currentSession loads the session resolved by the auth middleware.
func (h *Handler) currentSession(c *gin.Context) (*models.Session, error) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok || sessionID <= 0 {
		return nil, sql.ErrNoRows
	}
	return h.assistant.GetSession(c.Request.Context(), sessionID)
}

// start moves the session to the chat page once the generator is known to be usable.
func (h *Handler) start(c *gin.Context) (*models.Session, error) {
	if h.generator == nil {
		return nil, errGeneratorUnavailable
	}
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return h.assistant.Start(c.Request.Context(), sessionID)
}

// send runs one chat turn. Pages and the JSON API both store the trimmed message.
func (h *Handler) send(c *gin.Context, message string) (*worker.ChatResult, error) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return h.workers.Chat(worker.ChatRequest{
		Context:   c.Request.Context(),
		SessionID: sessionID,
		Message:   strings.TrimSpace(message),
	})
}

// reset discards the current session so the next request starts on a fresh home page.
func (h *Handler) reset(c *gin.Context) error {
	ctx := c.Request.Context()
	if token, ok := auth.TokenFromContext(c); ok {
		if err := h.auth.RevokeToken(ctx, token); err != nil {
			return err
		}
	}
	if sessionID, ok := auth.SessionIDFromContext(c); ok {
		h.workers.Purge(sessionID)
		if err := h.assistant.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	h.auth.ClearSession(c)
	return nil
}

// statusFor maps domain errors onto HTTP statuses and user-facing messages.
func (h *Handler) statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, errMissingFile),
		errors.Is(err, errContentMismatch),
		errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, errFileTooLarge.Error()
	case errors.Is(err, assistant.ErrWrongPage), errors.Is(err, assistant.ErrNoUpload):
		return http.StatusConflict, err.Error()
	case errors.Is(err, assistant.ErrExtraction):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, worker.ErrQueueFull):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, errGeneratorUnavailable), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "session not found"
	default:
		h.log.Error("request failed", zap.Error(err))
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, msg := h.statusFor(err)
	c.JSON(status, gin.H{"error": msg})
}
