package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"estatechat/internal/auth"
	"estatechat/internal/models"
	"estatechat/internal/service/assistant"
	"estatechat/internal/service/ingest"
)

var (
	errMissingFile     = errors.New("file is required")
	errFileTooLarge    = errors.New("file too large")
	errContentMismatch = errors.New("file content does not match its extension")
)

// storeUpload saves the multipart "file" field as the session's pending document.
func (h *Handler) storeUpload(c *gin.Context) (*models.Upload, error) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		return nil, errors.New("session missing from context")
	}
	session, err := h.assistant.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if session.Page != models.PageHome {
		return nil, assistant.ErrWrongPage
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, errFileTooLarge
		}
		return nil, errMissingFile
	}
	kind := ingest.KindOf(file.Filename)
	if kind == ingest.KindUnsupported {
		return nil, ingest.ErrUnsupportedType
	}
	if file.Size > h.maxUpload {
		return nil, errFileTooLarge
	}
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	err = sniff(src, kind)
	src.Close()
	if err != nil {
		return nil, err
	}

	destDir := filepath.Join(h.fileBase, strconv.FormatInt(sessionID, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	destPath := filepath.Join(destDir, uuid.NewString()+kind.Ext())
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	upload, err := h.assistant.RecordUpload(c.Request.Context(), models.Upload{
		SessionID:  sessionID,
		FileName:   filepath.Base(file.Filename),
		StoredPath: destPath,
		Kind:       string(kind),
		Size:       file.Size,
	})
	if err != nil {
		_ = os.Remove(destPath)
		return nil, err
	}
	return upload, nil
}

// sniff checks the leading bytes against the declared kind.
func sniff(r io.Reader, kind ingest.Kind) error {
	buf := make([]byte, 1024)
	n, _ := io.ReadFull(r, buf)
	buf = buf[:n]

	switch kind {
	case ingest.KindPDF:
		if ingest.PDFHeaderOffset(buf) < 0 {
			return errContentMismatch
		}
	case ingest.KindCSV:
		if !strings.HasPrefix(http.DetectContentType(buf), "text/") {
			return errContentMismatch
		}
	}
	return nil
}
