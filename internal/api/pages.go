package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"estatechat/internal/auth"
	"estatechat/internal/models"
	"estatechat/internal/service/assistant"
	"estatechat/internal/worker"
)

type pageData struct {
	CSRFToken    string
	Error        string
	Upload       *models.Upload
	DocumentName string
	Turns        []*models.Turn
}

func (h *Handler) homePage(c *gin.Context) {
	session, err := h.currentSession(c)
	if err != nil {
		h.renderHome(c, err)
		return
	}
	if session.InChat() {
		c.Redirect(http.StatusSeeOther, "/chat")
		return
	}
	h.renderHome(c, nil)
}

func (h *Handler) uploadPage(c *gin.Context) {
	if _, err := h.storeUpload(c); err != nil {
		h.renderForState(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) startPage(c *gin.Context) {
	if _, err := h.start(c); err != nil {
		h.renderForState(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/chat")
}

func (h *Handler) chatPage(c *gin.Context) {
	session, err := h.currentSession(c)
	if err != nil {
		h.renderHome(c, err)
		return
	}
	if !session.InChat() {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	h.renderChat(c, session, nil)
}

func (h *Handler) sendPage(c *gin.Context) {
	_, err := h.send(c, c.PostForm("message"))
	if err == nil {
		c.Redirect(http.StatusSeeOther, "/chat")
		return
	}
	if errors.Is(err, worker.ErrGeneration) {
		// both turns are stored; show them with the error
		session, loadErr := h.currentSession(c)
		if loadErr != nil {
			h.renderHome(c, loadErr)
			return
		}
		h.renderChat(c, session, err)
		return
	}
	h.renderForState(c, err)
}

func (h *Handler) resetPage(c *gin.Context) {
	if err := h.reset(c); err != nil {
		h.renderForState(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// renderForState shows err on whichever page the session is currently on.
func (h *Handler) renderForState(c *gin.Context, err error) {
	session, loadErr := h.currentSession(c)
	if loadErr == nil && session.InChat() {
		h.renderChat(c, session, err)
		return
	}
	h.renderHome(c, err)
}

func (h *Handler) renderHome(c *gin.Context, err error) {
	data := pageData{CSRFToken: auth.CSRFTokenFromContext(c)}
	status := http.StatusOK
	if err != nil {
		status, data.Error = h.statusFor(err)
	}
	if sessionID, ok := auth.SessionIDFromContext(c); ok {
		if upload, upErr := h.assistant.PendingUpload(c.Request.Context(), sessionID); upErr == nil {
			data.Upload = upload
		} else if !errors.Is(upErr, assistant.ErrNoUpload) {
			status, data.Error = h.statusFor(upErr)
		}
	}
	c.HTML(status, "home.html", data)
}

func (h *Handler) renderChat(c *gin.Context, session *models.Session, err error) {
	data := pageData{
		CSRFToken:    auth.CSRFTokenFromContext(c),
		DocumentName: session.DocumentName,
	}
	status := http.StatusOK
	if err != nil {
		if errors.Is(err, worker.ErrGeneration) {
			data.Error = err.Error()
		} else {
			status, data.Error = h.statusFor(err)
		}
	}
	turns, listErr := h.assistant.ListTurns(c.Request.Context(), session.ID)
	if listErr != nil {
		status, data.Error = h.statusFor(listErr)
	}
	data.Turns = turns
	c.HTML(status, "chat.html", data)
}
