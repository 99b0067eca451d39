package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"estatechat/internal/models"
	"estatechat/internal/service/assistant"
	"estatechat/internal/worker"
)

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.currentSession(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := gin.H{
		"page":          session.Page,
		"document_name": session.DocumentName,
		"has_upload":    false,
		"history":       make([]*models.Turn, 0),
	}
	if session.InChat() {
		turns, err := h.assistant.ListTurns(c.Request.Context(), session.ID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if turns != nil {
			resp["history"] = turns
		}
	} else {
		upload, err := h.assistant.PendingUpload(c.Request.Context(), session.ID)
		switch {
		case err == nil:
			resp["has_upload"] = true
			resp["upload"] = upload
		case !errors.Is(err, assistant.ErrNoUpload):
			h.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) uploadFile(c *gin.Context) {
	upload, err := h.storeUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"upload": upload})
}

func (h *Handler) startChat(c *gin.Context) {
	session, err := h.start(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          session.Page,
		"document_name": session.DocumentName,
	})
}

func (h *Handler) listMessages(c *gin.Context) {
	session, err := h.currentSession(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	turns, err := h.assistant.ListTurns(c.Request.Context(), session.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if turns == nil {
		turns = make([]*models.Turn, 0)
	}
	c.JSON(http.StatusOK, gin.H{"history": turns})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := h.send(c, req.Content)
	if err != nil && !errors.Is(err, worker.ErrGeneration) {
		h.writeError(c, err)
		return
	}
	resp := gin.H{
		"user":      result.UserTurn,
		"assistant": result.AssistantTurn,
	}
	// the fallback reply is already part of the history
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) resetSession(c *gin.Context) {
	if err := h.reset(c); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
