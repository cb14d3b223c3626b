package graphie

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the chat API on a gin engine. Every response is a
// well-formed JSON document; engine failures come back as a frontend state
// with the error flag set so the chat client can render them inline.
func RegisterRoutes(g *gin.Engine, engine *Engine, l *slog.Logger) {
	h := &httpHandler{engine: engine, l: l}

	g.POST("/session", h.createSession)
	g.POST("/session/:id/start", h.startSession)
	g.POST("/session/:id/message", h.continueSession)
	g.GET("/session/:id", h.sessionStatus)
	g.GET("/session/:id/state", h.sessionState)
}

type httpHandler struct {
	engine *Engine
	l      *slog.Logger
}

type messageRequest struct {
	Message string `json:"message"`
}

// createSession creates a session and immediately starts the workflow, so the
// first response already carries the opening statement.
func (h *httpHandler) createSession(c *gin.Context) {
	sess, err := h.engine.CreateSession(c.Request.Context())
	if err != nil {
		h.l.Error("session creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not create session"))
		return
	}

	state, err := h.engine.Start(c.Request.Context(), sess.ID)
	if err != nil {
		h.l.Error("workflow start failed", "session", sess.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not start workflow"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "state": state})
}

// startSession (re)starts the workflow for an existing or caller-named
// session from the root step.
func (h *httpHandler) startSession(c *gin.Context) {
	sessionID := c.Param("id")

	state, err := h.engine.Start(c.Request.Context(), sessionID)
	if err != nil {
		h.l.Error("workflow start failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not start workflow"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "state": state})
}

func (h *httpHandler) continueSession(c *gin.Context) {
	sessionID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorState("request body must be JSON with a message field"))
		return
	}

	state, err := h.engine.Continue(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorState("unknown session"))
			return
		}
		h.l.Error("workflow continue failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not continue workflow"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "state": state})
}

// sessionStatus returns the raw session record, mostly for debugging and
// workflow authoring.
func (h *httpHandler) sessionStatus(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.engine.Status(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorState("unknown session"))
			return
		}
		h.l.Error("session lookup failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not load session"))
		return
	}

	c.JSON(http.StatusOK, sess)
}

// sessionState returns the frontend projection without driving the workflow.
func (h *httpHandler) sessionState(c *gin.Context) {
	sessionID := c.Param("id")

	state, err := h.engine.FrontendState(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorState("unknown session"))
			return
		}
		h.l.Error("session lookup failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorState("could not load session"))
		return
	}

	c.JSON(http.StatusOK, state)
}
