package api

import (
	"errors"
	"net/http"

	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/session"
	"github.com/gin-gonic/gin"
)

type entryRequest struct {
	Trigger session.EntryTrigger `json:"trigger"`
	// ExpectBroadcast arms the resume/broadcast race guard.
	ExpectBroadcast bool `json:"expectBroadcast"`
}

type presentationRequest struct {
	Origin      string `json:"origin" binding:"required"`
	TabID       string `json:"tabId" binding:"required"`
	UserGesture bool   `json:"userGesture"`
}

type consentRequest struct {
	Detail string `json:"detail"`
}

type resetRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Kind     host.PromptKind `json:"kind" binding:"required"`
	Accepted bool            `json:"accepted"`
}

type tabRequest struct {
	TabID string `json:"tabId"`
}

type fullscreenRequest struct {
	TabID string `json:"tabId" binding:"required"`
	On    bool   `json:"on"`
}

func validTrigger(t session.EntryTrigger) bool {
	switch t {
	case session.TriggerNFC, session.TriggerIntent, session.TriggerUI:
		return true
	default:
		return false
	}
}

// getStatus handles GET /v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// getCompatibility handles GET /v1/compatibility
func (s *Server) getCompatibility(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"compatibility": s.ctrl.Compatibility(ctx)})
}

// postInvalidateCompatibility handles POST /v1/compatibility/invalidate
func (s *Server) postInvalidateCompatibility(c *gin.Context) {
	s.ctrl.InvalidateCompatibility()
	c.Status(http.StatusNoContent)
}

// postEntry handles POST /v1/entry
func (s *Server) postEntry(c *gin.Context) {
	req := entryRequest{Trigger: session.TriggerUI}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Trigger == "" {
		req.Trigger = session.TriggerUI
	}
	if !validTrigger(req.Trigger) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trigger"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.ctrl.RequestEntry(ctx, req.Trigger, req.ExpectBroadcast); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// postCancelEntry handles POST /v1/entry/cancel
func (s *Server) postCancelEntry(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.ctrl.CancelEntry(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// postExit handles POST /v1/exit
func (s *Server) postExit(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.ctrl.RequestExit(ctx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// postReset handles POST /v1/reset
func (s *Server) postReset(c *gin.Context) {
	var req resetRequest
	_ = c.ShouldBindJSON(&req)
	reason := session.ErrReset
	if req.Reason != "" {
		reason = errors.New(req.Reason)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.ctrl.Reset(ctx, reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// postBack handles POST /v1/back
func (s *Server) postBack(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	action, err := s.ctrl.HardwareBack(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action})
}

// postConsent handles POST /v1/consent
func (s *Server) postConsent(c *gin.Context) {
	var req consentRequest
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := s.requestContext(c)
	defer cancel()
	granted, err := s.ctrl.RequestConsent(ctx, req.Detail)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

// postPresentation handles POST /v1/presentations
func (s *Server) postPresentation(c *gin.Context) {
	var req presentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "origin and tabId are required"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	sess, err := s.ctrl.RequestPresenting(ctx, req.Origin, req.TabID, req.UserGesture)
	if err != nil {
		respondError(c, err)
		return
	}
	s.trackSession(sess)
	c.JSON(http.StatusCreated, sess.Handle())
}

// deletePresentation handles DELETE /v1/presentations/:id
func (s *Server) deletePresentation(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.takeSession(id)
	if !ok {
		// Ending an unknown or already ended session is a no-op.
		c.Status(http.StatusNoContent)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := sess.End(ctx); err != nil {
		// Keep it so a retried DELETE can end it.
		s.trackSession(sess)
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getPrompts handles GET /v1/prompts
func (s *Server) getPrompts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prompts": s.shell.Outstanding()})
}

// postResolvePrompt handles POST /v1/prompts/resolve
func (s *Server) postResolvePrompt(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}
	if !s.shell.Resolve(req.Kind, req.Accepted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such prompt"})
		return
	}
	c.Status(http.StatusNoContent)
}

// getFeedback handles GET /v1/feedback
func (s *Server) getFeedback(c *gin.Context) {
	if s.throttle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feedback disabled"})
		return
	}
	status, err := s.throttle.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read feedback state"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// postFeedbackOptOut handles POST /v1/feedback/opt-out and /opt-in
func (s *Server) postFeedbackOptOut(optedOut bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.throttle == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "feedback disabled"})
			return
		}
		if err := s.throttle.SetOptedOut(c.Request.Context(), optedOut); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update feedback state"})
			return
		}
		s.getFeedback(c)
	}
}

// postResume handles POST /v1/signals/resume
func (s *Server) postResume(c *gin.Context) {
	s.signal(c, s.ctrl.OnResume(c.Request.Context()))
}

// postReady handles POST /v1/signals/ready
func (s *Server) postReady(c *gin.Context) {
	s.signal(c, s.ctrl.OnBroadcastReady(c.Request.Context()))
}

// postFocus handles POST /v1/signals/focus
func (s *Server) postFocus(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	prev, _ := s.shell.ForegroundTab()
	s.shell.Focus(req.TabID)
	ctx := c.Request.Context()
	if prev != "" && prev != req.TabID {
		if err := s.ctrl.OnTabFocusLost(ctx, prev); err != nil {
			respondError(c, err)
			return
		}
	}
	s.signal(c, s.ctrl.RefreshHistory(ctx))
}

// postFocusLost handles POST /v1/signals/focus-lost
func (s *Server) postFocusLost(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TabID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabId is required"})
		return
	}
	if fg, _ := s.shell.ForegroundTab(); fg == req.TabID {
		s.shell.Focus("")
	}
	s.signal(c, s.ctrl.OnTabFocusLost(c.Request.Context(), req.TabID))
}

// postNavigated handles POST /v1/signals/navigated
func (s *Server) postNavigated(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TabID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabId is required"})
		return
	}
	s.signal(c, s.ctrl.OnTabNavigated(c.Request.Context(), req.TabID))
}

// postHistory handles POST /v1/signals/history
func (s *Server) postHistory(c *gin.Context) {
	var h navigation.History
	if err := c.ShouldBindJSON(&h); err != nil || h.TabID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabId is required"})
		return
	}
	s.shell.SetHistory(h)
	if fg, _ := s.shell.ForegroundTab(); fg != h.TabID {
		c.Status(http.StatusAccepted)
		return
	}
	s.signal(c, s.ctrl.OnHistoryChanged(c.Request.Context(), h))
}

// postFullscreen handles POST /v1/signals/fullscreen
func (s *Server) postFullscreen(c *gin.Context) {
	var req fullscreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabId is required"})
		return
	}
	s.shell.SetFullscreen(req.TabID, req.On)
	s.signal(c, s.ctrl.OnFullscreenChanged(c.Request.Context(), req.TabID, req.On))
}

// postCrash handles POST /v1/signals/crash
func (s *Server) postCrash(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TabID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabId is required"})
		return
	}
	s.signal(c, s.ctrl.OnRendererCrashed(c.Request.Context(), req.TabID))
}

func (s *Server) signal(c *gin.Context, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
