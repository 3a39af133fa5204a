package http

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"

	"captchad/internal/captcha"
	"captchad/internal/domain"
	"captchad/internal/orchestrator"
	"captchad/internal/provider"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	if s.settingsRepo == nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// publicSettingsResponse is the widget-facing view: enough to render,
// nothing an admin would consider sensitive beyond site keys, which are
// public by nature.
type publicSettingsResponse struct {
	Enabled         bool                           `json:"enabled"`
	PreferredType   domain.ProviderType            `json:"preferred_type,omitempty"`
	Providers       map[domain.ProviderType]string `json:"providers"`
	ChallengeLength int                            `json:"challenge_length"`
}

func (s *Server) handlePublicSettings(c *gin.Context) {
	snap := s.resolver.Resolve(c.Request.Context())
	providers := make(map[domain.ProviderType]string)
	for _, p := range domain.RemoteTypes {
		if snap.Available(p) {
			providers[p] = snap.SiteKey(p)
		}
	}
	c.JSON(http.StatusOK, publicSettingsResponse{
		Enabled:         snap.Enabled,
		PreferredType:   snap.PreferredType,
		Providers:       providers,
		ChallengeLength: snap.ChallengeLength,
	})
}

// --- standalone challenge API ---

type challengeResponse struct {
	CaptchaID string `json:"captchaId"`
	Image     string `json:"image"`
	Length    int    `json:"length"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleStandaloneChallenge issues a challenge outside any session, for
// hosts embedding the image directly. The answer never leaves the server;
// verification goes through /challenge/verify with the captcha id.
func (s *Server) handleStandaloneChallenge(c *gin.Context) {
	ch, err := s.generator.New(time.Now())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "challenge_failed", "could not generate challenge")
		return
	}
	s.challenges.Set(ch.ID, ch, ttlcache.DefaultTTL)
	c.JSON(http.StatusOK, challengeResponse{
		CaptchaID: ch.ID,
		Image:     base64.StdEncoding.EncodeToString(ch.ImagePNG),
		Length:    len(ch.Answer),
		ExpiresAt: ch.ExpiresAt().Unix(),
	})
}

type verifyRequest struct {
	CaptchaID string `json:"captchaId" binding:"required"`
	Answer    string `json:"answer" binding:"required"`
}

func (s *Server) handleStandaloneVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	item := s.challenges.Get(req.CaptchaID)
	if item == nil {
		writeError(c, http.StatusNotFound, "challenge_not_found", "unknown or expired challenge")
		return
	}
	ch := item.Value()
	// One shot either way: a failed guess burns the challenge.
	s.challenges.Delete(req.CaptchaID)

	if err := captcha.Validate(ch, req.Answer, time.Now()); err != nil || len(req.Answer) != len(ch.Answer) {
		if errors.Is(err, domain.ErrChallengeExpired) {
			writeError(c, http.StatusGone, "challenge_expired", "challenge expired")
			return
		}
		writeError(c, http.StatusUnprocessableEntity, "challenge_mismatch", "wrong answer")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verified": true,
		"token":    captcha.Token(s.secret, ch),
	})
}

// --- sessions ---

type createSessionRequest struct {
	PreferredProvider string `json:"preferred_provider"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	// Body is optional; only reject bodies that fail to parse.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	var preferred domain.ProviderType
	if req.PreferredProvider != "" {
		p, ok := domain.ParseProviderType(req.PreferredProvider)
		if !ok {
			writeError(c, http.StatusBadRequest, "unknown_provider", "unknown provider type")
			return
		}
		preferred = p
	}
	sess := s.newSession(c.Request.Context(), preferred)
	c.JSON(http.StatusCreated, s.sessionResponse(sess))
}

type sessionResponse struct {
	ID       string                  `json:"id"`
	Status   orchestrator.Status     `json:"status"`
	Verified bool                    `json:"verified"`
	Token    string                  `json:"token,omitempty"`
	Provider domain.ProviderType     `json:"provider,omitempty"`
	Disabled bool                    `json:"disabled"`
	Notice   string                  `json:"notice,omitempty"`
	Internal *provider.LocalSnapshot `json:"internal,omitempty"`
}

func (s *Server) sessionResponse(sess *session) sessionResponse {
	v, verified, disabled, notice := sess.view()
	resp := sessionResponse{
		ID:       sess.id,
		Status:   sess.orch.Status(),
		Verified: verified,
		Token:    v.Token,
		Provider: v.Provider,
		Disabled: disabled,
		Notice:   notice,
	}
	if snap, ok := sess.orch.LocalSnapshot(); ok {
		resp.Internal = &snap
	}
	return resp
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	c.JSON(http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	s.sessions.Delete(sess.id)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSessionReset(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	sess.mu.Lock()
	sess.verification = domain.Verification{}
	sess.verified = false
	sess.mu.Unlock()
	sess.orch.Reset()
	c.JSON(http.StatusOK, s.sessionResponse(sess))
}

// --- provider events from the host page ---

type providerEventRequest struct {
	Provider string `json:"provider" binding:"required"`
	Event    string `json:"event" binding:"required"`
	Token    string `json:"token"`
}

func (s *Server) handleProviderEvent(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	var req providerEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	p, ok := domain.ParseProviderType(req.Provider)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown_provider", "unknown provider type")
		return
	}

	var err error
	switch req.Event {
	case "verified":
		err = sess.orch.DeliverToken(p, req.Token)
	case "error":
		err = sess.orch.ReportWidgetError(p)
	case "expired":
		err = sess.orch.ReportWidgetExpired(p)
	default:
		writeError(c, http.StatusBadRequest, "unknown_event", "event must be verified, error or expired")
		return
	}
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.sessionResponse(sess))
}

// --- internal challenge interaction ---

type inputRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleChallengeInput(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := sess.orch.SubmitInput(req.Input); err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) handleChallengeRefresh(c *gin.Context) {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return
	}
	if err := sess.orch.RefreshChallenge(); err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrProviderMismatch):
		writeError(c, http.StatusConflict, "provider_mismatch", "event does not match the active provider")
	case errors.Is(err, domain.ErrStaleEpoch):
		writeError(c, http.StatusConflict, "stale_epoch", "session was reset since this widget mounted")
	case errors.Is(err, domain.ErrChallengeExpired):
		writeError(c, http.StatusGone, "challenge_expired", "challenge expired, refresh to continue")
	default:
		writeError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// --- rate limiting ---

// rateLimited applies the fixed-window limiter per session and client IP.
// With no limiter configured it is a no-op.
func (s *Server) rateLimited(c *gin.Context) {
	if s.limiter == nil || s.limitRequests <= 0 {
		return
	}
	key := c.Param("id") + ":" + c.ClientIP()
	dec, err := s.limiter.Allow(c.Request.Context(), key, s.limitRequests, s.limitWindow)
	if err != nil {
		// Limiter outage must not block verification.
		return
	}
	if !dec.Allowed {
		writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
		c.Abort()
	}
}

// --- admin ---

func (s *Server) requireAdmin(c *gin.Context) {
	if s.adminAPIKey == "" {
		writeError(c, http.StatusForbidden, "admin_disabled", "admin API key is not configured")
		c.Abort()
		return
	}
	key := c.GetHeader("X-Admin-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeError(c, http.StatusUnauthorized, "unauthorized", "invalid admin API key")
		c.Abort()
	}
}

func (s *Server) handleAdminGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.resolver.Resolve(c.Request.Context()))
}

func (s *Server) handleAdminPutSettings(c *gin.Context) {
	var snap domain.CaptchaSettings
	if err := c.ShouldBindJSON(&snap); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	for p := range snap.Providers {
		if !p.Valid() {
			writeError(c, http.StatusBadRequest, "unknown_provider", "unknown provider type in settings")
			return
		}
	}
	snap = snap.Normalized()
	if s.settingsRepo != nil {
		if err := s.settingsRepo.Save(c.Request.Context(), snap); err != nil {
			writeError(c, http.StatusInternalServerError, "persist_failed", err.Error())
			return
		}
	}
	s.applySettingsToSessions(snap)
	c.JSON(http.StatusOK, snap)
}
