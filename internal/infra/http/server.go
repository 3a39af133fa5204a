// Package http is the host-facing surface of the verification service:
// widget sessions, provider event delivery, the internal challenge API
// and the admin settings endpoints.
package http

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"captchad/internal/captcha"
	"captchad/internal/config"
	"captchad/internal/domain"
	"captchad/internal/infra/db"
	"captchad/internal/orchestrator"
	"captchad/internal/provider"
	"captchad/internal/settings"
)

// session is one widget mount: an orchestrator instance plus the host
// callbacks folded into poll-able state.
type session struct {
	id   string
	orch *orchestrator.Orchestrator

	mu           sync.Mutex
	verification domain.Verification
	verified     bool
	disabled     bool
	notice       string
}

func (s *session) callbacks() orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnVerify: func(v domain.Verification) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.verification = v
			s.verified = !v.Cleared()
		},
		OnDisabled: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.disabled = true
			s.verified = true
			s.verification = domain.Verification{Token: domain.DisabledToken}
		},
		OnNotice: func(msg string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.notice = msg
		},
	}
}

func (s *session) view() (domain.Verification, bool, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verification, s.verified, s.disabled, s.notice
}

type Server struct {
	cfg config.Config
	r   *gin.Engine

	resolver     *settings.Resolver
	settingsRepo *db.SettingsRepo
	factory      provider.Factory
	generator    *captcha.Generator
	secret       []byte

	sessions   *ttlcache.Cache[string, *session]
	challenges *ttlcache.Cache[string, domain.Challenge]

	limiter       domain.RateLimiter
	limitRequests int
	limitWindow   time.Duration

	adminAPIKey string
}

// ServerDeps lets tests assemble a server from stubs.
type ServerDeps struct {
	Resolver     *settings.Resolver
	SettingsRepo *db.SettingsRepo
	Factory      provider.Factory
	Generator    *captcha.Generator
	Secret       []byte
	RateLimiter  domain.RateLimiter
	AdminAPIKey  string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	if deps.Generator == nil {
		deps.Generator = captcha.NewGenerator(cfg.ChallengeLength, time.Duration(cfg.ChallengeTTLSeconds)*time.Second)
	}
	if deps.Resolver == nil {
		deps.Resolver = settings.NewResolver(settings.Static{Settings: settings.FromConfig(cfg)})
	}
	if deps.Secret == nil {
		deps.Secret = []byte(cfg.TokenSecret)
	}
	if deps.Factory == nil {
		deps.Factory = provider.NewDefaultFactory(captcha.LocalSource{Generator: deps.Generator}, deps.Secret)
	}

	s := &Server{
		cfg:           cfg,
		r:             r,
		resolver:      deps.Resolver,
		settingsRepo:  deps.SettingsRepo,
		factory:       deps.Factory,
		generator:     deps.Generator,
		secret:        deps.Secret,
		limiter:       deps.RateLimiter,
		limitRequests: cfg.RateLimitRequests,
		limitWindow:   time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
		adminAPIKey:   deps.AdminAPIKey,
	}

	s.sessions = ttlcache.New[string, *session](
		ttlcache.WithTTL[string, *session](cfg.SessionTTL()),
	)
	s.sessions.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *session]) {
		item.Value().orch.Close()
	})
	s.challenges = ttlcache.New[string, domain.Challenge](
		ttlcache.WithTTL[string, domain.Challenge](deps.Generator.TTL()),
		ttlcache.WithDisableTouchOnHit[string, domain.Challenge](),
	)
	go s.sessions.Start()
	go s.challenges.Start()

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1/captcha")
	{
		v1.GET("/settings", s.handlePublicSettings)
		v1.GET("/challenge", s.handleStandaloneChallenge)
		v1.POST("/challenge/verify", s.handleStandaloneVerify)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.POST("/sessions/:id/events", s.rateLimited, s.handleProviderEvent)
		v1.POST("/sessions/:id/input", s.rateLimited, s.handleChallengeInput)
		v1.POST("/sessions/:id/refresh", s.rateLimited, s.handleChallengeRefresh)
		v1.POST("/sessions/:id/reset", s.handleSessionReset)
	}

	admin := s.r.Group("/v1/admin/captcha", s.requireAdmin)
	{
		admin.GET("/settings", s.handleAdminGetSettings)
		admin.PUT("/settings", s.handleAdminPutSettings)
	}
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	log.Printf("[http] listening on %s", s.cfg.HTTPAddr)
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the gin engine for tests.
func (s *Server) Handler() *gin.Engine {
	return s.r
}

// newSession resolves settings and starts an orchestrator for one widget.
func (s *Server) newSession(ctx context.Context, preferred domain.ProviderType) *session {
	snap := s.resolver.Resolve(ctx)
	sess := &session{id: uuid.NewString()}
	sess.orch = orchestrator.New(snap, preferred, s.factory, sess.callbacks())
	sess.orch.Start()
	s.sessions.Set(sess.id, sess, ttlcache.DefaultTTL)
	return sess
}

func (s *Server) session(id string) (*session, bool) {
	item := s.sessions.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// applySettingsToSessions pushes a fresh snapshot to every live session.
func (s *Server) applySettingsToSessions(snap domain.CaptchaSettings) {
	s.sessions.Range(func(item *ttlcache.Item[string, *session]) bool {
		item.Value().orch.ApplySettings(snap)
		return true
	})
}
