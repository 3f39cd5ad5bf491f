package http

import (
	"net/http"
	"time"

	"credvault/internal/config"
	"credvault/internal/domain"
	"credvault/internal/infra/db"
	"credvault/internal/infra/ratelimit"
	"credvault/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	vault *usecase.VaultService
	enc   *usecase.EncryptionService
	audit *usecase.AuditLogger
	sweep *usecase.ReencryptionSweep

	authenticator *HeaderAuthenticator

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

type ServerDeps struct {
	Store       *db.Store
	Vault       *usecase.VaultService
	Encryption  *usecase.EncryptionService
	Audit       *usecase.AuditLogger
	Sweep       *usecase.ReencryptionSweep
	RateLimiter domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		store:         deps.Store,
		r:             r,
		vault:         deps.Vault,
		enc:           deps.Encryption,
		audit:         deps.Audit,
		sweep:         deps.Sweep,
		authenticator: NewHeaderAuthenticator(),
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
}

// rateLimitMiddleware throttles decrypt-heavy endpoints per requesting user.
// A limiter error falls open: retrieval availability outranks throttling.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
			c.Next()
			return
		}
		key := c.GetHeader("X-User-ID")
		if key == "" {
			key = c.ClientIP()
		}
		decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
		if err != nil {
			c.Next()
			return
		}
		if !decision.Allowed {
			c.Header("Retry-After", decision.ResetAt.UTC().Format(time.RFC3339))
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "retrieval rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := "no-db"
		if s.store != nil && s.store.DB != nil {
			mode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/credentials", s.handleCreateCredential)
		v1.GET("/credentials/:credential_id", s.rateLimitMiddleware(), s.handleRetrieveCredential)
		v1.PATCH("/credentials/:credential_id", s.handleUpdateCredential)
		v1.POST("/credentials/:credential_id/rotate", s.handleRotateCredential)
		v1.POST("/credentials/:credential_id/revoke", s.handleRevokeCredential)

		v1.GET("/audit-logs", s.handleListAuditLogs)
		v1.GET("/audit-logs/recent", s.handleRecentAuditLogs)
		v1.GET("/audit-report", s.handleAuditReport)

		v1.GET("/keys", s.handleListKeys)
		v1.POST("/keys/rotate", s.handleRotateMasterKey)
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
