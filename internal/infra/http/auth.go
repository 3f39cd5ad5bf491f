package http

import (
	"strings"

	"credvault/internal/domain"

	"github.com/gin-gonic/gin"
)

// HeaderAuthenticator trusts identity headers set by the platform gateway.
// The vault itself never terminates end-user authentication.
type HeaderAuthenticator struct{}

func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{}
}

func (h *HeaderAuthenticator) Authenticate(c *gin.Context) (domain.AccessContext, bool) {
	actx := domain.AccessContext{
		UserID:    strings.TrimSpace(c.GetHeader("X-User-ID")),
		UserRole:  strings.TrimSpace(c.GetHeader("X-User-Role")),
		SessionID: strings.TrimSpace(c.GetHeader("X-Session-ID")),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if actx.UserID == "" {
		return domain.AccessContext{}, false
	}
	return actx, true
}
