package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"credvault/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// credentialResponse is the metadata view of a stored credential. Envelope
// contents and decrypted data never appear here.
type credentialResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	IntegrationID    string   `json:"integration_id,omitempty"`
	Status           string   `json:"status"`
	KeyID            string   `json:"key_id"`
	AllowedUsers     []string `json:"allowed_users"`
	AllowedRoles     []string `json:"allowed_roles"`
	ExpiresAt        string   `json:"expires_at,omitempty"`
	RotationSchedule string   `json:"rotation_schedule,omitempty"`
	LastRotated      string   `json:"last_rotated,omitempty"`
	RotationCount    int      `json:"rotation_count"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

type retrieveResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	ExpiresAt string            `json:"expires_at,omitempty"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type rotateResponse struct {
	ID    string `json:"id"`
	KeyID string `json:"key_id"`
}

type rotateMasterRequest struct {
	NewMasterSecret string `json:"new_master_secret"`
}

type rotateMasterResponse struct {
	KeyID         string `json:"key_id"`
	PreviousKeyID string `json:"previous_key_id"`
	Migrated      int    `json:"migrated"`
	Remaining     int64  `json:"remaining"`
	Retired       bool   `json:"retired"`
}

type keyResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleCreateCredential(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	var input domain.CredentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cred, err := s.vault.Create(c.Request.Context(), actx, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, credentialToResponse(cred))
}

func (s *Server) handleRetrieveCredential(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	dec, err := s.vault.Retrieve(c.Request.Context(), actx, c.Param("credential_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := retrieveResponse{
		ID:   dec.ID,
		Name: dec.Name,
		Type: string(dec.Type),
		Data: dec.Data,
	}
	if dec.ExpiresAt != nil {
		resp.ExpiresAt = dec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpdateCredential(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	var upd domain.CredentialUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cred, err := s.vault.Update(c.Request.Context(), actx, c.Param("credential_id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialToResponse(cred))
}

func (s *Server) handleRotateCredential(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	id := c.Param("credential_id")
	env, err := s.vault.Rotate(c.Request.Context(), actx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rotateResponse{ID: id, KeyID: env.KeyID})
}

func (s *Server) handleRevokeCredential(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.vault.Revoke(c.Request.Context(), actx, c.Param("credential_id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAuditLogs(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	filter, err := parseAuditFilter(c)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	entries, err := s.vault.ListAuditLogs(c.Request.Context(), actx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleRecentAuditLogs serves the in-memory cache of recently persisted
// entries, for dashboards that poll without hitting the durable log.
func (s *Server) handleRecentAuditLogs(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	if !s.requireAdmin(c, actx) {
		return
	}
	limit := domain.DefaultAuditLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.audit.Recent(limit)})
}

func (s *Server) handleAuditReport(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	if !s.requireAdmin(c, actx) {
		return
	}
	start, err := parseTimeParam(c, "start")
	if err != nil || start == nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", "start is required, RFC3339")
		return
	}
	end, err := parseTimeParam(c, "end")
	if err != nil || end == nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", "end is required, RFC3339")
		return
	}
	report, err := s.audit.GenerateReport(c.Request.Context(), *start, *end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListKeys(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	if !s.requireAdmin(c, actx) {
		return
	}
	keys := s.enc.Keys()
	out := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyResponse{
			ID:        key.ID,
			Status:    string(key.Status),
			CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": out, "current": s.enc.CurrentKeyID()})
}

// handleRotateMasterKey introduces a key derived from the new master secret,
// sweeps every envelope off the previous key, and retires it once no
// references remain.
func (s *Server) handleRotateMasterKey(c *gin.Context) {
	actx, ok := s.principal(c)
	if !ok {
		return
	}
	if !s.requireAdmin(c, actx) {
		return
	}
	var req rotateMasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.NewMasterSecret == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "new_master_secret is required")
		return
	}

	previousKeyID := s.enc.CurrentKeyID()
	newKeyID, err := s.enc.RotateKey(req.NewMasterSecret)
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := s.sweep.Run(c.Request.Context(), previousKeyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rotateMasterResponse{
		KeyID:         newKeyID,
		PreviousKeyID: previousKeyID,
		Migrated:      result.Migrated,
		Remaining:     result.Remaining,
		Retired:       result.Retired,
	})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

// requireAdmin gates administrative endpoints. Denials are audited like any
// facade denial.
func (s *Server) requireAdmin(c *gin.Context, actx domain.AccessContext) bool {
	if actx.UserRole == domain.RoleAdmin {
		return true
	}
	s.audit.LogAccessDenied(c.Request.Context(), actx, "", "admin role required", domain.AuditDetails{
		Metadata: map[string]any{"endpoint": c.FullPath()},
	})
	writeErrorCode(c, http.StatusForbidden, "ACCESS_DENIED", "admin role required")
	return false
}

func (s *Server) principal(c *gin.Context) (domain.AccessContext, bool) {
	actx, ok := s.authenticator.Authenticate(c)
	if !ok {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "identity headers missing")
		c.Abort()
		return domain.AccessContext{}, false
	}
	return actx, true
}

func credentialToResponse(cred *domain.VaultCredential) credentialResponse {
	resp := credentialResponse{
		ID:            cred.ID,
		Name:          cred.Name,
		Type:          string(cred.Type),
		IntegrationID: cred.IntegrationID,
		Status:        string(cred.Status),
		KeyID:         cred.EncryptedData.KeyID,
		AllowedUsers:  cred.AllowedUsers,
		AllowedRoles:  cred.AllowedRoles,
		RotationCount: cred.RotationCount,
		CreatedAt:     cred.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     cred.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if cred.ExpiresAt != nil {
		resp.ExpiresAt = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if cred.RotationSchedule > 0 {
		resp.RotationSchedule = cred.RotationSchedule.String()
	}
	if cred.LastRotated != nil {
		resp.LastRotated = cred.LastRotated.UTC().Format(time.RFC3339)
	}
	return resp
}

func parseAuditFilter(c *gin.Context) (domain.AuditFilter, error) {
	filter := domain.AuditFilter{
		CredentialID: c.Query("credential_id"),
		UserID:       c.Query("user_id"),
	}
	if v := c.Query("action"); v != "" {
		action := domain.Action(v)
		filter.Action = &action
	}
	if v := c.Query("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			return domain.AuditFilter{}, err
		}
		filter.Success = &success
	}
	start, err := parseTimeParam(c, "start")
	if err != nil {
		return domain.AuditFilter{}, err
	}
	filter.StartDate = start
	end, err := parseTimeParam(c, "end")
	if err != nil {
		return domain.AuditFilter{}, err
	}
	filter.EndDate = end
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return domain.AuditFilter{}, err
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return domain.AuditFilter{}, err
		}
		filter.Offset = offset
	}
	return filter, nil
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}

func writeError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", validation.Error())
		return
	}
	if denied, ok := domain.IsAccessDenied(err); ok {
		writeErrorCode(c, http.StatusForbidden, "ACCESS_DENIED", denied.Reason)
		return
	}

	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrRotationInProgress):
		status, code, message = http.StatusConflict, "ROTATION_IN_PROGRESS", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", err.Error()
	case errors.Is(err, domain.ErrIntegrity), errors.Is(err, domain.ErrUnknownKey):
		// Key ids and cipher internals stay out of client responses.
		code, message = "DECRYPT_FAILED", "cannot decrypt credential"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
