package usecase

import (
	"context"
	"sync"
	"time"

	"credvault/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditLogger records every vault operation, permitted or denied, and answers
// filtered and aggregate queries over the durable log.
//
// Appends are decoupled from the caller: a slow or failing audit sink never
// delays or fails the operation it accompanies. A sink failure is the one
// recovered condition in the vault; it is logged to operational monitoring
// and swallowed. The bounded in-memory buffer is a write-through cache in
// front of the durable log and is only appended to after a durable append
// succeeds, evicting oldest first.
type AuditLogger struct {
	repo  AuditLogRepository
	clock Clock
	log   *zap.Logger

	queue   chan domain.AuditLogEntry
	flushCh chan chan struct{}
	quit    chan struct{}
	done    chan struct{}
	closed  sync.Once

	mu        sync.Mutex
	recent    []domain.AuditLogEntry
	cacheSize int
}

// NewAuditLogger builds a logger over the durable repository. A queueSize of
// zero makes appends synchronous, which tests rely on; any positive size
// starts a background writer.
func NewAuditLogger(repo AuditLogRepository, clock Clock, logger *zap.Logger, queueSize int) *AuditLogger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &AuditLogger{
		repo:      repo,
		clock:     clock,
		log:       logger,
		cacheSize: 256,
	}
	if queueSize > 0 {
		l.queue = make(chan domain.AuditLogEntry, queueSize)
		l.flushCh = make(chan chan struct{})
		l.quit = make(chan struct{})
		l.done = make(chan struct{})
		go l.run()
	}
	return l
}

// Log appends one entry. The entry's metadata always carries the requester's
// session id and role on top of caller-supplied metadata. Log never returns
// an error and never blocks on the sink.
func (l *AuditLogger) Log(ctx context.Context, actx domain.AccessContext, action domain.Action, credentialID string, success bool, details domain.AuditDetails) {
	metadata := make(map[string]any, len(details.Metadata)+2)
	for k, v := range details.Metadata {
		metadata[k] = v
	}
	metadata["sessionId"] = actx.SessionID
	metadata["userRole"] = actx.UserRole

	entry := domain.AuditLogEntry{
		ID:             uuid.NewString(),
		CredentialID:   credentialID,
		UserID:         actx.UserID,
		Action:         action,
		Success:        success,
		IPAddress:      actx.IPAddress,
		UserAgent:      actx.UserAgent,
		Reason:         details.Reason,
		Timestamp:      l.clock().UTC(),
		CredentialName: details.CredentialName,
		IntegrationID:  details.IntegrationID,
		Metadata:       metadata,
	}

	if l.queue == nil {
		l.persist(entry)
		return
	}
	select {
	case l.queue <- entry:
	default:
		// Queue saturated; persist out of band rather than dropping or
		// blocking the caller.
		go l.persist(entry)
	}
}

func (l *AuditLogger) LogRetrieve(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionRetrieve, credentialID, true, details)
}

func (l *AuditLogger) LogCreate(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionCreate, credentialID, true, details)
}

func (l *AuditLogger) LogUpdate(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionUpdate, credentialID, true, details)
}

func (l *AuditLogger) LogRotate(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionRotate, credentialID, true, details)
}

func (l *AuditLogger) LogRevoke(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionRevoke, credentialID, true, details)
}

func (l *AuditLogger) LogDelete(ctx context.Context, actx domain.AccessContext, credentialID string, details domain.AuditDetails) {
	l.Log(ctx, actx, domain.ActionDelete, credentialID, true, details)
}

func (l *AuditLogger) LogAccessDenied(ctx context.Context, actx domain.AccessContext, credentialID, reason string, details domain.AuditDetails) {
	details.Reason = reason
	l.Log(ctx, actx, domain.ActionAccessDenied, credentialID, false, details)
}

// GetLogs returns entries matching all supplied filters, newest first,
// paginated by offset/limit (default limit 50).
func (l *AuditLogger) GetLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = domain.DefaultAuditLimit
	}
	return l.repo.List(ctx, filter)
}

func (l *AuditLogger) GetCredentialLogs(ctx context.Context, credentialID string, limit int) ([]domain.AuditLogEntry, error) {
	return l.GetLogs(ctx, domain.AuditFilter{CredentialID: credentialID, Limit: limit})
}

func (l *AuditLogger) GetUserLogs(ctx context.Context, userID string, limit int) ([]domain.AuditLogEntry, error) {
	return l.GetLogs(ctx, domain.AuditFilter{UserID: userID, Limit: limit})
}

func (l *AuditLogger) GetFailedAttempts(ctx context.Context, since *time.Time, limit int) ([]domain.AuditLogEntry, error) {
	failed := false
	return l.GetLogs(ctx, domain.AuditFilter{Success: &failed, StartDate: since, Limit: limit})
}

func (l *AuditLogger) GetAccessDeniedEvents(ctx context.Context, since *time.Time, limit int) ([]domain.AuditLogEntry, error) {
	denied := domain.ActionAccessDenied
	return l.GetLogs(ctx, domain.AuditFilter{Action: &denied, StartDate: since, Limit: limit})
}

// GenerateReport aggregates every entry whose timestamp falls within
// [start, end]. An empty window is not an error: the success rate defaults
// to 100.
func (l *AuditLogger) GenerateReport(ctx context.Context, start, end time.Time) (domain.AuditReport, error) {
	entries, err := l.repo.ListRange(ctx, start, end)
	if err != nil {
		return domain.AuditReport{}, err
	}

	report := domain.AuditReport{
		TotalOperations: len(entries),
		ByAction:        make(map[domain.Action]int),
		ByUser:          make(map[string]int),
		SuccessRate:     100,
	}
	credentials := make(map[string]struct{})
	successes := 0
	for _, e := range entries {
		report.ByAction[e.Action]++
		report.ByUser[e.UserID]++
		if e.Success {
			successes++
		}
		if e.Action == domain.ActionAccessDenied {
			report.AccessDeniedCount++
		}
		if e.CredentialID != "" {
			credentials[e.CredentialID] = struct{}{}
		}
	}
	if len(entries) > 0 {
		report.SuccessRate = float64(successes) / float64(len(entries)) * 100
	}
	report.UniqueCredentialsAccessed = len(credentials)
	report.UniqueUsers = len(report.ByUser)
	return report, nil
}

// Recent returns up to limit cached entries, newest first. The cache only
// holds entries already durably persisted.
func (l *AuditLogger) Recent(limit int) []domain.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.recent) {
		limit = len(l.recent)
	}
	out := make([]domain.AuditLogEntry, 0, limit)
	for i := len(l.recent) - 1; i >= len(l.recent)-limit; i-- {
		out = append(out, l.recent[i])
	}
	return out
}

// Flush blocks until every queued entry has been handed to the sink.
func (l *AuditLogger) Flush() {
	if l.queue == nil {
		return
	}
	ack := make(chan struct{})
	select {
	case l.flushCh <- ack:
		<-ack
	case <-l.done:
	}
}

// Close drains the queue and stops the background writer.
func (l *AuditLogger) Close() {
	if l.queue == nil {
		return
	}
	l.closed.Do(func() { close(l.quit) })
	<-l.done
}

func (l *AuditLogger) run() {
	defer close(l.done)
	for {
		select {
		case entry := <-l.queue:
			l.persist(entry)
		case ack := <-l.flushCh:
			l.drain()
			close(ack)
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *AuditLogger) drain() {
	for {
		select {
		case entry := <-l.queue:
			l.persist(entry)
		default:
			return
		}
	}
}

func (l *AuditLogger) persist(entry domain.AuditLogEntry) {
	if err := l.repo.Append(context.Background(), entry); err != nil {
		l.log.Error("audit append failed",
			zap.String("credential_id", entry.CredentialID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return
	}

	l.mu.Lock()
	l.recent = append(l.recent, entry)
	if len(l.recent) > l.cacheSize {
		l.recent = l.recent[len(l.recent)-l.cacheSize:]
	}
	l.mu.Unlock()
}
