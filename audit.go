package authcore

import (
	"context"
	"io"
	"log/slog"

	internalaudit "github.com/schoolnotes/authcore/internal/audit"
)

// AuditEvent is one security-relevant occurrence: a login, a registration,
// a token refresh, a rejected request.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops every event.
type NoOpSink = internalaudit.NoOpSink

// NewChannelSink returns a sink that buffers events in a channel, mostly
// useful in tests.
func NewChannelSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *internalaudit.JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink logs events through logger.
func NewSlogSink(logger *slog.Logger) *internalaudit.SlogSink {
	return internalaudit.NewSlogSink(logger)
}

const (
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventResolveFailure       = "resolve_failure"
	auditEventPasswordChange       = "password_change"
	auditEventPasswordChangeFailed = "password_change_failure"
	auditEventPasswordRehash       = "password_rehash"
	auditEventAccountCreated       = "account_created"
	auditEventProfileUpdate        = "profile_update"
	auditEventAccountStatusChange  = "account_status_change"
	auditEventAccountRoleChange    = "account_role_change"
	auditEventAdminBootstrap       = "admin_bootstrap"
)

// auditErrorCode maps an error to a short, stable, non-sensitive label.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return KindOf(err).String()
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	identifier string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		AccountID:  accountID,
		Identifier: identifier,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		RequestID:  requestIDFromContext(ctx),
		Success:    success,
		Error:      auditErrorCode(err),
		Metadata:   metadata,
	})
}
