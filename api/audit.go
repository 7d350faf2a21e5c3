package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegister        AuditEvent = "register"
	AuditRegisterFailure AuditEvent = "register_failure"
	AuditLoginSuccess    AuditEvent = "login_success"
	AuditLoginFailure    AuditEvent = "login_failure"
	AuditLogout          AuditEvent = "logout"
	AuditCSRFRejected    AuditEvent = "csrf_rejected"
	AuditTokenRejected   AuditEvent = "token_rejected"
	AuditTodoCreated     AuditEvent = "todo_created"
	AuditTodoUpdated     AuditEvent = "todo_updated"
	AuditTodoDeleted     AuditEvent = "todo_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Records are optionally forwarded to a webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	ts := time.Now().UTC().Format(time.RFC3339)
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", ts),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		evt := webhookEvent{Event: string(event), RemoteAddr: r.RemoteAddr, Timestamp: ts}
		for _, a := range attrs {
			switch a.Key {
			case "email":
				evt.Email = a.Value.String()
			case "reason":
				evt.Reason = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logEvent is a convenience for events tied to an account email.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, email string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("email", email),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
