package marketauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is a structured record emitted for every security-relevant
// operation the engine performs.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	SubjectID string            `json:"subject_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives AuditEvent values from the engine's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements AuditSink.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for the caller to drain.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit implements AuditSink.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit implements AuditSink.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventTOTPEnrolled         = "totp.enrolled"
	auditEventTOTPConfirmed        = "totp.confirmed"
	auditEventTOTPVerify           = "totp.verify"
	auditEventTOTPDisabled         = "totp.disabled"
	auditEventBackupCodesReplaced  = "totp.backup_codes_replaced"
	auditEventBackupCodeUsed       = "totp.backup_code_used"
	auditEventResetRequested       = "password_reset.requested"
	auditEventResetCompleted       = "password_reset.completed"
	auditEventResetFailed          = "password_reset.failed"
	auditEventPasswordChanged      = "password.changed"
	auditEventPasswordChangeFailed = "password.change_failed"
	auditEventVerificationSent     = "email_verification.sent"
	auditEventEmailVerified        = "email_verification.completed"
	auditEventEmailVerifyFailed    = "email_verification.failed"
	auditEventCSRFIssued           = "csrf.issued"
	auditEventCSRFRejected         = "csrf.rejected"
	auditEventRefreshStored        = "refresh.stored"
	auditEventRefreshRevoked       = "refresh.revoked"
	auditEventRefreshRevokedAll    = "refresh.revoked_all"
	auditEventAccessIssued         = "access.issued"
	auditEventAdminSessionCreated  = "admin_session.created"
	auditEventAdminSessionExpired  = "admin_session.expired"
	auditEventAdminSessionKilled   = "admin_session.terminated"
	auditEventAdminSessionsKilled  = "admin_session.terminated_all"
)
