package marketauth

import (
	"context"
	"errors"
	"time"

	"github.com/taylanirak/marketauth/jwt"
	"github.com/taylanirak/marketauth/password"
)

// Engine is the entry point for every identity and session-security
// operation. Engines are built once via Builder and are safe for concurrent
// use; all cross-request coordination happens in Redis, never in process
// memory.
type Engine struct {
	config       Config
	directory    UserDirectory
	keychain     Keychain
	totpStore    *totpCredentialStore
	tokens       *ephemeralTokenStore
	csrfStore    *csrfStore
	refreshStore *refreshTokenStore
	adminStore   *adminSessionStore
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	accessTokens *jwt.Manager

	// now is swapped out in tests to drive expiry windows.
	now func() time.Time
}

// Close stops the audit dispatcher after draining queued events. The engine
// must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all operation counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
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

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) ready() error {
	if e == nil || e.directory == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	return nil
}

// ErrBuilderReused is returned when Build is called twice on one Builder.
var ErrBuilderReused = errors.New("builder already used")
