package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event represents an audit event. Every state-changing operation in the
// recovery engine records one, including the before/after state needed
// for compliance review.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	ActorID     string         `json:"actor_id"`
	ActorRole   string         `json:"actor_role"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resource_id"`
	BeforeState string         `json:"before_state,omitempty"`
	AfterState  string         `json:"after_state,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Result      string         `json:"result"` // success, failure, denied
	Error       string         `json:"error,omitempty"`
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// ZapAuditLogger implements audit logging using zap
type ZapAuditLogger struct {
	logger *zap.Logger
}

// NewZapAuditLogger creates a new zap-based audit logger
func NewZapAuditLogger(logger *zap.Logger) *ZapAuditLogger {
	return &ZapAuditLogger{
		logger: logger,
	}
}

// Log logs an audit event
func (l *ZapAuditLogger) Log(ctx context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.String("audit_type", event.Type),
		zap.String("audit_action", event.Action),
		zap.String("audit_resource", event.Resource),
		zap.String("audit_resource_id", event.ResourceID),
		zap.String("audit_result", event.Result),
		zap.Time("audit_timestamp", event.Timestamp),
	}

	if event.ActorID != "" {
		fields = append(fields,
			zap.String("audit_actor_id", event.ActorID),
			zap.String("audit_actor_role", event.ActorRole))
	}

	if event.BeforeState != "" || event.AfterState != "" {
		fields = append(fields,
			zap.String("audit_before_state", event.BeforeState),
			zap.String("audit_after_state", event.AfterState))
	}

	if event.Error != "" {
		fields = append(fields, zap.String("audit_error", event.Error))
	}

	if len(event.Details) > 0 {
		detailsJSON, _ := json.Marshal(event.Details)
		fields = append(fields, zap.String("audit_details", string(detailsJSON)))
	}

	if event.Result == "success" {
		l.logger.Info("Audit event", fields...)
	} else {
		l.logger.Warn("Audit event", fields...)
	}

	return nil
}

// Manager manages audit logging
type Manager struct {
	logger Logger
}

// NewManager creates a new audit manager
func NewManager(logger Logger) *Manager {
	return &Manager{
		logger: logger,
	}
}

// LogStateChange records a successful state-changing operation with its
// before and after state.
func (m *Manager) LogStateChange(ctx context.Context, actorID, actorRole, action, resource, resourceID, before, after string, details map[string]any) error {
	event := Event{
		ID:          uuid.NewString(),
		Type:        "state_change",
		ActorID:     actorID,
		ActorRole:   actorRole,
		Action:      action,
		Resource:    resource,
		ResourceID:  resourceID,
		BeforeState: before,
		AfterState:  after,
		Details:     details,
		Timestamp:   time.Now(),
		Result:      "success",
	}

	return m.logger.Log(ctx, event)
}

// LogAccessDenied records a rejected mutation attempt. Denials are
// security events and always audited.
func (m *Manager) LogAccessDenied(ctx context.Context, actorID, actorRole, action, resource, resourceID, reason string) error {
	event := Event{
		ID:         uuid.NewString(),
		Type:       "security",
		ActorID:    actorID,
		ActorRole:  actorRole,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details: map[string]any{
			"reason": reason,
		},
		Timestamp: time.Now(),
		Result:    "denied",
	}

	return m.logger.Log(ctx, event)
}

// LogChargeAttempt records a payment processor charge attempt and its
// outcome.
func (m *Manager) LogChargeAttempt(ctx context.Context, actorID, actorRole, failureID, transactionID string, success bool, errMsg string) error {
	result := "success"
	if !success {
		result = "failure"
	}

	event := Event{
		ID:         uuid.NewString(),
		Type:       "charge",
		ActorID:    actorID,
		ActorRole:  actorRole,
		Action:     "retry_payment",
		Resource:   "payment_failure",
		ResourceID: failureID,
		Details: map[string]any{
			"transaction_id": transactionID,
		},
		Timestamp: time.Now(),
		Result:    result,
		Error:     errMsg,
	}

	return m.logger.Log(ctx, event)
}
