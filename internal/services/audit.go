package services

import "context"

// Audit actions.
const (
	AuditRunUpdated       = "run_updated"
	AuditRunDeleted       = "run_deleted"
	AuditPlayerDeleted    = "player_deleted"
	AuditRotationFinished = "rotation_finished"
)

// Auditor records administrative changes. Implementations must not block.
type Auditor interface {
	Record(ctx context.Context, action, subject string, details map[string]interface{})
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, string, map[string]interface{}) {}
