package domain

import "time"

// OperationMode decides whether permanent delete or retire is available.
type OperationMode string

const (
	ModeStandalone OperationMode = "standalone"
	ModeStudio     OperationMode = "studio"
	ModePipeline   OperationMode = "pipeline"
)

const SettingOperationMode = "operation_mode"

func ParseOperationMode(s string) (OperationMode, bool) {
	switch m := OperationMode(s); m {
	case ModeStandalone, ModeStudio, ModePipeline:
		return m, true
	}
	return "", false
}

// AuditAction names what happened in an AuditRecord.
type AuditAction string

const (
	AuditRetire  AuditAction = "retire"
	AuditRestore AuditAction = "restore"
	AuditPurge   AuditAction = "purge"
)

// AuditRecord is an append-only entry. Rows are never updated.
type AuditRecord struct {
	ID        int64       `json:"id" db:"id"`
	Actor     string      `json:"actor" db:"actor"`
	Action    AuditAction `json:"action" db:"action"`
	Scope     string      `json:"scope_description" db:"scope_description"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}
