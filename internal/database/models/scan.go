package models

import (
	"github.com/google/uuid"
)

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

type ScanGrade string

const (
	GradeA ScanGrade = "A"
	GradeB ScanGrade = "B"
	GradeC ScanGrade = "C"
	GradeD ScanGrade = "D"
)

type Scan struct {
	Base
	OwnerID uuid.UUID  `gorm:"type:uuid;index;not null" json:"owner_id"`
	Domain  string     `gorm:"not null;index" json:"domain"`
	Status  ScanStatus `gorm:"not null;index;default:'pending'" json:"status"`

	// Progress, meaningful only while running. Monotonically
	// non-decreasing; enforced by the lifecycle update predicate.
	Progress        int    `gorm:"default:0" json:"progress"`
	ProgressMessage string `json:"progress_message,omitempty"`
	LastProgressAt  int64  `json:"last_progress_at,omitempty"`

	// Result fields, set atomically with the completed flip.
	Grade      ScanGrade `json:"grade,omitempty"`
	Score      *int      `json:"score,omitempty"`
	JSONReport string    `gorm:"type:jsonb" json:"json_report,omitempty"`

	// Sharing / entitlement
	IsPaid     bool   `gorm:"default:false" json:"is_paid"`
	IsPublic   bool   `gorm:"default:false" json:"is_public"`
	ShareToken string `gorm:"uniqueIndex;not null" json:"-"`

	// Execution
	StartedAt   int64  `json:"started_at,omitempty"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`

	// Asynq task ID for tracking
	TaskID string `gorm:"index" json:"task_id,omitempty"`

	// Relationships
	Owner           *User           `gorm:"foreignKey:OwnerID" json:"-"`
	Vulnerabilities []Vulnerability `gorm:"foreignKey:ScanID" json:"vulnerabilities,omitempty"`
}

func (Scan) TableName() string {
	return "scans"
}

// IsActive reports whether the scan still holds the per-(owner, domain)
// admission slot.
func (s *Scan) IsActive() bool {
	return s.Status == ScanStatusPending || s.Status == ScanStatusRunning
}
