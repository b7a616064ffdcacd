package models

import "github.com/google/uuid"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Vulnerability is a single finding attached to a completed scan.
// Rows are created in bulk when the scan completes and never mutated
// afterwards, except for the AI explanation fields filled in out of
// band.
type Vulnerability struct {
	Base
	ScanID uuid.UUID `gorm:"type:uuid;index;not null" json:"scan_id"`

	Title       string   `gorm:"not null" json:"title"`
	Description string   `gorm:"type:text" json:"description,omitempty"`
	Severity    Severity `gorm:"not null;index" json:"severity"`
	Category    string   `json:"category,omitempty"` // headers, tls, cookies, network, dns
	CVEID       string   `json:"cve_id,omitempty"`

	Evidence string `gorm:"type:text" json:"evidence,omitempty"`

	// AI-generated guidance, filled in by an external enrichment job.
	Explanation string `gorm:"type:text" json:"explanation,omitempty"`
	FixGuide    string `gorm:"type:text" json:"fix_guide,omitempty"`

	Scan *Scan `gorm:"foreignKey:ScanID" json:"-"`
}

func (Vulnerability) TableName() string {
	return "vulnerabilities"
}
