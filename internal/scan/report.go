package scan

import (
	"time"

	"github.com/richjun-project/vibescan/internal/database/models"
)

// Finding is one issue discovered by the execution engine, before it
// is persisted as a Vulnerability row.
type Finding struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Severity    models.Severity `json:"severity"`
	Category    string          `json:"category,omitempty"`
	CVEID       string          `json:"cve_id,omitempty"`
	Evidence    string          `json:"evidence,omitempty"`
}

// SeverityCounts aggregates findings per severity for the report
// summary.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

func (c *SeverityCounts) Add(sev models.Severity) {
	switch sev {
	case models.SeverityCritical:
		c.Critical++
	case models.SeverityHigh:
		c.High++
	case models.SeverityMedium:
		c.Medium++
	case models.SeverityLow:
		c.Low++
	default:
		c.Info++
	}
}

// Result is the terminal payload of a successful scan.
type Result struct {
	Score    int              `json:"score"`
	Grade    models.ScanGrade `json:"grade"`
	Summary  SeverityCounts   `json:"summary"`
	Findings []Finding        `json:"findings"`
}

// Report is the structure serialized into Scan.JSONReport at
// completion time.
type Report struct {
	Domain      string           `json:"domain"`
	Score       int              `json:"score"`
	Grade       models.ScanGrade `json:"grade"`
	Summary     SeverityCounts   `json:"summary"`
	Findings    []Finding        `json:"findings"`
	CompletedAt time.Time        `json:"completed_at"`
}
