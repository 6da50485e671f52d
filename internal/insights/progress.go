package insights

import (
	"time"

	"github.com/example/skincheck/internal/classifier"
	"github.com/example/skincheck/internal/repository"
)

// ProgressSummary aggregates a user's scan history.
type ProgressSummary struct {
	TotalScans        int        `json:"total_scans"`
	LowRiskCount      int        `json:"low_risk_count"`
	HighRiskCount     int        `json:"high_risk_count"`
	AverageConfidence float64    `json:"average_confidence"`
	SpotCount         int        `json:"spot_count"`
	LastScanAt        *time.Time `json:"last_scan_at,omitempty"`
}

// Progress summarises scans. An empty history yields a zero summary.
func Progress(scans []repository.Scan) ProgressSummary {
	var (
		summary ProgressSummary
		total   float64
		spots   = make(map[string]struct{})
	)
	for _, scan := range scans {
		summary.TotalScans++
		switch classifier.Label(scan.Prediction) {
		case classifier.LowRisk:
			summary.LowRiskCount++
		case classifier.HighRisk:
			summary.HighRiskCount++
		}
		total += scan.Confidence
		spots[scan.SpotID] = struct{}{}

		if summary.LastScanAt == nil || scan.ScannedAt.After(*summary.LastScanAt) {
			at := scan.ScannedAt
			summary.LastScanAt = &at
		}
	}
	if summary.TotalScans > 0 {
		summary.AverageConfidence = total / float64(summary.TotalScans)
	}
	summary.SpotCount = len(spots)
	return summary
}
