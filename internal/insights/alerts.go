// Package insights derives alerts, tips and progress summaries from scan history.
// Every function here is pure: no storage or network access.
package insights

import (
	"sort"
	"time"

	"github.com/example/skincheck/internal/repository"
)

// DefaultRescanAfter is how old the latest scan of a spot may get before a rescan is due.
const DefaultRescanAfter = 14 * 24 * time.Hour

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRescanDue       AlertType = "RescanDue"
	AlertAnomalyDetected AlertType = "AnomalyDetected"
)

// Alert is a derived notification about one spot.
type Alert struct {
	ID          string    `json:"id"`
	Type        AlertType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Severity    string    `json:"severity"`
	SpotID      string    `json:"spot_id"`
}

// DeriveAlerts groups scans by spot and emits a RescanDue alert when the latest
// scan is older than rescanAfter, and an AnomalyDetected alert when the two latest
// predictions differ. The result is sorted by alert date, newest first.
func DeriveAlerts(scans []repository.Scan, now time.Time, rescanAfter time.Duration) []Alert {
	if rescanAfter <= 0 {
		rescanAfter = DefaultRescanAfter
	}
	cutoff := now.Add(-rescanAfter)

	bySpot := make(map[string][]repository.Scan)
	var order []string
	for _, scan := range scans {
		if _, seen := bySpot[scan.SpotID]; !seen {
			order = append(order, scan.SpotID)
		}
		bySpot[scan.SpotID] = append(bySpot[scan.SpotID], scan)
	}

	alerts := make([]Alert, 0)
	for _, spotID := range order {
		group := bySpot[spotID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ScannedAt.After(group[j].ScannedAt)
		})
		latest := group[0]

		if latest.ScannedAt.Before(cutoff) {
			alerts = append(alerts, Alert{
				ID:          "rescan-" + spotID,
				Type:        AlertRescanDue,
				Title:       "Rescan Required",
				Description: "It's been more than two weeks since your last scan of this spot.",
				Date:        latest.ScannedAt,
				Severity:    "medium",
				SpotID:      spotID,
			})
		}

		if len(group) > 1 && group[1].Prediction != latest.Prediction {
			alerts = append(alerts, Alert{
				ID:          "anomaly-" + spotID,
				Type:        AlertAnomalyDetected,
				Title:       "Change Detected",
				Description: "The prediction for this spot has changed since the last scan.",
				Date:        latest.ScannedAt,
				Severity:    "high",
				SpotID:      spotID,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Date.After(alerts[j].Date)
	})
	return alerts
}
