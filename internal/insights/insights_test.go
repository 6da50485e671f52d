package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/skincheck/internal/repository"
)

var now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func scanAt(spot string, daysAgo int, prediction string, confidence float64) repository.Scan {
	return repository.Scan{
		ID:         spot + "-" + prediction,
		SpotID:     spot,
		Prediction: prediction,
		Confidence: confidence,
		ScannedAt:  now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
	}
}

func TestDeriveAlertsRescanDue(t *testing.T) {
	scans := []repository.Scan{
		scanAt("spot-1", 20, "LowRisk", 0.9),
		scanAt("spot-1", 40, "LowRisk", 0.8),
	}

	alerts := DeriveAlerts(scans, now, DefaultRescanAfter)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRescanDue, alerts[0].Type)
	assert.Equal(t, "spot-1", alerts[0].SpotID)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Equal(t, now.Add(-20*24*time.Hour), alerts[0].Date)
}

func TestDeriveAlertsAnomalyDetected(t *testing.T) {
	scans := []repository.Scan{
		scanAt("spot-1", 2, "LowRisk", 0.9),
		scanAt("spot-1", 1, "HighRisk", 0.81),
	}

	alerts := DeriveAlerts(scans, now, DefaultRescanAfter)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAnomalyDetected, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "anomaly-spot-1", alerts[0].ID)
}

func TestDeriveAlertsMergesAndSortsAcrossSpots(t *testing.T) {
	scans := []repository.Scan{
		scanAt("old", 30, "HighRisk", 0.7),
		scanAt("old", 31, "LowRisk", 0.6),
		scanAt("fresh", 3, "LowRisk", 0.9),
		scanAt("fresh", 5, "LowRisk", 0.95),
		scanAt("changed", 1, "LowRisk", 0.9),
		scanAt("changed", 4, "HighRisk", 0.9),
	}

	alerts := DeriveAlerts(scans, now, DefaultRescanAfter)

	require.Len(t, alerts, 3)
	assert.Equal(t, "anomaly-changed", alerts[0].ID)
	for i := 1; i < len(alerts); i++ {
		assert.False(t, alerts[i].Date.After(alerts[i-1].Date), "alerts must be newest first")
	}
	ids := []string{alerts[1].ID, alerts[2].ID}
	assert.ElementsMatch(t, []string{"rescan-old", "anomaly-old"}, ids)
}

func TestDeriveAlertsEmptyHistory(t *testing.T) {
	alerts := DeriveAlerts(nil, now, 0)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestTipsPrependsHighRiskBlock(t *testing.T) {
	tips := Tips([]repository.Scan{scanAt("spot-1", 1, "HighRisk", 0.81)})

	require.Len(t, tips, len(baseTips)+2)
	assert.Equal(t, "Professional Consultation Required", tips[0].Title)
	assert.Equal(t, "Regular Monitoring", tips[1].Title)
	assert.Equal(t, "Schedule Consultation", tips[0].Action)
}

func TestTipsOmitHighRiskBlockForLowRiskHistory(t *testing.T) {
	tips := Tips([]repository.Scan{scanAt("spot-1", 1, "LowRisk", 0.9)})

	require.Len(t, tips, len(baseTips))
	for _, tip := range tips {
		assert.NotEqual(t, "high-risk", tip.Category)
	}
	assert.Equal(t, "high", tips[0].Priority)
	assert.Equal(t, "medium", tips[len(tips)-1].Priority)
}

func TestProgressSummary(t *testing.T) {
	scans := []repository.Scan{
		scanAt("a", 1, "HighRisk", 0.8),
		scanAt("a", 3, "LowRisk", 0.6),
		scanAt("b", 2, "LowRisk", 0.7),
	}

	summary := Progress(scans)

	assert.Equal(t, 3, summary.TotalScans)
	assert.Equal(t, 2, summary.LowRiskCount)
	assert.Equal(t, 1, summary.HighRiskCount)
	assert.Equal(t, 2, summary.SpotCount)
	assert.InDelta(t, 0.7, summary.AverageConfidence, 1e-9)
	require.NotNil(t, summary.LastScanAt)
	assert.Equal(t, now.Add(-24*time.Hour), *summary.LastScanAt)
}

func TestProgressEmpty(t *testing.T) {
	summary := Progress(nil)
	assert.Zero(t, summary.TotalScans)
	assert.Zero(t, summary.AverageConfidence)
	assert.Nil(t, summary.LastScanAt)
}
