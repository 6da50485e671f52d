package insights

import (
	"sort"

	"github.com/example/skincheck/internal/classifier"
	"github.com/example/skincheck/internal/repository"
)

// Product is a recommended product attached to a tip.
type Product struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Rating float64 `json:"rating"`
}

// Tip is one piece of skincare guidance.
type Tip struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Action      string   `json:"action,omitempty"`
	Product     *Product `json:"product,omitempty"`
}

var highRiskTips = []Tip{
	{
		ID:          "high-risk-1",
		Category:    "high-risk",
		Title:       "Professional Consultation Required",
		Description: "Based on your scan history, we recommend scheduling a consultation with a dermatologist for a thorough examination of your skin.",
		Priority:    "high",
		Action:      "Schedule Consultation",
	},
	{
		ID:          "high-risk-2",
		Category:    "high-risk",
		Title:       "Regular Monitoring",
		Description: "Take clear, well-lit photos of concerning areas every two weeks to track any changes. Note any changes in size, color, or texture.",
		Priority:    "high",
	},
}

var baseTips = []Tip{
	{
		ID:          "general-1",
		Category:    "general",
		Title:       "Daily Sun Protection",
		Description: "Apply broad-spectrum SPF 50+ sunscreen every 2 hours when outdoors. Wear protective clothing and seek shade during peak UV hours (10 AM - 4 PM).",
		Priority:    "high",
	},
	{
		ID:          "general-2",
		Category:    "general",
		Title:       "Skin Hydration",
		Description: "Keep your skin well-hydrated by drinking plenty of water and using a gentle, fragrance-free moisturizer twice daily.",
		Priority:    "medium",
	},
	{
		ID:          "routine-1",
		Category:    "routine",
		Title:       "Gentle Cleansing",
		Description: "Use a mild, non-abrasive cleanser twice daily. Avoid harsh scrubs or exfoliants that could irritate sensitive areas.",
		Priority:    "medium",
	},
	{
		ID:          "routine-2",
		Category:    "routine",
		Title:       "Skin Barrier Support",
		Description: "Consider incorporating products with ceramides, hyaluronic acid, and niacinamide to strengthen your skin barrier.",
		Priority:    "medium",
	},
	{
		ID:          "product-1",
		Category:    "products",
		Title:       "Recommended Sunscreen",
		Description: "La Roche-Posay Anthelios SPF 50+ Mineral Sunscreen - Provides broad-spectrum protection without irritating sensitive skin.",
		Priority:    "high",
		Product:     &Product{Name: "La Roche-Posay Anthelios", Type: "Sunscreen", Rating: 4.8},
	},
	{
		ID:          "product-2",
		Category:    "products",
		Title:       "Gentle Moisturizer",
		Description: "CeraVe Moisturizing Cream - Contains ceramides and hyaluronic acid to maintain skin barrier health.",
		Priority:    "medium",
		Product:     &Product{Name: "CeraVe Moisturizing Cream", Type: "Moisturizer", Rating: 4.7},
	},
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Tips returns the static guidance, with the high-risk block first when any scan
// in history was classified HighRisk. Within that, tips are ordered by priority.
func Tips(scans []repository.Scan) []Tip {
	tips := make([]Tip, 0, len(highRiskTips)+len(baseTips))
	if hasHighRisk(scans) {
		tips = append(tips, highRiskTips...)
	}
	rest := append([]Tip(nil), baseTips...)
	sort.SliceStable(rest, func(i, j int) bool {
		return priorityRank[rest[i].Priority] < priorityRank[rest[j].Priority]
	})
	return append(tips, rest...)
}

func hasHighRisk(scans []repository.Scan) bool {
	for _, scan := range scans {
		if scan.Prediction == string(classifier.HighRisk) {
			return true
		}
	}
	return false
}
