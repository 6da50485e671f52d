package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Spot is a tracked lesion location owned by one user.
type Spot struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	Location  *string   `gorm:"column:location;type:text" json:"location,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName overrides the default table name.
func (Spot) TableName() string {
	return "spots"
}

// BeforeCreate assigns the identifier when the caller did not.
func (s *Spot) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Scan is one persisted prediction for a spot. Scans are append-only.
type Scan struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	SpotID              string    `gorm:"column:spot_id;size:36;not null;index" json:"spot_id"`
	Spot                *Spot     `gorm:"foreignKey:SpotID;constraint:OnDelete:CASCADE" json:"-"`
	ImageURL            *string   `gorm:"column:image_url;type:text" json:"image_url,omitempty"`
	Prediction          string    `gorm:"column:prediction;size:16;not null" json:"prediction"`
	Confidence          float64   `gorm:"column:confidence;not null" json:"confidence"`
	LowRiskProbability  float64   `gorm:"column:low_risk_probability;not null" json:"low_risk_probability"`
	HighRiskProbability float64   `gorm:"column:high_risk_probability;not null" json:"high_risk_probability"`
	ScannedAt           time.Time `gorm:"column:scanned_at;not null;index" json:"scanned_at"`
}

// TableName overrides the default table name.
func (Scan) TableName() string {
	return "scans"
}

// BeforeCreate assigns the identifier when the caller did not.
func (s *Scan) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
