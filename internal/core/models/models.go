package models

import (
	"errors"

	"faceverify/internal/core/biometrics"
	"faceverify/internal/core/roi"
	"faceverify/internal/core/session"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultProfileName ist der Name des Profils, das aus der Konfiguration erzeugt wird
const DefaultProfileName = "default"

// ErrProfileNameRequired wird zurückgegeben, wenn ein Profil ohne Namen gespeichert werden soll
var ErrProfileNameRequired = errors.New("profile name is required")

// ThresholdProfile speichert einen benannten Satz von Entscheidungsschwellen
type ThresholdProfile struct {
	gorm.Model
	Name               string                             `gorm:"uniqueIndex;not null" json:"name"`
	Description        string                             `json:"description"`
	WeightedThreshold  float64                            `json:"weighted_threshold"`
	CosineMin          float64                            `json:"cosine_min"`
	EuclideanMin       float64                            `json:"euclidean_min"`
	ScoreDiffMax       float64                            `json:"score_diff_max"`
	HighConfidence     float64                            `json:"high_confidence"`
	RequiredPassFrames int                                `gorm:"default:5" json:"required_pass_frames"`
	ROITolerances      datatypes.JSONType[roi.Tolerances] `gorm:"type:json" json:"roi_tolerances"`
}

// NewThresholdProfile erzeugt ein Profil aus einer Session-Konfiguration
func NewThresholdProfile(name string, cfg session.Config) *ThresholdProfile {
	return &ThresholdProfile{
		Name:               name,
		WeightedThreshold:  cfg.Thresholds.WeightedThreshold,
		CosineMin:          cfg.Thresholds.CosineMin,
		EuclideanMin:       cfg.Thresholds.EuclideanMin,
		ScoreDiffMax:       cfg.Thresholds.ScoreDiffMax,
		HighConfidence:     cfg.Thresholds.HighConfidence,
		RequiredPassFrames: cfg.RequiredPassFrames,
		ROITolerances:      datatypes.NewJSONType(cfg.Tolerances),
	}
}

// Thresholds liefert die Schwellen des Profils
func (p *ThresholdProfile) Thresholds() biometrics.Thresholds {
	return biometrics.Thresholds{
		WeightedThreshold: p.WeightedThreshold,
		CosineMin:         p.CosineMin,
		EuclideanMin:      p.EuclideanMin,
		ScoreDiffMax:      p.ScoreDiffMax,
		HighConfidence:    p.HighConfidence,
	}
}

// SessionConfig wandelt das Profil in eine Session-Konfiguration um
func (p *ThresholdProfile) SessionConfig() session.Config {
	return session.Config{
		Thresholds:         p.Thresholds(),
		RequiredPassFrames: p.RequiredPassFrames,
		Tolerances:         p.ROITolerances.Data(),
	}
}

// Validate prüft das Profil, bevor es gespeichert wird
func (p *ThresholdProfile) Validate() error {
	if p.Name == "" {
		return ErrProfileNameRequired
	}
	return p.SessionConfig().Validate()
}
