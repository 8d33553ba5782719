package database

import (
	"errors"
	"fmt"

	"faceverify/internal/core/models"
	"faceverify/internal/core/session"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileRepository definiert die Datenbank-Operationen für Schwellwertprofile
type ProfileRepository interface {
	ListProfiles() ([]models.ThresholdProfile, error)
	GetProfile(name string) (*models.ThresholdProfile, error)
	SaveProfile(profile *models.ThresholdProfile) error
	DeleteProfile(name string) (bool, error)
	EnsureDefault(cfg session.Config) (*models.ThresholdProfile, error)
}

// SQLiteRepository implementiert ProfileRepository für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListProfiles holt alle Profile sortiert nach Namen
func (r *SQLiteRepository) ListProfiles() ([]models.ThresholdProfile, error) {
	var profiles []models.ThresholdProfile
	if err := r.db.Order("name ASC").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// GetProfile holt ein Profil anhand seines Namens; nil, wenn es nicht existiert
func (r *SQLiteRepository) GetProfile(name string) (*models.ThresholdProfile, error) {
	var profile models.ThresholdProfile
	result := r.db.Where("name = ?", name).First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile %q: %w", name, result.Error)
	}
	return &profile, nil
}

// SaveProfile legt ein Profil an oder überschreibt das gleichnamige
func (r *SQLiteRepository) SaveProfile(profile *models.ThresholdProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "description", "weighted_threshold", "cosine_min", "euclidean_min",
			"score_diff_max", "high_confidence", "required_pass_frames", "roi_tolerances",
		}),
	}).Create(profile)
	if result.Error != nil {
		return fmt.Errorf("failed to save profile %q: %w", profile.Name, result.Error)
	}

	log.WithField("profile", profile.Name).Debug("Threshold profile saved")
	return nil
}

// DeleteProfile löscht ein Profil endgültig, damit der Name wieder frei ist
func (r *SQLiteRepository) DeleteProfile(name string) (bool, error) {
	result := r.db.Unscoped().Where("name = ?", name).Delete(&models.ThresholdProfile{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete profile %q: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// EnsureDefault legt das Standardprofil aus der Konfiguration an, falls es fehlt.
// Ein bereits gespeichertes Standardprofil bleibt unverändert.
func (r *SQLiteRepository) EnsureDefault(cfg session.Config) (*models.ThresholdProfile, error) {
	existing, err := r.GetProfile(models.DefaultProfileName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	profile := models.NewThresholdProfile(models.DefaultProfileName, cfg)
	profile.Description = "Seeded from configuration"
	if err := r.SaveProfile(profile); err != nil {
		return nil, err
	}
	log.Info("Default threshold profile created from configuration")
	return profile, nil
}
