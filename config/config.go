package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faceverify/internal/core/biometrics"
	"faceverify/internal/core/roi"
	"faceverify/internal/core/session"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix ist das Präfix der Umgebungsvariablen, z.B. FACEVERIFY_MQTT_BROKER
const EnvPrefix = "FACEVERIFY"

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	DB           DBConfig           `mapstructure:"db"`
	Verification VerificationConfig `mapstructure:"verification"`
	OpenCV       OpenCVConfig       `mapstructure:"opencv"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Sessions     SessionsConfig     `mapstructure:"sessions"`
	Workers      WorkersConfig      `mapstructure:"workers"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"` // leer = TZ-Umgebungsvariable, sonst UTC
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei, "file::memory:" für Tests
}

// VerificationConfig enthält die Entscheidungsschwellen und das Bestätigungsfenster
type VerificationConfig struct {
	WeightedThreshold   float64 `mapstructure:"weighted_threshold"`
	CosineMin           float64 `mapstructure:"cosine_min"`
	EuclideanMin        float64 `mapstructure:"euclidean_min"`
	ScoreDiffMax        float64 `mapstructure:"score_diff_max"`
	HighConfidence      float64 `mapstructure:"high_confidence"`
	RequiredPassFrames  int     `mapstructure:"required_pass_frames"`
	ROIToleranceStrict  float64 `mapstructure:"roi_tolerance_strict"`
	ROIToleranceRelaxed float64 `mapstructure:"roi_tolerance_relaxed"`
	CanonicalSize       int     `mapstructure:"canonical_size"` // Kantenlänge des normierten Gesichtsausschnitts
	Profile             string  `mapstructure:"profile"`        // Profil für neue Sessions ohne explizite Angabe
}

// OpenCVConfig enthält Einstellungen für die Gesichtserkennung mit OpenCV
type OpenCVConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	CascadeFile   string  `mapstructure:"cascade_file"`    // Haar-Cascade, z.B. haarcascade_frontalface_default.xml
	ScaleFactor   float64 `mapstructure:"scale_factor"`    // Skalierungsfaktor für Multi-Scale-Detektion
	MinNeighbors  int     `mapstructure:"min_neighbors"`   // Minimum benachbarter Erkennungen für Bestätigung
	MinSizeWidth  int     `mapstructure:"min_size_width"`  // Minimale Breite eines Gesichts in Pixeln
	MinSizeHeight int     `mapstructure:"min_size_height"` // Minimale Höhe eines Gesichts in Pixeln
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	HomeAssistant   bool   `mapstructure:"homeassistant"`    // Sessions per MQTT Discovery anlegen
	DiscoveryPrefix string `mapstructure:"discovery_prefix"` // Standard von Home Assistant: "homeassistant"
}

// SessionsConfig steuert das Entfernen inaktiver Sessions
type SessionsConfig struct {
	IdleTimeoutMinutes   int `mapstructure:"idle_timeout_minutes"`
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
}

// IdleTimeout liefert die Inaktivitätsgrenze als Duration
func (s SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// CheckInterval liefert das Prüfintervall als Duration
func (s SessionsConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// WorkersConfig enthält die Einstellungen des Worker-Pools
type WorkersConfig struct {
	Count int `mapstructure:"count"` // 0 = automatisch anhand der CPU-Kerne
}

// I18nConfig enthält Spracheinstellungen
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	CookieSecret    string `mapstructure:"cookie_secret"` // Schlüssel des Cookies mit der gewählten Sprache
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.SessionConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid verification config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Default liefert eine Konfiguration, die nur aus den Standardwerten besteht
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// die Standardwerte passen immer in die Struktur
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// SessionConfig baut die Session-Konfiguration aus dem Abschnitt "verification"
func (c *Config) SessionConfig() session.Config {
	v := c.Verification
	return session.Config{
		Thresholds: biometrics.Thresholds{
			WeightedThreshold: v.WeightedThreshold,
			CosineMin:         v.CosineMin,
			EuclideanMin:      v.EuclideanMin,
			ScoreDiffMax:      v.ScoreDiffMax,
			HighConfidence:    v.HighConfidence,
		},
		RequiredPassFrames: v.RequiredPassFrames,
		Tolerances: roi.Tolerances{
			Strict:  v.ROIToleranceStrict,
			Relaxed: v.ROIToleranceRelaxed,
		},
	}
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/faceverify.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/faceverify.db")

	// Verifikations-Standardwerte
	v.SetDefault("verification.weighted_threshold", biometrics.DefaultWeightedThreshold)
	v.SetDefault("verification.cosine_min", biometrics.DefaultCosineMin)
	v.SetDefault("verification.euclidean_min", biometrics.DefaultEuclideanMin)
	v.SetDefault("verification.score_diff_max", biometrics.DefaultScoreDiffMax)
	v.SetDefault("verification.high_confidence", biometrics.DefaultHighConfidence)
	v.SetDefault("verification.required_pass_frames", 5)
	v.SetDefault("verification.roi_tolerance_strict", roi.DefaultStrictTolerance)
	v.SetDefault("verification.roi_tolerance_relaxed", roi.DefaultRelaxedTolerance)
	v.SetDefault("verification.canonical_size", 100)
	v.SetDefault("verification.profile", "default")

	// OpenCV-Standardwerte
	v.SetDefault("opencv.enabled", false)
	v.SetDefault("opencv.cascade_file", "/app/models/haarcascade_frontalface_default.xml")
	v.SetDefault("opencv.scale_factor", 1.1)
	v.SetDefault("opencv.min_neighbors", 3)
	v.SetDefault("opencv.min_size_width", 60)
	v.SetDefault("opencv.min_size_height", 60)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "faceverify")
	v.SetDefault("mqtt.topic_prefix", "faceverify")
	v.SetDefault("mqtt.homeassistant", false)
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")

	// Session-Standardwerte
	v.SetDefault("sessions.idle_timeout_minutes", 15)
	v.SetDefault("sessions.check_interval_seconds", 60)

	v.SetDefault("workers.count", 0)
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.cookie_secret", "faceverify-language")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (nur für Dateien, nicht für In-Memory-DSNs)
	if cfg.DB.File != "" && !strings.HasPrefix(cfg.DB.File, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
