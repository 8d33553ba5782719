package models

import (
	"testing"

	"faceverify/internal/core/session"

	"github.com/stretchr/testify/require"
)

func TestThresholdProfileSessionConfig(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.RequiredPassFrames = 3
	cfg.Thresholds.CosineMin = 0.7
	cfg.Tolerances.Relaxed = 0.9

	p := NewThresholdProfile("lenient", cfg)
	require.Equal(t, "lenient", p.Name)
	require.Equal(t, cfg, p.SessionConfig())
	require.NoError(t, p.Validate())
}

func TestThresholdProfileValidate(t *testing.T) {
	p := NewThresholdProfile("", session.DefaultConfig())
	require.ErrorIs(t, p.Validate(), ErrProfileNameRequired)

	p = NewThresholdProfile("broken", session.DefaultConfig())
	p.HighConfidence = 1.5
	require.Error(t, p.Validate())

	p = NewThresholdProfile("window", session.DefaultConfig())
	p.RequiredPassFrames = 0
	require.Error(t, p.Validate())
}
