package database

import (
	"testing"

	"faceverify/config"
	"faceverify/internal/core/models"
	"faceverify/internal/core/session"

	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := Open(config.DBConfig{File: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewSQLiteRepository(db)
}

func TestEnsureDefaultSeedsOnce(t *testing.T) {
	repo := newTestRepository(t)

	cfg := session.DefaultConfig()
	p, err := repo.EnsureDefault(cfg)
	require.NoError(t, err)
	require.Equal(t, models.DefaultProfileName, p.Name)
	require.Equal(t, cfg, p.SessionConfig())

	changed := session.DefaultConfig()
	changed.RequiredPassFrames = 9
	p, err = repo.EnsureDefault(changed)
	require.NoError(t, err)
	require.Equal(t, 5, p.RequiredPassFrames)
}

func TestSaveProfileUpserts(t *testing.T) {
	repo := newTestRepository(t)

	cfg := session.DefaultConfig()
	cfg.Tolerances.Relaxed = 0.9
	require.NoError(t, repo.SaveProfile(models.NewThresholdProfile("door", cfg)))

	cfg.RequiredPassFrames = 7
	require.NoError(t, repo.SaveProfile(models.NewThresholdProfile("door", cfg)))

	got, err := repo.GetProfile("door")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 7, got.RequiredPassFrames)
	require.InDelta(t, 0.9, got.ROITolerances.Data().Relaxed, 1e-9)

	all, err := repo.ListProfiles()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSaveProfileValidates(t *testing.T) {
	repo := newTestRepository(t)

	bad := models.NewThresholdProfile("bad", session.DefaultConfig())
	bad.CosineMin = -0.1
	require.Error(t, repo.SaveProfile(bad))

	got, err := repo.GetProfile("bad")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteProfile(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.SaveProfile(models.NewThresholdProfile("tmp", session.DefaultConfig())))

	deleted, err := repo.DeleteProfile("tmp")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = repo.DeleteProfile("tmp")
	require.NoError(t, err)
	require.False(t, deleted)

	// the name can be reused after deletion
	require.NoError(t, repo.SaveProfile(models.NewThresholdProfile("tmp", session.DefaultConfig())))
}

func TestListProfilesSorted(t *testing.T) {
	repo := newTestRepository(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.SaveProfile(models.NewThresholdProfile(name, session.DefaultConfig())))
	}

	all, err := repo.ListProfiles()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "alpha", all[0].Name)
	require.Equal(t, "zeta", all[2].Name)
}
