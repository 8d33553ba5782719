package handlers

import (
	"net/http"

	"faceverify/internal/core/models"
	"faceverify/internal/core/roi"
	"faceverify/internal/core/session"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// profileRequest ist der Body von PUT /profiles/:name. Fehlende Felder werden
// mit den Werten des bestehenden Profils bzw. den Standardwerten gefüllt.
type profileRequest struct {
	Description        *string         `json:"description"`
	WeightedThreshold  *float64        `json:"weighted_threshold"`
	CosineMin          *float64        `json:"cosine_min"`
	EuclideanMin       *float64        `json:"euclidean_min"`
	ScoreDiffMax       *float64        `json:"score_diff_max"`
	HighConfidence     *float64        `json:"high_confidence"`
	RequiredPassFrames *int            `json:"required_pass_frames"`
	ROITolerances      *roi.Tolerances `json:"roi_tolerances"`
}

func (r profileRequest) apply(p *models.ThresholdProfile) {
	if r.Description != nil {
		p.Description = *r.Description
	}
	if r.WeightedThreshold != nil {
		p.WeightedThreshold = *r.WeightedThreshold
	}
	if r.CosineMin != nil {
		p.CosineMin = *r.CosineMin
	}
	if r.EuclideanMin != nil {
		p.EuclideanMin = *r.EuclideanMin
	}
	if r.ScoreDiffMax != nil {
		p.ScoreDiffMax = *r.ScoreDiffMax
	}
	if r.HighConfidence != nil {
		p.HighConfidence = *r.HighConfidence
	}
	if r.RequiredPassFrames != nil {
		p.RequiredPassFrames = *r.RequiredPassFrames
	}
	if r.ROITolerances != nil {
		p.ROITolerances = datatypes.NewJSONType(*r.ROITolerances)
	}
}

// profilesAvailable antwortet mit 503, wenn keine Datenbank konfiguriert ist
func (h *APIHandler) profilesAvailable(c *gin.Context) bool {
	if h.profiles == nil {
		respondError(c, http.StatusServiceUnavailable, "error.internal", nil, nil)
		return false
	}
	return true
}

// ListProfiles listet alle Schwellwertprofile
func (h *APIHandler) ListProfiles(c *gin.Context) {
	if !h.profilesAvailable(c) {
		return
	}
	profiles, err := h.profiles.ListProfiles()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "total": len(profiles)})
}

// GetProfile liefert ein Profil
func (h *APIHandler) GetProfile(c *gin.Context) {
	if !h.profilesAvailable(c) {
		return
	}
	name := c.Param("name")
	p, err := h.profiles.GetProfile(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}
	if p == nil {
		respondError(c, http.StatusNotFound, "error.profile_not_found", map[string]interface{}{"Name": name}, nil)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PutProfile legt ein Profil an oder aktualisiert es. Laufende Sessions behalten ihre Konfiguration.
func (h *APIHandler) PutProfile(c *gin.Context) {
	if !h.profilesAvailable(c) {
		return
	}
	name := c.Param("name")

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_request", nil, err)
		return
	}

	p, err := h.profiles.GetProfile(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}
	status := http.StatusOK
	if p == nil {
		base := session.DefaultConfig()
		if h.cfg != nil {
			base = h.cfg.SessionConfig()
		}
		p = models.NewThresholdProfile(name, base)
		status = http.StatusCreated
	}
	req.apply(p)

	if err := p.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_profile", map[string]interface{}{"Reason": err.Error()}, err)
		return
	}
	if err := h.profiles.SaveProfile(p); err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}
	c.JSON(status, p)
}

// DeleteProfile löscht ein Profil; das Standardprofil kann nicht gelöscht werden
func (h *APIHandler) DeleteProfile(c *gin.Context) {
	if !h.profilesAvailable(c) {
		return
	}
	name := c.Param("name")
	if name == models.DefaultProfileName {
		respondError(c, http.StatusBadRequest, "error.invalid_profile",
			map[string]interface{}{"Reason": "the default profile cannot be deleted"}, nil)
		return
	}

	deleted, err := h.profiles.DeleteProfile(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "error.profile_not_found", map[string]interface{}{"Name": name}, nil)
		return
	}
	c.Status(http.StatusNoContent)
}
