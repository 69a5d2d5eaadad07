package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PreferenceStore is the read/write side of the user's preferences.
type PreferenceStore interface {
	IgnorePhrases(ctx context.Context) ([]string, error)
	SetIgnorePhrases(ctx context.Context, phrases []string) error
	Signoff(ctx context.Context) (string, error)
	SetSignoff(ctx context.Context, signoff string) error
}

type PreferenceHandler struct {
	prefs  PreferenceStore
	logger *zap.Logger
}

func NewPreferenceHandler(prefs PreferenceStore, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, logger: logger}
}

// GetIgnores handles GET /api/preferences/ignores.
func (h *PreferenceHandler) GetIgnores(c *gin.Context) {
	phrases, err := h.prefs.IgnorePhrases(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read ignore phrases", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read preferences"})
		return
	}
	c.JSON(http.StatusOK, phrases)
}

// PutIgnores handles PUT /api/preferences/ignores. A JSON null clears the list.
func (h *PreferenceHandler) PutIgnores(c *gin.Context) {
	var phrases []string
	if err := c.ShouldBindJSON(&phrases); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array of strings"})
		return
	}
	if err := h.prefs.SetIgnorePhrases(c.Request.Context(), phrases); err != nil {
		h.logger.Error("Failed to save ignore phrases", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSignoff handles GET /api/preferences/signoff.
func (h *PreferenceHandler) GetSignoff(c *gin.Context) {
	signoff, err := h.prefs.Signoff(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read signoff", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read preferences"})
		return
	}
	c.JSON(http.StatusOK, signoff)
}

// PutSignoff handles PUT /api/preferences/signoff with a JSON string body.
// A blank string clears the signoff.
func (h *PreferenceHandler) PutSignoff(c *gin.Context) {
	var signoff string
	if err := c.ShouldBindJSON(&signoff); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON string"})
		return
	}
	if err := h.prefs.SetSignoff(c.Request.Context(), signoff); err != nil {
		h.logger.Error("Failed to save signoff", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.Status(http.StatusNoContent)
}
