package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/openwiki/flaggedrevs/common/tags"
)

// FlagConfigHandler exposes the site's quality-dimension configuration
type FlagConfigHandler struct {
	model *tags.Model
}

// NewFlagConfigHandler creates a new flag-config handler
func NewFlagConfigHandler(model *tags.Model) *FlagConfigHandler {
	return &FlagConfigHandler{model: model}
}

// Get dumps the tag model: tags, levels and tier thresholds
// GET /api/v1/flagconfig
func (h *FlagConfigHandler) Get(c echo.Context) error {
	tagInfo := make([]map[string]interface{}, 0, len(h.model.Tags()))
	for _, tag := range h.model.Tags() {
		tagInfo = append(tagInfo, map[string]interface{}{
			"name":   tag,
			"levels": h.model.LevelsFor(tag),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tags":          tagInfo,
		"binary":        h.model.BinaryFlagging(),
		"highest_tier":  h.model.HighestTier().String(),
		"quality_tier":  h.model.QualityTiers(),
		"pristine_tier": h.model.PristineTiers(),
		"checked_min":   h.model.TierThresholds(tags.TierChecked),
		"quality_min":   h.model.TierThresholds(tags.TierQuality),
		"pristine_min":  h.model.TierThresholds(tags.TierPristine),
	})
}
