package handlers

import (
	"encoding/json"
	"net/http"

	"devgate/database"
	"devgate/logger"
	"devgate/models"
)

type settingsHandlers struct {
	onExclusionsChanged func([]models.RecordExclusionRule)
}

// getRecordExclusions returns the rules that keep exchanges out of the traffic log.
// @Summary Get record exclusion rules
// @Tags Settings
// @Produce json
// @Success 200 {array} models.RecordExclusionRule
// @Router /settings/record-exclusions [get]
func (h settingsHandlers) getRecordExclusions(w http.ResponseWriter, r *http.Request) {
	if !requireDB(w) {
		return
	}
	rules, err := database.GetRecordExclusionRules()
	if err != nil {
		logger.Error("getRecordExclusions: Error getting rules: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve record exclusion rules")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// setRecordExclusions replaces the record exclusion rules and applies them immediately.
// @Summary Replace record exclusion rules
// @Tags Settings
// @Accept json
// @Produce json
// @Param rules body []models.RecordExclusionRule true "Complete rule list"
// @Success 200 {object} map[string]string
// @Failure 400 {object} models.ErrorResponse
// @Router /settings/record-exclusions [put]
func (h settingsHandlers) setRecordExclusions(w http.ResponseWriter, r *http.Request) {
	if !requireDB(w) {
		return
	}
	var rules []models.RecordExclusionRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		logger.Error("setRecordExclusions: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := database.SetRecordExclusionRules(rules); err != nil {
		logger.Error("setRecordExclusions: Error saving rules: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save record exclusion rules")
		return
	}
	if h.onExclusionsChanged != nil {
		h.onExclusionsChanged(rules)
	}
	logger.Info("Saved %d record exclusion rules.", len(rules))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Record exclusion rules saved successfully."})
}
