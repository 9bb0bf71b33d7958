package handlers

import (
	"devgate/models"

	"github.com/go-chi/chi/v5"
)

func RegisterSettingsRoutes(r chi.Router, onExclusionsChanged func([]models.RecordExclusionRule)) {
	h := settingsHandlers{onExclusionsChanged: onExclusionsChanged}
	r.Route("/settings/record-exclusions", func(r chi.Router) {
		r.Get("/", h.getRecordExclusions)
		r.Put("/", h.setRecordExclusions)
		r.Post("/", h.setRecordExclusions)
	})
}
