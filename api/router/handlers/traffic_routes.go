package handlers

import (
	"github.com/go-chi/chi/v5"
)

func RegisterTrafficRoutes(r chi.Router) {
	r.Get("/traffic", GetTrafficHandler)
	r.Delete("/traffic", DeleteTrafficHandler)
	r.Get("/traffic/{id}", GetTrafficEntryHandler)
}
