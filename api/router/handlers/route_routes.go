package handlers

import (
	"github.com/go-chi/chi/v5"
)

func RegisterRouteRoutes(r chi.Router, rules RuleSource) {
	h := routeHandlers{rules: rules}
	r.Get("/routes", h.listRoutes)
	r.Post("/routes/test", h.testRoute)
}
