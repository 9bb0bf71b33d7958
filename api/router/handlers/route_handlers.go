package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"devgate/core"
	"devgate/logger"
	"devgate/models"
)

// RuleSource hands out the rule table currently serving requests.
type RuleSource interface {
	Table() *core.RuleTable
}

type routeHandlers struct {
	rules RuleSource
}

// listRoutes returns the active proxy rules.
// @Summary List proxy rules
// @Description Rules are sorted by prefix.
// @Tags Routes
// @Produce json
// @Success 200 {array} models.ProxyRule
// @Router /routes [get]
func (h routeHandlers) listRoutes(w http.ResponseWriter, r *http.Request) {
	rules := []models.ProxyRule{}
	for _, route := range h.rules.Table().Routes() {
		rules = append(rules, route.Rule)
	}
	writeJSON(w, http.StatusOK, rules)
}

// testRoute explains how a path would be forwarded without sending anything upstream.
// @Summary Dry-run a request path against the rules
// @Tags Routes
// @Accept json
// @Produce json
// @Param request body models.RouteTestRequest true "Path with optional query"
// @Success 200 {object} models.RouteTestResult
// @Failure 400 {object} models.ErrorResponse
// @Router /routes/test [post]
func (h routeHandlers) testRoute(w http.ResponseWriter, r *http.Request) {
	var req models.RouteTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("testRoute: Error decoding request body: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if !strings.HasPrefix(req.Path, "/") {
		req.Path = "/" + req.Path
	}
	writeJSON(w, http.StatusOK, h.rules.Table().Resolve(req.Path))
}
