package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"devgate/database"
	"devgate/logger"
	"devgate/models"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
)

// FieldResult is a single value extracted from a recorded response body.
type FieldResult struct {
	ID    string          `json:"id"`
	Field string          `json:"field" example:"data.items.#.name"`
	Value json.RawMessage `json:"value" swaggertype:"object"`
}

func requireDB(w http.ResponseWriter) bool {
	if database.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "traffic recording is disabled")
		return false
	}
	return true
}

// GetTrafficHandler lists recorded exchanges, newest first.
// @Summary List recorded traffic
// @Tags Traffic
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(50)
// @Param rule query string false "Rule prefix"
// @Param method query string false "HTTP method"
// @Param status query int false "Upstream status code"
// @Param search query string false "Substring of URLs, error text or response body"
// @Param sort_order query string false "asc or desc" default(desc)
// @Success 200 {object} models.PaginatedResponse{records=[]models.TrafficSummary}
// @Failure 503 {object} models.ErrorResponse
// @Router /traffic [get]
func GetTrafficHandler(w http.ResponseWriter, r *http.Request) {
	if !requireDB(w) {
		return
	}
	q := r.URL.Query()
	filters := models.TrafficFilters{
		SortOrder:  q.Get("sort_order"),
		RulePrefix: q.Get("rule"),
		Method:     q.Get("method"),
		Search:     q.Get("search"),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	if s := q.Get("status"); s != "" {
		status, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", s))
			return
		}
		filters.Status = status
	}
	filters.Normalize()

	records, total, err := database.ListTraffic(filters)
	if err != nil {
		logger.Error("GetTrafficHandler: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list traffic")
		return
	}
	writeJSON(w, http.StatusOK, models.PaginatedResponse{
		Page:         filters.Page,
		Limit:        filters.Limit,
		TotalRecords: total,
		TotalPages:   int(math.Ceil(float64(total) / float64(filters.Limit))),
		Records:      records,
	})
}

// GetTrafficEntryHandler returns one recorded exchange, or with ?field= a single value
// from its JSON response body.
// @Summary Get a recorded exchange
// @Tags Traffic
// @Produce json
// @Param id path string true "Exchange id"
// @Param field query string false "gjson path into the response body"
// @Success 200 {object} models.TrafficDetail
// @Success 200 {object} FieldResult
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /traffic/{id} [get]
func GetTrafficEntryHandler(w http.ResponseWriter, r *http.Request) {
	if !requireDB(w) {
		return
	}
	id := chi.URLParam(r, "id")
	entry, err := database.GetTraffic(id)
	if err != nil {
		if errors.Is(err, database.ErrTrafficNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("traffic entry %s not found", id))
			return
		}
		logger.Error("GetTrafficEntryHandler: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load traffic entry")
		return
	}

	field := r.URL.Query().Get("field")
	if field == "" {
		writeJSON(w, http.StatusOK, entry.Detail())
		return
	}
	value, err := ExtractField(entry.ResponseBody, field)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FieldResult{ID: entry.ID, Field: field, Value: value})
}

// ExtractField evaluates a gjson path against a JSON body and returns the raw match.
func ExtractField(body []byte, path string) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response body is not JSON")
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return nil, fmt.Errorf("field %q not found in response body", path)
	}
	return json.RawMessage(res.Raw), nil
}

// DeleteTrafficHandler removes every recorded exchange.
// @Summary Clear recorded traffic
// @Tags Traffic
// @Produce json
// @Success 200 {object} map[string]int64
// @Router /traffic [delete]
func DeleteTrafficHandler(w http.ResponseWriter, r *http.Request) {
	if !requireDB(w) {
		return
	}
	n, err := database.ClearTraffic()
	if err != nil {
		logger.Error("DeleteTrafficHandler: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear traffic")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
