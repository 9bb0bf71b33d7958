package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// NullString returns an invalid NullString for "" and a valid one otherwise.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{String: "", Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// TrafficEntry is one proxied request/response exchange.
type TrafficEntry struct {
	ID              string         `json:"id" readOnly:"true" example:"6f1c2a1e-8d7e-4a57-a2c4-3f1f0b7c9d10"`
	Timestamp       time.Time      `json:"timestamp" readOnly:"true"`
	Mode            string         `json:"mode" example:"reverse" enum:"reverse,forward"`
	RulePrefix      string         `json:"rule_prefix" example:"/api"`
	Method          string         `json:"method" example:"GET"`
	OriginalURL     string         `json:"original_url" example:"/api/exec?id=5"`
	ForwardURL      string         `json:"forward_url" example:"https://script.google.com/macros/s/XYZ/exec/exec?id=5"`
	StatusCode      int            `json:"status_code,omitempty" example:"200"`
	DurationMs      int64          `json:"duration_ms" example:"150"`
	RequestHeaders  sql.NullString `json:"request_headers,omitempty" swaggertype:"string"`
	RequestBody     []byte         `json:"request_body,omitempty"`
	ResponseHeaders sql.NullString `json:"response_headers,omitempty" swaggertype:"string"`
	ResponseBody    []byte         `json:"response_body,omitempty"`
	ContentType     sql.NullString `json:"content_type,omitempty" swaggertype:"string" example:"application/json"`
	BodySize        int64          `json:"body_size" example:"1024"`
	Truncated       bool           `json:"truncated"`
	ClientIP        sql.NullString `json:"client_ip,omitempty" swaggertype:"string"`
	Error           sql.NullString `json:"error,omitempty" swaggertype:"string"`
}

// TrafficSummary is the list view of a TrafficEntry without headers and bodies.
type TrafficSummary struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Mode        string    `json:"mode"`
	RulePrefix  string    `json:"rule_prefix"`
	Method      string    `json:"method"`
	OriginalURL string    `json:"original_url"`
	ForwardURL  string    `json:"forward_url"`
	StatusCode  int       `json:"status_code"`
	DurationMs  int64     `json:"duration_ms"`
	ContentType string    `json:"content_type,omitempty"`
	BodySize    int64     `json:"body_size"`
	Error       string    `json:"error,omitempty"`
}

// TrafficDetail is the API view of a TrafficEntry: headers as JSON objects and bodies as text.
type TrafficDetail struct {
	TrafficSummary
	RequestHeaders  json.RawMessage `json:"request_headers,omitempty" swaggertype:"object"`
	RequestBody     string          `json:"request_body,omitempty"`
	ResponseHeaders json.RawMessage `json:"response_headers,omitempty" swaggertype:"object"`
	ResponseBody    string          `json:"response_body,omitempty"`
	Truncated       bool            `json:"truncated"`
	ClientIP        string          `json:"client_ip,omitempty"`
}

// Summary drops headers and bodies.
func (e *TrafficEntry) Summary() TrafficSummary {
	return TrafficSummary{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		Mode:        e.Mode,
		RulePrefix:  e.RulePrefix,
		Method:      e.Method,
		OriginalURL: e.OriginalURL,
		ForwardURL:  e.ForwardURL,
		StatusCode:  e.StatusCode,
		DurationMs:  e.DurationMs,
		ContentType: e.ContentType.String,
		BodySize:    e.BodySize,
		Error:       e.Error.String,
	}
}

func (e *TrafficEntry) Detail() TrafficDetail {
	d := TrafficDetail{
		TrafficSummary: e.Summary(),
		RequestBody:    string(e.RequestBody),
		ResponseBody:   string(e.ResponseBody),
		Truncated:      e.Truncated,
		ClientIP:       e.ClientIP.String,
	}
	if e.RequestHeaders.Valid && json.Valid([]byte(e.RequestHeaders.String)) {
		d.RequestHeaders = json.RawMessage(e.RequestHeaders.String)
	}
	if e.ResponseHeaders.Valid && json.Valid([]byte(e.ResponseHeaders.String)) {
		d.ResponseHeaders = json.RawMessage(e.ResponseHeaders.String)
	}
	return d
}
