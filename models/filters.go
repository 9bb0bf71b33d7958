package models

// TrafficFilters defines parameters for filtering traffic log queries.
type TrafficFilters struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	SortOrder  string `json:"sort_order"`
	RulePrefix string `json:"rule,omitempty"`
	Method     string `json:"method,omitempty"`
	Status     int    `json:"status,omitempty"`
	Search     string `json:"search,omitempty"`
}

// Normalize clamps paging values to sane defaults.
func (f *TrafficFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// Offset returns the row offset for the current page.
func (f TrafficFilters) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// PaginatedResponse is a generic structure for paginated API responses.
type PaginatedResponse struct {
	Page         int         `json:"page"`
	Limit        int         `json:"limit"`
	TotalRecords int64       `json:"total_records"`
	TotalPages   int         `json:"total_pages"`
	Records      interface{} `json:"records"`
}
