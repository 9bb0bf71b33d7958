package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"devgate/logger"
	"devgate/models"
)

// ErrTrafficNotFound is returned by GetTraffic for an unknown id.
var ErrTrafficNotFound = errors.New("traffic entry not found")

// Store satisfies core.TrafficStore on top of the shared DB handle.
type Store struct{}

func (Store) InsertTraffic(ctx context.Context, entry *models.TrafficEntry) error {
	return InsertTraffic(ctx, entry)
}

// InsertTraffic stores one captured exchange.
func InsertTraffic(ctx context.Context, e *models.TrafficEntry) error {
	if DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	_, err := DB.ExecContext(ctx, `INSERT INTO traffic_log (
			id, timestamp, mode, rule_prefix, method, original_url, forward_url, status_code, duration_ms,
			request_headers, request_body, response_headers, response_body, content_type, body_size,
			truncated, client_ip, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.Mode, e.RulePrefix, e.Method, e.OriginalURL, e.ForwardURL, e.StatusCode, e.DurationMs,
		e.RequestHeaders, e.RequestBody, e.ResponseHeaders, e.ResponseBody, e.ContentType, e.BodySize,
		e.Truncated, e.ClientIP, e.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting traffic entry %s: %w", e.ID, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern using '\' as the escape character.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListTraffic returns one page of summaries matching filters and the total match count.
func ListTraffic(filters models.TrafficFilters) ([]models.TrafficSummary, int64, error) {
	filters.Normalize()
	summaries := []models.TrafficSummary{}
	var totalRecords int64

	var whereClauses []string
	var args []interface{}
	if filters.RulePrefix != "" {
		whereClauses = append(whereClauses, "rule_prefix = ?")
		args = append(args, filters.RulePrefix)
	}
	if filters.Method != "" {
		whereClauses = append(whereClauses, "UPPER(method) = ?")
		args = append(args, strings.ToUpper(filters.Method))
	}
	if filters.Status != 0 {
		whereClauses = append(whereClauses, "status_code = ?")
		args = append(args, filters.Status)
	}
	if filters.Search != "" {
		whereClauses = append(whereClauses, `(
			LOWER(original_url) LIKE LOWER(?) ESCAPE '\' OR
			LOWER(forward_url) LIKE LOWER(?) ESCAPE '\' OR
			LOWER(COALESCE(error, '')) LIKE LOWER(?) ESCAPE '\' OR
			response_body LIKE ? ESCAPE '\'
		)`)
		pattern := "%" + escapeLike(filters.Search) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}

	where := ""
	if len(whereClauses) > 0 {
		where = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	if err := DB.QueryRow("SELECT COUNT(*) FROM traffic_log "+where, args...).Scan(&totalRecords); err != nil {
		logger.Error("ListTraffic: Error counting records: %v", err)
		return nil, 0, fmt.Errorf("counting traffic entries: %w", err)
	}
	if totalRecords == 0 {
		return summaries, 0, nil
	}

	sortOrder := "DESC"
	if strings.ToUpper(filters.SortOrder) == "ASC" {
		sortOrder = "ASC"
	}
	query := fmt.Sprintf(`SELECT id, timestamp, mode, rule_prefix, method, original_url, forward_url, status_code,
			duration_ms, COALESCE(content_type, ''), body_size, COALESCE(error, '')
		FROM traffic_log %s ORDER BY timestamp %s, rowid %s LIMIT ? OFFSET ?`, where, sortOrder, sortOrder)
	queryArgs := append(args, filters.Limit, filters.Offset())

	rows, err := DB.Query(query, queryArgs...)
	if err != nil {
		logger.Error("ListTraffic: Error querying records: %v", err)
		return nil, 0, fmt.Errorf("querying traffic entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.TrafficSummary
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Mode, &s.RulePrefix, &s.Method, &s.OriginalURL, &s.ForwardURL,
			&s.StatusCode, &s.DurationMs, &s.ContentType, &s.BodySize, &s.Error); err != nil {
			return nil, totalRecords, fmt.Errorf("scanning traffic row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, totalRecords, rows.Err()
}

// GetTraffic loads one full entry including headers and bodies.
func GetTraffic(id string) (*models.TrafficEntry, error) {
	var e models.TrafficEntry
	err := DB.QueryRow(`SELECT id, timestamp, mode, rule_prefix, method, original_url, forward_url, status_code,
			duration_ms, request_headers, request_body, response_headers, response_body, content_type, body_size,
			truncated, client_ip, error
		FROM traffic_log WHERE id = ?`, id).Scan(
		&e.ID, &e.Timestamp, &e.Mode, &e.RulePrefix, &e.Method, &e.OriginalURL, &e.ForwardURL, &e.StatusCode,
		&e.DurationMs, &e.RequestHeaders, &e.RequestBody, &e.ResponseHeaders, &e.ResponseBody, &e.ContentType, &e.BodySize,
		&e.Truncated, &e.ClientIP, &e.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrafficNotFound
		}
		return nil, fmt.Errorf("getting traffic entry %s: %w", id, err)
	}
	return &e, nil
}

// ClearTraffic deletes every stored entry and reports how many were removed.
func ClearTraffic() (int64, error) {
	res, err := DB.Exec("DELETE FROM traffic_log")
	if err != nil {
		return 0, fmt.Errorf("clearing traffic log: %w", err)
	}
	n, _ := res.RowsAffected()
	logger.Info("Cleared %d traffic entries", n)
	return n, nil
}
