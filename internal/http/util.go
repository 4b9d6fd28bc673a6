package httpx

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// parsePageLimit parses 1-based `page` and `limit` pagination params,
// clamping to sane bounds.
func parsePageLimit(r *http.Request) (int, int) {
	page := parseIntQuery(r, "page", 1)
	limit := parseIntQuery(r, "limit", defaultPageLimit)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
