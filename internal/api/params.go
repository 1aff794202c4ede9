package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bher20/meterbill/internal/auth"
	"github.com/go-chi/chi/v5"
)

const dateLayout = "2006-01-02"

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(value))
}

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

// parseID parses a positive integer id.
func parseID(value string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 0)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return uint(n), nil
}

// urlID reads the {id} path parameter. A malformed id is reported as not found.
func urlID(r *http.Request) (uint, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	return id, err == nil
}

// queryID reads an optional id query parameter.
func queryID(r *http.Request, name string) (uint, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func parseIntParam(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid int")
	}
	return parsed, nil
}

// parseIDList parses a comma separated id list, skipping blanks and duplicates.
func parseIDList(value string) ([]uint, error) {
	parts := strings.Split(value, ",")
	seen := make(map[uint]struct{}, len(parts))
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// caller returns the authenticated user id and role.
func caller(r *http.Request) (userID, role string) {
	t, ok := auth.TokenFromContext(r.Context())
	if !ok {
		return "", ""
	}
	return t.UserID, t.Role
}
