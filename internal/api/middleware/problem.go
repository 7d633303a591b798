package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeProblem writes an RFC 7807 response without importing the api package
// (which imports middleware).
func writeProblem(w http.ResponseWriter, r *http.Request, statusCode int, detail, correlationID string) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	case http.StatusInternalServerError:
		title = "Internal Server Error"
	default:
		title = http.StatusText(statusCode)
	}

	problem := map[string]any{
		"type":           fmt.Sprintf("https://ingestor.io/problems/%d", statusCode),
		"title":          title,
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
