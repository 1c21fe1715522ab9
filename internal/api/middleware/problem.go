package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentTypeProblemJSON is the media type of RFC 7807 problem details.
const ContentTypeProblemJSON = "application/problem+json"

// ProblemType returns the problem type URI for an HTTP status.
func ProblemType(status int) string {
	return fmt.Sprintf("urn:ilr-validation:problem:%d", status)
}

// writeProblem writes an RFC 7807 response without importing the api package.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	problem := map[string]any{
		"type":          ProblemType(status),
		"title":         http.StatusText(status),
		"status":        status,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
