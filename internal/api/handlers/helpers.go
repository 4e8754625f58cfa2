// Package handlers provides HTTP handlers for the telemetry API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// jsonResponse sends a JSON response with the given status code and data.
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// jsonError sends a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string, code string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
			"status":  status,
		},
	})
}

// parsePaginationParams extracts pagination parameters from the request.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l := parseInt(limitStr); l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o := parseInt(offsetStr); o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

// parseInt safely parses an integer string.
func parseInt(s string) int {
	var result int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		result = result*10 + int(c-'0')
	}
	return result
}
