// Package handlers provides HTTP handlers for the telemetry API.
package handlers

import (
	"log"
	"net/http"

	"github.com/asgard/cellbench/internal/utils"
)

// handleError processes errors and sends appropriate HTTP responses.
func handleError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*utils.APIError); ok {
		jsonError(w, apiErr.Status, apiErr.Message, apiErr.Code)
		return
	}

	log.Printf("unexpected error: %v", err)
	jsonError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
}
