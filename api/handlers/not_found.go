package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"communestat/errors"
)

func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	details := fmt.Sprintf("Path '%s' not found", r.URL.Path)
	apiError := errors.NewAPIError(http.StatusNotFound, "Not found", &details)
	HandleError(w, apiError)
}

// HandleError writes an APIError to the response as JSON.
func HandleError(w http.ResponseWriter, apiError errors.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiError.Status)

	if err := json.NewEncoder(w).Encode(apiError); err != nil {
		http.Error(w, "Failed to encode JSON", http.StatusInternalServerError)
	}
}
