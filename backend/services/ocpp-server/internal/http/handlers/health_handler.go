package handlers

import (
	"net/http"
)

// NewHealthHandler returns GET /health handler. sessions reports how many chargers are attached.
func NewHealthHandler(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "ok"}
		if sessions != nil {
			body["chargers"] = sessions()
		}
		writeJSON(w, http.StatusOK, body)
	}
}
