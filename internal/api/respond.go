package api

import (
	"encoding/json"
	"net/http"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses and emits a JSON body so
// the dashboard always has a reason to show.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, core.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
