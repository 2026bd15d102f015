package web

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the {ok:false,error} envelope used by every failing
// endpoint.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorView{OK: false, Error: msg})
}

func (ws *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
