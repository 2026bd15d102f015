package web

import (
	"encoding/json"
	"net/http"

	"github.com/seckatie/pagetrail/internal/core"
	"go.uber.org/zap"
)

// maxCommandBytes bounds the size of a command body.
const maxCommandBytes = 64 << 10

func (ws *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	resp := ws.commands.Handle(core.Request{Type: core.CmdGetSettings})
	if !resp.OK {
		ws.logger.Error("failed to load settings", zap.String("error", resp.Error))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCommand runs one settings command. Command failures are reported
// in the body; only malformed requests and unknown types change the status.
func (ws *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command: "+err.Error())
		return
	}

	resp := ws.commands.Handle(req)
	status := http.StatusOK
	if !resp.OK && resp.Error == core.ErrUnknownCommand.Error() {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}
