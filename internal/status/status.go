package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type ServerInfo struct {
	Name           string  `json:"name"`
	PlayersCurrent int     `json:"players_current"`
	NPCs           int     `json:"npcs"`
	GroundHats     int     `json:"ground_hats"`
	Buildings      int     `json:"buildings"`
	Seed           uint32  `json:"seed"`
	Generator      string  `json:"generator"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	GameVersion    string  `json:"game_version"`
}

// Handler serves a JSON snapshot of the server info, fetched fresh on every
// request.
type Handler struct {
	info   func() ServerInfo
	logger *slog.Logger
}

func NewHandler(info func() ServerInfo, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		info:   info,
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jsonData, err := json.Marshal(h.info())
	if err != nil {
		h.logger.Error("failed to marshal server info", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonData); err != nil {
		h.logger.Debug("failed to send status response", "error", err, "addr", r.RemoteAddr)
	}
}
