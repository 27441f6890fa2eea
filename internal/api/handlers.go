package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"rtype/internal/lobby"
	"rtype/internal/server"
)

// mutationTimeout bounds how long a handler waits for the tick goroutine.
const mutationTimeout = 2 * time.Second

type routerHandlers struct {
	backend Backend
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.backend.Stats())
}

func (h *routerHandlers) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	list := h.backend.Summaries()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := make([]lobby.Summary, 0, len(list))
		for _, s := range list {
			if s.State == state {
				filtered = append(filtered, s)
			}
		}
		list = filtered
	}
	writeJSON(w, map[string]any{
		"lobbies": list,
		"count":   len(list),
	})
}

func (h *routerHandlers) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	s, ok := h.backend.FindSummary(chi.URLParam(r, "code"))
	if !ok {
		writeError(w, "lobby not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s)
}

func (h *routerHandlers) handleCloseLobby(w http.ResponseWriter, r *http.Request) {
	code := lobby.NormalizeCode(chi.URLParam(r, "code"))
	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	if err := h.backend.CloseLobby(ctx, code); err != nil {
		writeMutationError(w, err)
		return
	}
	log.Info().Str("lobby", code).Str("ip", GetClientIP(r)).Msg("lobby closed by admin")
	writeJSON(w, map[string]any{"success": true, "lobby": code})
}

func (h *routerHandlers) handleKickClient(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeError(w, "invalid client id", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), mutationTimeout)
	defer cancel()

	if err := h.backend.KickClient(ctx, uint32(id)); err != nil {
		writeMutationError(w, err)
		return
	}
	log.Info().Uint64("client", id).Str("ip", GetClientIP(r)).Msg("client kicked by admin")
	writeJSON(w, map[string]any{"success": true, "client": id})
}

func writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		writeError(w, "lobby not found", http.StatusNotFound)
	case errors.Is(err, server.ErrClientUnknown):
		writeError(w, "client not in a lobby", http.StatusNotFound)
	case errors.Is(err, server.ErrCommandsFull):
		writeError(w, "server busy", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, "timed out waiting for the server", http.StatusGatewayTimeout)
	default:
		log.Error().Err(err).Msg("admin mutation failed")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
