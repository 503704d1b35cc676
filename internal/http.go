package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"studychat/internal/storage"
)

type historyResponse struct {
	RoomID        string            `json:"roomId"`
	Messages      []storage.Message `json:"messages"`
	TotalMessages int               `json:"totalMessages"`
}

type clearResponse struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type statsResponse struct {
	RoomID string        `json:"roomId"`
	Stats  storage.Stats `json:"stats"`
}

// HandleRooms serves the read/administrative surface under /rooms/:
//
//	GET    /rooms/{roomId}/history
//	GET    /rooms/{roomId}/stats
//	DELETE /rooms/{roomId}
//
// Authorization for the destructive clear is delegated to whatever sits in
// front of this server; the relay itself does not verify tokens.
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		s.handleClearHistory(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleFetchHistory(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleFetchStats(w, r, parts[0])
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

// handleFetchHistory returns the room's full log, creating an empty one when
// the room was never seen, so a fetch before the first join still succeeds.
func (s *Server) handleFetchHistory(w http.ResponseWriter, r *http.Request, roomID string) {
	messages, err := s.store.GetOrCreate(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("failed to fetch chat history"))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		RoomID:        roomID,
		Messages:      messages,
		TotalMessages: len(messages),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, roomID string) {
	if err := s.store.Clear(r.Context(), roomID); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, errors.New("chat room not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("failed to clear chat history"))
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{RoomID: roomID, Message: "chat history cleared"})
}

func (s *Server) handleFetchStats(w http.ResponseWriter, r *http.Request, roomID string) {
	stats, err := s.store.Stats(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("failed to fetch chat statistics"))
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{RoomID: roomID, Stats: stats})
}

// HandleRoomExists reports whether a room has live members, without creating it.
func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if s.hub.Exists(room) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
