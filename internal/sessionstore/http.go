package sessionstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// maxBodyBytes bounds a saved session's JSON body.
const maxBodyBytes = 8 << 20

// saveRequest is the body of POST /sessions/save.
type saveRequest struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Transcription string   `json:"transcription"`
	Participants  []string `json:"participants"`
}

// Handler serves the session routes.
type Handler struct {
	store *Store
	log   *slog.Logger
}

// NewHandler returns a Handler backed by store.
func NewHandler(store *Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, log: log}
}

// Register adds POST /sessions/save and GET /sessions/all to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/save", h.save)
	mux.HandleFunc("GET /sessions/all", h.list)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session: "+err.Error())
		return
	}

	id, err := h.store.Save(r.Context(), Session{
		Title:         req.Title,
		Summary:       req.Summary,
		Transcription: req.Transcription,
		Participants:  req.Participants,
	})
	if errors.Is(err, ErrInvalidSession) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error("save session", "err", err)
		writeError(w, http.StatusInternalServerError, "could not save session")
		return
	}
	h.log.Info("session saved", "id", id, "title", req.Title)
	writeJSON(w, http.StatusOK, map[string]any{"status": "Session saved", "id": id})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
