package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/orchestrator"
	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

type registerRequest struct {
	Name string `json:"name"`
}

// registerCharacter handles POST /characters. It returns 201 with the new
// character, 400 for a blank or already registered name, or 500 when the
// first scrape fails.
func (s *Server) registerCharacter(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := s.tracker.Register(r.Context(), req.Name)
	if err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"character": c})
}

// listCharacters handles GET /characters and includes each character's
// latest snapshot.
func (s *Server) listCharacters(w http.ResponseWriter, r *http.Request) {
	characters, err := s.repo.ListCharacters(r.Context())
	if err != nil {
		s.logger.Error("list characters failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list characters")
		return
	}
	if characters == nil {
		characters = []tracker.CharacterState{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"characters": characters})
}

// getCharacter handles GET /characters/{id}.
func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.characterID(w, r)
	if !ok {
		return
	}
	c, err := s.repo.GetCharacter(r.Context(), id)
	if err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"character": c})
}

// listHistory handles GET /characters/{id}/history?days=N, newest first.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.characterID(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r, s.cfg.DefaultHistoryDays)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.repo.GetCharacter(r.Context(), id); err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	since := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	history, err := s.repo.ListHistory(r.Context(), id, since)
	if err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	if history == nil {
		history = []tracker.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"days": days, "history": history})
}

// updateCharacter handles POST /characters/{id}/update by scraping now.
func (s *Server) updateCharacter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.characterID(w, r)
	if !ok {
		return
	}
	c, err := s.tracker.Refresh(r.Context(), id)
	if err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"character": c})
}

// deleteCharacter handles DELETE /characters/{id}; history goes with it.
func (s *Server) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.characterID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteCharacter(r.Context(), id); err != nil {
		s.writeTrackerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) characterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid character id")
		return 0, false
	}
	return id, true
}

func parseDays(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return def, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, errors.New("days must be a positive integer")
	}
	return days, nil
}

// writeTrackerError maps domain errors onto status codes.
func (s *Server) writeTrackerError(w http.ResponseWriter, r *http.Request, err error) {
	var scrapeErr *orchestrator.ScrapeError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrAlreadyRegistered):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "character not found")
	case errors.As(err, &scrapeErr):
		s.writeError(w, http.StatusInternalServerError, scrapeErr.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
