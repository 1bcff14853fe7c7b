package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

type songCreateRequest struct {
	Recipient string `json:"recipient"`
	Occasion  string `json:"occasion"`
	Style     string `json:"style"`
	Language  string `json:"language"`
	Notes     string `json:"notes"`
}

// SongsCreate accepts a generation request and answers with the new job's
// snapshot. Submission failures still produce a job record in terminal FAILED
// state, reported as 502 with the job attached so the client can query it.
func (a *App) SongsCreate(w http.ResponseWriter, r *http.Request) {
	var req songCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "recipient is required")
		return
	}
	if strings.TrimSpace(req.Style) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "style is required")
		return
	}

	snap, err := a.Orch.CreateJob(r.Context(), domain.SongRequest{
		Recipient: strings.TrimSpace(req.Recipient),
		Occasion:  strings.TrimSpace(req.Occasion),
		Style:     strings.TrimSpace(req.Style),
		Language:  strings.TrimSpace(req.Language),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		if snap.ID != "" {
			a.json(w, http.StatusBadGateway, map[string]any{
				"error":   "provider_error",
				"message": "generation could not be submitted",
				"job":     snap,
			})
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	a.json(w, http.StatusAccepted, snap)
}

// SongStatus is a point read of the job snapshot.
func (a *App) SongStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	snap, err := a.Orch.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, snap)
}
