package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/seobohdanov/maxagainst-sub001/internal/domain"
)

// callbackBodyLimit bounds provider callback payloads. Real payloads are a
// few KB of JSON.
const callbackBodyLimit = 1 << 20

// ProviderCallback ingests a provider-shaped status payload. The endpoint is
// idempotent under retransmission: duplicates and stale states are absorbed
// by the reconciler. Unparseable payloads are logged and acknowledged with
// 200 so the provider does not retry what we can never parse.
func (a *App) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, callbackBodyLimit))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	err = a.Orch.HandleCallback(r.Context(), raw)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, domain.ErrUnrecognizedPayload):
		a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, domain.ErrUnknownJob):
		a.json(w, http.StatusOK, map[string]string{"status": "unknown_job"})
	default:
		a.Logger.Error().Err(err).Msg("callback: ingestion failed")
		a.error(w, http.StatusInternalServerError, "internal", "callback processing failed")
	}
}
