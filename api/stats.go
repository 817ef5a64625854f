package api

import (
	"context"
	"net/http"
	"time"

	"github.com/assistly/relay/feed"
)

const pingTimeout = 2 * time.Second

type healthResponse struct {
	Status       string `json:"status"`
	Store        string `json:"store"`
	Subscription string `json:"subscription"`
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	if err := h.backend.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	resp.Subscription = h.backend.Stats().Subscription.State
	if resp.Subscription == feed.StateExhausted.String() {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func (h *Handler) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Stats())
}
