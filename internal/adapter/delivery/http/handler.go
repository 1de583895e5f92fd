package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
)

const (
	statusOK    = "ok"
	statusError = "error"

	pingTimeout = 2 * time.Second
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

type healthHandler struct {
	db pinger
}

func newHealthHandler(db pinger) *healthHandler {
	return &healthHandler{db: db}
}

func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, healthResponse{Status: statusError, Database: "down"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, healthResponse{Status: statusOK, Database: "up"})
}
