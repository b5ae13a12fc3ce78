// Package lp implements the long-poll delivery endpoint of spec.md §4.6,
// grounded on the teacher's internal/handler/lp/delivery.go wait loop but
// rebuilt around this module's Connection/Registry types instead of the
// teacher's Hub/Connector pair.
package lp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/channelstream/broker/config"
	"github.com/channelstream/broker/internal/domain/model"
	"github.com/channelstream/broker/internal/domain/registry"
	"github.com/channelstream/broker/internal/handler/marshaller"
	"github.com/channelstream/broker/internal/service"
)

// Config holds the long-poll defaults for the knobs spec.md §4.6 calls out
// by name. NewHandler takes only MaxDrainPulls from it; the primary wait and
// drain interval a Handler uses are read from its config.Live.
type Config struct {
	// PrimaryWait is "wake_connections_after" — how long the first pull
	// blocks before the poll returns an empty batch.
	PrimaryWait time.Duration
	// DrainInterval is the short timeout used to coalesce a burst of
	// publishes into a single response after the primary wait succeeds.
	DrainInterval time.Duration
	// MaxDrainPulls caps the coalescing loop so a connection under
	// sustained publish load can't hold the handler goroutine forever;
	// the teacher's equivalent loop caps at a fixed iteration count too.
	MaxDrainPulls int
}

func DefaultConfig() Config {
	return Config{
		PrimaryWait:   3 * time.Second,
		DrainInterval: 250 * time.Millisecond,
		MaxDrainPulls: 32,
	}
}

type Handler struct {
	reg  *registry.Registry
	ops  service.Operations
	live *config.Live
	// maxDrainPulls isn't part of config.Config — it bounds one poll's
	// coalescing loop rather than a knob an operator would hot-reload.
	maxDrainPulls int
	log           *slog.Logger
}

// NewHandler builds a long-poll Handler whose primary-wait and
// drain-interval timings are read fresh from live on every request, so a
// config.WatchReload-driven reload takes effect without restarting
// anything (spec.md §9 Open Question 1 treats these as configuration
// knobs, not constants).
func NewHandler(reg *registry.Registry, ops service.Operations, live *config.Live, maxDrainPulls int, log *slog.Logger) *Handler {
	return &Handler{reg: reg, ops: ops, live: live, maxDrainPulls: maxDrainPulls, log: log}
}

// Poll implements GET /listen. Unknown conn_id is unauthorized (spec.md §7).
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("conn_id")
	callback := r.URL.Query().Get("callback")

	conn, ok := h.reg.LookupConnection(connID)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	queue := conn.AttachQueue()
	conn.DeliverCatchupMessages()

	batch := h.await(r, queue)
	conn.MarkActivity()

	if err := marshaller.WriteBatch(w, batch, callback); err != nil {
		h.log.Warn("write listen response failed", "err", err, "conn_id", connID)
	}
}

// await runs the primary wait followed by the drain window described in
// spec.md §4.6 steps 2-3, aggregating every batch pulled into one slice.
func (h *Handler) await(r *http.Request, queue <-chan []model.Envelope) []model.Envelope {
	ctx := r.Context()
	cfg := h.live.Get()

	var out []model.Envelope
	select {
	case <-ctx.Done():
		return out
	case batch, ok := <-queue:
		if ok {
			out = append(out, batch...)
		}
	case <-time.After(cfg.WakeConnectionsAfter):
		return out
	}

	timer := time.NewTimer(cfg.DrainInterval)
	defer timer.Stop()

	for i := 0; i < h.maxDrainPulls; i++ {
		select {
		case <-ctx.Done():
			return out
		case batch, ok := <-queue:
			if !ok {
				return out
			}
			out = append(out, batch...)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(cfg.DrainInterval)
		case <-timer.C:
			return out
		}
	}
	return out
}

// Disconnect implements GET/POST /disconnect (spec.md §4.7/§6). Like
// /listen, it requires no shared-secret permission; unknown conn_id is
// unauthorized.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("conn_id")
	if connID == "" {
		_ = r.ParseForm()
		connID = r.FormValue("conn_id")
	}

	if err := h.ops.Disconnect(r.Context(), connID); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"disconnected"}`))
}
