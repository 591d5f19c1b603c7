package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/store"
)

const keepaliveInterval = 15 * time.Second

// Events streams job progress as Server-Sent Events. The stream opens
// with a snapshot of the current record (pub/sub has no replay), relays
// live events, and closes once the job reaches a terminal state.
func (h *JobsHandler) Events(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	// Subscribe before reading the snapshot so no event falls in the gap.
	events, stop := h.store.SubscribeEvents(ctx, id)
	defer stop()

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Kind: "NotFound", Message: "no such job"})
		}
		return c.JSON(http.StatusServiceUnavailable, ErrorBody{Kind: "StoreUnavailable", Message: "state store unavailable"})
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	snapshot := job.Event{
		JobID:     rec.ID,
		Kind:      job.EventSnapshot,
		Stage:     string(rec.Status),
		Timestamp: time.Now().UTC(),
	}
	if rec.Status != job.StatusQueued {
		p := rec.Progress
		snapshot.Progress = &p
	}
	if rec.Result != nil {
		public := rec.Result.Public()
		if rec.Status == job.StatusFinished && rec.Result.Locator != "" {
			tok, _ := h.signer.Issue(rec.ID, rec.Result.Locator)
			public.DownloadURL = h.downloadURL(tok)
		}
		snapshot.Result = &public
	}
	snapshot.Error = rec.Error

	if err := writeSSE(res, snapshot); err != nil {
		return nil
	}
	if rec.Status.Terminal() {
		return nil
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// Workers publish results without a download URL; sign one
			// here so the terminal event is self-sufficient.
			if ev.Kind == job.EventCompleted && ev.Result != nil {
				if cur, err := h.store.Get(ctx, id); err == nil &&
					cur.Result != nil && cur.Result.Locator != "" {
					tok, _ := h.signer.Issue(id, cur.Result.Locator)
					ev.Result.DownloadURL = h.downloadURL(tok)
				}
			}
			if err := writeSSE(res, ev); err != nil {
				return nil
			}
			if ev.Kind == job.EventCompleted || ev.Kind == job.EventFailed {
				return nil
			}
		}
	}
}

func writeSSE(res *echo.Response, ev job.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("encode sse event")
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}
