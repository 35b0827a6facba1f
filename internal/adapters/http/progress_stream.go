package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

const defaultKeepAlive = 15 * time.Second

// streamProgress sends the persisted session snapshot as the first event
// and then relays published progress until a final stage arrives.
func (rt *Router) streamProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	ctx := r.Context()
	uploadID := r.PathValue("uploadId")

	// Subscribe before reading the snapshot so no event falls in between.
	var events <-chan domain.ProgressEvent
	stop := func() {}
	if rt.progress != nil {
		ch, stopFn, err := rt.progress.SubscribeProgress(ctx, uploadID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		events, stop = ch, stopFn
	}
	defer stop()

	session, err := rt.uploads.Get(ctx, uploadID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if rt.metrics != nil {
		rt.metrics.StreamOpened()
		defer rt.metrics.StreamClosed()
	}

	snapshot := snapshotEvent(session)
	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()
	if snapshot.Stage.Final() || session.Status.Terminal() || events == nil {
		return
	}

	keepAlive := rt.cfg.APIProgressKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				slog.Debug("progress_stream_write_failed", "upload_id", uploadID, "error", err.Error())
				return
			}
			flusher.Flush()
			if event.Stage.Final() {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
	return err
}

func snapshotEvent(session *domain.UploadSession) domain.ProgressEvent {
	event := domain.ProgressEvent{
		UploadID: session.ID,
		Stage:    session.Stage,
		Progress: session.Progress,
		Message:  session.Message,
	}
	if session.Results.Rows() > 0 || session.Stage == domain.StageCompleted {
		event.Details = map[string]any{"results": session.Results}
	}
	return event
}
