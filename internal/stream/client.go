package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnsssynth/internal/metrics"
	"github.com/star/gnsssynth/internal/simulation"
)

// writeTimeout bounds each event write on a long-lived connection.
const writeTimeout = 30 * time.Second

// eventWriter frames pipeline updates as numbered SSE events on one
// connection. Progress events whose status equals the previous one are
// dropped; keepalive comments hold the connection open in between.
type eventWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger

	nextID   uint64
	last     simulation.Status
	reported bool

	events int64
	bytes  int64
}

// newEventWriter continues the event numbering after lastEventID, the value
// of a reconnecting client's Last-Event-ID header.
func newEventWriter(w http.ResponseWriter, rc *http.ResponseController, lastEventID string, logger *slog.Logger) *eventWriter {
	e := &eventWriter{w: w, rc: rc, logger: logger, nextID: 1}
	if id, err := strconv.ParseUint(lastEventID, 10, 64); err == nil {
		e.nextID = id + 1
	}
	return e
}

// event writes one SSE event:
//
//	id: 7
//	event: progress
//	data: {...}
func (e *eventWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	n, err := e.write(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", e.nextID, name, data))
	if err != nil {
		return err
	}
	e.nextID++
	e.events++
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
	return nil
}

// progress sends st unless it repeats the last reported status, and returns
// whether the run has ended.
func (e *eventWriter) progress(st simulation.Status) (bool, error) {
	if !e.reported || st != e.last {
		if err := e.event("progress", buildProgressMessage(st)); err != nil {
			return false, err
		}
		e.last, e.reported = st, true
	}
	return st.State == "finished" || st.State == "failed", nil
}

// keepalive sends an SSE comment line.
func (e *eventWriter) keepalive() error {
	n, err := e.write(":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	metrics.AddStreamBytes(int64(n))
	return nil
}

func (e *eventWriter) write(s string) (int, error) {
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		e.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(e.w, s)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	if err := e.rc.Flush(); err != nil {
		return n, fmt.Errorf("flush: %w", err)
	}
	e.bytes += int64(n)
	return n, nil
}
