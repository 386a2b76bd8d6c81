package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// StoreLogHandler is a slog.Handler that writes records to the job store
// and forwards them to next (usually the console handler).
type StoreLogHandler struct {
	Store JobStore
	JobID uuid.UUID
	Level slog.Leveler

	next slog.Handler
	// attrs keys already include the group prefix active when they were added.
	attrs  []slog.Attr
	groups []string
}

func NewStoreLogHandler(store JobStore, jobID uuid.UUID, next slog.Handler) *StoreLogHandler {
	return &StoreLogHandler{
		Store: store,
		JobID: jobID,
		Level: slog.LevelInfo,
		next:  next,
	}
}

func (h *StoreLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.Level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *StoreLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var nextErr error
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		nextErr = h.next.Handle(ctx, r.Clone())
	}
	if r.Level < h.Level.Level() {
		return nextErr
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Logs must outlive a cancelled job context.
	err = h.Store.AppendLog(context.Background(), h.JobID, LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
	if err != nil {
		return err
	}
	return nextErr
}

func attrValue(v slog.Value) any {
	value := v.Resolve().Any()
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return value
}

func (h *StoreLogHandler) key(k string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		k = h.groups[i] + "." + k
	}
	return k
}

func (h *StoreLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *StoreLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
