package render

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/davidkant/rpp/internal/eventstore"
)

type batchKey struct{}

// WithBatchID tags renders started under ctx with a batch id for the
// journal. Renders without one are journaled as a batch of their own.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchKey{}, batchID)
}

// BatchID returns the batch id carried by ctx.
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}

type journalEntry struct {
	Filename  string  `json:"filename,omitempty"`
	Folder    string  `json:"folder,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	Args      []any   `json:"args,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

func (o *Orchestrator) record(ctx context.Context, batchID, renderID, eventType string, entry journalEntry) {
	if !o.journal.Enabled() {
		return
	}
	if batchID == "" {
		batchID = renderID
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		o.log.Warn("failed to encode journal entry", slogError(err))
		return
	}
	evt := eventstore.Event{
		BatchID:  batchID,
		RenderID: renderID,
		Type:     eventType,
		Payload:  payload,
	}
	if err := o.journal.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		o.log.Warn("failed to journal render event",
			slog.String("render_id", renderID),
			slog.String("type", eventType),
			slogError(err),
		)
	}
}
