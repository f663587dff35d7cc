package protocol

import (
	"time"

	"github.com/davidkant/rpp/internal/sample"
)

// RenderRequest asks the render service to render a batch of samples.
type RenderRequest struct {
	BatchID   string          `json:"batch_id"`
	BatchSize int             `json:"batch_size,omitempty"`
	Samples   []sample.Sample `json:"samples"`
}

// RenderStatus reports the outcome of one sample of a batch.
type RenderStatus struct {
	BatchID   string    `json:"batch_id"`
	RenderID  string    `json:"render_id"`
	Index     int       `json:"index"`
	Filename  string    `json:"filename"`
	Folder    string    `json:"folder"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchStatus is published once every sample of a batch has settled.
type BatchStatus struct {
	BatchID   string    `json:"batch_id"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectRenderRequest = "rpp.render.request"
	SubjectRenderDone    = "rpp.render.done"
	SubjectBatchDone     = "rpp.render.batch.done"
)

// RenderAccepted is the reply to a RenderRequest sent with a reply subject.
type RenderAccepted struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}
