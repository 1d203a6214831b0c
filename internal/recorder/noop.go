package recorder

import "GridSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordAlert(_ model.Event) error                 { return nil }
func (n *NoopRecorder) RecordExecution(_ model.TransactionRecord) error { return nil }
func (n *NoopRecorder) Close() error                                    { return nil }
