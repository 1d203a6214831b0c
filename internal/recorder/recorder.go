package recorder

import "GridSentinel/internal/model"

// Recorder mirrors alerts and confirmed executions into a queryable history.
// The CSV ledger stays the record of truth; a recorder failure is logged and
// never blocks a confirmation.
type Recorder interface {
	RecordAlert(ev model.Event) error
	RecordExecution(rec model.TransactionRecord) error
	Close() error
}
