package evidence

import (
	"context"
	"errors"

	"github.com/ppiankov/swarmgate/internal/model"
)

// Recorder fans one decision record into the hash-chained log and, when
// configured, the query store. Appends are independently durable: the log
// write syncs before the store insert starts.
type Recorder struct {
	log   *Log
	store *Store
}

// NewRecorder creates a recorder. store may be nil (chain-only recording).
func NewRecorder(log *Log, store *Store) *Recorder {
	return &Recorder{log: log, store: store}
}

// Record appends the record everywhere. A missing decision_context taints
// the record and surfaces as ErrDataIntegrity, but the record is still
// persisted in full: the evidentiary chain must show the defect, not drop
// the action.
func (r *Recorder) Record(ctx context.Context, rec model.DecisionRecord) error {
	if len(rec.DecisionContext) == 0 {
		rec.Tainted = true
	}

	logErr := r.log.Append(rec)
	if logErr != nil && !errors.Is(logErr, model.ErrDataIntegrity) {
		return logErr
	}

	if r.store != nil {
		if err := r.store.InsertRecord(ctx, rec); err != nil {
			return errors.Join(logErr, err)
		}
	}

	return logErr
}
