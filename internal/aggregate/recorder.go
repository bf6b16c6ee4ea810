package aggregate

import (
	"context"

	"github.com/runnerr0/pagetrail/internal/storage"
)

// Recorder commits tracker records to a Store.
type Recorder struct {
	store storage.Store
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store}
}

// Commit merges batch into the stored aggregate in one read-modify-write.
func (r *Recorder) Commit(ctx context.Context, batch []storage.Domain) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := r.store.UpdatePages(ctx, func(current []storage.Domain) ([]storage.Domain, error) {
		return Merge(current, batch), nil
	})
	return err
}
