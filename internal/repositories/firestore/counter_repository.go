package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const countersCollection = "counters"

// counterDocument is one sequence. MaxValue is set by hand on documents that must stop issuing.
type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequence values, one document per counter id.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next adds step to the counter inside a transaction and returns the new value. A missing
// counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errNotInitialised
	}
	id, err := repositories.ValidateCounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}

	var issued int64
	err = r.provider.InTx(ctx, func(ctx context.Context) error {
		doc := counterDocument{}
		snap, err := r.counters.Get(ctx, id)
		switch {
		case err == nil:
			doc = snap.Data
		case !isNotFound(err):
			return err
		}
		if issued, err = repositories.AdvanceCounter(id, doc.CurrentValue, step, doc.MaxValue); err != nil {
			return err
		}
		doc.CurrentValue, doc.Step, doc.UpdatedAt = issued, step, r.now().UTC()
		return r.counters.Set(ctx, id, doc)
	})
	if err == nil {
		return issued, nil
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		return 0, counterErr
	}
	return 0, pfirestore.WrapError("counters.next", err)
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)
