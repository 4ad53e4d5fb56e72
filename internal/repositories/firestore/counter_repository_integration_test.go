//go:build integration

package firestore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

func TestCounterRepositoryConcurrentIncrements(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const clerks = 12
	numbers := make([]int64, clerks)
	var wg sync.WaitGroup
	for i := range clerks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := repo.Next(ctx, "tickets:2026", 1)
			if err != nil {
				t.Errorf("clerk %d: %v", i, err)
				return
			}
			numbers[i] = value
		}()
	}
	wg.Wait()

	slices.Sort(numbers)
	for i, got := range numbers {
		if got != int64(i+1) {
			t.Fatalf("expected gapless sequence, got %v", numbers)
		}
	}
}

func TestCounterRepositoryHonoursMaxValue(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-cap-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	limit := int64(2)
	counters := pfirestore.NewCollection[counterDocument](provider, countersCollection)
	if err := counters.Set(ctx, "tickets:capped", counterDocument{Step: 1, MaxValue: &limit, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed capped counter: %v", err)
	}

	for want := int64(1); want <= limit; want++ {
		if got, err := repo.Next(ctx, "tickets:capped", 1); err != nil || got != want {
			t.Fatalf("next = %d, %v; want %d", got, err, want)
		}
	}
	_, err = repo.Next(ctx, "tickets:capped", 1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted counter error, got %v", err)
	}
}

func TestCounterRepositoryJoinsOuterTransaction(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-tx-test")
	reg, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rollback := errors.New("intake rejected")
	err = reg.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := reg.Counters().Next(txCtx, "tickets:2026", 1); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	if got, err := reg.Counters().Next(ctx, "tickets:2026", 1); err != nil || got != 1 {
		t.Fatalf("expected rolled back increment to leave the sequence at 1, got %d, %v", got, err)
	}
}
