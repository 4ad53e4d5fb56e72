package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotencyKeys"
	defaultCleanupLimit = 200
	claimAttempts       = 5
)

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Phase       string              `firestore:"phase"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func newEntryDocument(e Entry) entryDocument {
	return entryDocument{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		Phase:       string(e.Phase),
		Status:      e.Status,
		Header:      e.Header,
		Body:        e.Body,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d entryDocument) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Phase:       Phase(d.Phase),
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

// FirestoreStore keeps keys in a Firestore collection. Claim and Settle each run in a transaction,
// so concurrent retries of one key serialise. Configure a TTL policy on expiresAt to let Firestore
// reclaim keys that CleanupExpired never reaches.
type FirestoreStore struct {
	provider *pfirestore.Provider
	entries  *pfirestore.Collection[entryDocument]
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{
		provider: provider,
		entries:  pfirestore.NewCollection[entryDocument](provider, collection),
	}
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	id := entryID(key)
	var result Claim
	err := s.provider.InTx(ctx, func(ctx context.Context) error {
		stored, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		decided, held, err := claim(stored, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		if held != nil {
			if err := s.entries.Set(ctx, id, newEntryDocument(*held)); err != nil {
				return err
			}
		}
		result = decided
		return nil
	}, pfirestore.WithTxAttempts(claimAttempts))
	return result, unwrapReuse(err)
}

func (s *FirestoreStore) Settle(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	id := entryID(key)
	err := s.provider.InTx(ctx, func(ctx context.Context) error {
		stored, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		entry, err := settle(stored, key, fingerprint, reply, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return s.entries.Set(ctx, id, newEntryDocument(entry))
	}, pfirestore.WithTxAttempts(claimAttempts))
	return unwrapReuse(err)
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	if err := s.entries.Delete(ctx, entryID(key)); err != nil && !notFound(err) {
		return err
	}
	return nil
}

// CleanupExpired deletes up to limit expired keys, oldest first, through a bulk writer.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	query, err := s.entries.Query(ctx)
	if err != nil {
		return 0, err
	}
	expired, err := s.entries.Find(ctx, query.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc).Limit(limit))
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	bulk := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(expired))
	for _, snap := range expired {
		job, err := bulk.Delete(client.Collection(s.entries.Name()).Doc(snap.ID))
		if err != nil {
			bulk.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	bulk.End()

	removed := 0
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, pfirestore.WrapError("idempotency.cleanup", errors.Join(errs...))
}

func (s *FirestoreStore) load(ctx context.Context, id string) (*Entry, error) {
	snap, err := s.entries.Get(ctx, id)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := snap.Data.entry()
	return &entry, nil
}

func notFound(err error) bool {
	var fsErr *pfirestore.Error
	return errors.As(err, &fsErr) && fsErr.IsNotFound()
}

// unwrapReuse surfaces ErrKeyReused unchanged through the transaction wrapper.
func unwrapReuse(err error) error {
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	return err
}
