package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Snapshot is a decoded document together with its id.
type Snapshot[D any] struct {
	ID   string
	Data D
}

// Collection binds a Firestore collection to its document shape D. Every read and write joins the
// transaction carried by ctx when there is one.
type Collection[D any] struct {
	provider *Provider
	name     string
}

// NewCollection constructs a Collection for the named root collection.
func NewCollection[D any](provider *Provider, name string) *Collection[D] {
	return &Collection[D]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[D]) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// DocumentRef resolves the reference for id.
func (c *Collection[D]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Query returns the unfiltered collection query.
func (c *Collection[D]) Query(ctx context.Context) (firestore.Query, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	return coll.Query, nil
}

// Get loads and decodes the document id.
func (c *Collection[D]) Get(ctx context.Context, id string) (Snapshot[D], error) {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return Snapshot[D]{}, err
	}
	snap, err := Get(ctx, ref)
	if err != nil {
		return Snapshot[D]{}, WrapError(c.op("get"), err)
	}
	return Decode[D](snap)
}

// Create writes doc under id and fails with a conflict when the document exists.
func (c *Collection[D]) Create(ctx context.Context, id string, doc D) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("create"), Create(ctx, ref, doc))
}

// Set upserts doc under id.
func (c *Collection[D]) Set(ctx context.Context, id string, doc D) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("set"), Set(ctx, ref, doc))
}

// Replace overwrites the existing document id.
func (c *Collection[D]) Replace(ctx context.Context, id string, doc D) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("replace"), Replace(ctx, ref, doc))
}

// Delete removes the existing document id.
func (c *Collection[D]) Delete(ctx context.Context, id string) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("delete"), Delete(ctx, ref))
}

// Find runs query and decodes every match.
func (c *Collection[D]) Find(ctx context.Context, query firestore.Query) ([]Snapshot[D], error) {
	snaps, err := Documents(ctx, query)
	if err != nil {
		return nil, WrapError(c.op("query"), err)
	}
	return DecodeAll[D](snaps)
}

func (c *Collection[D]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.op("collection"), err)
	}
	return client.Collection(c.name), nil
}

func (c *Collection[D]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + action
}

// Decode hydrates a snapshot into D.
func Decode[D any](snap *firestore.DocumentSnapshot) (Snapshot[D], error) {
	var doc D
	if err := snap.DataTo(&doc); err != nil {
		return Snapshot[D]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Snapshot[D]{ID: snap.Ref.ID, Data: doc}, nil
}

// DecodeAll hydrates snaps in order.
func DecodeAll[D any](snaps []*firestore.DocumentSnapshot) ([]Snapshot[D], error) {
	out := make([]Snapshot[D], 0, len(snaps))
	for _, snap := range snaps {
		decoded, err := Decode[D](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// Get reads ref through the transaction in ctx, if any.
func Get(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

// GetAll reads refs in one round trip. Missing documents come back with Exists() == false.
func GetAll(ctx context.Context, client *firestore.Client, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.GetAll(refs)
	}
	return client.GetAll(ctx, refs)
}

// Create writes data and fails with AlreadyExists when ref exists.
func Create(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

// Set upserts data at ref.
func Set(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

// Replace overwrites an existing document. Outside a transaction it fails with NotFound when the
// document is missing; inside one the caller has already read it, and Firestore forbids reads
// after writes.
func Replace(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	if _, err := ref.Get(ctx); err != nil {
		return err
	}
	_, err := ref.Set(ctx, data)
	return err
}

// Delete removes ref and fails with NotFound when it is missing.
func Delete(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.Delete(ref, firestore.Exists)
	}
	_, err := ref.Delete(ctx, firestore.Exists)
	return err
}

// Documents drains query, reading through the transaction in ctx when present.
func Documents(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var snaps []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return snaps, nil
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
}
