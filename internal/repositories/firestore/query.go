package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var errNotInitialised = errors.New("firestore repository not initialised")

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

// queryPage runs query ordered by document id and returns one decoded cursor page.
func queryPage[D any, T any](ctx context.Context, query firestore.Query, pager domain.Pagination, decode func(doc D, id string) T) (domain.CursorPage[T], error) {
	size := clampPageSize(pager.PageSize)

	query = query.OrderBy(firestore.DocumentID, firestore.Asc)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	if cursor.Len() > 0 {
		after, err := cursor.StringAt(0)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		query = query.StartAfter(after)
	}

	snaps, err := pfirestore.Documents(ctx, query.Limit(size+1))
	if err != nil {
		return domain.CursorPage[T]{}, err
	}

	page := domain.CursorPage[T]{}
	hasMore := len(snaps) > size
	if hasMore {
		snaps = snaps[:size]
	}
	decoded, err := pfirestore.DecodeAll[D](snaps)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	page.Items = toDomainAll(decoded, decode)
	if hasMore && len(snaps) > 0 {
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{snaps[len(snaps)-1].Ref.ID}})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// findWhere returns every document whose field equals value.
func findWhere[D any, T any](ctx context.Context, coll *pfirestore.Collection[D], field string, value any, decode func(doc D, id string) T) ([]T, error) {
	query, err := coll.Query(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.Find(ctx, query.Where(field, "==", value))
	if err != nil {
		return nil, err
	}
	return toDomainAll(snaps, decode), nil
}

func toDomainAll[D any, T any](snaps []pfirestore.Snapshot[D], decode func(doc D, id string) T) []T {
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, decode(snap.Data, snap.ID))
	}
	return out
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func notFoundStatus(msg string) error {
	return status.Error(codes.NotFound, msg)
}

func alreadyExists(msg string) error {
	return status.Error(codes.AlreadyExists, msg)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
