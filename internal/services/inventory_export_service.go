package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/storage"
)

const (
	exportPageSize    = 200
	exportMaxPages    = 500
	exportContentType = "text/csv; charset=utf-8"
	maxExportWindow   = 366 * 24 * time.Hour
)

var exportHeader = []string{"movement_id", "product_id", "type", "reason", "quantity", "stock_after", "reference", "actor_id", "created_at"}

// ObjectWriter stores a finished object in a bucket.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// DownloadURLSigner issues short-lived download links for stored objects.
type DownloadURLSigner interface {
	SignedDownloadURL(ctx context.Context, bucket, object string) (string, time.Time, error)
}

// InventoryExportServiceDeps bundles the dependencies of the stock movement exporter.
type InventoryExportServiceDeps struct {
	Inventory   InventoryService
	Writer      ObjectWriter
	Signer      DownloadURLSigner
	Bucket      string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryExportService struct {
	inventory InventoryService
	writer    ObjectWriter
	signer    DownloadURLSigner
	bucket    string
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryExportService constructs the exporter that writes movement ledgers as CSV objects.
func NewInventoryExportService(deps InventoryExportServiceDeps) (InventoryExportService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory export service: inventory service is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("inventory export service: object writer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("inventory export service: bucket is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryExportService{
		inventory: deps.Inventory,
		writer:    deps.Writer,
		signer:    deps.Signer,
		bucket:    bucket,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *inventoryExportService) ExportMovements(ctx context.Context, cmd ExportMovementsCommand) (ExportResult, error) {
	if strings.TrimSpace(cmd.ActorID) == "" {
		return ExportResult{}, fmt.Errorf("%w: actor id is required", ErrInventoryInvalidInput)
	}
	now := s.clock()
	from, to := cmd.From.UTC(), cmd.To.UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		return ExportResult{}, fmt.Errorf("%w: export window start must precede its end", ErrInventoryInvalidInput)
	}
	if to.Sub(from) > maxExportWindow {
		return ExportResult{}, fmt.Errorf("%w: export window exceeds one year", ErrInventoryInvalidInput)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return ExportResult{}, fmt.Errorf("inventory export: write header: %w", err)
	}

	count := 0
	token := ""
	for page := 0; page < exportMaxPages; page++ {
		result, err := s.inventory.ListMovements(ctx, MovementListFilter{
			From:       &from,
			To:         &to,
			Pagination: Pagination{PageSize: exportPageSize, PageToken: token},
		})
		if err != nil {
			return ExportResult{}, err
		}
		for _, movement := range result.Items {
			if err := w.Write(movementRecord(movement)); err != nil {
				return ExportResult{}, fmt.Errorf("inventory export: write row: %w", err)
			}
			count++
		}
		token = result.NextPageToken
		if token == "" {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, fmt.Errorf("inventory export: flush: %w", err)
	}

	fileName := fmt.Sprintf("movements-%s-%s.csv", from.Format("20060102T150405Z"), to.Format("20060102T150405Z"))
	object, err := storage.InventoryExportPath(s.newID(), now, fileName)
	if err != nil {
		return ExportResult{}, err
	}
	if err := s.writer.WriteObject(ctx, s.bucket, object, exportContentType, buf.Bytes()); err != nil {
		return ExportResult{}, fmt.Errorf("inventory export: upload: %w", err)
	}

	result := ExportResult{Bucket: s.bucket, Object: object, Movements: count}
	if s.signer != nil {
		url, expiresAt, err := s.signer.SignedDownloadURL(ctx, s.bucket, object)
		if err != nil {
			s.logger(ctx, "inventory.export.sign.failed", map[string]any{"object": object, "error": err.Error()})
		} else {
			result.DownloadURL = url
			result.ExpiresAt = &expiresAt
		}
	}

	s.logger(ctx, "inventory.export.completed", map[string]any{
		"bucket":    s.bucket,
		"object":    object,
		"movements": count,
		"actorId":   cmd.ActorID,
	})
	return result, nil
}

func movementRecord(movement domain.StockMovement) []string {
	reference := ""
	if movement.Reference != nil {
		reference = *movement.Reference
	}
	return []string{
		movement.ID,
		movement.ProductID,
		string(movement.Type),
		string(movement.Reason),
		strconv.FormatInt(movement.Quantity, 10),
		strconv.FormatInt(movement.StockAfter, 10),
		reference,
		movement.ActorID,
		movement.CreatedAt.UTC().Format(time.RFC3339),
	}
}
