package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const inventoryExportRoot = "exports/inventory"

var errUnsafeSegment = errors.New("storage: unsafe path segment")

// InventoryExportPath places an export under exports/inventory/YYYY/MM/<exportID>/<fileName>,
// bucketed by the UTC month the export ran in.
func InventoryExportPath(exportID string, at time.Time, fileName string) (string, error) {
	if at.IsZero() {
		return "", errors.New("storage: export time is required")
	}
	id, err := segment("exportID", exportID)
	if err != nil {
		return "", err
	}
	name, err := segment("fileName", fileName)
	if err != nil {
		return "", err
	}
	at = at.UTC()
	return path.Join(inventoryExportRoot, at.Format("2006"), at.Format("01"), id, name), nil
}

// segment accepts a single object path element: no separators and no dot-dot traversal.
func segment(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", field)
	case strings.ContainsAny(value, `/\`), strings.Contains(value, ".."):
		return "", fmt.Errorf("%w: %s %q", errUnsafeSegment, field, value)
	}
	return value, nil
}
