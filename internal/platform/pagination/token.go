package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor holds the sort-key values of the last item served, in the order the listing query sorts
// by. The next page starts after it.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// Len reports how many sort keys the cursor carries.
func (c Cursor) Len() int {
	return len(c.StartAfter)
}

// StringAt returns the sort key at position i as a non-empty string.
func (c Cursor) StringAt(i int) (string, error) {
	raw, err := c.at(i)
	if err != nil {
		return "", err
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: key %d is not a string", ErrInvalidPageToken, i)
	}
	return value, nil
}

// Int64At returns the sort key at position i as an integer.
func (c Cursor) Int64At(i int) (int64, error) {
	raw, err := c.at(i)
	if err != nil {
		return 0, err
	}
	switch value := raw.(type) {
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: key %d is not an integer", ErrInvalidPageToken, i)
		}
		return n, nil
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	}
	return 0, fmt.Errorf("%w: key %d is not an integer", ErrInvalidPageToken, i)
}

// TimeAt returns the sort key at position i as a timestamp. Timestamps travel as RFC 3339 strings.
func (c Cursor) TimeAt(i int) (time.Time, error) {
	raw, err := c.at(i)
	if err != nil {
		return time.Time{}, err
	}
	switch value := raw.(type) {
	case time.Time:
		return value, nil
	case string:
		at, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: key %d is not a timestamp", ErrInvalidPageToken, i)
		}
		return at, nil
	}
	return time.Time{}, fmt.Errorf("%w: key %d is not a timestamp", ErrInvalidPageToken, i)
}

func (c Cursor) at(i int) (any, error) {
	if i < 0 || i >= len(c.StartAfter) {
		return nil, fmt.Errorf("%w: missing key %d", ErrInvalidPageToken, i)
	}
	return c.StartAfter[i], nil
}

// EncodeToken serialises cursor into an opaque URL-safe page token. An empty cursor yields "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Len() == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. Numbers decode as json.Number so integer
// sort keys round-trip exactly.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cursor Cursor
	if err := dec.Decode(&cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
