package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignedDownloadURLSuccess(t *testing.T) {
	signer := &fakeSigner{email: "exports@example.iam.gserviceaccount.com"}
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }), WithDownloadExpiry(10*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	signed, expiresAt, err := client.SignedDownloadURL(context.Background(), "exports", "exports/inventory/2025/05/exp/movements.csv")
	if err != nil {
		t.Fatalf("SignedDownloadURL returned error: %v", err)
	}
	if !expiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(10*time.Minute), expiresAt)
	}

	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if !strings.Contains(parsed.Query().Get("response-content-disposition"), "movements.csv") {
		t.Fatalf("expected attachment disposition, got %q", parsed.Query().Get("response-content-disposition"))
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignedDownloadURLValidatesInput(t *testing.T) {
	client, err := NewClient(&fakeSigner{email: "exports@example.iam.gserviceaccount.com"})
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	if _, _, err := client.SignedDownloadURL(context.Background(), " ", "object"); !errors.Is(err, errInvalidBucket) {
		t.Fatalf("expected errInvalidBucket, got %v", err)
	}
	if _, _, err := client.SignedDownloadURL(context.Background(), "bucket", ""); !errors.Is(err, errInvalidObject) {
		t.Fatalf("expected errInvalidObject, got %v", err)
	}
}

func TestNewClientRejectsLongExpiry(t *testing.T) {
	_, err := NewClient(&fakeSigner{email: "exports@example.iam.gserviceaccount.com"}, WithDownloadExpiry(time.Hour))
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}

func TestNewClientRequiresSigner(t *testing.T) {
	if _, err := NewClient(&fakeSigner{}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
}

func TestSignedDownloadURLPropagatesSignerError(t *testing.T) {
	signer := &fakeSigner{email: "exports@example.iam.gserviceaccount.com", err: errors.New("kms down")}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	if _, _, err := client.SignedDownloadURL(context.Background(), "bucket", "object.csv"); err == nil {
		t.Fatalf("expected signer error")
	}
}
