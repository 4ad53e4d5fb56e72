package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeVersion = "projects/rd-prod/secrets/stripe_api/versions/latest"

// vault is an in-memory Secret Manager keyed by version resource name.
type vault struct {
	mu      sync.Mutex
	data    map[string]string
	fail    map[string]error
	hits    map[string]int
	release chan struct{}
}

func newVault() *vault {
	return &vault{data: map[string]string{}, fail: map[string]error{}, hits: map[string]int{}}
}

func (v *vault) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if v.release != nil {
		<-v.release
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hits[req.GetName()]++
	if err := v.fail[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := v.data[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value + "\n")}}, nil
}

func (v *vault) Close() error { return nil }

func (v *vault) count(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hits[name]
}

func writeFallback(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	f, err := NewFetcher(context.Background(), append([]Option{WithProject("rd-prod"), WithFallbackFile("")}, opts...)...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResolveSourceSelection(t *testing.T) {
	cases := map[string]struct {
		remoteErr error
		remote    string
		fallback  []string
		want      string
		wantErr   bool
	}{
		"remote value trimmed":          {remote: "sk_live_remote", want: "sk_live_remote"},
		"permission denied uses file":   {remoteErr: status.Error(codes.PermissionDenied, "denied"), fallback: []string{"# local", "stripe_api=sk_test_file"}, want: "sk_test_file"},
		"unavailable uses file":         {remoteErr: status.Error(codes.Unavailable, "down"), fallback: []string{"STRIPE=unused", "stripe_api=sk_test_ref"}, want: "sk_test_ref"},
		"not found never falls back":    {fallback: []string{"stripe_api=sk_test_file"}, wantErr: true},
		"nothing anywhere":              {remoteErr: status.Error(codes.Unauthenticated, "no creds"), wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := newVault()
			if tc.remote != "" {
				v.data[stripeVersion] = tc.remote
			}
			if tc.remoteErr != nil {
				v.fail[stripeVersion] = tc.remoteErr
			}
			opts := []Option{WithSecretManagerClient(v)}
			if tc.fallback != nil {
				opts = append(opts, WithFallbackFile(writeFallback(t, tc.fallback...)))
			}
			got, err := newTestFetcher(t, opts...).Resolve(context.Background(), "secret://stripe/api")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Resolve = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestResolveCacheTTLAndInvalidate(t *testing.T) {
	v := newVault()
	const version = "projects/rd-prod/secrets/mercadopago_token/versions/3"
	v.data[version] = "APP_USR-3"

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	f := newTestFetcher(t, WithSecretManagerClient(v), WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))
	ref := "sm://mercadopago/token?version=3"

	resolve := func() {
		t.Helper()
		if got, err := f.ResolveSecret(context.Background(), ref); err != nil || got != "APP_USR-3" {
			t.Fatalf("ResolveSecret = %q, %v", got, err)
		}
	}
	resolve()
	resolve()
	if n := v.count(version); n != 1 {
		t.Fatalf("fetches = %d, want 1 while cached", n)
	}
	now = now.Add(time.Minute)
	resolve()
	f.Invalidate(ref)
	resolve()
	if n := v.count(version); n != 3 {
		t.Fatalf("fetches = %d, want refetch after ttl and after invalidate", n)
	}
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	v := newVault()
	v.data[stripeVersion] = "sk_live_remote"
	v.release = make(chan struct{})
	f := newTestFetcher(t, WithSecretManagerClient(v))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = f.Resolve(context.Background(), "secret://stripe/api")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(v.release)
	wg.Wait()

	for i, got := range results {
		if got != "sk_live_remote" {
			t.Fatalf("caller %d got %q", i, got)
		}
	}
	if n := v.count(stripeVersion); n > 2 {
		t.Fatalf("expected concurrent misses to share a fetch, got %d", n)
	}
}

func TestParseReference(t *testing.T) {
	parsed, err := parseReference(" sm://psp/stripe/webhook?project=rd-shared&version=7 ")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	want := parsedReference{canonical: "secret://psp/stripe/webhook", name: "psp_stripe_webhook", version: "7", project: "rd-shared"}
	if parsed != want {
		t.Fatalf("parsed = %+v, want %+v", parsed, want)
	}
	for _, bad := range []string{"", "https://stripe/api", "secret://"} {
		if _, err := parseReference(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestNewFetcherDegradesToFallbackWithoutCredentials(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	f := newTestFetcher(t, WithFallbackFile(writeFallback(t, "stripe_api=sk_test_local")))
	if got, err := f.Resolve(context.Background(), "secret://stripe/api"); err != nil || got != "sk_test_local" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}
