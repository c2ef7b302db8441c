package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	signerRef      = "secret://storage_signer_key"
	signerResource = "projects/test/secrets/storage_signer_key/versions/latest"
)

// writeFallbackFile drops a key=value secrets file into a temp dir and
// returns its path.
func writeFallbackFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(signerRef+"=local-secret\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func mustFetcher(t *testing.T, ctx context.Context, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(ctx, opts...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[signerResource] = "remote-secret"

	fetcher := mustFetcher(t, ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	)

	for attempt := 0; attempt < 2; attempt++ {
		got, err := fetcher.Resolve(ctx, signerRef)
		if err != nil {
			t.Fatalf("Resolve attempt %d returned error: %v", attempt, err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}

	if calls := client.callCount(signerResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.errors[signerResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher := mustFetcher(t, ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallbackFile(t)),
	)

	got, err := fetcher.Resolve(ctx, signerRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestInvalidateNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[signerResource] = "remote-secret"

	fetcher := mustFetcher(t, ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
	)

	if _, err := fetcher.Resolve(ctx, signerRef); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	ch, cancel := fetcher.Subscribe(signerRef)
	defer cancel()

	fetcher.Invalidate(signerRef)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected invalidation notification")
	}
}

func TestResolveUsesVersionPins(t *testing.T) {
	ctx := context.Background()

	const pinnedResource = "projects/test/secrets/storage_signer_key/versions/5"
	client := newFakeSecretClient()
	client.values[pinnedResource] = "version-5"

	fetcher := mustFetcher(t, ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithVersionPins(map[string]string{signerRef: "5"}),
	)

	got, err := fetcher.Resolve(ctx, signerRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("expected version-5, got %s", got)
	}
	if calls := client.callCount(pinnedResource); calls != 1 {
		t.Fatalf("expected fetch of version 5, got %d calls", calls)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.errors[signerResource] = status.Error(codes.NotFound, "missing")

	fetcher := mustFetcher(t, ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallbackFile(t)),
	)

	if _, err := fetcher.Resolve(ctx, signerRef); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fetcher := mustFetcher(t, ctx, WithFallbackFile(writeFallbackFile(t)))

	value, err := fetcher.Resolve(ctx, signerRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	switch {
	case f.errors[name] != nil:
		return nil, f.errors[name]
	case f.values[name] != "":
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(f.values[name])},
		}, nil
	default:
		return nil, status.Error(codes.NotFound, "not found")
	}
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
