package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubClient struct {
	responses map[string]string
	err       error
	calls     int
}

func (s *stubClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.responses[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubClient) Close() error { return nil }

func TestResolveRemoteAndCaches(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"projects/demo/secrets/shopify-token/versions/latest": "shpat_abc",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("demo"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		value, err := fetcher.Resolve(context.Background(), "secret://shopify-token")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if value != "shpat_abc" {
			t.Fatalf("value = %q, want shpat_abc", value)
		}
	}
	if client.calls != 1 {
		t.Fatalf("remote calls = %d, want 1 (second hit should be cached)", client.calls)
	}
}

func TestResolveFallsBackWhenUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local secrets\nsecret://app-proxy-secret=local-secret\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := &stubClient{err: status.Error(codes.Unavailable, "try later")}
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("demo"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://app-proxy-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("value = %q, want local-secret", value)
	}
}

func TestResolveHardFailureDoesNotFallBack(t *testing.T) {
	client := &stubClient{err: status.Error(codes.NotFound, "no such secret")}
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("demo"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://missing"); err == nil {
		t.Fatal("expected error for not-found secret")
	}
}

func TestParseReference(t *testing.T) {
	parsed, err := parseReference("secret://shopify-token?version=3&project=other")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if parsed.Secret != "shopify-token" {
		t.Fatalf("secret = %q", parsed.Secret)
	}
	if parsed.Version != "3" || parsed.ProjectOverride != "other" {
		t.Fatalf("unexpected parse %+v", parsed)
	}
	if parsed.Canonical != "secret://shopify-token" {
		t.Fatalf("canonical = %q", parsed.Canonical)
	}

	if _, err := parseReference("vault://nope"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if _, err := parseReference("   "); err == nil {
		t.Fatal("expected error for empty reference")
	}
}

func TestInvalidateClearsCache(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"projects/demo/secrets/tok/versions/latest": "v1",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("demo"),
		WithFallbackFile(""),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://tok"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fetcher.Invalidate("secret://tok")
	client.responses["projects/demo/secrets/tok/versions/latest"] = "v2"

	value, err := fetcher.Resolve(context.Background(), "secret://tok")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if value != "v2" {
		t.Fatalf("value = %q, want v2", value)
	}
	if client.calls != 2 {
		t.Fatalf("remote calls = %d, want 2", client.calls)
	}
}

func TestFetcherWithoutClientUsesFallbackOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets")
	if err := os.WriteFile(path, []byte("secret://only-local=here\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(failingClient{}),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://only-local")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "here" {
		t.Fatalf("value = %q, want here", value)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://absent"); err == nil {
		t.Fatal("expected error when fallback misses")
	}
}

type failingClient struct{}

func (failingClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return nil, status.Error(codes.Unauthenticated, "no credentials")
}

func (failingClient) Close() error { return nil }
