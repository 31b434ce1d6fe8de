package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "demo-project",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Shopify.MetafieldNamespace != "custom" || cfg.Shopify.MetafieldKey != "discountconfigdata" {
		t.Fatalf("unexpected metafield defaults: %+v", cfg.Shopify)
	}
	if cfg.PubSub.Topic != "discount-config-events" {
		t.Fatalf("unexpected topic default: %q", cfg.PubSub.Topic)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("unexpected idempotency ttl: %v", cfg.Idempotency.TTL)
	}
	if cfg.Security.IsProduction() {
		t.Fatal("local environment reported as production")
	}
}

func TestLoadRequiresFirestoreProject(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{}))
	if err == nil {
		t.Fatal("expected missing project id error")
	}
	if !strings.Contains(err.Error(), "API_FIRESTORE_PROJECT_ID") {
		t.Fatalf("expected error to name the missing variable, got %v", err)
	}
}

func TestLoadEmulatorHostSatisfiesFirestore(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"API_FIRESTORE_EMULATOR_HOST": "localhost:8900",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8900" {
		t.Fatalf("unexpected emulator host: %q", cfg.Firestore.EmulatorHost)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://proxy/shared" {
			return "", errors.New("unexpected reference")
		}
		return "shhh", nil
	})
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":      "demo-project",
			"API_SECURITY_APP_PROXY_SECRET": "secret://proxy/shared",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Security.AppProxySecret != "shhh" {
		t.Fatalf("expected resolved secret, got %q", cfg.Security.AppProxySecret)
	}
}

func TestLoadSecretReferenceWithoutResolverFails(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"API_FIRESTORE_PROJECT_ID":      "demo-project",
		"API_SECURITY_APP_PROXY_SECRET": "secret://proxy/shared",
	}))
	if err == nil {
		t.Fatal("expected resolver error")
	}
}

func TestDurationAcceptsSeconds(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"API_FIRESTORE_PROJECT_ID": "demo-project",
		"API_SERVER_READ_TIMEOUT":  "45",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Fatalf("expected 45s read timeout, got %v", cfg.Server.ReadTimeout)
	}
}
