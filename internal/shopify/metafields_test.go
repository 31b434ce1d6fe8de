package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*MetafieldClient, string) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)
	client := NewMetafieldClient(WithHTTPClient(server.Client()))
	return client, strings.TrimPrefix(server.URL, "https://")
}

func TestPublishSendsMetafieldPayload(t *testing.T) {
	var captured metafieldRequest
	var gotToken, gotPath string

	client, shop := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"metafield":{"id":1}}`))
	})

	payload := []byte(`{"groups":[],"excludedProducts":[]}`)
	if err := client.Publish(context.Background(), shop, "shpat_token", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotToken != "shpat_token" {
		t.Fatalf("token header = %q", gotToken)
	}
	if gotPath != "/admin/api/2024-07/metafields.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if captured.Metafield.Namespace != "custom" || captured.Metafield.Key != "discountconfigdata" {
		t.Fatalf("unexpected metafield target %+v", captured.Metafield)
	}
	if captured.Metafield.Type != "json" || captured.Metafield.Value != string(payload) {
		t.Fatalf("unexpected metafield body %+v", captured.Metafield)
	}
}

func TestPublishClassifiesClientErrors(t *testing.T) {
	client, shop := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"value":["is invalid"]}}`))
	})

	err := client.Publish(context.Background(), shop, "shpat_token", []byte(`{}`))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "is invalid") {
		t.Fatalf("error should carry remote detail, got %v", err)
	}
}

func TestPublishClassifiesServerErrors(t *testing.T) {
	client, shop := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Publish(context.Background(), shop, "shpat_token", []byte(`{}`))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestPublishRejectsMissingInputs(t *testing.T) {
	client := NewMetafieldClient()

	if err := client.Publish(context.Background(), "", "tok", nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("missing shop: err = %v", err)
	}
	if err := client.Publish(context.Background(), "demo.myshopify.com", "  ", nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("missing token: err = %v", err)
	}
}

func TestPublishUnreachableHostIsUnavailable(t *testing.T) {
	client := NewMetafieldClient(WithHTTPClient(&http.Client{}))

	err := client.Publish(context.Background(), "127.0.0.1:1", "tok", []byte(`{}`))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
