package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/groupdiscount/api/internal/domain"
	"github.com/groupdiscount/api/internal/platform/auth"
	"github.com/groupdiscount/api/internal/platform/requestctx"
)

// Storefront middleware wraps the whole base-path group, so reads are
// signature-checked the same as mutations.
func TestStorefrontMiddlewareGuardsReadRoutes(t *testing.T) {
	const secret = "shpss_test_secret"

	svc := &stubConfigService{
		fetchFn: func(_ context.Context, shopID string) (domain.DiscountConfig, error) {
			return domain.DiscountConfig{ShopID: shopID}, nil
		},
	}
	validator := auth.NewAppProxyValidator(auth.StaticSecret(secret), "app-proxy-secret")
	router := NewRouter(
		WithDiscountRoutes(NewDiscountConfigHandlers(svc, false).Routes),
		WithStorefrontMiddlewares(validator.RequireSignature()),
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/group-discount/demo.myshopify.com", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned GET status = %d, want 401", rec.Code)
	}

	query := url.Values{"shop": {"demo.myshopify.com"}}
	query.Set("signature", auth.SignQuery(secret, query))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/group-discount/demo.myshopify.com?"+query.Encode(), nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed GET status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if env := decodeEnvelope(t, rec); !env.Success {
		t.Fatalf("signed GET envelope not successful: %+v", env)
	}
}

func TestHandlersRecordShopOnRequestScope(t *testing.T) {
	svc := &stubConfigService{
		fetchFn: func(ctx context.Context, shopID string) (domain.DiscountConfig, error) {
			if got := requestctx.ShopID(ctx); got != shopID {
				t.Fatalf("scope shop id = %q, want %q", got, shopID)
			}
			return domain.DiscountConfig{ShopID: shopID}, nil
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/group-discount/demo.myshopify.com", nil)
	newConfigRouter(svc, false).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
