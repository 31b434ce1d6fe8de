package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/groupdiscount/api/internal/domain"
	"github.com/groupdiscount/api/internal/platform/httpx"
	"github.com/groupdiscount/api/internal/platform/requestctx"
	"github.com/groupdiscount/api/internal/services"
)

const maxConfigBodySize = 256 * 1024

var errBodyTooLarge = errors.New("request body too large")

// DiscountConfigHandlers exposes the per-shop configuration endpoints.
type DiscountConfigHandlers struct {
	configs    services.DiscountConfigService
	production bool
}

// NewDiscountConfigHandlers constructs the configuration handlers. The
// production flag suppresses internal error detail in responses.
func NewDiscountConfigHandlers(configs services.DiscountConfigService, production bool) *DiscountConfigHandlers {
	return &DiscountConfigHandlers{configs: configs, production: production}
}

// Routes wires the configuration endpoints onto the provided router.
func (h *DiscountConfigHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{shopID}", h.get)
	r.Post("/{shopID}", h.replace)
	r.Delete("/{shopID}/group/{groupID}", h.deleteGroup)
	r.Post("/{shopID}/excluded-products", h.replaceExcluded)
	r.Delete("/{shopID}/excluded-product/{productID}", h.removeExcluded)
	r.Post("/{shopID}/group/{groupID}/products", h.addProducts)
	r.Delete("/{shopID}/group/{groupID}/product/{productID}", h.removeProduct)
}

// shopContext resolves the shop route parameter and records it on the
// request scope so downstream logs and events carry the tenant.
func shopContext(r *http.Request) (context.Context, string) {
	shopID := chi.URLParam(r, "shopID")
	return requestctx.WithShop(r.Context(), shopID), shopID
}

func (h *DiscountConfigHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)

	cfg, err := h.configs.Fetch(ctx, shopID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "", buildConfigPayload(cfg))
}

// replaceRequest keeps the raw field bodies so an absent key is
// distinguishable from an empty array.
type replaceRequest struct {
	Groups           json.RawMessage `json:"groups"`
	ExcludedProducts json.RawMessage `json:"excludedProducts"`
}

func (h *DiscountConfigHandlers) replace(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)

	var req replaceRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	input := services.ReplaceInput{}
	if fieldPresent(req.Groups) {
		if err := json.Unmarshal(req.Groups, &input.Groups); err != nil {
			httpx.WriteFailure(ctx, w, http.StatusBadRequest, "groups must be an array", nil)
			return
		}
		input.HasGroups = true
	}
	if fieldPresent(req.ExcludedProducts) {
		if err := json.Unmarshal(req.ExcludedProducts, &input.ExcludedProducts); err != nil {
			httpx.WriteFailure(ctx, w, http.StatusBadRequest, "excludedProducts must be an array", nil)
			return
		}
		input.HasExcluded = true
	}

	cfg, err := h.configs.Replace(ctx, shopID, input)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "discount configuration saved", buildConfigPayload(cfg))
}

func (h *DiscountConfigHandlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)
	cfg, err := h.configs.DeleteGroup(ctx, shopID, chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "discount group removed", buildConfigPayload(cfg))
}

type excludedProductsRequest struct {
	ExcludedProducts []services.ProductPayload `json:"excludedProducts"`
}

func (h *DiscountConfigHandlers) replaceExcluded(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)

	var req excludedProductsRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	cfg, err := h.configs.ReplaceExcludedProducts(ctx, shopID, req.ExcludedProducts)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "excluded products saved", buildConfigPayload(cfg))
}

func (h *DiscountConfigHandlers) removeExcluded(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)
	cfg, err := h.configs.RemoveExcludedProduct(ctx, shopID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "excluded product removed", buildConfigPayload(cfg))
}

type groupProductsRequest struct {
	Products []services.ProductPayload `json:"products"`
}

func (h *DiscountConfigHandlers) addProducts(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)

	var req groupProductsRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	cfg, err := h.configs.AddProductsToGroup(ctx, shopID, chi.URLParam(r, "groupID"), req.Products)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "products added to group", buildConfigPayload(cfg))
}

func (h *DiscountConfigHandlers) removeProduct(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)
	cfg, err := h.configs.RemoveProductFromGroup(ctx, shopID, chi.URLParam(r, "groupID"), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "product removed from group", buildConfigPayload(cfg))
}

func (h *DiscountConfigHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxConfigBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteFailure(ctx, w, http.StatusRequestEntityTooLarge, "request body exceeds allowed size", nil)
			return false
		}
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, "unable to read request body", nil)
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", decodeErrorDetail(err)), nil)
		return false
	}
	return true
}

func (h *DiscountConfigHandlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	writeServiceError(ctx, w, err, h.production)
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, production bool) {
	switch {
	case errors.Is(err, services.ErrConfigInvalidInput):
		var verr *domain.ValidationError
		var messages []string
		if errors.As(err, &verr) {
			messages = verr.Messages
		}
		message := "validation failed"
		if len(messages) == 1 {
			message = messages[0]
			messages = nil
		}
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, message, messages)
	case errors.Is(err, services.ErrConfigNotFound):
		httpx.WriteFailure(ctx, w, http.StatusNotFound, "discount configuration not found", nil)
	case errors.Is(err, services.ErrConfigUnavailable):
		httpx.WriteFailure(ctx, w, http.StatusServiceUnavailable, "service temporarily unavailable", nil)
	default:
		message := "internal server error"
		if !production && err != nil {
			message = err.Error()
		}
		httpx.WriteFailure(ctx, w, http.StatusInternalServerError, message, nil)
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func fieldPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeErrorDetail(err error) string {
	detail := err.Error()
	if idx := strings.Index(detail, ": "); idx > 0 && strings.HasPrefix(detail, "json:") {
		detail = detail[idx+2:]
	}
	return detail
}

// configPayload is the wire shape of a stored configuration.
type configPayload struct {
	ShopID           string                    `json:"shopId"`
	Groups           []services.GroupPayload   `json:"groups"`
	ExcludedProducts []services.ProductPayload `json:"excludedProducts"`
	CreatedAt        string                    `json:"createdAt,omitempty"`
	UpdatedAt        string                    `json:"updatedAt,omitempty"`
}

func buildConfigPayload(cfg domain.DiscountConfig) configPayload {
	payload := configPayload{
		ShopID:           cfg.ShopID,
		Groups:           make([]services.GroupPayload, 0, len(cfg.Groups)),
		ExcludedProducts: buildProductPayloads(cfg.ExcludedProducts),
	}
	for _, group := range cfg.Groups {
		percentage := group.Percentage
		payload.Groups = append(payload.Groups, services.GroupPayload{
			ID:         group.ID,
			Name:       group.Name,
			Percentage: &percentage,
			Products:   buildProductPayloads(group.Products),
		})
	}
	if !cfg.CreatedAt.IsZero() {
		payload.CreatedAt = cfg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !cfg.UpdatedAt.IsZero() {
		payload.UpdatedAt = cfg.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func buildProductPayloads(refs []domain.ProductRef) []services.ProductPayload {
	out := make([]services.ProductPayload, 0, len(refs))
	for _, ref := range refs {
		payload := services.ProductPayload{
			ProductID:   ref.ProductID,
			Title:       ref.Title,
			Description: ref.Description,
		}
		if ref.FeaturedImage != nil {
			payload.FeaturedImage = &services.FeaturedImagePayload{
				URL:     ref.FeaturedImage.URL,
				AltText: ref.FeaturedImage.AltText,
			}
		}
		out = append(out, payload)
	}
	return out
}
