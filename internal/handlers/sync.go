package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/groupdiscount/api/internal/platform/httpx"
	"github.com/groupdiscount/api/internal/platform/requestctx"
	"github.com/groupdiscount/api/internal/services"
)

// SyncHandlers pushes configurations to the shop metafield on demand.
type SyncHandlers struct {
	sync       services.SyncService
	production bool
}

// NewSyncHandlers constructs the sync handlers.
func NewSyncHandlers(sync services.SyncService, production bool) *SyncHandlers {
	return &SyncHandlers{sync: sync, production: production}
}

// Routes wires the sync endpoint onto the provided router.
func (h *SyncHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sync", h.syncConfig)
}

type syncRequest struct {
	ShopID           string                    `json:"shopId"`
	Groups           []services.GroupPayload   `json:"groups"`
	ExcludedProducts []services.ProductPayload `json:"excludedProducts"`
}

func (h *SyncHandlers) syncConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, "token query parameter is required", nil)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBodySize)).Decode(&req); err != nil {
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	ctx = requestctx.WithShop(ctx, req.ShopID)
	err := h.sync.Sync(ctx, services.SyncCommand{
		ShopID:           req.ShopID,
		Groups:           req.Groups,
		ExcludedProducts: req.ExcludedProducts,
		AccessToken:      token,
	})
	if err != nil {
		writeSyncError(ctx, w, err, h.production)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "configuration synced to metafield", nil)
}

// InternalHandlers serves operator-only routes behind service-to-service auth.
type InternalHandlers struct {
	sync       services.SyncService
	production bool
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(sync services.SyncService, production bool) *InternalHandlers {
	return &InternalHandlers{sync: sync, production: production}
}

// Routes wires the internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shops/{shopID}/resync", h.resync)
}

type resyncRequest struct {
	AccessToken string `json:"accessToken"`
}

func (h *InternalHandlers) resync(w http.ResponseWriter, r *http.Request) {
	ctx, shopID := shopContext(r)

	var req resyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBodySize)).Decode(&req); err != nil {
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	if err := h.sync.Resync(ctx, shopID, req.AccessToken); err != nil {
		writeSyncError(ctx, w, err, h.production)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, "stored configuration republished", nil)
}

func writeSyncError(ctx context.Context, w http.ResponseWriter, err error, production bool) {
	switch {
	case errors.Is(err, services.ErrSyncInvalidInput):
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, services.ErrSyncNotFound):
		httpx.WriteFailure(ctx, w, http.StatusNotFound, "no stored configuration for shop", nil)
	case errors.Is(err, services.ErrSyncRejected):
		message := "platform rejected the metafield write"
		if !production {
			message = err.Error()
		}
		httpx.WriteFailure(ctx, w, http.StatusBadRequest, message, nil)
	case errors.Is(err, services.ErrSyncUnavailable):
		httpx.WriteFailure(ctx, w, http.StatusBadGateway, "platform unavailable", nil)
	default:
		message := "internal server error"
		if !production && err != nil {
			message = err.Error()
		}
		httpx.WriteFailure(ctx, w, http.StatusInternalServerError, message, nil)
	}
}
