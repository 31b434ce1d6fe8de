package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groupdiscount/api/internal/domain"
)

// ProductPayload accepts either a bare product reference string or a
// structured object. Bare strings normalize to {productId: s, title: s};
// the internal form is always structured.
type ProductPayload struct {
	ProductID     string                `json:"productId"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	FeaturedImage *FeaturedImagePayload `json:"featuredImage,omitempty"`
}

// FeaturedImagePayload mirrors the stored featured image shape.
type FeaturedImagePayload struct {
	URL     string `json:"url"`
	AltText string `json:"altText,omitempty"`
}

// UnmarshalJSON implements the dual string-or-object payload shape.
func (p *ProductPayload) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		p.ProductID = ref
		p.Title = ref
		p.Description = ""
		p.FeaturedImage = nil
		return nil
	}

	type alias ProductPayload
	var structured alias
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("product entries must be strings or objects: %w", err)
	}
	*p = ProductPayload(structured)
	return nil
}

// GroupPayload is the request shape for one discount group. Percentage is a
// pointer so an absent value is distinguishable from zero.
type GroupPayload struct {
	ID         string           `json:"id,omitempty"`
	Name       string           `json:"group"`
	Percentage *float64         `json:"percentage"`
	Products   []ProductPayload `json:"discountedProducts,omitempty"`
}

// ReplaceInput is the payload for a full-document replace. Groups must be
// present; ExcludedProducts only replaces the stored set when supplied.
type ReplaceInput struct {
	Groups           []GroupPayload
	HasGroups        bool
	ExcludedProducts []ProductPayload
	HasExcluded      bool
}

// DiscountConfigService exposes the configuration read and mutation operations.
type DiscountConfigService interface {
	Fetch(ctx context.Context, shopID string) (domain.DiscountConfig, error)
	Replace(ctx context.Context, shopID string, input ReplaceInput) (domain.DiscountConfig, error)
	DeleteGroup(ctx context.Context, shopID, groupID string) (domain.DiscountConfig, error)
	ReplaceExcludedProducts(ctx context.Context, shopID string, products []ProductPayload) (domain.DiscountConfig, error)
	RemoveExcludedProduct(ctx context.Context, shopID, productID string) (domain.DiscountConfig, error)
	AddProductsToGroup(ctx context.Context, shopID, groupID string, products []ProductPayload) (domain.DiscountConfig, error)
	RemoveProductFromGroup(ctx context.Context, shopID, groupID, productID string) (domain.DiscountConfig, error)
}

// SyncCommand carries a direct-from-request publish to the shop metafield.
type SyncCommand struct {
	ShopID           string
	Groups           []GroupPayload
	ExcludedProducts []ProductPayload
	AccessToken      string
}

// SyncService publishes configurations to the Shopify metafield store.
type SyncService interface {
	// Sync publishes the payload as supplied; the local store is untouched.
	Sync(ctx context.Context, cmd SyncCommand) error
	// Resync republishes the stored configuration for the shop.
	Resync(ctx context.Context, shopID, accessToken string) error
}

// MetafieldPublisher is the narrow Shopify Admin API collaborator.
type MetafieldPublisher interface {
	Publish(ctx context.Context, shopDomain, accessToken string, payload []byte) error
}

// ConfigEvent describes a configuration change for downstream consumers.
type ConfigEvent struct {
	ShopID     string    `json:"shopId"`
	Action     string    `json:"action"`
	GroupID    string    `json:"groupId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ConfigEventPublisher emits change events after successful mutations.
type ConfigEventPublisher interface {
	PublishConfigEvent(ctx context.Context, event ConfigEvent) (string, error)
}

// SnapshotArchiver stores published payloads for audit.
type SnapshotArchiver interface {
	Archive(ctx context.Context, shopID string, payload []byte) (string, error)
}
