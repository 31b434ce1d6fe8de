package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groupdiscount/api/internal/domain"
	"github.com/groupdiscount/api/internal/repositories"
	"github.com/groupdiscount/api/internal/shopify"
)

var (
	// ErrSyncInvalidInput indicates a missing shop id or access token.
	ErrSyncInvalidInput = errors.New("sync: invalid input")
	// ErrSyncNotFound indicates no stored configuration exists to republish.
	ErrSyncNotFound = errors.New("sync: configuration not found")
	// ErrSyncRejected indicates the platform refused the metafield write.
	ErrSyncRejected = errors.New("sync: rejected by platform")
	// ErrSyncUnavailable indicates a transport failure reaching the platform.
	ErrSyncUnavailable = errors.New("sync: platform unavailable")
)

// SyncServiceDeps wires dependencies for the metafield sync service.
type SyncServiceDeps struct {
	Repository repositories.DiscountConfigRepository
	Publisher  MetafieldPublisher
	Archiver   SnapshotArchiver
	Events     ConfigEventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type syncService struct {
	repo      repositories.DiscountConfigRepository
	publisher MetafieldPublisher
	archiver  SnapshotArchiver
	events    ConfigEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewSyncService constructs the sync service.
func NewSyncService(deps SyncServiceDeps) (SyncService, error) {
	if deps.Publisher == nil {
		return nil, errors.New("sync service: metafield publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &syncService{
		repo:      deps.Repository,
		publisher: deps.Publisher,
		archiver:  deps.Archiver,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

type syncDocument struct {
	Groups           []GroupPayload   `json:"groups"`
	ExcludedProducts []ProductPayload `json:"excludedProducts"`
}

// Sync serializes the submitted payload and publishes it to the shop
// metafield. The local store is never read or written; the payload is
// forwarded exactly as the caller resolved it.
func (s *syncService) Sync(ctx context.Context, cmd SyncCommand) error {
	shopID := strings.TrimSpace(cmd.ShopID)
	if shopID == "" {
		return fmt.Errorf("%w: shopId is required", ErrSyncInvalidInput)
	}
	token := strings.TrimSpace(cmd.AccessToken)
	if token == "" {
		return fmt.Errorf("%w: access token is required", ErrSyncInvalidInput)
	}

	doc := syncDocument{
		Groups:           cmd.Groups,
		ExcludedProducts: cmd.ExcludedProducts,
	}
	if doc.Groups == nil {
		doc.Groups = []GroupPayload{}
	}
	if doc.ExcludedProducts == nil {
		doc.ExcludedProducts = []ProductPayload{}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sync: marshal payload: %w", err)
	}

	return s.push(ctx, shopID, token, payload, "synced")
}

// Resync republishes the stored configuration for the shop. Unlike Sync,
// this reads the persisted document first so local and remote converge.
func (s *syncService) Resync(ctx context.Context, shopID, accessToken string) error {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return fmt.Errorf("%w: shopId is required", ErrSyncInvalidInput)
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return fmt.Errorf("%w: access token is required", ErrSyncInvalidInput)
	}
	if s.repo == nil {
		return errors.New("sync: repository not configured")
	}

	cfg, err := s.repo.Get(ctx, shopID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("%w: shop %s", ErrSyncNotFound, shopID)
		}
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	payload, err := json.Marshal(documentFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("sync: marshal stored configuration: %w", err)
	}

	return s.push(ctx, shopID, token, payload, "resynced")
}

func (s *syncService) push(ctx context.Context, shopID, token string, payload []byte, action string) error {
	if err := s.publisher.Publish(ctx, shopID, token, payload); err != nil {
		switch {
		case errors.Is(err, shopify.ErrRejected):
			return fmt.Errorf("%w: %v", ErrSyncRejected, err)
		case errors.Is(err, shopify.ErrUnavailable):
			return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
		}
	}

	if s.archiver != nil {
		if object, err := s.archiver.Archive(ctx, shopID, payload); err != nil {
			s.logger(ctx, "sync.archive_failed", map[string]any{"shop_id": shopID, "error": err.Error()})
		} else {
			s.logger(ctx, "sync.archived", map[string]any{"shop_id": shopID, "object": object})
		}
	}

	if s.events != nil {
		event := ConfigEvent{ShopID: shopID, Action: action, OccurredAt: s.clock()}
		if _, err := s.events.PublishConfigEvent(ctx, event); err != nil {
			s.logger(ctx, "sync.event_publish_failed", map[string]any{"shop_id": shopID, "error": err.Error()})
		}
	}

	s.logger(ctx, "sync.published", map[string]any{"shop_id": shopID, "action": action, "bytes": len(payload)})
	return nil
}

func documentFromConfig(cfg domain.DiscountConfig) syncDocument {
	doc := syncDocument{
		Groups:           make([]GroupPayload, 0, len(cfg.Groups)),
		ExcludedProducts: make([]ProductPayload, 0, len(cfg.ExcludedProducts)),
	}
	for _, group := range cfg.Groups {
		percentage := group.Percentage
		doc.Groups = append(doc.Groups, GroupPayload{
			ID:         group.ID,
			Name:       group.Name,
			Percentage: &percentage,
			Products:   payloadsFromRefs(group.Products),
		})
	}
	doc.ExcludedProducts = payloadsFromRefs(cfg.ExcludedProducts)
	return doc
}

func payloadsFromRefs(refs []domain.ProductRef) []ProductPayload {
	out := make([]ProductPayload, 0, len(refs))
	for _, ref := range refs {
		payload := ProductPayload{
			ProductID:   ref.ProductID,
			Title:       ref.Title,
			Description: ref.Description,
		}
		if ref.FeaturedImage != nil {
			payload.FeaturedImage = &FeaturedImagePayload{
				URL:     ref.FeaturedImage.URL,
				AltText: ref.FeaturedImage.AltText,
			}
		}
		out = append(out, payload)
	}
	return out
}
