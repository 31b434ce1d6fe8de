package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/groupdiscount/api/internal/domain"
	"github.com/groupdiscount/api/internal/platform/textutil"
	"github.com/groupdiscount/api/internal/repositories"
)

const (
	groupIDPrefix = "grp_"

	eventConfigReplaced    = "config.replaced"
	eventGroupDeleted      = "config.group_deleted"
	eventExcludedReplaced  = "config.excluded_replaced"
	eventExcludedRemoved   = "config.excluded_removed"
	eventGroupProductAdded = "config.group_products_added"
	eventGroupProductGone  = "config.group_product_removed"
)

var (
	// ErrConfigInvalidInput indicates the caller provided an invalid payload.
	ErrConfigInvalidInput = errors.New("discount config: invalid input")
	// ErrConfigNotFound indicates no configuration exists for the shop, or the
	// targeted group is absent.
	ErrConfigNotFound = errors.New("discount config: not found")
	// ErrConfigUnavailable indicates the persistence layer is unavailable.
	ErrConfigUnavailable = errors.New("discount config: store unavailable")
	// ErrConfigRepositoryFailure wraps unexpected repository failures.
	ErrConfigRepositoryFailure = errors.New("discount config: store failure")
)

// DiscountConfigServiceDeps wires dependencies for the configuration service.
type DiscountConfigServiceDeps struct {
	Repository  repositories.DiscountConfigRepository
	Events      ConfigEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type discountConfigService struct {
	repo      repositories.DiscountConfigRepository
	events    ConfigEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewDiscountConfigService constructs the configuration service.
func NewDiscountConfigService(deps DiscountConfigServiceDeps) (DiscountConfigService, error) {
	if deps.Repository == nil {
		return nil, errors.New("discount config service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &discountConfigService{
		repo:      deps.Repository,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     newID,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *discountConfigService) Fetch(ctx context.Context, shopID string) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}

	cfg, err := s.repo.Get(ctx, shopID)
	if err != nil {
		if repositories.IsNotFound(err) {
			// Absent shops read as the empty shape; nothing is persisted.
			return domain.DiscountConfig{
				ShopID:           shopID,
				Groups:           []domain.DiscountGroup{},
				ExcludedProducts: []domain.ProductRef{},
			}, nil
		}
		return domain.DiscountConfig{}, s.classify(ctx, "config.fetch", err)
	}
	return cfg, nil
}

func (s *discountConfigService) Replace(ctx context.Context, shopID string, input ReplaceInput) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}

	if !input.HasGroups {
		return domain.DiscountConfig{}, invalidInput("groups must be an array")
	}

	groups, errs := s.buildGroups(input.Groups)
	if len(errs) > 0 {
		return domain.DiscountConfig{}, invalidInputAll(errs)
	}

	var excluded []domain.ProductRef
	if input.HasExcluded {
		excluded = s.normalizeRefs(input.ExcludedProducts)
		if msgs := requireRefFields(excluded, "excludedProducts"); len(msgs) > 0 {
			return domain.DiscountConfig{}, invalidInputAll(msgs)
		}
	}

	cfg, err := s.repo.UpsertReplace(ctx, shopID, groups, excluded, input.HasExcluded)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.replace", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "groups_replaced", OccurredAt: s.clock()})
	s.logger(ctx, eventConfigReplaced, map[string]any{"shop_id": shopID, "groups": len(groups)})
	return cfg, nil
}

func (s *discountConfigService) DeleteGroup(ctx context.Context, shopID, groupID string) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return domain.DiscountConfig{}, invalidInput("groupId is required")
	}

	cfg, err := s.repo.RemoveGroup(ctx, shopID, groupID)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.delete_group", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "group_deleted", GroupID: groupID, OccurredAt: s.clock()})
	s.logger(ctx, eventGroupDeleted, map[string]any{"shop_id": shopID, "group_id": groupID})
	return cfg, nil
}

func (s *discountConfigService) ReplaceExcludedProducts(ctx context.Context, shopID string, products []ProductPayload) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}

	refs := s.normalizeRefs(products)
	if msgs := requireRefFields(refs, "excludedProducts"); len(msgs) > 0 {
		return domain.DiscountConfig{}, invalidInputAll(msgs)
	}

	cfg, err := s.repo.ReplaceExcludedProducts(ctx, shopID, refs)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.replace_excluded", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "excluded_replaced", OccurredAt: s.clock()})
	s.logger(ctx, eventExcludedReplaced, map[string]any{"shop_id": shopID, "count": len(refs)})
	return cfg, nil
}

func (s *discountConfigService) RemoveExcludedProduct(ctx context.Context, shopID, productID string) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.DiscountConfig{}, invalidInput("productId is required")
	}

	cfg, err := s.repo.RemoveExcludedProduct(ctx, shopID, productID)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.remove_excluded", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "excluded_removed", OccurredAt: s.clock()})
	s.logger(ctx, eventExcludedRemoved, map[string]any{"shop_id": shopID, "product_id": productID})
	return cfg, nil
}

func (s *discountConfigService) AddProductsToGroup(ctx context.Context, shopID, groupID string, products []ProductPayload) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return domain.DiscountConfig{}, invalidInput("groupId is required")
	}
	if len(products) == 0 {
		return domain.DiscountConfig{}, invalidInput("products must be a non-empty array")
	}

	refs := s.normalizeRefs(products)
	if msgs := requireRefFields(refs, "products"); len(msgs) > 0 {
		return domain.DiscountConfig{}, invalidInputAll(msgs)
	}

	cfg, err := s.repo.AddProductsToGroup(ctx, shopID, groupID, refs)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.add_group_products", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "group_products_added", GroupID: groupID, OccurredAt: s.clock()})
	s.logger(ctx, eventGroupProductAdded, map[string]any{"shop_id": shopID, "group_id": groupID, "count": len(refs)})
	return cfg, nil
}

func (s *discountConfigService) RemoveProductFromGroup(ctx context.Context, shopID, groupID, productID string) (domain.DiscountConfig, error) {
	shopID, err := requireShopID(shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	groupID = strings.TrimSpace(groupID)
	productID = strings.TrimSpace(productID)
	if groupID == "" || productID == "" {
		return domain.DiscountConfig{}, invalidInput("groupId and productId are required")
	}

	cfg, err := s.repo.RemoveProductFromGroup(ctx, shopID, groupID, productID)
	if err != nil {
		return domain.DiscountConfig{}, s.classify(ctx, "config.remove_group_product", err)
	}

	s.publish(ctx, ConfigEvent{ShopID: shopID, Action: "group_product_removed", GroupID: groupID, OccurredAt: s.clock()})
	s.logger(ctx, eventGroupProductGone, map[string]any{"shop_id": shopID, "group_id": groupID, "product_id": productID})
	return cfg, nil
}

// buildGroups validates and normalizes the submitted group list. All
// violations are collected so one response can name every problem.
func (s *discountConfigService) buildGroups(payloads []GroupPayload) ([]domain.DiscountGroup, []string) {
	var msgs []string
	groups := make([]domain.DiscountGroup, 0, len(payloads))
	seen := make(map[string]string, len(payloads))
	seenIDs := make(map[string]struct{}, len(payloads))

	for i, payload := range payloads {
		name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
		if name == "" {
			msgs = append(msgs, fmt.Sprintf("group at index %d is missing a name", i))
			continue
		}
		if payload.Percentage == nil {
			msgs = append(msgs, fmt.Sprintf("group %q is missing a percentage", name))
			continue
		}
		if *payload.Percentage < 0 || *payload.Percentage > 100 {
			msgs = append(msgs, fmt.Sprintf("group %q percentage must be between 0 and 100", name))
			continue
		}

		key := textutil.FoldKey(name)
		if first, ok := seen[key]; ok {
			msgs = append(msgs, fmt.Sprintf("duplicate group name %q (conflicts with %q)", name, first))
			continue
		}
		seen[key] = name

		id := strings.TrimSpace(payload.ID)
		if id == "" {
			id = groupIDPrefix + s.newID()
		}
		if _, ok := seenIDs[id]; ok {
			msgs = append(msgs, fmt.Sprintf("duplicate group id %q", id))
			continue
		}
		seenIDs[id] = struct{}{}

		refs := s.normalizeRefs(payload.Products)
		if fieldMsgs := requireRefFields(refs, fmt.Sprintf("group %q products", name)); len(fieldMsgs) > 0 {
			msgs = append(msgs, fieldMsgs...)
			continue
		}

		groups = append(groups, domain.DiscountGroup{
			ID:         id,
			Name:       name,
			Percentage: *payload.Percentage,
			Products:   dedupeRefs(refs),
		})
	}

	return groups, msgs
}

// normalizeRefs converts payload entries to the canonical ProductRef shape,
// sanitizing display fields.
func (s *discountConfigService) normalizeRefs(payloads []ProductPayload) []domain.ProductRef {
	refs := make([]domain.ProductRef, 0, len(payloads))
	for _, payload := range payloads {
		ref := domain.ProductRef{
			ProductID:   strings.TrimSpace(payload.ProductID),
			Title:       strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
			Description: strings.TrimSpace(s.sanitizer.Sanitize(payload.Description)),
		}
		if payload.FeaturedImage != nil {
			ref.FeaturedImage = &domain.FeaturedImage{
				URL:     strings.TrimSpace(payload.FeaturedImage.URL),
				AltText: strings.TrimSpace(s.sanitizer.Sanitize(payload.FeaturedImage.AltText)),
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func requireRefFields(refs []domain.ProductRef, field string) []string {
	var msgs []string
	for i, ref := range refs {
		if ref.ProductID == "" || ref.Title == "" {
			msgs = append(msgs, fmt.Sprintf("%s[%d] requires productId and title", field, i))
		}
	}
	return msgs
}

func dedupeRefs(refs []domain.ProductRef) []domain.ProductRef {
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if _, ok := seen[ref.ProductID]; ok {
			continue
		}
		seen[ref.ProductID] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func requireShopID(shopID string) (string, error) {
	trimmed := strings.TrimSpace(shopID)
	if trimmed == "" {
		return "", invalidInput("shopId is required")
	}
	return trimmed, nil
}

func invalidInput(message string) error {
	return fmt.Errorf("%w: %w", ErrConfigInvalidInput, &domain.ValidationError{Messages: []string{message}})
}

func invalidInputAll(messages []string) error {
	return fmt.Errorf("%w: %w", ErrConfigInvalidInput, &domain.ValidationError{Messages: messages})
}

// classify maps repository errors onto the service sentinels.
func (s *discountConfigService) classify(ctx context.Context, op string, err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("%w: %w", ErrConfigInvalidInput, verr)
	}
	if repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}
	if repositories.IsUnavailable(err) {
		s.logger(ctx, op+".unavailable", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	s.logger(ctx, op+".failure", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrConfigRepositoryFailure, err)
}

func (s *discountConfigService) publish(ctx context.Context, event ConfigEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishConfigEvent(ctx, event); err != nil {
		s.logger(ctx, "config.event_publish_failed", map[string]any{
			"shop_id": event.ShopID,
			"action":  event.Action,
			"error":   err.Error(),
		})
	}
}
