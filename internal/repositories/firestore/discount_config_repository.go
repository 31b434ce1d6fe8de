package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/groupdiscount/api/internal/domain"
	pfirestore "github.com/groupdiscount/api/internal/platform/firestore"
	"github.com/groupdiscount/api/internal/repositories"
)

const discountConfigCollection = "groupDiscounts"

// DiscountConfigRepository stores one discount configuration document per shop.
// Every mutation runs as a Firestore transaction so concurrent targeted updates
// on the same document never lose writes.
type DiscountConfigRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// RepositoryOption customises the repository.
type RepositoryOption func(*DiscountConfigRepository)

// WithClock overrides the timestamp source; used in tests.
func WithClock(clock func() time.Time) RepositoryOption {
	return func(r *DiscountConfigRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewDiscountConfigRepository constructs a Firestore-backed configuration repository.
func NewDiscountConfigRepository(provider *pfirestore.Provider, opts ...RepositoryOption) (*DiscountConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("discount config repository: firestore provider is required")
	}
	repo := &DiscountConfigRepository{
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Get loads the configuration for the trimmed shop id.
func (r *DiscountConfigRepository) Get(ctx context.Context, shopID string) (domain.DiscountConfig, error) {
	docRef, err := r.docRef(ctx, shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	snap, err := docRef.Get(ctx)
	if err != nil {
		return domain.DiscountConfig{}, pfirestore.WrapError("group_discounts.get", err)
	}
	return decodeSnapshot(snap)
}

// UpsertReplace swaps the group list (and optionally the excluded list) in full.
func (r *DiscountConfigRepository) UpsertReplace(ctx context.Context, shopID string, groups []domain.DiscountGroup, excluded []domain.ProductRef, replaceExcluded bool) (domain.DiscountConfig, error) {
	return r.mutate(ctx, shopID, true, "group_discounts.upsert", func(cfg *domain.DiscountConfig) error {
		cfg.Groups = cloneGroups(groups)
		if replaceExcluded {
			cfg.ExcludedProducts = domain.CloneProductRefs(excluded)
		}
		return nil
	})
}

// RemoveGroup deletes the group subtree; unknown ids are a no-op.
func (r *DiscountConfigRepository) RemoveGroup(ctx context.Context, shopID string, groupID string) (domain.DiscountConfig, error) {
	trimmed := strings.TrimSpace(groupID)
	return r.mutate(ctx, shopID, false, "group_discounts.remove_group", func(cfg *domain.DiscountConfig) error {
		kept := cfg.Groups[:0]
		for _, group := range cfg.Groups {
			if group.ID != trimmed {
				kept = append(kept, group)
			}
		}
		cfg.Groups = kept
		return nil
	})
}

// ReplaceExcludedProducts replaces the shop-level excluded set wholesale.
func (r *DiscountConfigRepository) ReplaceExcludedProducts(ctx context.Context, shopID string, products []domain.ProductRef) (domain.DiscountConfig, error) {
	return r.mutate(ctx, shopID, true, "group_discounts.replace_excluded", func(cfg *domain.DiscountConfig) error {
		cfg.ExcludedProducts = domain.CloneProductRefs(products)
		return nil
	})
}

// RemoveExcludedProduct removes one entry by product id; unknown ids are a no-op.
func (r *DiscountConfigRepository) RemoveExcludedProduct(ctx context.Context, shopID string, productID string) (domain.DiscountConfig, error) {
	return r.mutate(ctx, shopID, false, "group_discounts.remove_excluded", func(cfg *domain.DiscountConfig) error {
		cfg.ExcludedProducts, _ = domain.RemoveProductRef(cfg.ExcludedProducts, productID)
		return nil
	})
}

// AddProductsToGroup unions products into the group's list by product id.
func (r *DiscountConfigRepository) AddProductsToGroup(ctx context.Context, shopID string, groupID string, products []domain.ProductRef) (domain.DiscountConfig, error) {
	trimmed := strings.TrimSpace(groupID)
	return r.mutate(ctx, shopID, false, "group_discounts.add_group_products", func(cfg *domain.DiscountConfig) error {
		for i := range cfg.Groups {
			if cfg.Groups[i].ID == trimmed {
				cfg.Groups[i].Products = domain.MergeProductRefs(cfg.Groups[i].Products, products)
				return nil
			}
		}
		return pfirestore.NotFoundError("group_discounts.add_group_products", "group not found")
	})
}

// RemoveProductFromGroup removes one product from one group's list.
func (r *DiscountConfigRepository) RemoveProductFromGroup(ctx context.Context, shopID string, groupID string, productID string) (domain.DiscountConfig, error) {
	trimmed := strings.TrimSpace(groupID)
	return r.mutate(ctx, shopID, false, "group_discounts.remove_group_product", func(cfg *domain.DiscountConfig) error {
		for i := range cfg.Groups {
			if cfg.Groups[i].ID == trimmed {
				cfg.Groups[i].Products, _ = domain.RemoveProductRef(cfg.Groups[i].Products, productID)
				return nil
			}
		}
		return pfirestore.NotFoundError("group_discounts.remove_group_product", "group not found")
	})
}

// mutate runs a transactional read-modify-write against the shop document.
// When createIfMissing is false a missing document aborts with not-found.
// Invariants are revalidated after apply; a violation aborts the transaction
// so no partial state is ever committed.
func (r *DiscountConfigRepository) mutate(ctx context.Context, shopID string, createIfMissing bool, op string, apply func(*domain.DiscountConfig) error) (domain.DiscountConfig, error) {
	docRef, err := r.docRef(ctx, shopID)
	if err != nil {
		return domain.DiscountConfig{}, err
	}

	var saved domain.DiscountConfig
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.now().UTC()

		cfg := domain.DiscountConfig{ShopID: docRef.ID, CreatedAt: now}
		snap, err := tx.Get(docRef)
		switch {
		case err == nil:
			cfg, err = decodeSnapshot(snap)
			if err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			if !createIfMissing {
				return pfirestore.WrapError(op, err)
			}
		default:
			return pfirestore.WrapError(op, err)
		}

		if err := apply(&cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cfg.UpdatedAt = now
		if cfg.CreatedAt.IsZero() {
			cfg.CreatedAt = now
		}
		if err := tx.Set(docRef, encodeDocument(cfg)); err != nil {
			return pfirestore.WrapError(op, err)
		}
		saved = cfg
		return nil
	})
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	return saved, nil
}

func (r *DiscountConfigRepository) docRef(ctx context.Context, shopID string) (*firestore.DocumentRef, error) {
	trimmed := strings.TrimSpace(shopID)
	if trimmed == "" {
		return nil, pfirestore.WrapError("group_discounts.document", errors.New("firestore: shop id is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(discountConfigCollection).Doc(trimmed), nil
}

type discountConfigDocument struct {
	ShopID           string               `firestore:"shopId"`
	Groups           []groupDocument      `firestore:"groups"`
	ExcludedProducts []productRefDocument `firestore:"excludedProducts"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type groupDocument struct {
	ID         string               `firestore:"id"`
	Name       string               `firestore:"group"`
	Percentage float64              `firestore:"percentage"`
	Products   []productRefDocument `firestore:"discountedProducts"`
}

type productRefDocument struct {
	ProductID     string                 `firestore:"productId"`
	Title         string                 `firestore:"title"`
	Description   string                 `firestore:"description,omitempty"`
	FeaturedImage *featuredImageDocument `firestore:"featuredImage,omitempty"`
}

type featuredImageDocument struct {
	URL     string `firestore:"url"`
	AltText string `firestore:"altText,omitempty"`
}

func encodeDocument(cfg domain.DiscountConfig) discountConfigDocument {
	doc := discountConfigDocument{
		ShopID:           cfg.ShopID,
		Groups:           make([]groupDocument, 0, len(cfg.Groups)),
		ExcludedProducts: encodeProductRefs(cfg.ExcludedProducts),
		CreatedAt:        cfg.CreatedAt.UTC(),
		UpdatedAt:        cfg.UpdatedAt.UTC(),
	}
	for _, group := range cfg.Groups {
		doc.Groups = append(doc.Groups, groupDocument{
			ID:         group.ID,
			Name:       group.Name,
			Percentage: group.Percentage,
			Products:   encodeProductRefs(group.Products),
		})
	}
	return doc
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (domain.DiscountConfig, error) {
	var doc discountConfigDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.DiscountConfig{}, pfirestore.WrapError("group_discounts.decode", err)
	}
	cfg := domain.DiscountConfig{
		ShopID:           snap.Ref.ID,
		Groups:           make([]domain.DiscountGroup, 0, len(doc.Groups)),
		ExcludedProducts: decodeProductRefs(doc.ExcludedProducts),
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = snap.CreateTime
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = snap.UpdateTime
	}
	for _, group := range doc.Groups {
		cfg.Groups = append(cfg.Groups, domain.DiscountGroup{
			ID:         group.ID,
			Name:       group.Name,
			Percentage: group.Percentage,
			Products:   decodeProductRefs(group.Products),
		})
	}
	return cfg, nil
}

func encodeProductRefs(refs []domain.ProductRef) []productRefDocument {
	out := make([]productRefDocument, 0, len(refs))
	for _, ref := range refs {
		doc := productRefDocument{
			ProductID:   ref.ProductID,
			Title:       ref.Title,
			Description: ref.Description,
		}
		if ref.FeaturedImage != nil {
			doc.FeaturedImage = &featuredImageDocument{
				URL:     ref.FeaturedImage.URL,
				AltText: ref.FeaturedImage.AltText,
			}
		}
		out = append(out, doc)
	}
	return out
}

func decodeProductRefs(docs []productRefDocument) []domain.ProductRef {
	out := make([]domain.ProductRef, 0, len(docs))
	for _, doc := range docs {
		ref := domain.ProductRef{
			ProductID:   doc.ProductID,
			Title:       doc.Title,
			Description: doc.Description,
		}
		if doc.FeaturedImage != nil {
			ref.FeaturedImage = &domain.FeaturedImage{
				URL:     doc.FeaturedImage.URL,
				AltText: doc.FeaturedImage.AltText,
			}
		}
		out = append(out, ref)
	}
	return out
}

func cloneGroups(groups []domain.DiscountGroup) []domain.DiscountGroup {
	out := make([]domain.DiscountGroup, len(groups))
	for i, group := range groups {
		out[i] = group
		out[i].Products = domain.CloneProductRefs(group.Products)
	}
	return out
}

var _ repositories.DiscountConfigRepository = (*DiscountConfigRepository)(nil)
