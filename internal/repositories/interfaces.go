package repositories

import (
	"context"
	"errors"

	"github.com/groupdiscount/api/internal/domain"
)

// RepositoryError classifies persistence failures for the service layer.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing document or sub-resource.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// DiscountConfigRepository persists one DiscountConfig per shop with atomic
// per-operation read-modify-write semantics.
type DiscountConfigRepository interface {
	// Get returns the configuration for the trimmed shop id, or a not-found
	// error when no document exists. Reads never materialise a document.
	Get(ctx context.Context, shopID string) (domain.DiscountConfig, error)

	// UpsertReplace replaces the group list wholesale (and the excluded list
	// when replaceExcluded is set), creating the document if absent. Invariants
	// are revalidated before commit; a violation aborts the whole write.
	UpsertReplace(ctx context.Context, shopID string, groups []domain.DiscountGroup, excluded []domain.ProductRef, replaceExcluded bool) (domain.DiscountConfig, error)

	// RemoveGroup deletes the group (cascading its products). Unknown group ids
	// are an idempotent success; a missing document is a not-found error.
	RemoveGroup(ctx context.Context, shopID string, groupID string) (domain.DiscountConfig, error)

	// ReplaceExcludedProducts replaces the shop-level excluded set wholesale,
	// creating the document if absent.
	ReplaceExcludedProducts(ctx context.Context, shopID string, products []domain.ProductRef) (domain.DiscountConfig, error)

	// RemoveExcludedProduct removes one entry by product id; unknown ids are an
	// idempotent success, a missing document is a not-found error.
	RemoveExcludedProduct(ctx context.Context, shopID string, productID string) (domain.DiscountConfig, error)

	// AddProductsToGroup unions products into the group's list, de-duplicating
	// by product id. Missing shop or group is a not-found error.
	AddProductsToGroup(ctx context.Context, shopID string, groupID string, products []domain.ProductRef) (domain.DiscountConfig, error)

	// RemoveProductFromGroup removes one product from one group's list; unknown
	// product ids are an idempotent success.
	RemoveProductFromGroup(ctx context.Context, shopID string, groupID string, productID string) (domain.DiscountConfig, error)
}
