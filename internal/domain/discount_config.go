package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/groupdiscount/api/internal/platform/textutil"
)

// FeaturedImage carries the optional storefront image attached to a product reference.
type FeaturedImage struct {
	URL     string
	AltText string
}

// ProductRef identifies a platform product inside a group's product list or the
// shop-level excluded list. ProductID is an opaque platform handle.
type ProductRef struct {
	ProductID     string
	Title         string
	Description   string
	FeaturedImage *FeaturedImage
}

// DiscountGroup is a named discount tier owned by exactly one DiscountConfig.
type DiscountGroup struct {
	ID         string
	Name       string
	Percentage float64
	Products   []ProductRef
}

// DiscountConfig is the per-shop aggregate: the ordered group list plus the
// shop-level excluded product set.
type DiscountConfig struct {
	ShopID           string
	Groups           []DiscountGroup
	ExcludedProducts []ProductRef
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ValidationError aggregates every invariant violation found in a configuration.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "discount config: invalid"
	}
	return "discount config: " + strings.Join(e.Messages, "; ")
}

// Validate checks the aggregate invariants: a non-empty shop id, group ids
// unique within the configuration, group names pairwise distinct under
// case-folded comparison, percentages within [0, 100], and no duplicate
// product reference within any product list.
func (c DiscountConfig) Validate() error {
	var messages []string

	if strings.TrimSpace(c.ShopID) == "" {
		messages = append(messages, "shop id is required")
	}

	seenNames := make(map[string]string, len(c.Groups))
	seenIDs := make(map[string]struct{}, len(c.Groups))
	for _, group := range c.Groups {
		if id := strings.TrimSpace(group.ID); id != "" {
			if _, ok := seenIDs[id]; ok {
				messages = append(messages, fmt.Sprintf("duplicate group id %q", id))
			} else {
				seenIDs[id] = struct{}{}
			}
		}
		name := strings.TrimSpace(group.Name)
		if name == "" {
			messages = append(messages, "group name is required")
			continue
		}
		if group.Percentage < 0 || group.Percentage > 100 {
			messages = append(messages, fmt.Sprintf("discount percentage must be between 0 and 100 for group %q", name))
		}
		key := textutil.FoldKey(name)
		if previous, ok := seenNames[key]; ok {
			messages = append(messages, fmt.Sprintf("duplicate group name %q (conflicts with %q)", name, previous))
		} else {
			seenNames[key] = name
		}
		if dup := firstDuplicateRef(group.Products); dup != "" {
			messages = append(messages, fmt.Sprintf("duplicate product %q in group %q", dup, name))
		}
	}

	if dup := firstDuplicateRef(c.ExcludedProducts); dup != "" {
		messages = append(messages, fmt.Sprintf("duplicate product %q in excluded products", dup))
	}

	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}

// GroupByID returns the group with the given id, if present.
func (c DiscountConfig) GroupByID(groupID string) (DiscountGroup, bool) {
	trimmed := strings.TrimSpace(groupID)
	for _, group := range c.Groups {
		if group.ID == trimmed {
			return group, true
		}
	}
	return DiscountGroup{}, false
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c DiscountConfig) Clone() DiscountConfig {
	out := c
	out.Groups = make([]DiscountGroup, len(c.Groups))
	for i, group := range c.Groups {
		out.Groups[i] = group
		out.Groups[i].Products = CloneProductRefs(group.Products)
	}
	out.ExcludedProducts = CloneProductRefs(c.ExcludedProducts)
	return out
}

// CloneProductRefs deep-copies a product reference list.
func CloneProductRefs(refs []ProductRef) []ProductRef {
	if refs == nil {
		return nil
	}
	out := make([]ProductRef, len(refs))
	for i, ref := range refs {
		out[i] = ref
		if ref.FeaturedImage != nil {
			image := *ref.FeaturedImage
			out[i].FeaturedImage = &image
		}
	}
	return out
}

// MergeProductRefs unions additions into existing, de-duplicating by ProductID.
// Existing entries win; additions keep their relative order.
func MergeProductRefs(existing []ProductRef, additions []ProductRef) []ProductRef {
	seen := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		seen[ref.ProductID] = struct{}{}
	}
	merged := CloneProductRefs(existing)
	for _, ref := range additions {
		if _, ok := seen[ref.ProductID]; ok {
			continue
		}
		seen[ref.ProductID] = struct{}{}
		merged = append(merged, ref)
	}
	return merged
}

// RemoveProductRef removes the entry with the given product id. The boolean
// reports whether anything was removed.
func RemoveProductRef(refs []ProductRef, productID string) ([]ProductRef, bool) {
	trimmed := strings.TrimSpace(productID)
	out := make([]ProductRef, 0, len(refs))
	removed := false
	for _, ref := range refs {
		if ref.ProductID == trimmed {
			removed = true
			continue
		}
		out = append(out, ref)
	}
	return out, removed
}

func firstDuplicateRef(refs []ProductRef) string {
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		id := strings.TrimSpace(ref.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}
