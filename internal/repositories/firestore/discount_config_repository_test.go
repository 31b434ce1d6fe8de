package firestore

import (
	"testing"
	"time"

	"github.com/groupdiscount/api/internal/domain"
)

func TestEncodeDecodeDocumentRoundTrip(t *testing.T) {
	created := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(3 * time.Hour)
	cfg := domain.DiscountConfig{
		ShopID: "demo.myshopify.com",
		Groups: []domain.DiscountGroup{
			{
				ID:         "grp_01HV3",
				Name:       "Wholesale",
				Percentage: 12.5,
				Products: []domain.ProductRef{
					{
						ProductID:   "gid://shopify/Product/1",
						Title:       "Widget",
						Description: "A widget",
						FeaturedImage: &domain.FeaturedImage{
							URL:     "https://cdn.example.com/widget.png",
							AltText: "widget",
						},
					},
				},
			},
			{ID: "grp_01HV4", Name: "VIP", Percentage: 100},
		},
		ExcludedProducts: []domain.ProductRef{
			{ProductID: "gid://shopify/Product/9", Title: "Gift Card"},
		},
		CreatedAt: created,
		UpdatedAt: updated,
	}

	doc := encodeDocument(cfg)
	if doc.ShopID != cfg.ShopID {
		t.Fatalf("shop id = %q, want %q", doc.ShopID, cfg.ShopID)
	}
	if len(doc.Groups) != 2 {
		t.Fatalf("encoded groups = %d, want 2", len(doc.Groups))
	}
	if doc.Groups[0].Name != "Wholesale" || doc.Groups[0].Percentage != 12.5 {
		t.Fatalf("unexpected first group %+v", doc.Groups[0])
	}
	if doc.Groups[0].Products[0].FeaturedImage == nil {
		t.Fatal("expected featured image to survive encoding")
	}
	if doc.Groups[1].Products == nil || len(doc.Groups[1].Products) != 0 {
		t.Fatalf("empty product list should encode as empty slice, got %#v", doc.Groups[1].Products)
	}
	if len(doc.ExcludedProducts) != 1 {
		t.Fatalf("excluded products = %d, want 1", len(doc.ExcludedProducts))
	}

	refs := decodeProductRefs(doc.Groups[0].Products)
	if len(refs) != 1 {
		t.Fatalf("decoded refs = %d, want 1", len(refs))
	}
	if refs[0].FeaturedImage == nil || refs[0].FeaturedImage.URL != "https://cdn.example.com/widget.png" {
		t.Fatalf("unexpected decoded ref %+v", refs[0])
	}
}

func TestEncodeDocumentDeepCopiesProducts(t *testing.T) {
	cfg := domain.DiscountConfig{
		ShopID: "demo.myshopify.com",
		Groups: []domain.DiscountGroup{
			{
				ID:   "grp_1",
				Name: "Retail",
				Products: []domain.ProductRef{
					{ProductID: "p1", Title: "One", FeaturedImage: &domain.FeaturedImage{URL: "u"}},
				},
			},
		},
	}

	doc := encodeDocument(cfg)
	doc.Groups[0].Products[0].Title = "mutated"
	if cfg.Groups[0].Products[0].Title != "One" {
		t.Fatal("encoding must not alias the domain product refs")
	}
}

func TestCloneGroupsIsolatesProductSlices(t *testing.T) {
	groups := []domain.DiscountGroup{
		{
			ID:       "grp_1",
			Name:     "Retail",
			Products: []domain.ProductRef{{ProductID: "p1", Title: "One"}},
		},
	}

	cloned := cloneGroups(groups)
	cloned[0].Products[0].Title = "changed"
	if groups[0].Products[0].Title != "One" {
		t.Fatal("cloneGroups must deep copy product lists")
	}
}
