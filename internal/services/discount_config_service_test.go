package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupdiscount/api/internal/domain"
)

type fakeRepoError struct {
	msg         string
	notFound    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return false }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error { return &fakeRepoError{msg: msg, notFound: true} }

// fakeRepo mirrors the Firestore repository semantics in memory.
type fakeRepo struct {
	mu      sync.Mutex
	configs map[string]domain.DiscountConfig
	failAll error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{configs: make(map[string]domain.DiscountConfig)}
}

func (r *fakeRepo) Get(_ context.Context, shopID string) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.DiscountConfig{}, r.failAll
	}
	cfg, ok := r.configs[strings.TrimSpace(shopID)]
	if !ok {
		return domain.DiscountConfig{}, notFoundErr("config not found")
	}
	return cfg.Clone(), nil
}

func (r *fakeRepo) UpsertReplace(_ context.Context, shopID string, groups []domain.DiscountGroup, excluded []domain.ProductRef, replaceExcluded bool) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.DiscountConfig{}, r.failAll
	}
	shopID = strings.TrimSpace(shopID)
	cfg := r.configs[shopID]
	cfg.ShopID = shopID
	cfg.Groups = groups
	if replaceExcluded {
		cfg.ExcludedProducts = excluded
	}
	if err := cfg.Validate(); err != nil {
		return domain.DiscountConfig{}, err
	}
	r.configs[shopID] = cfg
	return cfg.Clone(), nil
}

func (r *fakeRepo) RemoveGroup(_ context.Context, shopID, groupID string) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[strings.TrimSpace(shopID)]
	if !ok {
		return domain.DiscountConfig{}, notFoundErr("config not found")
	}
	kept := cfg.Groups[:0]
	for _, group := range cfg.Groups {
		if group.ID != strings.TrimSpace(groupID) {
			kept = append(kept, group)
		}
	}
	cfg.Groups = kept
	r.configs[cfg.ShopID] = cfg
	return cfg.Clone(), nil
}

func (r *fakeRepo) ReplaceExcludedProducts(_ context.Context, shopID string, products []domain.ProductRef) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shopID = strings.TrimSpace(shopID)
	cfg := r.configs[shopID]
	cfg.ShopID = shopID
	cfg.ExcludedProducts = products
	if err := cfg.Validate(); err != nil {
		return domain.DiscountConfig{}, err
	}
	r.configs[shopID] = cfg
	return cfg.Clone(), nil
}

func (r *fakeRepo) RemoveExcludedProduct(_ context.Context, shopID, productID string) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[strings.TrimSpace(shopID)]
	if !ok {
		return domain.DiscountConfig{}, notFoundErr("config not found")
	}
	cfg.ExcludedProducts, _ = domain.RemoveProductRef(cfg.ExcludedProducts, productID)
	r.configs[cfg.ShopID] = cfg
	return cfg.Clone(), nil
}

func (r *fakeRepo) AddProductsToGroup(_ context.Context, shopID, groupID string, products []domain.ProductRef) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[strings.TrimSpace(shopID)]
	if !ok {
		return domain.DiscountConfig{}, notFoundErr("config not found")
	}
	for i := range cfg.Groups {
		if cfg.Groups[i].ID == strings.TrimSpace(groupID) {
			cfg.Groups[i].Products = domain.MergeProductRefs(cfg.Groups[i].Products, products)
			r.configs[cfg.ShopID] = cfg
			return cfg.Clone(), nil
		}
	}
	return domain.DiscountConfig{}, notFoundErr("group not found")
}

func (r *fakeRepo) RemoveProductFromGroup(_ context.Context, shopID, groupID, productID string) (domain.DiscountConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[strings.TrimSpace(shopID)]
	if !ok {
		return domain.DiscountConfig{}, notFoundErr("config not found")
	}
	for i := range cfg.Groups {
		if cfg.Groups[i].ID == strings.TrimSpace(groupID) {
			cfg.Groups[i].Products, _ = domain.RemoveProductRef(cfg.Groups[i].Products, productID)
			r.configs[cfg.ShopID] = cfg
			return cfg.Clone(), nil
		}
	}
	return domain.DiscountConfig{}, notFoundErr("group not found")
}

type recordingEvents struct {
	mu     sync.Mutex
	events []ConfigEvent
}

func (p *recordingEvents) PublishConfigEvent(_ context.Context, event ConfigEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-1", nil
}

func newTestService(t *testing.T, repo *fakeRepo) (DiscountConfigService, *recordingEvents) {
	t.Helper()
	events := &recordingEvents{}
	counter := 0
	svc, err := NewDiscountConfigService(DiscountConfigServiceDeps{
		Repository:  repo,
		Events:      events,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { counter++; return fmt.Sprintf("TESTID%02d", counter) },
	})
	if err != nil {
		t.Fatalf("NewDiscountConfigService: %v", err)
	}
	return svc, events
}

func floatPtr(v float64) *float64 { return &v }

func TestFetchReturnsEmptyShapeWithoutPersisting(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	cfg, err := svc.Fetch(context.Background(), "demo.myshopify.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cfg.Groups) != 0 || len(cfg.ExcludedProducts) != 0 {
		t.Fatalf("expected empty shape, got %+v", cfg)
	}
	if cfg.Groups == nil || cfg.ExcludedProducts == nil {
		t.Fatal("empty shape must use non-nil slices")
	}
	if len(repo.configs) != 0 {
		t.Fatal("fetch must not materialise a document")
	}
}

func TestReplaceThenFetchRoundTrips(t *testing.T) {
	repo := newFakeRepo()
	svc, events := newTestService(t, repo)

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{Name: "Wholesale", Percentage: floatPtr(15)},
			{Name: "VIP", Percentage: floatPtr(30)},
		},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(saved.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(saved.Groups))
	}
	for _, group := range saved.Groups {
		if !strings.HasPrefix(group.ID, "grp_") {
			t.Fatalf("generated id %q lacks prefix", group.ID)
		}
	}

	fetched, err := svc.Fetch(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched.Groups) != 2 || fetched.Groups[0].Name != "Wholesale" {
		t.Fatalf("unexpected fetched config %+v", fetched)
	}

	if len(events.events) != 1 || events.events[0].Action != "groups_replaced" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestReplacePreservesSuppliedGroupIDs(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{ID: "grp_existing", Name: "Retail", Percentage: floatPtr(5)},
			{Name: "New", Percentage: floatPtr(10)},
		},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if saved.Groups[0].ID != "grp_existing" {
		t.Fatalf("supplied id not preserved: %q", saved.Groups[0].ID)
	}
	if saved.Groups[1].ID == "" || saved.Groups[1].ID == "grp_existing" {
		t.Fatalf("missing id not generated: %q", saved.Groups[1].ID)
	}
}

func TestReplaceRejectsDuplicateGroupIDs(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{ID: "grp_dup", Name: "Retail", Percentage: floatPtr(5)},
			{ID: "grp_dup", Name: "Wholesale", Percentage: floatPtr(10)},
		},
	})
	if !errors.Is(err, ErrConfigInvalidInput) {
		t.Fatalf("err = %v, want ErrConfigInvalidInput", err)
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || !strings.Contains(strings.Join(verr.Messages, " "), "grp_dup") {
		t.Fatalf("error should name the duplicated id, got %v", err)
	}
	if len(repo.configs) != 0 {
		t.Fatalf("rejected replace must not persist: %+v", repo.configs)
	}
}

func TestReplaceRejectsDuplicateNamesCaseInsensitive(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	seed, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups:    []GroupPayload{{Name: "Retail", Percentage: floatPtr(5)}},
	})
	if err != nil {
		t.Fatalf("seed Replace: %v", err)
	}

	_, err = svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{Name: "VIP", Percentage: floatPtr(10)},
			{Name: "vip", Percentage: floatPtr(20)},
		},
	})
	if !errors.Is(err, ErrConfigInvalidInput) {
		t.Fatalf("err = %v, want ErrConfigInvalidInput", err)
	}

	current, err := svc.Fetch(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(current.Groups) != 1 || current.Groups[0].ID != seed.Groups[0].ID {
		t.Fatalf("prior state disturbed: %+v", current.Groups)
	}
}

func TestReplacePercentageBoundaries(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{Name: "Zero", Percentage: floatPtr(0)},
			{Name: "Full", Percentage: floatPtr(100)},
		},
	})
	if err != nil {
		t.Fatalf("boundary percentages should be accepted: %v", err)
	}

	for _, bad := range []float64{-1, 101} {
		_, err := svc.Replace(context.Background(), "demo", ReplaceInput{
			HasGroups: true,
			Groups:    []GroupPayload{{Name: "VIP", Percentage: floatPtr(bad)}},
		})
		if !errors.Is(err, ErrConfigInvalidInput) {
			t.Fatalf("percentage %v: err = %v, want ErrConfigInvalidInput", bad, err)
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || !strings.Contains(strings.Join(verr.Messages, " "), "VIP") {
			t.Fatalf("error should name the offending group, got %v", err)
		}
	}
}

func TestReplaceRejectsMissingGroupsArray(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Replace(context.Background(), "demo", ReplaceInput{})
	if !errors.Is(err, ErrConfigInvalidInput) {
		t.Fatalf("err = %v, want ErrConfigInvalidInput", err)
	}
}

func TestReplaceCollectsMultipleViolations(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{
			{Name: "", Percentage: floatPtr(5)},
			{Name: "VIP"},
		},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Messages) != 2 {
		t.Fatalf("expected two messages, got %v", err)
	}
}

func TestReplaceSanitizesGroupAndProductText(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{{
			Name:       "<b>VIP</b>",
			Percentage: floatPtr(10),
			Products: []ProductPayload{{
				ProductID: "p1",
				Title:     "<script>alert(1)</script>Widget",
			}},
		}},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if saved.Groups[0].Name != "VIP" {
		t.Fatalf("name not sanitised: %q", saved.Groups[0].Name)
	}
	if saved.Groups[0].Products[0].Title != "Widget" {
		t.Fatalf("title not sanitised: %q", saved.Groups[0].Products[0].Title)
	}
}

func TestDeleteGroupSemantics(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.DeleteGroup(context.Background(), "unknown-shop", "grp_x"); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("missing shop: err = %v, want ErrConfigNotFound", err)
	}

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups:    []GroupPayload{{Name: "Retail", Percentage: floatPtr(5)}},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	unchanged, err := svc.DeleteGroup(context.Background(), "demo", "grp_missing")
	if err != nil {
		t.Fatalf("unknown group id should be idempotent: %v", err)
	}
	if len(unchanged.Groups) != 1 {
		t.Fatalf("group list altered: %+v", unchanged.Groups)
	}

	after, err := svc.DeleteGroup(context.Background(), "demo", saved.Groups[0].ID)
	if err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if len(after.Groups) != 0 {
		t.Fatalf("group not removed: %+v", after.Groups)
	}
}

func TestReplaceExcludedProductsIsFullReplace(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.ReplaceExcludedProducts(context.Background(), "demo", []ProductPayload{
		{ProductID: "p1", Title: "p1"}, {ProductID: "p2", Title: "p2"},
	}); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	after, err := svc.ReplaceExcludedProducts(context.Background(), "demo", []ProductPayload{
		{ProductID: "p3", Title: "p3"},
	})
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if len(after.ExcludedProducts) != 1 || after.ExcludedProducts[0].ProductID != "p3" {
		t.Fatalf("excluded list = %+v, want just p3", after.ExcludedProducts)
	}
}

func TestAddProductsToGroupIsSetUnion(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups:    []GroupPayload{{Name: "Retail", Percentage: floatPtr(5)}},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	groupID := saved.Groups[0].ID

	for i := 0; i < 2; i++ {
		if _, err := svc.AddProductsToGroup(context.Background(), "demo", groupID, []ProductPayload{
			{ProductID: "p1", Title: "One"},
		}); err != nil {
			t.Fatalf("AddProductsToGroup call %d: %v", i, err)
		}
	}

	cfg, _ := svc.Fetch(context.Background(), "demo")
	if len(cfg.Groups[0].Products) != 1 {
		t.Fatalf("products = %+v, want p1 exactly once", cfg.Groups[0].Products)
	}

	if _, err := svc.AddProductsToGroup(context.Background(), "demo", "grp_missing", []ProductPayload{
		{ProductID: "p2", Title: "Two"},
	}); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("missing group: err = %v, want ErrConfigNotFound", err)
	}

	if _, err := svc.AddProductsToGroup(context.Background(), "demo", groupID, []ProductPayload{
		{ProductID: "", Title: "Broken"},
	}); !errors.Is(err, ErrConfigInvalidInput) {
		t.Fatalf("missing productId: err = %v, want ErrConfigInvalidInput", err)
	}
}

func TestNormalizationAcceptsBareStrings(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	cfg, err := svc.ReplaceExcludedProducts(context.Background(), "demo", []ProductPayload{
		{ProductID: "gid://shopify/Product/1", Title: "gid://shopify/Product/1"},
	})
	if err != nil {
		t.Fatalf("ReplaceExcludedProducts: %v", err)
	}
	if cfg.ExcludedProducts[0].Title != "gid://shopify/Product/1" {
		t.Fatalf("bare string not normalised to productId+title: %+v", cfg.ExcludedProducts[0])
	}
}

func TestRemoveProductFromGroupIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo)

	saved, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups: []GroupPayload{{
			Name:       "Retail",
			Percentage: floatPtr(5),
			Products:   []ProductPayload{{ProductID: "p1", Title: "One"}},
		}},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	groupID := saved.Groups[0].ID

	for i := 0; i < 2; i++ {
		cfg, err := svc.RemoveProductFromGroup(context.Background(), "demo", groupID, "p1")
		if err != nil {
			t.Fatalf("RemoveProductFromGroup call %d: %v", i, err)
		}
		if len(cfg.Groups[0].Products) != 0 {
			t.Fatalf("products = %+v, want empty", cfg.Groups[0].Products)
		}
	}
}

func TestStoreOutageMapsToUnavailable(t *testing.T) {
	repo := newFakeRepo()
	repo.failAll = &fakeRepoError{msg: "deadline exceeded", unavailable: true}
	svc, _ := newTestService(t, repo)

	_, err := svc.Replace(context.Background(), "demo", ReplaceInput{
		HasGroups: true,
		Groups:    []GroupPayload{{Name: "Retail", Percentage: floatPtr(5)}},
	})
	if !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("err = %v, want ErrConfigUnavailable", err)
	}
}
