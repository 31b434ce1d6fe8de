package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/groupdiscount/api/internal/domain"
	"github.com/groupdiscount/api/internal/shopify"
)

type fakeMetafieldPublisher struct {
	err      error
	shopID   string
	token    string
	payloads [][]byte
}

func (p *fakeMetafieldPublisher) Publish(_ context.Context, shopDomain, accessToken string, payload []byte) error {
	p.shopID = shopDomain
	p.token = accessToken
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return p.err
}

type fakeArchiver struct {
	err     error
	shopIDs []string
	objects int
}

func (a *fakeArchiver) Archive(_ context.Context, shopID string, _ []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.shopIDs = append(a.shopIDs, shopID)
	a.objects++
	return fmt.Sprintf("group-discounts/%s/obj-%d.json", shopID, a.objects), nil
}

func newSyncFixture(t *testing.T, repo *fakeRepo) (SyncService, *fakeMetafieldPublisher, *fakeArchiver, *recordingEvents) {
	t.Helper()
	publisher := &fakeMetafieldPublisher{}
	archiver := &fakeArchiver{}
	events := &recordingEvents{}
	svc, err := NewSyncService(SyncServiceDeps{
		Repository: repo,
		Publisher:  publisher,
		Archiver:   archiver,
		Events:     events,
		Clock:      func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewSyncService: %v", err)
	}
	return svc, publisher, archiver, events
}

func TestSyncPublishesSubmittedPayloadVerbatim(t *testing.T) {
	repo := newFakeRepo()
	svc, publisher, archiver, events := newSyncFixture(t, repo)

	err := svc.Sync(context.Background(), SyncCommand{
		ShopID:      "demo.myshopify.com",
		AccessToken: "shpat_test",
		Groups: []GroupPayload{{
			ID:         "grp_1",
			Name:       "VIP",
			Percentage: floatPtr(25),
			Products:   []ProductPayload{{ProductID: "p1", Title: "One"}},
		}},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if publisher.shopID != "demo.myshopify.com" || publisher.token != "shpat_test" {
		t.Fatalf("publisher got shop=%q token=%q", publisher.shopID, publisher.token)
	}

	var doc syncDocument
	if err := json.Unmarshal(publisher.payloads[0], &doc); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if len(doc.Groups) != 1 || doc.Groups[0].Name != "VIP" {
		t.Fatalf("unexpected payload %s", publisher.payloads[0])
	}
	if doc.ExcludedProducts == nil {
		t.Fatal("excludedProducts must serialise as an empty array, not null")
	}

	// The local store is never touched by a direct sync.
	if len(repo.configs) != 0 {
		t.Fatalf("sync wrote to the store: %+v", repo.configs)
	}

	if archiver.objects != 1 || archiver.shopIDs[0] != "demo.myshopify.com" {
		t.Fatalf("snapshot not archived: %+v", archiver)
	}
	if len(events.events) != 1 || events.events[0].Action != "synced" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestSyncValidatesInput(t *testing.T) {
	svc, publisher, _, _ := newSyncFixture(t, newFakeRepo())

	if err := svc.Sync(context.Background(), SyncCommand{AccessToken: "shpat_test"}); !errors.Is(err, ErrSyncInvalidInput) {
		t.Fatalf("missing shopId: err = %v", err)
	}
	if err := svc.Sync(context.Background(), SyncCommand{ShopID: "demo"}); !errors.Is(err, ErrSyncInvalidInput) {
		t.Fatalf("missing token: err = %v", err)
	}
	if len(publisher.payloads) != 0 {
		t.Fatal("nothing should be published on invalid input")
	}
}

func TestSyncMapsPlatformErrors(t *testing.T) {
	cases := []struct {
		name    string
		publish error
		want    error
	}{
		{"rejected", fmt.Errorf("%w: field is invalid", shopify.ErrRejected), ErrSyncRejected},
		{"unavailable", fmt.Errorf("%w: 502", shopify.ErrUnavailable), ErrSyncUnavailable},
		{"unknown", errors.New("boom"), ErrSyncUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, publisher, archiver, events := newSyncFixture(t, newFakeRepo())
			publisher.err = tc.publish

			err := svc.Sync(context.Background(), SyncCommand{ShopID: "demo", AccessToken: "shpat_test"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if archiver.objects != 0 || len(events.events) != 0 {
				t.Fatal("failed publish must not archive or emit events")
			}
		})
	}
}

func TestSyncSucceedsWhenArchiverFails(t *testing.T) {
	svc, _, archiver, events := newSyncFixture(t, newFakeRepo())
	archiver.err = errors.New("bucket gone")

	if err := svc.Sync(context.Background(), SyncCommand{ShopID: "demo", AccessToken: "shpat_test"}); err != nil {
		t.Fatalf("archiver failure must not fail the sync: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("event still expected, got %+v", events.events)
	}
}

func TestResyncRepublishesStoredConfiguration(t *testing.T) {
	repo := newFakeRepo()
	repo.configs["demo"] = domain.DiscountConfig{
		ShopID: "demo",
		Groups: []domain.DiscountGroup{{
			ID:         "grp_1",
			Name:       "Retail",
			Percentage: 10,
			Products:   []domain.ProductRef{{ProductID: "p1", Title: "One"}},
		}},
		ExcludedProducts: []domain.ProductRef{{ProductID: "p9", Title: "Nine"}},
	}
	svc, publisher, _, events := newSyncFixture(t, repo)

	if err := svc.Resync(context.Background(), "demo", "shpat_test"); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	var doc syncDocument
	if err := json.Unmarshal(publisher.payloads[0], &doc); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if len(doc.Groups) != 1 || doc.Groups[0].ID != "grp_1" || *doc.Groups[0].Percentage != 10 {
		t.Fatalf("stored groups not republished: %s", publisher.payloads[0])
	}
	if len(doc.ExcludedProducts) != 1 || doc.ExcludedProducts[0].ProductID != "p9" {
		t.Fatalf("stored exclusions not republished: %s", publisher.payloads[0])
	}
	if len(events.events) != 1 || events.events[0].Action != "resynced" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestResyncUnknownShopIsNotFound(t *testing.T) {
	svc, publisher, _, _ := newSyncFixture(t, newFakeRepo())

	err := svc.Resync(context.Background(), "ghost", "shpat_test")
	if !errors.Is(err, ErrSyncNotFound) {
		t.Fatalf("err = %v, want ErrSyncNotFound", err)
	}
	if len(publisher.payloads) != 0 {
		t.Fatal("nothing should be published for an unknown shop")
	}
}
