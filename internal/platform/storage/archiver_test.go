package storage

import (
	"strings"
	"testing"
	"time"
)

func TestSnapshotObjectName(t *testing.T) {
	at := time.Date(2025, time.June, 1, 12, 30, 45, 123456789, time.UTC)

	name, err := SnapshotObjectName("demo.myshopify.com", at)
	if err != nil {
		t.Fatalf("SnapshotObjectName: %v", err)
	}
	if !strings.HasPrefix(name, "group-discounts/demo.myshopify.com/") {
		t.Fatalf("unexpected prefix in %q", name)
	}
	if !strings.HasSuffix(name, ".json") {
		t.Fatalf("expected .json suffix in %q", name)
	}
}

func TestSnapshotObjectNameSanitizesShopID(t *testing.T) {
	name, err := SnapshotObjectName("  demo shop/évil  ", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("SnapshotObjectName: %v", err)
	}
	if strings.Contains(name, " ") || strings.Contains(strings.TrimPrefix(name, "group-discounts/"), "/évil") {
		t.Fatalf("shop id not sanitised: %q", name)
	}
}

func TestSnapshotObjectNameRequiresShop(t *testing.T) {
	if _, err := SnapshotObjectName("   ", time.Now()); err == nil {
		t.Fatal("expected error for blank shop id")
	}
}

func TestSnapshotObjectNamesSortChronologically(t *testing.T) {
	first, _ := SnapshotObjectName("demo", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	second, _ := SnapshotObjectName("demo", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	if !(first < second) {
		t.Fatalf("expected %q < %q", first, second)
	}
}
