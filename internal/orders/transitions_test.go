package orders

import (
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

func TestCanAdvanceOrder(t *testing.T) {
	cases := []struct {
		from, to enums.OrderStatus
		want     bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusPaid, true},
		{enums.OrderStatusPaid, enums.OrderStatusFulfilling, true},
		{enums.OrderStatusFulfilling, enums.OrderStatusPaid, false},
		{enums.OrderStatusFulfilled, enums.OrderStatusRefunded, false},
		{enums.OrderStatusPaid, enums.OrderStatusRefunded, true},
		{enums.OrderStatusFulfilling, enums.OrderStatusFulfilling, false},
	}
	for _, tc := range cases {
		if got := CanAdvanceOrder(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestCanAdvanceItem(t *testing.T) {
	if !CanAdvanceItem(enums.ItemFulfillmentFailed, enums.ItemFulfillmentFulfilling) {
		t.Fatal("failed item should be revivable by a later shipment")
	}
	if CanAdvanceItem(enums.ItemFulfillmentFulfilled, enums.ItemFulfillmentFulfilling) {
		t.Fatal("fulfilled item must not move backwards")
	}
	if CanAdvanceItem(enums.ItemFulfillmentPending, "bogus") {
		t.Fatal("unknown statuses are ignored")
	}
}

func TestItemStatusFromResult(t *testing.T) {
	if got := ItemStatusFromResult(enums.FulfillmentResultSucceeded); got != enums.ItemFulfillmentFulfilled {
		t.Fatalf("succeeded should map to fulfilled, got %s", got)
	}
	if got := ItemStatusFromResult(enums.FulfillmentResultFulfilling); got != enums.ItemFulfillmentFulfilling {
		t.Fatalf("fulfilling passes through, got %s", got)
	}
}
