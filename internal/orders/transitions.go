package orders

import "github.com/angelmondragon/orderflow-backend/pkg/enums"

var orderRank = map[enums.OrderStatus]int{
	enums.OrderStatusPending:    0,
	enums.OrderStatusPaid:       1,
	enums.OrderStatusFulfilling: 2,
	enums.OrderStatusFulfilled:  3,
}

// CanAdvanceOrder reports whether an order may move from current to next.
// Terminal statuses never change; cancelled and refunded are reachable from
// any non-terminal status.
func CanAdvanceOrder(current, next enums.OrderStatus) bool {
	if current == next || current.IsTerminal() {
		return false
	}
	if next == enums.OrderStatusCancelled || next == enums.OrderStatusRefunded {
		return true
	}
	return orderRank[next] > orderRank[current]
}

var itemRank = map[enums.ItemFulfillmentStatus]int{
	enums.ItemFulfillmentPending:    0,
	enums.ItemFulfillmentFailed:     1,
	enums.ItemFulfillmentFulfilling: 2,
	enums.ItemFulfillmentFulfilled:  3,
}

// CanAdvanceItem applies the same forward-only rule to order items.
func CanAdvanceItem(current, next enums.ItemFulfillmentStatus) bool {
	if current == next || current.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == enums.ItemFulfillmentCancelled {
		return true
	}
	return itemRank[next] > itemRank[current]
}

// ItemStatusFromResult maps a strategy outcome onto the item column.
// Succeeded means the provider accepted the order, which is as far as this
// core tracks it until a carrier confirms delivery.
func ItemStatusFromResult(result enums.FulfillmentResultStatus) enums.ItemFulfillmentStatus {
	switch result {
	case enums.FulfillmentResultSucceeded:
		return enums.ItemFulfillmentFulfilled
	case enums.FulfillmentResultFailed:
		return enums.ItemFulfillmentFailed
	case enums.FulfillmentResultFulfilling:
		return enums.ItemFulfillmentFulfilling
	}
	return enums.ItemFulfillmentPending
}
