package enums

import "fmt"

// ItemFulfillmentStatus tracks fulfillment of a single order line.
type ItemFulfillmentStatus string

const (
	ItemFulfillmentPending    ItemFulfillmentStatus = "pending"
	ItemFulfillmentFulfilling ItemFulfillmentStatus = "fulfilling"
	ItemFulfillmentFulfilled  ItemFulfillmentStatus = "fulfilled"
	ItemFulfillmentFailed     ItemFulfillmentStatus = "failed"
	ItemFulfillmentCancelled  ItemFulfillmentStatus = "cancelled"
)

var validItemFulfillmentStatuses = []ItemFulfillmentStatus{
	ItemFulfillmentPending,
	ItemFulfillmentFulfilling,
	ItemFulfillmentFulfilled,
	ItemFulfillmentFailed,
	ItemFulfillmentCancelled,
}

// String implements fmt.Stringer.
func (s ItemFulfillmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ItemFulfillmentStatus.
func (s ItemFulfillmentStatus) IsValid() bool {
	for _, candidate := range validItemFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether tracking updates may still move the item.
func (s ItemFulfillmentStatus) IsTerminal() bool {
	return s == ItemFulfillmentFulfilled || s == ItemFulfillmentCancelled
}

// ParseItemFulfillmentStatus converts raw input into an ItemFulfillmentStatus.
func ParseItemFulfillmentStatus(value string) (ItemFulfillmentStatus, error) {
	for _, candidate := range validItemFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}

// FulfillmentJobStatus tracks a single provider dispatch job.
type FulfillmentJobStatus string

const (
	FulfillmentJobPending   FulfillmentJobStatus = "pending"
	FulfillmentJobSucceeded FulfillmentJobStatus = "succeeded"
	FulfillmentJobFailed    FulfillmentJobStatus = "failed"
)

// IsValid reports whether the value is a known FulfillmentJobStatus.
func (s FulfillmentJobStatus) IsValid() bool {
	switch s {
	case FulfillmentJobPending, FulfillmentJobSucceeded, FulfillmentJobFailed:
		return true
	}
	return false
}

// FulfillmentResultStatus is what a strategy reports back from a dispatch.
type FulfillmentResultStatus string

const (
	FulfillmentResultSucceeded  FulfillmentResultStatus = "succeeded"
	FulfillmentResultFailed     FulfillmentResultStatus = "failed"
	FulfillmentResultFulfilling FulfillmentResultStatus = "fulfilling"
	FulfillmentResultPending    FulfillmentResultStatus = "pending"
)
