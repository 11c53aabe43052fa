package fulfillment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Request is everything a strategy needs to place one item with a provider.
type Request struct {
	Order *models.Order
	Item  *models.OrderItem
	Job   *models.FulfillmentJob
}

// Result is the provider outcome of a single dispatch. Its JSON form is
// stored on the attempt so the follow-up work can be replayed without
// calling the provider again.
type Result struct {
	Status            enums.FulfillmentResultStatus `json:"status"`
	ExternalReference string                        `json:"external_reference,omitempty"`
	TrackingNumber    string                        `json:"tracking_number,omitempty"`
	Carrier           string                        `json:"carrier,omitempty"`
	TrackingURL       string                        `json:"tracking_url,omitempty"`
	PostageAmount     *decimal.Decimal              `json:"postage_amount,omitempty"`
	PostageCurrency   string                        `json:"postage_currency,omitempty"`
	// SettlementRequired means the provider holds the order until it is paid
	// from the merchant balance.
	SettlementRequired bool            `json:"settlement_required,omitempty"`
	Error              string          `json:"error,omitempty"`
	RequestPayload     json.RawMessage `json:"-"`
	ResponsePayload    json.RawMessage `json:"-"`
}

// HasTracking reports whether the provider already assigned a tracking number.
func (r Result) HasTracking() bool {
	return r.TrackingNumber != ""
}

// Strategy dispatches items to one fulfillment provider.
type Strategy interface {
	Provider() enums.FulfillmentProvider
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// Failed builds a failed result carrying the provider error text.
func Failed(err error, request json.RawMessage) Result {
	msg := "dispatch failed"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Status:         enums.FulfillmentResultFailed,
		Error:          msg,
		RequestPayload: request,
	}
}
