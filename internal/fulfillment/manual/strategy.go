// Package manual hands items to operators. Nothing leaves the system; the
// item waits in fulfilling until tracking arrives.
package manual

import (
	"context"
	"encoding/json"

	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

type Strategy struct{}

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Provider() enums.FulfillmentProvider {
	return enums.FulfillmentProviderManual
}

func (s *Strategy) Dispatch(_ context.Context, req fulfillment.Request) (fulfillment.Result, error) {
	payload, _ := json.Marshal(map[string]any{
		"order_number": req.Order.Number,
		"sku":          req.Item.SKU,
		"quantity":     req.Item.Quantity,
	})
	return fulfillment.Result{
		Status:            enums.FulfillmentResultFulfilling,
		ExternalReference: "manual-" + req.Job.ID.String(),
		RequestPayload:    payload,
	}, nil
}
