package cj

import (
	"context"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"
)

type FreightRequest struct {
	StartCountryCode string         `json:"startCountryCode"`
	EndCountryCode   string         `json:"endCountryCode"`
	Zip              string         `json:"zip,omitempty"`
	Products         []OrderProduct `json:"products"`
}

type FreightOption struct {
	LogisticName  string          `json:"logisticName"`
	LogisticPrice decimal.Decimal `json:"logisticPrice"`
	LogisticAging string          `json:"logisticAging"`
}

// FreightCalculate returns the logistics options CJ offers, cheapest first.
func (c *Client) FreightCalculate(ctx context.Context, req FreightRequest) ([]FreightOption, error) {
	var out []FreightOption
	if err := c.call(ctx, "freight_calculate", http.MethodPost, "/logistic/freightCalculate", req, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LogisticPrice.LessThan(out[j].LogisticPrice)
	})
	return out, nil
}
