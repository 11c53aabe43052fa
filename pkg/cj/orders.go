package cj

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

type OrderProduct struct {
	VID      string `json:"vid"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest mirrors the createOrderV2 body.
type CreateOrderRequest struct {
	OrderNumber          string         `json:"orderNumber"`
	ShippingZip          string         `json:"shippingZip,omitempty"`
	ShippingCountryCode  string         `json:"shippingCountryCode"`
	ShippingCountry      string         `json:"shippingCountry,omitempty"`
	ShippingProvince     string         `json:"shippingProvince,omitempty"`
	ShippingCity         string         `json:"shippingCity,omitempty"`
	ShippingAddress      string         `json:"shippingAddress"`
	ShippingCustomerName string         `json:"shippingCustomerName"`
	ShippingPhone        string         `json:"shippingPhone,omitempty"`
	Email                string         `json:"email,omitempty"`
	FromCountryCode      string         `json:"fromCountryCode,omitempty"`
	LogisticName         string         `json:"logisticName"`
	Products             []OrderProduct `json:"products"`
}

type CreateOrderResponse struct {
	OrderID       string           `json:"orderId"`
	OrderNumber   string           `json:"orderNumber"`
	OrderStatus   string           `json:"orderStatus"`
	TrackNumber   string           `json:"trackNumber"`
	LogisticName  string           `json:"logisticName"`
	PostageAmount *decimal.Decimal `json:"postageAmount"`
	OrderAmount   *decimal.Decimal `json:"orderAmount"`
}

// CreateOrder places an order; CJ holds it until the balance is paid.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var out CreateOrderResponse
	if err := c.call(ctx, "create_order", http.MethodPost, "/shopping/order/createOrderV2", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PayBalance settles a created order from the merchant's CJ balance.
func (c *Client) PayBalance(ctx context.Context, cjOrderID string) error {
	return c.call(ctx, "pay_balance", http.MethodPost, "/shopping/pay/payBalance", map[string]string{
		"orderId": cjOrderID,
	}, nil)
}
