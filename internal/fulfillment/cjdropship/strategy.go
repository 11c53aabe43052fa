// Package cjdropship places order items with CJ Dropshipping. CJ holds
// API-created orders until they are paid from the merchant balance, so every
// accepted order asks for settlement.
package cjdropship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/pkg/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const postageCurrency = "USD"

type orderAPI interface {
	CreateOrder(ctx context.Context, req cj.CreateOrderRequest) (*cj.CreateOrderResponse, error)
	FreightCalculate(ctx context.Context, req cj.FreightRequest) ([]cj.FreightOption, error)
}

type Strategy struct {
	client          orderAPI
	defaultLogistic string
	fromCountry     string
}

func New(client orderAPI, cfg config.CJConfig) (*Strategy, error) {
	if client == nil {
		return nil, errors.New("cj client required")
	}
	return &Strategy{
		client:          client,
		defaultLogistic: strings.TrimSpace(cfg.DefaultLogistic),
		fromCountry:     strings.ToUpper(strings.TrimSpace(cfg.FromCountryCode)),
	}, nil
}

func (s *Strategy) Provider() enums.FulfillmentProvider {
	return enums.FulfillmentProviderCJ
}

// Dispatch creates one CJ order per item. The merchant order number is the
// item id so webhooks can be correlated back without a lookup table.
func (s *Strategy) Dispatch(ctx context.Context, req fulfillment.Request) (fulfillment.Result, error) {
	item := req.Item
	if item.Product == nil || item.Product.ProviderVariantID == nil || strings.TrimSpace(*item.Product.ProviderVariantID) == "" {
		return fulfillment.Failed(errors.New("product has no cj variant id"), nil), nil
	}
	addr, err := fulfillment.ParseShippingAddress(req.Order.ShippingAddress)
	if err != nil {
		return fulfillment.Failed(err, nil), nil
	}
	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	products := []cj.OrderProduct{{VID: strings.TrimSpace(*item.Product.ProviderVariantID), Quantity: quantity}}

	logistic, err := s.logistic(ctx, addr, products)
	if err != nil {
		return fulfillment.Result{}, err
	}

	order := cj.CreateOrderRequest{
		OrderNumber:          item.ID.String(),
		ShippingZip:          addr.PostalCode,
		ShippingCountryCode:  addr.CountryCode,
		ShippingCountry:      addr.Country,
		ShippingProvince:     addr.Province,
		ShippingCity:         addr.City,
		ShippingAddress:      addr.Street(),
		ShippingCustomerName: addr.Name,
		ShippingPhone:        addr.Phone,
		Email:                req.Order.CustomerEmail,
		FromCountryCode:      s.fromCountry,
		LogisticName:         logistic,
		Products:             products,
	}
	requestPayload, _ := json.Marshal(order)

	resp, err := s.client.CreateOrder(ctx, order)
	if err != nil {
		return fulfillment.Result{RequestPayload: requestPayload}, err
	}
	responsePayload, _ := json.Marshal(resp)
	if resp == nil || strings.TrimSpace(resp.OrderID) == "" {
		result := fulfillment.Failed(errors.New("cj returned no order id"), requestPayload)
		result.ResponsePayload = responsePayload
		return result, nil
	}

	result := fulfillment.Result{
		Status:             enums.FulfillmentResultSucceeded,
		ExternalReference:  resp.OrderID,
		TrackingNumber:     strings.TrimSpace(resp.TrackNumber),
		Carrier:            firstNonEmpty(resp.LogisticName, logistic),
		SettlementRequired: true,
		RequestPayload:     requestPayload,
		ResponsePayload:    responsePayload,
	}
	if resp.PostageAmount != nil {
		amount := *resp.PostageAmount
		result.PostageAmount = &amount
		result.PostageCurrency = postageCurrency
	}
	return result, nil
}

// logistic picks the configured logistic line, or the cheapest CJ quotes.
func (s *Strategy) logistic(ctx context.Context, addr fulfillment.ShippingAddress, products []cj.OrderProduct) (string, error) {
	if s.defaultLogistic != "" {
		return s.defaultLogistic, nil
	}
	options, err := s.client.FreightCalculate(ctx, cj.FreightRequest{
		StartCountryCode: firstNonEmpty(s.fromCountry, "CN"),
		EndCountryCode:   addr.CountryCode,
		Zip:              addr.PostalCode,
		Products:         products,
	})
	if err != nil {
		return "", fmt.Errorf("freight quote: %w", err)
	}
	for _, option := range options {
		if name := strings.TrimSpace(option.LogisticName); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("no cj logistics available to %s", addr.CountryCode)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
