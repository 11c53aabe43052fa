package cjdropship

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/internal/fulfillment"
	"github.com/angelmondragon/orderflow-backend/pkg/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

type stubAPI struct {
	created   []cj.CreateOrderRequest
	freight   []cj.FreightRequest
	response  *cj.CreateOrderResponse
	createErr error
	options   []cj.FreightOption
}

func (s *stubAPI) CreateOrder(_ context.Context, req cj.CreateOrderRequest) (*cj.CreateOrderResponse, error) {
	s.created = append(s.created, req)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.response, nil
}

func (s *stubAPI) FreightCalculate(_ context.Context, req cj.FreightRequest) ([]cj.FreightOption, error) {
	s.freight = append(s.freight, req)
	return s.options, nil
}

func dispatchRequest(variant string) fulfillment.Request {
	product := &models.Product{Name: "lamp"}
	if variant != "" {
		product.ProviderVariantID = &variant
	}
	return fulfillment.Request{
		Order: &models.Order{
			Number:          "ORD-1",
			CustomerEmail:   "buyer@example.com",
			ShippingAddress: []byte(`{"name":"Ada Obi","line1":"1 Marina","city":"Lagos","postal_code":"100001","country_code":"ng"}`),
		},
		Item: &models.OrderItem{ID: uuid.New(), SKU: "LAMP", Quantity: 2, Product: product},
		Job:  &models.FulfillmentJob{ID: uuid.New()},
	}
}

func TestDispatchCreatesOrderAndRequestsSettlement(t *testing.T) {
	postage := decimal.RequireFromString("4.50")
	api := &stubAPI{response: &cj.CreateOrderResponse{OrderID: "CJ-1", TrackNumber: "CJT-1", LogisticName: "CJPacket", PostageAmount: &postage}}
	strategy, err := New(api, config.CJConfig{DefaultLogistic: "CJPacket Ordinary", FromCountryCode: "cn"})
	require.NoError(t, err)

	req := dispatchRequest("VID-1")
	result, err := strategy.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentResultSucceeded, result.Status)
	assert.Equal(t, "CJ-1", result.ExternalReference)
	assert.Equal(t, "CJT-1", result.TrackingNumber)
	assert.True(t, result.SettlementRequired)
	require.NotNil(t, result.PostageAmount)
	assert.True(t, result.PostageAmount.Equal(postage))

	require.Len(t, api.created, 1)
	sent := api.created[0]
	assert.Equal(t, req.Item.ID.String(), sent.OrderNumber)
	assert.Equal(t, "NG", sent.ShippingCountryCode)
	assert.Equal(t, "CN", sent.FromCountryCode)
	assert.Equal(t, []cj.OrderProduct{{VID: "VID-1", Quantity: 2}}, sent.Products)
	assert.Empty(t, api.freight)
	assert.NotEmpty(t, result.RequestPayload)
}

func TestDispatchQuotesFreightWithoutDefaultLogistic(t *testing.T) {
	api := &stubAPI{
		response: &cj.CreateOrderResponse{OrderID: "CJ-2"},
		options:  []cj.FreightOption{{LogisticName: "YunExpress"}, {LogisticName: "DHL"}},
	}
	strategy, err := New(api, config.CJConfig{})
	require.NoError(t, err)

	_, err = strategy.Dispatch(context.Background(), dispatchRequest("VID-2"))
	require.NoError(t, err)
	require.Len(t, api.freight, 1)
	assert.Equal(t, "NG", api.freight[0].EndCountryCode)
	assert.Equal(t, "YunExpress", api.created[0].LogisticName)
}

func TestDispatchFailsWithoutVariant(t *testing.T) {
	api := &stubAPI{}
	strategy, err := New(api, config.CJConfig{DefaultLogistic: "CJPacket"})
	require.NoError(t, err)

	result, err := strategy.Dispatch(context.Background(), dispatchRequest(""))
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentResultFailed, result.Status)
	assert.Contains(t, result.Error, "variant")
	assert.Empty(t, api.created)
}

func TestDispatchReturnsProviderErrorWithRequest(t *testing.T) {
	api := &stubAPI{createErr: errors.New("cj down")}
	strategy, err := New(api, config.CJConfig{DefaultLogistic: "CJPacket"})
	require.NoError(t, err)

	result, err := strategy.Dispatch(context.Background(), dispatchRequest("VID-3"))
	require.Error(t, err)
	assert.NotEmpty(t, result.RequestPayload)
}
