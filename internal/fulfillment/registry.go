package fulfillment

import (
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Registry maps providers to their strategies.
type Registry struct {
	strategies map[enums.FulfillmentProvider]Strategy
}

// NewRegistry builds a registry; registering a provider twice is an error.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	registry := &Registry{strategies: make(map[enums.FulfillmentProvider]Strategy, len(strategies))}
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		provider := strategy.Provider()
		if _, exists := registry.strategies[provider]; exists {
			return nil, fmt.Errorf("fulfillment strategy %q registered twice", provider)
		}
		registry.strategies[provider] = strategy
	}
	return registry, nil
}

// Resolve returns the strategy for a provider.
func (r *Registry) Resolve(provider enums.FulfillmentProvider) (Strategy, bool) {
	if r == nil {
		return nil, false
	}
	strategy, ok := r.strategies[provider]
	return strategy, ok
}

// ResolveProvider applies the fallback chain: item override, supplier
// default, product default.
func ResolveProvider(item *models.OrderItem) (enums.FulfillmentProvider, bool) {
	if item == nil {
		return "", false
	}
	if item.FulfillmentProvider != nil && *item.FulfillmentProvider != "" {
		return *item.FulfillmentProvider, true
	}
	if item.Supplier != nil && item.Supplier.DefaultProvider != nil && *item.Supplier.DefaultProvider != "" {
		return *item.Supplier.DefaultProvider, true
	}
	if item.Product != nil && item.Product.DefaultProvider != nil && *item.Product.DefaultProvider != "" {
		return *item.Product.DefaultProvider, true
	}
	return "", false
}
