package models

// All lists every model owned by this service, in dependency order. Used by
// sqlite auto-migration and tests.
func All() []any {
	return []any{
		&Supplier{},
		&Product{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&PaymentWebhook{},
		&FulfillmentJob{},
		&FulfillmentAttempt{},
		&Shipment{},
		&ProviderWebhookEvent{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
