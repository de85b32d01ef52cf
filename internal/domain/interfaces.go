package domain

import "context"

// BrokerGateway defines the gateway operations the reconciliation engine needs.
// Account and position calls never fall back to another provider.
type BrokerGateway interface {
	// Connect attempts to establish connectivity and returns immediately.
	Connect(ctx context.Context) bool
	IsConnected() bool
	ConnectionStats() ConnectionState

	// AccountInfo returns a fresh account snapshot. Empty accountID selects the default account.
	AccountInfo(ctx context.Context, accountID string) (AccountSnapshot, error)
	// Positions returns the broker-reported positions of the account.
	Positions(ctx context.Context, accountID string) ([]BrokerPosition, error)
}

// OrderRouter places and cancels broker orders
type OrderRouter interface {
	PlaceOrder(ctx context.Context, contract Contract, order Order) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}
