package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionClosed SubscriptionStatus = "closed"
)

// Subscription is a live remote watch owned by the listener registry.
type Subscription struct {
	ID        string
	Path      ResourcePath
	Status    SubscriptionStatus
	CreatedAt time.Time
}

// SubscriptionHandle is what a caller holds; many handles may share one Subscription.
type SubscriptionHandle struct {
	ID             string
	SubscriptionID string
	Path           ResourcePath
}
