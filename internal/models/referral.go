package models

import "time"

// ReferralAttribution credits a referrer for an on-chain action.
type ReferralAttribution struct {
	UserID    string    `json:"userId"`
	Account   string    `json:"account"`
	TxHash    string    `json:"txHash"`
	Action    string    `json:"action"`
	Amount    string    `json:"amount,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlatformMetric is a product analytics event sent to the platform API.
type PlatformMetric struct {
	Event    string `json:"event"`
	Category string `json:"category"`
	Value    string `json:"value,omitempty"`
	Point    int64  `json:"point,omitempty"`
}
