package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked_in"
	StatusCancelled = "cancelled"
)

const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusReverted  = "reverted"
	TxStatusDropped   = "dropped"
)

const (
	TxKindApprove = "approve"
	TxKindBook    = "book_accommodation"
	TxKindBuy     = "buy"
)

const (
	// TokenDecimals is the ERC20 decimals of the DAO and payment tokens.
	TokenDecimals = 18

	// DefaultCacheTTL время жизни кэша чтений из контракта
	DefaultCacheTTL = 5 * 60 // 5 минут в секундах

	// TrackerQueueSize размер очереди трекера транзакций
	TrackerQueueSize = 128

	// DefaultBookingWindowYears количество лет вперёд, по которым читаются бронирования
	DefaultBookingWindowYears = 2

	// RateLimitRequests количество запросов в окне
	RateLimitRequests = 20
)
