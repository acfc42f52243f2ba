package domain

// PaymentType is how a metered request was paid.
type PaymentType string

const (
	PaymentCredits PaymentType = "credits"
	PaymentFree    PaymentType = "free"
)

// UsageEvent records one metered API request.
type UsageEvent struct {
	EventID        string
	WalletAddress  string
	Endpoint       string
	Method         string
	CostCents      int64
	PaymentType    PaymentType
	ResponseStatus int
	ResponseTimeMs int64
	CreatedAt      int64 // ms
}
