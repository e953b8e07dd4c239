package domain

// PaymentStatus описывает результат (симулированного) платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж ещё не проводился.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCaptured — оплата принята; единственный терминальный успех витрины.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusFailed — платёж отклонён.
	PaymentStatusFailed PaymentStatus = "failed"
)
