package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerInfo — данные доставки из формы оформления заказа.
type CustomerInfo struct {
	Name    string
	Address string
	Phone   string
	// Note необязателен.
	Note string
	// Email заполняет вызывающая сторона после входа пользователя.
	Email string
}

// Normalize обрезает пробелы во всех полях.
func (c CustomerInfo) Normalize() CustomerInfo {
	return CustomerInfo{
		Name:    strings.TrimSpace(c.Name),
		Address: strings.TrimSpace(c.Address),
		Phone:   strings.TrimSpace(c.Phone),
		Note:    strings.TrimSpace(c.Note),
		Email:   strings.TrimSpace(c.Email),
	}
}

// Validate возвращает *ValidationError, если обязательные поля пусты после обрезки пробелов.
func (c CustomerInfo) Validate() error {
	n := c.Normalize()
	var missing []string
	if n.Name == "" {
		missing = append(missing, "name")
	}
	if n.Address == "" {
		missing = append(missing, "address")
	}
	if n.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// OrderLine фиксирует позицию корзины на момент подтверждения.
type OrderLine struct {
	Key       string
	ProductID string
	Size      string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Order — неизменяемый снимок оформленного заказа.
type Order struct {
	ID            string
	Customer      CustomerInfo
	Lines         []OrderLine
	Subtotal      decimal.Decimal
	ShippingFee   decimal.Decimal
	Total         decimal.Decimal
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// ItemCount возвращает суммарное количество единиц в заказе.
func (o Order) ItemCount() int {
	var n int
	for _, line := range o.Lines {
		n += line.Quantity
	}
	return n
}
