package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// cartKeySeparator разделяет идентификатор товара и размер в ключе позиции.
const cartKeySeparator = "_"

// CartKey — составной ключ позиции корзины (товар, размер).
type CartKey struct {
	ProductID string
	Size      string
}

// String возвращает ключ в формате хранилища: productId_size.
func (k CartKey) String() string {
	return k.ProductID + cartKeySeparator + k.Size
}

// ParseCartKey разбирает ключ productId_size. Идентификатор товара не содержит "_",
// поэтому разделителем считается первое вхождение.
func ParseCartKey(raw string) (CartKey, error) {
	productID, size, ok := strings.Cut(raw, cartKeySeparator)
	if !ok || productID == "" || size == "" {
		return CartKey{}, fmt.Errorf("%w: %q", ErrInvalidCartKey, raw)
	}
	return CartKey{ProductID: productID, Size: size}, nil
}

// CartLine описывает одну позицию корзины.
type CartLine struct {
	ProductID string
	Size      string
	Quantity  int
}

// Key возвращает составной ключ позиции.
func (l CartLine) Key() CartKey {
	return CartKey{ProductID: l.ProductID, Size: l.Size}
}

// ResolvedLine связывает позицию корзины с товаром каталога для отображения.
type ResolvedLine struct {
	Key       CartKey
	Product   Product
	Size      string
	Quantity  int
	LineTotal decimal.Decimal
}

// Totals содержит итоги корзины.
type Totals struct {
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	ItemCount   int
}

// CartQuote — согласованный снимок корзины для оформления заказа.
// Revision меняется при каждом изменении корзины.
type CartQuote struct {
	Lines    []ResolvedLine
	Totals   Totals
	Revision uint64
}

// CartEventType описывает вид изменения корзины для подписчиков.
type CartEventType string

const (
	CartEventLoaded  CartEventType = "loaded"
	CartEventAdded   CartEventType = "added"
	CartEventUpdated CartEventType = "updated"
	CartEventRemoved CartEventType = "removed"
	CartEventCleared CartEventType = "cleared"
)

// CartEvent уведомляет об изменении корзины; его хватает для перерисовки счётчиков.
type CartEvent struct {
	Type   CartEventType
	Key    CartKey
	Totals Totals
	// PersistErr не nil, если снимок не удалось записать.
	PersistErr error
}
