package domain

import "github.com/shopspring/decimal"

// Product — неизменяемая запись каталога.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	// Price указана за единицу в единственной валюте витрины.
	Price decimal.Decimal
	// Stock ограничивает количество, которое можно держать в корзине.
	Stock int
	// Sizes перечисляет размеры; первый используется по умолчанию.
	Sizes  []string
	Images []string
}

// DefaultSize возвращает размер по умолчанию (первый объявленный).
func (p Product) DefaultSize() string {
	if len(p.Sizes) == 0 {
		return ""
	}
	return p.Sizes[0]
}

// HasSize проверяет, что размер объявлен у товара.
func (p Product) HasSize(size string) bool {
	return p.SizeIndex(size) >= 0
}

// SizeIndex возвращает позицию размера в списке товара или -1.
func (p Product) SizeIndex(size string) int {
	for i, s := range p.Sizes {
		if s == size {
			return i
		}
	}
	return -1
}
