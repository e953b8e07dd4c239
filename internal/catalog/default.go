package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Default возвращает встроенный каталог витрины.
func Default() *Catalog {
	return MustNew(defaultProducts())
}

func defaultProducts() []domain.Product {
	apparel := []string{"S", "M", "L", "XL", "XXL"}
	oneSize := []string{"Única"}

	return []domain.Product{
		{
			ID: "p1", Name: "Franelas Personalizadas", Category: "franelas",
			Description: "Franelas 100% algodón, impresión de alta calidad",
			Price:       decimal.RequireFromString("25.00"), Stock: 50,
			Sizes: apparel, Images: []string{"image/franela.jpeg"},
		},
		{
			ID: "p2", Name: "Franelas Premium", Category: "franelas",
			Description: "Franelas de algodón premium con diseños únicos",
			Price:       decimal.RequireFromString("28.00"), Stock: 45,
			Sizes: apparel, Images: []string{"image/franela2.jpeg"},
		},
		{
			ID: "p3", Name: "Tazas Personalizadas", Category: "tazas",
			Description: "Tazas cerámicas resistentes, perfectas para personalizar",
			Price:       decimal.RequireFromString("12.00"), Stock: 80,
			Sizes: oneSize, Images: []string{"image/taza.jpeg"},
		},
		{
			ID: "p4", Name: "Tazas de Café", Category: "tazas",
			Description: "Tazas especiales para café con diseños exclusivos",
			Price:       decimal.RequireFromString("15.00"), Stock: 75,
			Sizes: oneSize, Images: []string{"image/taza2.jpeg"},
		},
		{
			ID: "p5", Name: "Tazas Premium", Category: "tazas",
			Description: "Tazas de alta calidad con acabados especiales",
			Price:       decimal.RequireFromString("18.00"), Stock: 60,
			Sizes: oneSize, Images: []string{"image/taza3.jpeg"},
		},
		{
			ID: "p6", Name: "Tazas Creativas", Category: "tazas",
			Description: "Tazas con diseños únicos y creativos",
			Price:       decimal.RequireFromString("16.00"), Stock: 55,
			Sizes: oneSize, Images: []string{"image/taza4.jpeg"},
		},
		{
			ID: "p7", Name: "Agendas Personalizadas", Category: "agendas",
			Description: "Agendas con diseño personalizado y papel de calidad",
			Price:       decimal.RequireFromString("20.00"), Stock: 40,
			Sizes: []string{"A5", "A4"},
			Images: []string{
				"image/agenda.jpeg",
				"image/agenda2.jpeg",
				"image/agenda3.jpeg",
				"image/agenda4.jpeg",
			},
		},
	}
}
