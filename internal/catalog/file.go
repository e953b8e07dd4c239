package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// fileProduct описывает запись товара в YAML-файле каталога.
// Цена хранится строкой, чтобы не терять точность при разборе.
type fileProduct struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Price       string   `yaml:"price"`
	Stock       int      `yaml:"stock"`
	Sizes       []string `yaml:"sizes"`
	Image       string   `yaml:"image"`
	Images      []string `yaml:"images"`
}

type fileCatalog struct {
	Products []fileProduct `yaml:"products"`
}

// LoadFile читает каталог из YAML-файла.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(raw)
}

// Parse разбирает YAML-документ каталога.
func Parse(raw []byte) (*Catalog, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	products := make([]domain.Product, 0, len(doc.Products))
	for i, fp := range doc.Products {
		price, err := decimal.NewFromString(fp.Price)
		if err != nil {
			return nil, fmt.Errorf("product[%d] %s: parse price %q: %w", i, fp.ID, fp.Price, err)
		}

		images := fp.Images
		if len(images) == 0 && fp.Image != "" {
			images = []string{fp.Image}
		}

		products = append(products, domain.Product{
			ID:          fp.ID,
			Name:        fp.Name,
			Description: fp.Description,
			Category:    fp.Category,
			Price:       price,
			Stock:       fp.Stock,
			Sizes:       fp.Sizes,
			Images:      images,
		})
	}

	return New(products)
}
