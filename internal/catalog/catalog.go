package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CategoryAll отключает фильтр по категории.
const CategoryAll = "all"

var (
	// ErrEmptyCatalog — каталог без товаров.
	ErrEmptyCatalog = errors.New("catalog has no products")
	// ErrDuplicateProduct — идентификатор товара встречается дважды.
	ErrDuplicateProduct = errors.New("duplicate product id")
	// ErrInvalidProduct — товар нарушает инварианты каталога.
	ErrInvalidProduct = errors.New("invalid product")
)

// Catalog хранит неизменяемый упорядоченный список товаров.
type Catalog struct {
	products []domain.Product
	index    map[string]int
}

// New проверяет инварианты и строит каталог. Входной срез копируется.
func New(products []domain.Product) (*Catalog, error) {
	if len(products) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		products: make([]domain.Product, 0, len(products)),
		index:    make(map[string]int, len(products)),
	}
	for i, p := range products {
		if err := validateProduct(p); err != nil {
			return nil, fmt.Errorf("product[%d]: %w", i, err)
		}
		if _, exists := c.index[p.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.ID)
		}
		c.index[p.ID] = len(c.products)
		c.products = append(c.products, cloneProduct(p))
	}

	return c, nil
}

// MustNew работает как New, но паникует при ошибке. Для статических данных.
func MustNew(products []domain.Product) *Catalog {
	c, err := New(products)
	if err != nil {
		panic(err)
	}
	return c
}

// FindProduct возвращает копию товара по идентификатору.
func (c *Catalog) FindProduct(id string) (domain.Product, bool) {
	idx, ok := c.index[id]
	if !ok {
		return domain.Product{}, false
	}
	return cloneProduct(c.products[idx]), true
}

// Products возвращает копию всех товаров в порядке каталога.
func (c *Catalog) Products() []domain.Product {
	result := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		result = append(result, cloneProduct(p))
	}
	return result
}

// ByCategory фильтрует товары по категории; пустая строка или "all" возвращают всё.
func (c *Catalog) ByCategory(category string) []domain.Product {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" || category == CategoryAll {
		return c.Products()
	}

	result := make([]domain.Product, 0)
	for _, p := range c.products {
		if strings.EqualFold(p.Category, category) {
			result = append(result, cloneProduct(p))
		}
	}
	return result
}

// Categories возвращает категории в порядке первого появления.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, p := range c.products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		result = append(result, p.Category)
	}
	return result
}

// Len возвращает количество товаров.
func (c *Catalog) Len() int {
	return len(c.products)
}

func validateProduct(p domain.Product) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case strings.Contains(p.ID, "_"):
		return fmt.Errorf("%w: id %q must not contain '_'", ErrInvalidProduct, p.ID)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidProduct, p.ID)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: %s: price must be non-negative", ErrInvalidProduct, p.ID)
	case p.Stock < 0:
		return fmt.Errorf("%w: %s: stock must be non-negative", ErrInvalidProduct, p.ID)
	case len(p.Sizes) == 0:
		return fmt.Errorf("%w: %s: at least one size is required", ErrInvalidProduct, p.ID)
	case len(p.Images) == 0:
		return fmt.Errorf("%w: %s: at least one image is required", ErrInvalidProduct, p.ID)
	}

	seen := make(map[string]struct{}, len(p.Sizes))
	for _, size := range p.Sizes {
		if strings.TrimSpace(size) == "" {
			return fmt.Errorf("%w: %s: empty size label", ErrInvalidProduct, p.ID)
		}
		if _, dup := seen[size]; dup {
			return fmt.Errorf("%w: %s: duplicate size %q", ErrInvalidProduct, p.ID, size)
		}
		seen[size] = struct{}{}
	}
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	p.Sizes = append([]string(nil), p.Sizes...)
	p.Images = append([]string(nil), p.Images...)
	return p
}

var _ domain.Catalog = (*Catalog)(nil)
