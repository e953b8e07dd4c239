package httpsvc

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
)

type productView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Price       string   `json:"price"`
	Stock       int      `json:"stock"`
	Sizes       []string `json:"sizes"`
	Images      []string `json:"images"`
}

type catalogResponse struct {
	Category   string        `json:"category,omitempty"`
	Categories []string      `json:"categories"`
	Products   []productView `json:"products"`
}

type cartLineView struct {
	Key       string `json:"key"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
	Image     string `json:"image,omitempty"`
}

type cartView struct {
	Lines       []cartLineView `json:"lines"`
	ItemCount   int            `json:"item_count"`
	Subtotal    string         `json:"subtotal"`
	ShippingFee string         `json:"shipping_fee"`
	Total       string         `json:"total"`
}

// cartResponse отдаётся на чтение и изменение корзины. Warning заполняется,
// когда изменение применено, но снимок не сохранился.
type cartResponse struct {
	Cart    cartView   `json:"cart"`
	Warning *errorBody `json:"warning,omitempty"`
}

type orderLineView struct {
	Key       string `json:"key"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type customerView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Note    string `json:"note,omitempty"`
	Email   string `json:"email,omitempty"`
}

type orderView struct {
	OrderID       string          `json:"order_id"`
	Customer      customerView    `json:"customer"`
	Lines         []orderLineView `json:"lines"`
	ItemCount     int             `json:"item_count"`
	Subtotal      string          `json:"subtotal"`
	ShippingFee   string          `json:"shipping_fee"`
	Total         string          `json:"total"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type checkoutResponse struct {
	Order   orderView  `json:"order"`
	Warning *errorBody `json:"warning,omitempty"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity,omitempty"`
	Size      string `json:"size,omitempty"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type checkoutRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Note    string `json:"note,omitempty"`
}

type tasksResponse struct {
	Tasks []fulfillment.Task `json:"tasks"`
}

func newProductView(p domain.Product) productView {
	return productView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.StringFixed(2),
		Stock:       p.Stock,
		Sizes:       append([]string{}, p.Sizes...),
		Images:      append([]string{}, p.Images...),
	}
}

func newCartView(lines []domain.ResolvedLine, totals domain.Totals) cartView {
	view := cartView{
		Lines:       make([]cartLineView, 0, len(lines)),
		ItemCount:   totals.ItemCount,
		Subtotal:    totals.Subtotal.StringFixed(2),
		ShippingFee: totals.ShippingFee.StringFixed(2),
		Total:       totals.Total.StringFixed(2),
	}
	for _, line := range lines {
		item := cartLineView{
			Key:       line.Key.String(),
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		}
		if len(line.Product.Images) > 0 {
			item.Image = line.Product.Images[0]
		}
		view.Lines = append(view.Lines, item)
	}
	return view
}

func newOrderView(order domain.Order) orderView {
	view := orderView{
		OrderID: order.ID,
		Customer: customerView{
			Name:    order.Customer.Name,
			Address: order.Customer.Address,
			Phone:   order.Customer.Phone,
			Note:    order.Customer.Note,
			Email:   order.Customer.Email,
		},
		Lines:         make([]orderLineView, 0, len(order.Lines)),
		ItemCount:     order.ItemCount(),
		Subtotal:      order.Subtotal.StringFixed(2),
		ShippingFee:   order.ShippingFee.StringFixed(2),
		Total:         order.Total.StringFixed(2),
		PaymentStatus: string(order.PaymentStatus),
		CreatedAt:     order.CreatedAt,
	}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, orderLineView{
			Key:       line.Key,
			ProductID: line.ProductID,
			Name:      line.Name,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		})
	}
	return view
}
