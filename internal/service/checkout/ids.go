package checkout

import (
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderIDPrefix начинает каждый номер заказа.
const OrderIDPrefix = "ORD-"

// UUIDGenerator выдаёт номера заказов на основе UUIDv7: они уникальны и
// упорядочены по времени создания.
type UUIDGenerator struct{}

// NewOrderID возвращает номер вида ORD-<uuidv7>.
func (UUIDGenerator) NewOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return OrderIDPrefix + id.String()
}

var _ domain.IDGenerator = UUIDGenerator{}
