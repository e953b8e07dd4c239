package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Catalog — справочник товаров, только чтение.
type Catalog interface {
	// FindProduct возвращает товар по идентификатору; ok=false, если его нет.
	FindProduct(id string) (Product, bool)
	// Products возвращает товары в порядке каталога.
	Products() []Product
}

// SlotStorage — долговременное key-value хранилище одного снимка корзины на ключ.
type SlotStorage interface {
	// Read возвращает сырое значение; found=false, если ключа нет.
	Read(key string) (value []byte, found bool, err error)
	// Write перезаписывает значение целиком.
	Write(key string, value []byte) error
}

// IDGenerator выдаёт уникальные идентификаторы заказов.
type IDGenerator interface {
	NewOrderID() string
}

// PaymentService описывает платёжный шаг оформления заказа.
type PaymentService interface {
	// Pay проводит оплату заказа на указанную сумму. Отмена ctx прерывает ожидание шлюза.
	Pay(ctx context.Context, orderID string, amount decimal.Decimal) (PaymentStatus, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки checkout по Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, statusCode int) error
	MarkFailed(key string, responseBody []byte, statusCode int) error
	// Delete освобождает ключ, чтобы клиент мог повторить исправленный запрос.
	Delete(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// UserRepository хранит профили вошедших пользователей.
type UserRepository interface {
	// Upsert создаёт профиль или сливает новые значения с существующим.
	Upsert(profile UserProfile) error
	Get(uid string) (UserProfile, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
