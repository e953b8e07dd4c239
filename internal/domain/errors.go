package domain

import (
	"errors"
	"strings"
)

var (
	// ErrProductNotFound — товар с таким идентификатором отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — запрошенное количество превышает доступный сток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity — количество для добавления должно быть положительным.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInvalidSize — размер не объявлен у товара.
	ErrInvalidSize = errors.New("size is not offered for product")
	// ErrInvalidCartKey — ключ позиции корзины не удалось разобрать.
	ErrInvalidCartKey = errors.New("invalid cart key")
	// ErrValidation — не заполнены обязательные поля оформления заказа.
	ErrValidation = errors.New("validation failed")
	// ErrEmptyCart — попытка оформить заказ с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrPersistenceWrite — не удалось записать снимок корзины в хранилище.
	// Состояние в памяти при этом остаётся актуальным.
	ErrPersistenceWrite = errors.New("cart persistence write failed")
	// ErrPersistenceRead — хранилище не ответило при чтении снимка корзины.
	// Пока чтение не удалось, корзина не принимает изменений.
	ErrPersistenceRead = errors.New("cart persistence read failed")
	// ErrCartChanged — корзина изменилась, пока проводилась оплата; заказ не оформлен.
	ErrCartChanged = errors.New("cart changed during checkout")
	// ErrCorruptPersistedState — сохранённый снимок не парсится; наружу не отдаётся.
	ErrCorruptPersistedState = errors.New("corrupt persisted cart state")
	// ErrPaymentDeclined — симулированный платёж отклонён.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrUnauthenticated — пользователь не прошёл вход перед оплатой.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrUserNotFound — профиль пользователя отсутствует.
	ErrUserNotFound = errors.New("user not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyInProgress          = errors.New("request with the same idempotency key is still processing")
)

// ValidationError перечисляет незаполненные поля формы доставки.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": missing " + strings.Join(e.Fields, ", ")
}

// Is позволяет сравнивать ValidationError с ErrValidation через errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsPersistenceFailure сообщает, что мутация применена в памяти, но не сохранена.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistenceWrite)
}

// IsIdempotencyConflict проверяет, что ключ уже использовался.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
