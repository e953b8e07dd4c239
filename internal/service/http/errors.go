package httpsvc

import (
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// errInvalidRequest: тело запроса не удалось разобрать.
var errInvalidRequest = errors.New("invalid request body")

// errorBody сериализует ошибку API.
type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// httpStatusFromError сопоставляет доменную ошибку HTTP-статусу и коду для клиента.
func httpStatusFromError(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusOK, "", ""
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found", "product not found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock", "requested quantity exceeds available stock"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, "invalid_quantity", "quantity must be greater than zero"
	case errors.Is(err, domain.ErrInvalidSize):
		return http.StatusUnprocessableEntity, "invalid_size", "size is not offered for product"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed", "shipping details are incomplete"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusConflict, "empty_cart", "cart is empty"
	case errors.Is(err, domain.ErrInvalidCartKey):
		return http.StatusBadRequest, "invalid_cart_key", "cart key must look like productId_size"
	case errors.Is(err, cart.ErrInvalidSessionID):
		return http.StatusBadRequest, "invalid_session", "X-Session-ID header is missing or malformed"
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request", "request body is not valid JSON"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "sign in before checkout"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined", "payment was declined"
	case errors.Is(err, domain.ErrCartChanged):
		return http.StatusConflict, "cart_changed", "cart changed during checkout, review it and retry"
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, "idempotency_key_reused", "idempotency key was used with a different request"
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return http.StatusConflict, "request_in_progress", "request with the same idempotency key is still processing"
	case errors.Is(err, domain.ErrPersistenceRead):
		return http.StatusServiceUnavailable, "storage_unavailable", "cart storage is unavailable, retry later"
	case errors.Is(err, domain.ErrPersistenceWrite):
		return http.StatusInternalServerError, "persistence_write_failed", "cart was updated but could not be saved"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

// newErrorResponse строит тело ответа для ошибки; ValidationError добавляет список полей.
func newErrorResponse(err error) (int, errorResponse) {
	status, code, message := httpStatusFromError(err)
	body := errorBody{Code: code, Message: message}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		body.Fields = append([]string(nil), validationErr.Fields...)
	}
	return status, errorResponse{Error: body}
}

// releasesIdempotencyKey сообщает, что ошибка исправима клиентом и ключ можно использовать повторно.
func releasesIdempotencyKey(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrEmptyCart) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrCartChanged)
}
