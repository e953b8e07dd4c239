package httpsvc

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not found", err: fmt.Errorf("add %q: %w", "p9", domain.ErrProductNotFound), wantStatus: http.StatusNotFound, wantCode: "product_not_found"},
		{name: "stock", err: fmt.Errorf("add p1_M: %w", domain.ErrInsufficientStock), wantStatus: http.StatusConflict, wantCode: "insufficient_stock"},
		{name: "quantity", err: domain.ErrInvalidQuantity, wantStatus: http.StatusUnprocessableEntity, wantCode: "invalid_quantity"},
		{name: "size", err: domain.ErrInvalidSize, wantStatus: http.StatusUnprocessableEntity, wantCode: "invalid_size"},
		{name: "validation", err: &domain.ValidationError{Fields: []string{"phone"}}, wantStatus: http.StatusUnprocessableEntity, wantCode: "validation_failed"},
		{name: "empty cart", err: domain.ErrEmptyCart, wantStatus: http.StatusConflict, wantCode: "empty_cart"},
		{name: "cart key", err: domain.ErrInvalidCartKey, wantStatus: http.StatusBadRequest, wantCode: "invalid_cart_key"},
		{name: "session", err: cart.ErrInvalidSessionID, wantStatus: http.StatusBadRequest, wantCode: "invalid_session"},
		{name: "unauthenticated", err: fmt.Errorf("%w: unknown token", domain.ErrUnauthenticated), wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "payment", err: domain.ErrPaymentDeclined, wantStatus: http.StatusPaymentRequired, wantCode: "payment_declined"},
		{name: "hash mismatch", err: domain.ErrIdempotencyHashMismatch, wantStatus: http.StatusConflict, wantCode: "idempotency_key_reused"},
		{name: "cart changed", err: fmt.Errorf("clear: %w", domain.ErrCartChanged), wantStatus: http.StatusConflict, wantCode: "cart_changed"},
		{name: "read failure", err: fmt.Errorf("load: %w: %w", domain.ErrPersistenceRead, errors.New("io")), wantStatus: http.StatusServiceUnavailable, wantCode: "storage_unavailable"},
		{name: "in progress", err: domain.ErrIdempotencyInProgress, wantStatus: http.StatusConflict, wantCode: "request_in_progress"},
		{name: "persistence", err: fmt.Errorf("add: %w", domain.ErrPersistenceWrite), wantStatus: http.StatusInternalServerError, wantCode: "persistence_write_failed"},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := httpStatusFromError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestNewErrorResponse_ValidationFields(t *testing.T) {
	status, resp := newErrorResponse(fmt.Errorf("checkout: %w", &domain.ValidationError{Fields: []string{"name", "address"}}))

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, []string{"name", "address"}, resp.Error.Fields)
}

func TestReleasesIdempotencyKey(t *testing.T) {
	assert.True(t, releasesIdempotencyKey(&domain.ValidationError{Fields: []string{"phone"}}))
	assert.True(t, releasesIdempotencyKey(domain.ErrEmptyCart))
	assert.True(t, releasesIdempotencyKey(domain.ErrInsufficientStock))
	assert.True(t, releasesIdempotencyKey(domain.ErrCartChanged))
	assert.False(t, releasesIdempotencyKey(domain.ErrPaymentDeclined))
	assert.False(t, releasesIdempotencyKey(errors.New("boom")))
}
