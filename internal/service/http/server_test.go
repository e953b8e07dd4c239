package httpsvc

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const testToken = "tok-ana"

type flakySlots struct {
	*memory.SlotStorage
	mu       sync.Mutex
	fail     bool
	failRead bool
}

func (f *flakySlots) setFailRead(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRead = fail
}

func (f *flakySlots) Read(key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail := f.failRead
	f.mu.Unlock()
	if fail {
		return nil, false, errors.New("connection reset")
	}
	return f.SlotStorage.Read(key)
}

func (f *flakySlots) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *flakySlots) Write(key string, value []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.SlotStorage.Write(key, value)
}

type apiFixture struct {
	handler  *Handler
	slots    *flakySlots
	board    *fulfillment.Board
	payments *payment.MockService
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()

	cat := catalog.Default()
	slots := &flakySlots{SlotStorage: memory.NewSlotStorage()}
	payments := payment.NewMockService()
	board := fulfillment.NewBoard()
	verifier := auth.NewStaticVerifier(map[string]auth.Identity{
		testToken:    {UID: "u-1", Email: "ana@example.com", Name: "Ana"},
		"tok-nomail": {UID: "u-2", Name: "Luis"},
	})

	h := NewHandler(Config{
		Catalog:     cat,
		Carts:       cart.NewRegistry(cat, slots, nil, nil),
		Checkout:    checkout.NewOrchestrator(checkout.UUIDGenerator{}, payments),
		Auth:        auth.NewGate(verifier, memory.NewUserRepository(), nil),
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil),
		Board:       board,
	})
	return apiFixture{handler: h, slots: slots, board: board, payments: payments}
}

type requestOption func(*http.Request)

func withSession(id string) requestOption {
	return func(r *http.Request) { r.Header.Set(HeaderSessionID, id) }
}

func withToken(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withIdempotencyKey(key string) requestOption {
	return func(r *http.Request) { r.Header.Set(HeaderIdempotencyKey, key) }
}

func (f apiFixture) do(t *testing.T, method, target, body string, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const validCheckout = `{"name":"Ana Pérez","address":"Av. Bolívar 12","phone":"0414-0000000"}`

func TestCatalog_ListsAllAndFiltersByCategory(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[catalogResponse](t, rec)
	require.Len(t, all.Products, 7)
	assert.Equal(t, []string{"franelas", "tazas", "agendas"}, all.Categories)
	assert.Equal(t, "p1", all.Products[0].ID)
	assert.Equal(t, "25.00", all.Products[0].Price)

	rec = f.do(t, http.MethodGet, "/v1/catalog?category=tazas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mugs := decode[catalogResponse](t, rec)
	require.Len(t, mugs.Products, 4)
	for _, p := range mugs.Products {
		assert.Equal(t, "tazas", p.Category)
	}
}

func TestCart_RequiresSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/cart", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_session", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("bad/session"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCart_AddDefaultsAndTotals(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1"}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[cartResponse](t, rec)
	assert.Nil(t, resp.Warning)
	require.Len(t, resp.Cart.Lines, 1)
	assert.Equal(t, "p1_S", resp.Cart.Lines[0].Key)
	assert.Equal(t, 1, resp.Cart.Lines[0].Quantity)
	assert.Equal(t, "25.00", resp.Cart.Subtotal)
	assert.Equal(t, "6.00", resp.Cart.ShippingFee)
	assert.Equal(t, "31.00", resp.Cart.Total)

	rec = f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1","quantity":1,"size":"S"}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[cartResponse](t, rec).Cart.ItemCount)

	// другая сессия получает свою корзину
	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s2"))
	require.Equal(t, http.StatusOK, rec.Code)
	other := decode[cartResponse](t, rec)
	assert.Zero(t, other.Cart.ItemCount)
	assert.Equal(t, "0.00", other.Cart.Total)
	assert.Empty(t, other.Cart.Lines)
}

func TestCart_AddRejections(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p7","quantity":40,"size":"A4"}`, withSession("s1")).Code)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "over stock", body: `{"product_id":"p7","quantity":1,"size":"A4"}`, wantStatus: http.StatusConflict, wantCode: "insufficient_stock"},
		{name: "unknown product", body: `{"product_id":"p99"}`, wantStatus: http.StatusNotFound, wantCode: "product_not_found"},
		{name: "zero quantity", body: `{"product_id":"p1","quantity":0}`, wantStatus: http.StatusUnprocessableEntity, wantCode: "invalid_quantity"},
		{name: "unknown size", body: `{"product_id":"p1","size":"XS"}`, wantStatus: http.StatusUnprocessableEntity, wantCode: "invalid_size"},
		{name: "broken json", body: `{"product_id":`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "unknown field", body: `{"product":"p1"}`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _, err := f.slots.Read(cart.SlotKey("s1"))
			require.NoError(t, err)

			rec := f.do(t, http.MethodPost, "/v1/cart/items", tt.body, withSession("s1"))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[errorResponse](t, rec).Error.Code)

			after, _, err := f.slots.Read(cart.SlotKey("s1"))
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after))
		})
	}
}

func TestCart_SetRemoveClear(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1","quantity":2,"size":"M"}`, withSession("s1")).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p3"}`, withSession("s1")).Code)

	rec := f.do(t, http.MethodPut, "/v1/cart/items/p1_M", `{"quantity":5}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 6, decode[cartResponse](t, rec).Cart.ItemCount)

	rec = f.do(t, http.MethodPut, "/v1/cart/items/p1_M", `{"quantity":51}`, withSession("s1"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/cart/items/p1_M", `{"quantity":0}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[cartResponse](t, rec)
	require.Len(t, resp.Cart.Lines, 1)
	assert.Equal(t, "p3_Única", resp.Cart.Lines[0].Key)

	rec = f.do(t, http.MethodPut, "/v1/cart/items/p1", `{"quantity":1}`, withSession("s1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_cart_key", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodDelete, "/v1/cart/items/p3_%C3%9Anica", "", withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[cartResponse](t, rec).Cart.ItemCount)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p4"}`, withSession("s1")).Code)
	rec = f.do(t, http.MethodDelete, "/v1/cart", "", withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[cartResponse](t, rec).Cart.ItemCount)

	raw, found, err := f.slots.Read(cart.SlotKey("s1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "{}", string(raw))
}

func TestCart_ReadFailureAnswersUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	saved := `{"p1_M":{"quantity":3,"size":"M"}}`
	require.NoError(t, f.slots.SlotStorage.Write(cart.SlotKey("s1"), []byte(saved)))
	f.slots.setFailRead(true)

	rec := f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage_unavailable", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p3"}`, withSession("s1"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	raw, _, err := f.slots.SlotStorage.Read(cart.SlotKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, saved, string(raw))

	f.slots.setFailRead(false)
	rec = f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p3"}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decode[cartResponse](t, rec).Cart.ItemCount)
}

func TestCart_PersistenceFailureKeepsChange(t *testing.T) {
	f := newAPIFixture(t)
	f.slots.setFail(true)

	rec := f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p2","size":"L"}`, withSession("s1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[cartResponse](t, rec)
	require.NotNil(t, resp.Warning)
	assert.Equal(t, "persistence_write_failed", resp.Warning.Code)
	assert.Equal(t, 1, resp.Cart.ItemCount)

	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	assert.Equal(t, 1, decode[cartResponse](t, rec).Cart.ItemCount)
}

func TestCheckout_RequiresSignIn(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1"}`, withSession("s1")).Code)

	rec := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken("forged"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, f.payments.Calls())
	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	assert.Equal(t, 1, decode[cartResponse](t, rec).Cart.ItemCount)
}

func TestCheckout_RejectsAccountWithoutEmail(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1"}`, withSession("s1")).Code)

	rec := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken("tok-nomail"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[errorResponse](t, rec).Error.Code)
	assert.Zero(t, f.payments.Calls())

	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	assert.Equal(t, 1, decode[cartResponse](t, rec).Cart.ItemCount)
}

func TestRequireIdentity_PutsIdentityIntoContext(t *testing.T) {
	f := newAPIFixture(t)

	var got auth.Identity
	var ok bool
	next := f.handler.requireIdentity(func(w http.ResponseWriter, r *http.Request) {
		got, ok = auth.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	next(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok)
	assert.Equal(t, "u-1", got.UID)
	assert.Equal(t, "ana@example.com", got.Email)
}

func TestCheckout_Success(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p1","quantity":2,"size":"M"}`, withSession("s1")).Code)

	rec := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[checkoutResponse](t, rec)
	assert.Nil(t, resp.Warning)
	assert.Contains(t, resp.Order.OrderID, checkout.OrderIDPrefix)
	assert.Equal(t, "50.00", resp.Order.Subtotal)
	assert.Equal(t, "56.00", resp.Order.Total)
	assert.Equal(t, 2, resp.Order.ItemCount)
	assert.Equal(t, "captured", resp.Order.PaymentStatus)
	assert.Equal(t, "ana@example.com", resp.Order.Customer.Email)
	require.Len(t, resp.Order.Lines, 1)
	assert.Equal(t, "p1_M", resp.Order.Lines[0].Key)

	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	assert.Zero(t, decode[cartResponse](t, rec).Cart.ItemCount)
	assert.True(t, f.payments.LastAmount.Equal(decimal.RequireFromString("56")))
}

func TestCheckout_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "empty_cart", decode[errorResponse](t, rec).Error.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p3"}`, withSession("s1")).Code)

	rec = f.do(t, http.MethodPost, "/v1/checkout", `{"name":"Ana","address":"   ","phone":""}`, withSession("s1"), withToken(testToken))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "validation_failed", body.Error.Code)
	assert.Equal(t, []string{"address", "phone"}, body.Error.Fields)

	rec = f.do(t, http.MethodPost, "/v1/checkout", `not json`, withSession("s1"), withToken(testToken))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/cart", "", withSession("s1"))
	assert.Equal(t, 1, decode[cartResponse](t, rec).Cart.ItemCount)
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p4","quantity":2}`, withSession("s1")).Code)

	first := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken), withIdempotencyKey("idem-1"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplay))

	second := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken), withIdempotencyKey("idem-1"))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.payments.Calls())

	other := f.do(t, http.MethodPost, "/v1/checkout", `{"name":"Luis","address":"Calle 1","phone":"1"}`, withSession("s1"), withToken(testToken), withIdempotencyKey("idem-1"))
	require.Equal(t, http.StatusConflict, other.Code)
	assert.Equal(t, "idempotency_key_reused", decode[errorResponse](t, other).Error.Code)
}

func TestCheckout_ValidationReleasesIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p5"}`, withSession("s1")).Code)

	rec := f.do(t, http.MethodPost, "/v1/checkout", `{"name":"Ana"}`, withSession("s1"), withToken(testToken), withIdempotencyKey("idem-2"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken), withIdempotencyKey("idem-2"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(HeaderIdempotentReplay))
}

func TestCheckout_PersistenceFailureStillReturnsOrder(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/cart/items", `{"product_id":"p6"}`, withSession("s1")).Code)
	f.slots.setFail(true)

	rec := f.do(t, http.MethodPost, "/v1/checkout", validCheckout, withSession("s1"), withToken(testToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[checkoutResponse](t, rec)
	require.NotNil(t, resp.Warning)
	assert.Equal(t, "persistence_write_failed", resp.Warning.Code)
	assert.Equal(t, "22.00", resp.Order.Total)
}

func TestFulfillmentTasks(t *testing.T) {
	f := newAPIFixture(t)
	require.True(t, f.board.Add(fulfillment.Task{OrderID: "ORD-1", Name: "Ana", Phone: "1", Total: "31.00"}))

	rec := f.do(t, http.MethodGet, "/v1/fulfillment/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[tasksResponse](t, rec)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "ORD-1", resp.Tasks[0].OrderID)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/orders", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPatch, "/v1/cart", "", withSession("s1")).Code)
}
