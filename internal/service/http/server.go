package httpsvc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	// HeaderSessionID несёт идентификатор сессии покупателя.
	HeaderSessionID = "X-Session-ID"
	// HeaderIdempotencyKey защищает оформление заказа от повторной отправки.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из хранилища ключей.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxRequestBodyBytes = 64 << 10
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Total number of storefront API requests grouped by route and status code.",
	}, []string{"route", "code"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "Storefront API request latency grouped by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Catalog отдаёт товары витрины.
type Catalog interface {
	Categories() []string
	ByCategory(category string) []domain.Product
}

// Authenticator проверяет заголовок Authorization перед оформлением заказа.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (auth.Identity, error)
}

// Config собирает зависимости HTTP API. Auth, Idempotency и Board необязательны.
type Config struct {
	Catalog     Catalog
	Carts       *cart.Registry
	Checkout    *checkout.Orchestrator
	Auth        Authenticator
	Idempotency *idempotency.Guard
	Board       *fulfillment.Board
	Logger      *log.Entry
}

// Handler обслуживает JSON API витрины: каталог, корзина сессии и оформление заказа.
type Handler struct {
	catalog  Catalog
	carts    *cart.Registry
	checkout *checkout.Orchestrator
	auth     Authenticator
	guard    *idempotency.Guard
	board    *fulfillment.Board
	logger   *log.Entry
	mux      *http.ServeMux
}

// NewHandler создаёт HTTP API и регистрирует маршруты.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	h := &Handler{
		catalog:  cfg.Catalog,
		carts:    cfg.Carts,
		checkout: cfg.Checkout,
		auth:     cfg.Auth,
		guard:    cfg.Idempotency,
		board:    cfg.Board,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/catalog", h.handleCatalog)
	h.mux.HandleFunc("GET /v1/cart", h.handleGetCart)
	h.mux.HandleFunc("DELETE /v1/cart", h.handleClearCart)
	h.mux.HandleFunc("POST /v1/cart/items", h.handleAddItem)
	h.mux.HandleFunc("PUT /v1/cart/items/{key}", h.handleSetQuantity)
	h.mux.HandleFunc("DELETE /v1/cart/items/{key}", h.handleRemoveItem)
	h.mux.HandleFunc("POST /v1/checkout", h.requireIdentity(h.handleCheckout))
	if h.board != nil {
		h.mux.HandleFunc("GET /v1/fulfillment/tasks", h.handleTasks)
	}
	return h
}

// ServeHTTP обрабатывает запрос и пишет access-лог и метрики.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	h.mux.ServeHTTP(rec, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(start)
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

	h.logger.WithFields(log.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      rec.status,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("http request handled")
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	products := h.catalog.ByCategory(category)

	resp := catalogResponse{
		Category:   category,
		Categories: h.catalog.Categories(),
		Products:   make([]productView, 0, len(products)),
	}
	for _, p := range products {
		resp.Products = append(resp.Products, newProductView(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}
	h.writeCart(w, r, store, nil)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	h.writeCart(w, r, store, store.Add(strings.TrimSpace(req.ProductID), quantity, strings.TrimSpace(req.Size)))
}

func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}
	key, err := domain.ParseCartKey(r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req setQuantityRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCart(w, r, store, store.SetQuantity(key, req.Quantity))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}
	key, err := domain.ParseCartKey(r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeCart(w, r, store, store.Remove(key))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}
	h.writeCart(w, r, store, store.Clear())
}

// requireIdentity пропускает запрос дальше только после входа пользователя;
// личность кладётся в context запроса. Без authenticator запрос проходит как есть.
func (h *Handler) requireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil {
			next(w, r)
			return
		}
		identity, err := h.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	}
}

// handleCheckout оформляет заказ от имени пользователя из context. С заголовком
// Idempotency-Key повтор того же запроса получает сохранённый ответ.
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	store, ok := h.sessionCart(w, r)
	if !ok {
		return
	}

	var customer domain.CustomerInfo
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		customer.Email = identity.Email
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, r, errInvalidRequest)
		return
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, errInvalidRequest)
		return
	}
	customer.Name = req.Name
	customer.Address = req.Address
	customer.Phone = req.Phone
	customer.Note = req.Note

	run := func() idempotency.Outcome {
		return h.finalize(r.Context(), store, customer)
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.guard == nil {
		outcome := run()
		writeRaw(w, outcome.StatusCode, outcome.Body)
		return
	}

	outcome, replayed, err := h.guard.Do(key, idempotency.RequestHash(r.Method+" "+sessionID, body), run)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	writeRaw(w, outcome.StatusCode, outcome.Body)
}

func (h *Handler) finalize(ctx context.Context, store *cart.Store, customer domain.CustomerInfo) idempotency.Outcome {
	order, err := h.checkout.Finalize(ctx, store, customer)
	if err != nil && !domain.IsPersistenceFailure(err) {
		status, resp := newErrorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("checkout failed")
		}
		return idempotency.Outcome{
			StatusCode: status,
			Body:       mustMarshal(resp),
			Failed:     true,
			Release:    releasesIdempotencyKey(err),
		}
	}

	resp := checkoutResponse{Order: newOrderView(order)}
	if err != nil {
		resp.Warning = warningFor(err)
	}
	return idempotency.Outcome{StatusCode: http.StatusCreated, Body: mustMarshal(resp)}
}

func (h *Handler) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: h.board.Tasks()})
}

func (h *Handler) sessionCart(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	store, err := h.carts.Get(r.Header.Get(HeaderSessionID))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return store, true
}

// writeCart отвечает текущим состоянием корзины. Ошибка записи снимка не отменяет
// изменение и возвращается как предупреждение; остальные ошибки пишутся как есть.
func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, store *cart.Store, opErr error) {
	if opErr != nil && !domain.IsPersistenceFailure(opErr) {
		h.writeError(w, r, opErr)
		return
	}

	resp := cartResponse{Cart: newCartView(store.Lines(), store.Totals())}
	if opErr != nil {
		h.logger.WithError(opErr).WithField("slot", store.SlotKey()).Warn("cart change kept in memory only")
		resp.Warning = warningFor(opErr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := newErrorResponse(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, resp)
}

func warningFor(err error) *errorBody {
	_, code, message := httpStatusFromError(err)
	return &errorBody{Code: code, Message: message}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errInvalidRequest
		}
		return errors.Join(errInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeRaw(w, status, mustMarshal(v))
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// mustMarshal кодирует ответ; все типы ответов состоят из строк, чисел и срезов.
func mustMarshal(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":{"code":"internal","message":"internal error"}}`)
	}
	return append(body, '\n')
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
