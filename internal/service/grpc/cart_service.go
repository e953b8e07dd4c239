package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	sessionIDHeader      = "x-session-id"
	idempotencyKeyHeader = "idempotency-key"
	authorizationHeader  = "authorization"
)

// Catalog отдаёт список категорий и товары по категории.
type Catalog interface {
	Categories() []string
	ByCategory(category string) []domain.Product
}

// Authenticator проверяет authorization metadata перед оформлением заказа.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (auth.Identity, error)
}

// CartService реализует storefront.v1.CartService поверх реестра корзин и оркестратора.
type CartService struct {
	catalog  Catalog
	carts    *cart.Registry
	checkout *checkout.Orchestrator
	auth     Authenticator
	guard    *idempotency.Guard
	logger   *log.Entry
}

// Option настраивает CartService.
type Option func(*CartService)

// WithAuthenticator включает проверку входа перед Checkout.
func WithAuthenticator(a Authenticator) Option {
	return func(s *CartService) {
		s.auth = a
	}
}

// WithIdempotency включает повтор ответа Checkout по idempotency-key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *CartService) {
		s.guard = guard
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *CartService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCartService конструирует сервис с зависимостями.
func NewCartService(catalog Catalog, carts *cart.Registry, orchestrator *checkout.Orchestrator, opts ...Option) *CartService {
	s := &CartService{
		catalog:  catalog,
		carts:    carts,
		checkout: orchestrator,
		logger:   log.New().WithField("component", "cart-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListProducts возвращает товары каталога и список категорий; поле category фильтрует по категории.
func (s *CartService) ListProducts(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	products := s.catalog.ByCategory(stringField(req, "category"))
	items := make([]any, 0, len(products))
	for _, p := range products {
		items = append(items, productFields(p))
	}
	categories := make([]any, 0)
	for _, c := range s.catalog.Categories() {
		categories = append(categories, c)
	}
	return newStruct(map[string]any{"categories": categories, "products": items})
}

// GetCart возвращает корзину сессии из metadata x-session-id.
func (s *CartService) GetCart(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store, nil)
}

// AddItem добавляет товар: product_id, quantity (по умолчанию 1), size (по умолчанию первый).
func (s *CartService) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}
	quantity, err := intField(req, "quantity", 1)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store, store.Add(stringField(req, "product_id"), quantity, stringField(req, "size")))
}

// SetQuantity перезаписывает количество позиции key; quantity <= 0 удаляет её.
func (s *CartService) SetQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}
	key, err := cartKeyField(req)
	if err != nil {
		return nil, err
	}
	quantity, err := intField(req, "quantity", 0)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store, store.SetQuantity(key, quantity))
}

// RemoveItem удаляет позицию key.
func (s *CartService) RemoveItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}
	key, err := cartKeyField(req)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store, store.Remove(key))
}

// ClearCart очищает корзину сессии.
func (s *CartService) ClearCart(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}
	return s.cartResponse(store, store.Clear())
}

// Checkout оформляет заказ по корзине сессии. Поля запроса: name, address, phone, note.
func (s *CartService) Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	sessionID := metadataValue(ctx, sessionIDHeader)
	store, err := s.sessionCart(ctx)
	if err != nil {
		return nil, err
	}

	ctx, err = s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	var customer domain.CustomerInfo
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		customer.Email = identity.Email
	}
	customer.Name = stringField(req, "name")
	customer.Address = stringField(req, "address")
	customer.Phone = stringField(req, "phone")
	customer.Note = stringField(req, "note")

	key := metadataValue(ctx, idempotencyKeyHeader)
	if key == "" || s.guard == nil {
		return s.finalize(ctx, store, customer)
	}

	requestHash, err := buildIdempotencyRequestHash(fullMethod(methodCheckout)+":"+sessionID, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "failed to hash request")
	}

	outcome, replayed, err := s.guard.Do(key, requestHash, func() idempotency.Outcome {
		resp, runErr := s.finalize(ctx, store, customer)
		return s.outcomeOf(resp, runErr)
	})
	if err != nil {
		return nil, grpcStatusFromError(err)
	}
	if replayed {
		s.logger.WithField("idempotency_key", key).Debug("checkout response replayed")
	}
	return decodeOutcome(outcome)
}

// authenticate проверяет токен из metadata и кладёт личность пользователя в context.
func (s *CartService) authenticate(ctx context.Context) (context.Context, error) {
	if s.auth == nil {
		return ctx, nil
	}
	identity, err := s.auth.Authenticate(ctx, metadataValue(ctx, authorizationHeader))
	if err != nil {
		return ctx, grpcStatusFromError(err)
	}
	return auth.ContextWithIdentity(ctx, identity), nil
}

func (s *CartService) finalize(ctx context.Context, store *cart.Store, customer domain.CustomerInfo) (*structpb.Struct, error) {
	order, err := s.checkout.Finalize(ctx, store, customer)
	if err != nil && !domain.IsPersistenceFailure(err) {
		return nil, grpcStatusFromError(err)
	}

	fields := map[string]any{"order": orderFields(order)}
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("order confirmed but cart was not persisted")
		fields["warning"] = "persistence_write_failed"
	}
	return newStruct(fields)
}

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (s *CartService) outcomeOf(resp *structpb.Struct, runErr error) idempotency.Outcome {
	if runErr != nil {
		st := status.Convert(runErr)
		payload, err := json.Marshal(idempotencyErrorPayload{
			Code:    int32(st.Code()), //nolint:gosec // codes.Code is a bounded enum value.
			Message: st.Message(),
		})
		if err != nil {
			s.logger.WithError(err).Warn("failed to encode idempotency failure payload")
		}
		return idempotency.Outcome{
			StatusCode: int(st.Code()),
			Body:       payload,
			Failed:     true,
			Release:    st.Code() == codes.InvalidArgument || st.Code() == codes.FailedPrecondition,
		}
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode idempotent checkout response")
	}
	return idempotency.Outcome{StatusCode: int(codes.OK), Body: body}
}

// decodeOutcome восстанавливает ответ или ошибку из сохранённого Outcome.
func decodeOutcome(outcome idempotency.Outcome) (*structpb.Struct, error) {
	if outcome.Failed {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(outcome.Body, &payload); err != nil || payload.Code <= 0 || payload.Code > int32(codes.Unauthenticated) {
			return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
		}
		return nil, status.Error(codes.Code(uint32(payload.Code)), payload.Message) //nolint:gosec // checked range above.
	}
	if len(outcome.Body) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	resp := new(structpb.Struct)
	if err := protojson.Unmarshal(outcome.Body, resp); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return resp, nil
}

func (s *CartService) sessionCart(ctx context.Context) (*cart.Store, error) {
	store, err := s.carts.Get(metadataValue(ctx, sessionIDHeader))
	if errors.Is(err, cart.ErrInvalidSessionID) {
		return nil, status.Error(codes.InvalidArgument, "x-session-id metadata is missing or malformed")
	}
	if err != nil {
		s.logger.WithError(err).Warn("open session cart failed")
		return nil, grpcStatusFromError(err)
	}
	return store, nil
}

// cartResponse отвечает состоянием корзины. Сбой записи снимка не отменяет
// изменение и отдаётся полем warning.
func (s *CartService) cartResponse(store *cart.Store, opErr error) (*structpb.Struct, error) {
	if opErr != nil && !domain.IsPersistenceFailure(opErr) {
		return nil, grpcStatusFromError(opErr)
	}
	fields := map[string]any{"cart": cartFields(store.Lines(), store.Totals())}
	if opErr != nil {
		s.logger.WithError(opErr).WithField("slot", store.SlotKey()).Warn("cart change kept in memory only")
		fields["warning"] = "persistence_write_failed"
	}
	return newStruct(fields)
}

func metadataValue(ctx context.Context, name string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(name)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	return idempotency.RequestHash(method, data), nil
}

var _ CartServiceServer = (*CartService)(nil)
