package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// grpcStatusFromError переводит доменную ошибку в gRPC статус.
func grpcStatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	case errors.Is(err, domain.ErrPersistenceRead):
		return status.Error(codes.Unavailable, "cart storage is unavailable, retry later")
	case errors.Is(err, domain.ErrProductNotFound):
		return status.Error(codes.NotFound, "product not found")
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, "requested quantity exceeds available stock")
	case errors.Is(err, domain.ErrEmptyCart):
		return status.Error(codes.FailedPrecondition, "cart is empty")
	case errors.Is(err, domain.ErrCartChanged):
		return status.Error(codes.FailedPrecondition, "cart changed during checkout, review it and retry")
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidSize),
		errors.Is(err, domain.ErrInvalidCartKey),
		errors.Is(err, cart.ErrInvalidSessionID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "sign in before checkout")
	case errors.Is(err, domain.ErrPaymentDeclined):
		return status.Error(codes.Aborted, "payment was declined")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	value, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

// intField читает целое поле; отсутствие поля даёт def.
func intField(req *structpb.Struct, name string, def int) (int, error) {
	if req == nil {
		return def, nil
	}
	value, ok := req.GetFields()[name]
	if !ok {
		return def, nil
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) ||
		number.NumberValue > math.MaxInt32 || number.NumberValue < math.MinInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", name)
	}
	return int(number.NumberValue), nil
}

func cartKeyField(req *structpb.Struct) (domain.CartKey, error) {
	key, err := domain.ParseCartKey(stringField(req, "key"))
	if err != nil {
		return domain.CartKey{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return key, nil
}

func stringsToValues(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func productFields(p domain.Product) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"category":    p.Category,
		"price":       p.Price.StringFixed(2),
		"stock":       p.Stock,
		"sizes":       stringsToValues(p.Sizes),
		"images":      stringsToValues(p.Images),
	}
}

func cartFields(lines []domain.ResolvedLine, totals domain.Totals) map[string]any {
	items := make([]any, 0, len(lines))
	for _, line := range lines {
		items = append(items, map[string]any{
			"key":        line.Key.String(),
			"product_id": line.Product.ID,
			"name":       line.Product.Name,
			"size":       line.Size,
			"quantity":   line.Quantity,
			"unit_price": line.Product.Price.StringFixed(2),
			"line_total": line.LineTotal.StringFixed(2),
		})
	}
	return map[string]any{
		"lines":        items,
		"item_count":   totals.ItemCount,
		"subtotal":     totals.Subtotal.StringFixed(2),
		"shipping_fee": totals.ShippingFee.StringFixed(2),
		"total":        totals.Total.StringFixed(2),
	}
}

func orderFields(order domain.Order) map[string]any {
	lines := make([]any, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, map[string]any{
			"key":        line.Key,
			"product_id": line.ProductID,
			"name":       line.Name,
			"size":       line.Size,
			"quantity":   line.Quantity,
			"unit_price": line.UnitPrice.StringFixed(2),
			"line_total": line.LineTotal.StringFixed(2),
		})
	}
	return map[string]any{
		"order_id": order.ID,
		"customer": map[string]any{
			"name":    order.Customer.Name,
			"address": order.Customer.Address,
			"phone":   order.Customer.Phone,
			"note":    order.Customer.Note,
			"email":   order.Customer.Email,
		},
		"lines":          lines,
		"item_count":     order.ItemCount(),
		"subtotal":       order.Subtotal.StringFixed(2),
		"shipping_fee":   order.ShippingFee.StringFixed(2),
		"total":          order.Total.StringFixed(2),
		"payment_status": string(order.PaymentStatus),
		"created_at":     order.CreatedAt.Format(time.RFC3339),
	}
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("build response: %v", err))
	}
	return out, nil
}
