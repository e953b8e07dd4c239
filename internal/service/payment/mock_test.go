package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestSimulatedServiceAlwaysCaptures(t *testing.T) {
	svc := NewSimulatedService(nil)

	for _, amount := range []string{"0", "6.00", "1234.56"} {
		status, err := svc.Pay(context.Background(), "ORD-1", decimal.RequireFromString(amount))
		if err != nil {
			t.Fatalf("unexpected pay error: %v", err)
		}
		if status != domain.PaymentStatusCaptured {
			t.Fatalf("unexpected pay status: %s", status)
		}
	}
}

func TestSimulatedServiceRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSimulatedService(nil).Pay(ctx, "ORD-1", decimal.NewFromInt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMockService(t *testing.T) {
	mock := NewMockService()
	if mock == nil {
		t.Fatal("expected non-nil mock")
	}

	status, err := mock.Pay(context.Background(), "ORD-1", decimal.NewFromInt(56))
	if err != nil {
		t.Fatalf("unexpected pay error: %v", err)
	}
	if status != domain.PaymentStatusCaptured {
		t.Fatalf("unexpected pay status: %s", status)
	}
	if mock.LastOrder != "ORD-1" || !mock.LastAmount.Equal(decimal.NewFromInt(56)) {
		t.Fatalf("unexpected recorded args: %s %s", mock.LastOrder, mock.LastAmount)
	}

	mock.PayStatus = domain.PaymentStatusFailed
	mock.PayErr = errors.New("pay failed")

	if _, err := mock.Pay(context.Background(), "ORD-2", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected pay error")
	}
	if mock.Calls() != 2 {
		t.Fatalf("expected 2 pay calls, got %d", mock.Calls())
	}
}
