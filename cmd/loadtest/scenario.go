package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	sessionHeader       = "x-session-id"
	idempotencyHeader   = "idempotency-key"
	authorizationHeader = "authorization"
	persistenceWarning  = "persistence_write_failed"
)

// cartClient описывает методы storefront.v1.CartService, которые гоняет нагрузочный тест.
type cartClient interface {
	ListProducts(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetCart(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	AddItem(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Checkout(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// scenario выполняет один пользовательский сценарий в своей сессии.
type scenario struct {
	client cartClient
	cfg    config
	col    *collector
	runID  string
	index  int
}

func (s scenario) sessionID() string {
	return fmt.Sprintf("%s-%s-%d", s.cfg.sessionTag, s.runID, s.index)
}

func (s scenario) run() error {
	start := time.Now()
	code := codes.OK
	defer func() {
		s.col.record(scenarioMethod, time.Since(start), code)
	}()

	err := s.steps()
	if err != nil {
		code = grpcCode(err)
	}
	return err
}

func (s scenario) steps() error {
	if s.cfg.mode == modeBrowse {
		if _, err := s.call("ListProducts", s.client.ListProducts, &structpb.Struct{}); err != nil {
			return err
		}
		_, err := s.call("GetCart", s.client.GetCart, &structpb.Struct{})
		return err
	}

	addReq, err := structpb.NewStruct(map[string]any{
		"product_id": s.cfg.productID,
		"quantity":   s.cfg.quantity,
		"size":       s.cfg.size,
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	cartResp, err := s.call("AddItem", s.client.AddItem, addReq)
	if err != nil {
		return err
	}
	if hasWarning(cartResp) {
		s.col.recordWarning()
	}
	if s.cfg.mode == modeAdd {
		return nil
	}

	checkoutReq, err := structpb.NewStruct(map[string]any{
		"name":    "Load Test",
		"address": "Calle 1",
		"phone":   "+58 000 0000",
		"note":    s.sessionID(),
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	orderResp, err := s.call("Checkout", s.client.Checkout, checkoutReq,
		idempotencyHeader, fmt.Sprintf("lt-checkout-%s-%d", s.runID, s.index))
	if err != nil {
		return err
	}
	order := orderResp.GetFields()["order"].GetStructValue()
	if order.GetFields()["order_id"].GetStringValue() == "" {
		return status.Error(codes.Internal, "checkout response returned empty order id")
	}
	s.col.recordOrder(hasWarning(orderResp))
	return nil
}

type rpc func(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

// call выполняет RPC с metadata сессии; extra добавляет пары ключ/значение.
func (s scenario) call(method string, fn rpc, req *structpb.Struct, extra ...string) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.timeout)
	defer cancel()

	pairs := append([]string{sessionHeader, s.sessionID()}, extra...)
	if s.cfg.token != "" {
		pairs = append(pairs, authorizationHeader, "Bearer "+s.cfg.token)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)

	start := time.Now()
	resp, err := fn(ctx, req)
	s.col.record(method, time.Since(start), grpcCode(err))
	if err == nil && resp == nil {
		return nil, errors.New(method + " returned empty response")
	}
	return resp, err
}

func hasWarning(resp *structpb.Struct) bool {
	return resp.GetFields()["warning"].GetStringValue() == persistenceWarning
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}
