package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName задаёт полное имя gRPC сервиса корзины.
const ServiceName = "storefront.v1.CartService"

const (
	methodListProducts = "ListProducts"
	methodGetCart      = "GetCart"
	methodAddItem      = "AddItem"
	methodSetQuantity  = "SetQuantity"
	methodRemoveItem   = "RemoveItem"
	methodClearCart    = "ClearCart"
	methodCheckout     = "Checkout"
)

// CartServiceServer — серверная часть storefront.v1.CartService.
// Запросы и ответы передаются как google.protobuf.Struct.
type CartServiceServer interface {
	ListProducts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RemoveItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ClearCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv CartServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CartServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CartServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// CartServiceDesc описывает сервис для grpc.Server.RegisterService.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodListProducts, Handler: unaryHandler(methodListProducts, CartServiceServer.ListProducts)},
		{MethodName: methodGetCart, Handler: unaryHandler(methodGetCart, CartServiceServer.GetCart)},
		{MethodName: methodAddItem, Handler: unaryHandler(methodAddItem, CartServiceServer.AddItem)},
		{MethodName: methodSetQuantity, Handler: unaryHandler(methodSetQuantity, CartServiceServer.SetQuantity)},
		{MethodName: methodRemoveItem, Handler: unaryHandler(methodRemoveItem, CartServiceServer.RemoveItem)},
		{MethodName: methodClearCart, Handler: unaryHandler(methodClearCart, CartServiceServer.ClearCart)},
		{MethodName: methodCheckout, Handler: unaryHandler(methodCheckout, CartServiceServer.Checkout)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/cart_service.proto",
}

// RegisterCartServiceServer регистрирует реализацию на сервере.
func RegisterCartServiceServer(registrar grpc.ServiceRegistrar, srv CartServiceServer) {
	registrar.RegisterService(&CartServiceDesc, srv)
}

// CartServiceClient вызывает storefront.v1.CartService.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCartServiceClient создаёт клиента поверх соединения.
func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

func (c *CartServiceClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListProducts возвращает каталог, опционально по категории.
func (c *CartServiceClient) ListProducts(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListProducts, req, opts...)
}

// GetCart возвращает корзину сессии.
func (c *CartServiceClient) GetCart(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetCart, req, opts...)
}

// AddItem добавляет товар в корзину.
func (c *CartServiceClient) AddItem(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodAddItem, req, opts...)
}

// SetQuantity перезаписывает количество позиции.
func (c *CartServiceClient) SetQuantity(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSetQuantity, req, opts...)
}

// RemoveItem удаляет позицию.
func (c *CartServiceClient) RemoveItem(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRemoveItem, req, opts...)
}

// ClearCart очищает корзину.
func (c *CartServiceClient) ClearCart(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodClearCart, req, opts...)
}

// Checkout оформляет заказ.
func (c *CartServiceClient) Checkout(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCheckout, req, opts...)
}
