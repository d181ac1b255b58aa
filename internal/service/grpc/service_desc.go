package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SaleServiceName — полное имя gRPC-сервиса.
const SaleServiceName = "erp.sales.v1.SaleService"

const (
	MethodProcessSale     = "/" + SaleServiceName + "/ProcessSale"
	MethodGetSale         = "/" + SaleServiceName + "/GetSale"
	MethodListSales       = "/" + SaleServiceName + "/ListSales"
	MethodGetSaleTimeline = "/" + SaleServiceName + "/GetSaleTimeline"
)

// SaleServiceServer — серверная часть erp.sales.v1.SaleService.
// Сообщения передаются как google.protobuf.Struct с JSON-объектом внутри.
type SaleServiceServer interface {
	ProcessSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListSales(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSaleTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv SaleServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SaleServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SaleServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SaleServiceDesc описывает сервис для grpc.Server.
var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: SaleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProcessSale",
			Handler: unaryHandler(MethodProcessSale, func(srv SaleServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ProcessSale(ctx, req)
			}),
		},
		{
			MethodName: "GetSale",
			Handler: unaryHandler(MethodGetSale, func(srv SaleServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetSale(ctx, req)
			}),
		},
		{
			MethodName: "ListSales",
			Handler: unaryHandler(MethodListSales, func(srv SaleServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ListSales(ctx, req)
			}),
		},
		{
			MethodName: "GetSaleTimeline",
			Handler: unaryHandler(MethodGetSaleTimeline, func(srv SaleServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetSaleTimeline(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "erp/sales/v1/sales.proto",
}

// RegisterSaleServiceServer регистрирует реализацию на сервере.
func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&SaleServiceDesc, srv)
}

// SaleServiceClient — клиент erp.sales.v1.SaleService.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSaleServiceClient создаёт клиента поверх соединения.
func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) ProcessSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodProcessSale, in, opts...)
}

func (c *SaleServiceClient) GetSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSale, in, opts...)
}

func (c *SaleServiceClient) ListSales(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListSales, in, opts...)
}

func (c *SaleServiceClient) GetSaleTimeline(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSaleTimeline, in, opts...)
}
