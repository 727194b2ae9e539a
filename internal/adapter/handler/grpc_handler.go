package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
)

const (
	SaleServiceName = "sales.v1.SaleService"
	CodecName       = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the sale service speak gRPC with plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

type GetSaleRequest struct {
	SaleID string `json:"sale_id"`
}

type SaleReply struct {
	Sale *domain.Sale `json:"sale"`
}

type SaleServiceServer interface {
	CreateSale(ctx context.Context, req *CreateSaleHTTPRequest) (*SaleReply, error)
	GetSale(ctx context.Context, req *GetSaleRequest) (*SaleReply, error)
}

type GRPCHandler struct {
	saleService *service.SaleService
	logger      *zap.Logger
	opts        options
}

func NewGRPCHandler(saleService *service.SaleService, logger *zap.Logger, opts ...Option) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{saleService: saleService, logger: logger, opts: newOptions(opts)}
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *CreateSaleHTTPRequest) (*SaleReply, error) {
	ctx, cancel := h.opts.withTimeout(ctx)
	defer cancel()

	sale, err := h.saleService.CreateSale(ctx, req.toDomain())
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return &SaleReply{Sale: sale}, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *GetSaleRequest) (*SaleReply, error) {
	ctx, cancel := h.opts.withTimeout(ctx)
	defer cancel()

	sale, err := h.saleService.GetSale(ctx, req.SaleID)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return &SaleReply{Sale: sale}, nil
}

// toStatus converts a sale error into a gRPC status. The structured fields
// travel in trailer metadata.
func (h *GRPCHandler) toStatus(ctx context.Context, err error) error {
	code := GRPCCode(err)
	if code == codes.Internal || code == codes.Unavailable {
		h.logger.Error("grpc sale request failed", zap.Error(err))
	}

	body := errorBody(err)
	md := metadata.Pairs("sale-error-kind", body.Kind)
	if body.ProductID != "" {
		md.Append("sale-error-product-id", body.ProductID)
	}
	if body.Line > 0 {
		md.Append("sale-error-line", strconv.Itoa(body.Line))
	}
	if body.Available != nil {
		md.Append("sale-error-available", strconv.Itoa(*body.Available))
		md.Append("sale-error-requested", strconv.Itoa(*body.Requested))
	}
	if err := grpc.SetTrailer(ctx, md); err != nil {
		h.logger.Debug("failed to set error trailer", zap.Error(err))
	}
	return status.Error(code, body.Message)
}

// GRPCCode maps an error kind to its gRPC status code.
func GRPCCode(err error) codes.Code {
	switch domain.KindOf(err) {
	case domain.ErrInvalidRequest:
		return codes.InvalidArgument
	case domain.ErrProductNotFound, domain.ErrSaleNotFound:
		return codes.NotFound
	case domain.ErrInsufficientStock:
		return codes.FailedPrecondition
	case domain.ErrDuplicateRequest:
		return codes.AlreadyExists
	case domain.ErrConcurrencyConflict:
		return codes.Aborted
	case domain.ErrPersistence:
		if isCanceled(err) {
			return codes.Unavailable
		}
		return codes.Internal
	default:
		return codes.Internal
	}
}

func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&saleServiceDesc, srv)
}

var saleServiceDesc = grpc.ServiceDesc{
	ServiceName: SaleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: createSaleHandler},
		{MethodName: "GetSale", Handler: getSaleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sales/v1/sale_service.proto",
}

func createSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSaleHTTPRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).CreateSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SaleServiceName + "/CreateSale"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).CreateSale(ctx, req.(*CreateSaleHTTPRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).GetSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SaleServiceName + "/GetSale"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SaleServiceServer).GetSale(ctx, req.(*GetSaleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SaleServiceClient calls the sale service over a connection using the JSON codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) CreateSale(ctx context.Context, in *CreateSaleHTTPRequest, opts ...grpc.CallOption) (*SaleReply, error) {
	out := new(SaleReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+SaleServiceName+"/CreateSale", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) GetSale(ctx context.Context, in *GetSaleRequest, opts ...grpc.CallOption) (*SaleReply, error) {
	out := new(SaleReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+SaleServiceName+"/GetSale", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
