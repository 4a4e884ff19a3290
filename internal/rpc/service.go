// Package rpc serves scoring and status over gRPC. Messages are
// google.protobuf.Struct documents shaped like the HTTP JSON bodies, so the
// service needs no generated code.
package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/registry"
	"github.com/mcules/model-registry/internal/scoring"
	regstatus "github.com/mcules/model-registry/internal/status"
)

const ServiceName = "modelreg.v1.Registry"

const (
	scoreMethod  = "/" + ServiceName + "/Score"
	statusMethod = "/" + ServiceName + "/Status"
)

type RegistryServer interface {
	Score(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelreg/v1/registry.proto",
}

func Register(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).Score(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scoreMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).Score(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).Status(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type Server struct {
	Scoring       *scoring.Service
	Reporter      *regstatus.Reporter
	DefaultFamily string
}

func NewServer(svc *scoring.Service, reporter *regstatus.Reporter) *Server {
	return &Server{Scoring: svc, Reporter: reporter, DefaultFamily: "xgb"}
}

// Score expects {"model"?: string, "version"?: string, "features": {...}}.
func (s *Server) Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	family := s.DefaultFamily
	if v := fields["model"].GetStringValue(); v != "" {
		family = v
	}
	version := registry.Current
	if v := fields["version"].GetStringValue(); v != "" {
		version = v
	}
	feats := fields["features"].GetStructValue()
	if feats == nil {
		return nil, status.Error(codes.InvalidArgument, `"features" must be an object`)
	}

	res, err := s.Scoring.ScoreTransaction(ctx, family, version, features.Payload(feats.AsMap()))
	if err != nil {
		return nil, toStatus(err)
	}

	var prob any
	if res.Probability != nil {
		prob = *res.Probability
	}
	out, err := structpb.NewStruct(map[string]any{
		"prediction":  res.Label == 1,
		"label":       res.Label,
		"probability": prob,
		"model_used":  res.Family,
		"version":     res.Version,
		"request_id":  res.RequestID,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.Reporter.Snapshot(ctx)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Status failed")
		return nil, status.Error(codes.Internal, "status unavailable")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case scoring.IsClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, scoring.ErrVersionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, scoring.ErrModelUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, scoring.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, scoring.ErrPredictionFailed):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// RequestIDMetadata is the incoming metadata key carrying a caller's request id.
const RequestIDMetadata = "x-request-id"

// UnaryLogger puts a logger tagged with the method into each call's context.
// A caller-supplied request id is carried through to the scoring result.
func UnaryLogger(log logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger := log.WithValues("grpcMethod", info.FullMethod)
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(RequestIDMetadata); len(ids) > 0 && ids[0] != "" && len(ids[0]) <= 128 {
				logger = logger.WithValues("grpcRequestID", ids[0])
				ctx = logging.NewRequestIDContext(ctx, ids[0])
			}
		}
		resp, err := handler(logr.NewContext(ctx, logger), req)
		if err != nil {
			logger.V(logging.VERBOSE).Info("gRPC call failed", "code", status.Code(err).String())
		}
		return resp, err
	}
}

// Client calls a Registry service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Score(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, scoreMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
