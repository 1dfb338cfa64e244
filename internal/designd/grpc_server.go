package designd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DesignServiceName is the fully qualified gRPC service name.
const DesignServiceName = "experimentdesign.v1.DesignService"

// DesignServiceServer is the read-only design API. Requests and responses are
// google.protobuf.Struct documents with the same shape as the HTTP JSON bodies.
type DesignServiceServer interface {
	// GetDesign expects {"id": "..."} and returns {"run": {...}, "report": {...}}.
	GetDesign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListDesigns accepts optional "limit", "offset" and "status" fields.
	ListDesigns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var designServiceDesc = grpc.ServiceDesc{
	ServiceName: DesignServiceName,
	HandlerType: (*DesignServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetDesign", Handler: unaryHandler("GetDesign", DesignServiceServer.GetDesign)},
		{MethodName: "ListDesigns", Handler: unaryHandler("ListDesigns", DesignServiceServer.ListDesigns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "experimentdesign/v1/design.proto",
}

func unaryHandler(method string, call func(DesignServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + DesignServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DesignServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DesignServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterDesignServiceServer registers impl on s.
func RegisterDesignServiceServer(s grpc.ServiceRegistrar, impl DesignServiceServer) {
	s.RegisterService(&designServiceDesc, impl)
}

// DesignServiceClient calls DesignService over a client connection.
type DesignServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDesignServiceClient(cc grpc.ClientConnInterface) *DesignServiceClient {
	return &DesignServiceClient{cc: cc}
}

func (c *DesignServiceClient) GetDesign(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+DesignServiceName+"/GetDesign", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DesignServiceClient) ListDesigns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+DesignServiceName+"/ListDesigns", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DesignGRPCService implements DesignServiceServer on top of a RunStore.
type DesignGRPCService struct {
	store *RunStore
}

func NewDesignGRPCService(store *RunStore) *DesignGRPCService {
	return &DesignGRPCService{store: store}
}

func (s *DesignGRPCService) GetDesign(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, ErrRunIDMissing.Error())
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return toStruct(rec)
}

func (s *DesignGRPCService) ListDesigns(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	limit := int(fields["limit"].GetNumberValue())
	offset := int(fields["offset"].GetNumberValue())
	var filter RunStatus
	if raw := fields["status"].GetStringValue(); raw != "" {
		if filter = ParseRunStatus(raw); filter == "" {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status: %s", raw)
		}
	}

	recs := s.store.List(limit, offset, filter)
	runs := make([]DesignRun, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return toStruct(map[string]any{"runs": runs})
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// GRPCServer hosts DesignService with health checks, reflection and Prometheus
// interceptors.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func NewGRPCServer(store *RunStore, opts ...grpc.ServerOption) *GRPCServer {
	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterDesignServiceServer(grpcServer, NewDesignGRPCService(store))
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(DesignServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	return &GRPCServer{grpcServer: grpcServer, health: healthSrv}
}

// Serve accepts connections on lis until Shutdown.
func (s *GRPCServer) Serve(lis net.Listener) error {
	if s.grpcServer == nil || lis == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(lis)
}

// Shutdown marks the server as not serving and stops gracefully, falling back to a
// hard stop when ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}
