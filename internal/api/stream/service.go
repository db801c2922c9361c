// Package stream serves panel values over gRPC. Messages are
// google.protobuf.Struct so no generated code is needed.
package stream

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
)

const serviceName = "qthmi.v1.ValueService"

// Source is the panel behind the service.
type Source interface {
	Snapshot() []hmi.VariableState
	Write(name string, raw any) (ads.Value, error)
}

// ValueServiceServer is the server API for qthmi.v1.ValueService.
type ValueServiceServer interface {
	// Watch sends the current snapshot followed by every value update.
	// Request: {"variables": [names...]} (empty = all).
	Watch(req *structpb.Struct, stream ValueService_WatchServer) error
	// Write request: {"variable": name, "value": v}.
	Write(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type ValueService_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type ValueService struct {
	source   Source
	streamer *Streamer
	logger   *zap.Logger
}

func NewValueService(source Source, streamer *Streamer, logger *zap.Logger) *ValueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValueService{source: source, streamer: streamer, logger: logger}
}

func (s *ValueService) Watch(req *structpb.Struct, stream ValueService_WatchServer) error {
	filter := watchFilter(req)

	ch := s.streamer.Subscribe()
	defer s.streamer.Unsubscribe(ch)

	for _, st := range s.source.Snapshot() {
		if !filter(st.Name) || !st.HasValue {
			continue
		}
		msg, err := structpb.NewStruct(map[string]any{
			"variable":  st.Name,
			"address":   st.Address,
			"type":      st.Type,
			"value":     st.Value,
			"snapshot":  true,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return status.Errorf(codes.Internal, "encode snapshot: %v", err)
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			if !filter(u.Variable) {
				continue
			}
			msg, err := structpb.NewStruct(u.Fields())
			if err != nil {
				s.logger.Warn("Failed to encode update",
					zap.String("variable", u.Variable),
					zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func watchFilter(req *structpb.Struct) func(string) bool {
	list := req.GetFields()["variables"].GetListValue().GetValues()
	if len(list) == 0 {
		return func(string) bool { return true }
	}
	names := make(map[string]bool, len(list))
	for _, v := range list {
		names[v.GetStringValue()] = true
	}
	return func(name string) bool { return names[name] }
}

func (s *ValueService) Write(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["variable"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "variable is required")
	}
	raw, ok := req.GetFields()["value"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}

	val, err := s.source.Write(name, raw.AsInterface())
	if err != nil {
		s.logger.Debug("gRPC write failed", zap.String("variable", name), zap.Error(err))
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"variable": name,
		"value":    ads.Normalize(val),
	})
}

// toStatus maps panel errors onto gRPC codes.
func toStatus(err error) error {
	var ce *ads.ConnectionError
	switch {
	case errors.Is(err, hmi.ErrUnknownVariable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, hmi.ErrReadOnly):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ads.ErrValueType):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &ce):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Register adds the service to srv.
func Register(srv grpc.ServiceRegistrar, s ValueServiceServer) {
	srv.RegisterService(&ValueService_ServiceDesc, s)
}

var ValueService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ValueServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Write", Handler: writeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "qthmi/v1/value.proto",
}

func writeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValueServiceServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Write"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ValueServiceServer).Write(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ValueServiceServer).Watch(in, &watchServer{stream})
}

type watchServer struct {
	grpc.ServerStream
}

func (w *watchServer) Send(m *structpb.Struct) error {
	return w.ServerStream.SendMsg(m)
}

var _ ValueServiceServer = (*ValueService)(nil)
