package stream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ValueClient calls qthmi.v1.ValueService.
type ValueClient struct {
	cc grpc.ClientConnInterface
}

func NewValueClient(cc grpc.ClientConnInterface) *ValueClient {
	return &ValueClient{cc: cc}
}

func (c *ValueClient) Write(ctx context.Context, variable string, value any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"variable": variable, "value": value})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Write", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the update stream. No names means all variables.
func (c *ValueClient) Watch(ctx context.Context, variables []string, opts ...grpc.CallOption) (*WatchStream, error) {
	names := make([]any, len(variables))
	for i, v := range variables {
		names[i] = v
	}
	req, err := structpb.NewStruct(map[string]any{"variables": names})
	if err != nil {
		return nil, err
	}

	st, err := c.cc.NewStream(ctx, &ValueService_ServiceDesc.Streams[0], "/"+serviceName+"/Watch", opts...)
	if err != nil {
		return nil, err
	}
	if err := st.SendMsg(req); err != nil {
		return nil, err
	}
	if err := st.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{st}, nil
}

type WatchStream struct {
	grpc.ClientStream
}

func (w *WatchStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := w.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
