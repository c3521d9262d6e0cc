package codec

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc

const (
	serviceName    = "butterfly.codec.v1.CodecService"
	generateMethod = "/" + serviceName + "/Generate"
)

// CodecServer is the server side of the sidecar generation service. Requests carry
// {"model", "messages": [{"role", "content"}]}; replies carry {"text"}.
type CodecServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CodecServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CodecServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// CodecServiceDesc describes the sidecar service for grpc.Server.RegisterService.
var CodecServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CodecServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "butterfly/codec/v1/codec.proto",
}

// #endregion service-desc

// #region client-struct
// GRPCClient calls a sidecar inference service over gRPC.
type GRPCClient struct {
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	model string
}

// #endregion client-struct

// #region constructor
// NewGRPCClient connects to the sidecar at addr.
func NewGRPCClient(addr, model string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn, model: model}, nil
}

// NewGRPCClientWithConn creates a client on an existing connection. Close is a no-op.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface, model string) *GRPCClient {
	return &GRPCClient{cc: cc, model: model}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns it.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// Model returns the model name sent with each request.
func (c *GRPCClient) Model() string { return c.model }

// #region generate
// Generate sends the conversation to the sidecar and returns its text reply.
func (c *GRPCClient) Generate(ctx context.Context, messages []Message) (string, error) {
	list := make([]any, len(messages))
	for i, m := range messages {
		list[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	req, err := structpb.NewStruct(map[string]any{"model": c.model, "messages": list})
	if err != nil {
		return "", Normalize(fmt.Errorf("build generate request: %w", err))
	}

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, generateMethod, req, resp); err != nil {
		return "", Normalize(fmt.Errorf("generate rpc: %w", err))
	}

	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", Normalize(errors.New("generate rpc: reply has no text field"))
	}
	return text.GetStringValue(), nil
}

// #endregion generate
