package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"activityd/internal/bridge"
)

// IpcRequest is the (empty) unary request body.
type IpcRequest struct{}

// IpcResponse carries the extension's reply payload.
type IpcResponse struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamPull asks for one more item on the streaming RPC.
type StreamPull struct {
	Command string `json:"command,omitempty"`
}

// StreamItem is one streamed result. A failed pull surfaces here as Error
// without closing the stream.
type StreamItem struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	ipcServiceName           = "activityd.HostIpc"
	methodGetAssets          = "/activityd.HostIpc/GetAssets"
	methodGetSnapshots       = "/activityd.HostIpc/GetSnapshots"
	methodGetMetadata        = "/activityd.HostIpc/GetMetadata"
	methodGetIcon            = "/activityd.HostIpc/GetIcon"
	methodGetAssetsStreaming = "/activityd.HostIpc/GetAssetsStreaming"
)

// Requester is the dispatcher capability the service needs.
type Requester interface {
	Request(ctx context.Context, command string) (json.RawMessage, error)
}

// HostIpcService is the server-side interface behind the descriptor.
type HostIpcService interface {
	GetAssets(ctx context.Context, req *IpcRequest) (*IpcResponse, error)
	GetSnapshots(ctx context.Context, req *IpcRequest) (*IpcResponse, error)
	GetMetadata(ctx context.Context, req *IpcRequest) (*IpcResponse, error)
	GetIcon(ctx context.Context, req *IpcRequest) (*IpcResponse, error)
	GetAssetsStreaming(stream HostIpc_GetAssetsStreamingServer) error
}

// Service implements HostIpcService over a Dispatcher.
type Service struct {
	req Requester
}

// NewService creates the IPC service over the given dispatcher.
func NewService(req Requester) *Service {
	return &Service{req: req}
}

// Attach registers the service on a grpc server.
func (s *Service) Attach(g *grpc.Server) {
	g.RegisterService(&HostIpcServiceDesc, s)
}

func (s *Service) unary(ctx context.Context, command string) (*IpcResponse, error) {
	payload, err := s.req.Request(ctx, command)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "Native messaging error: %v", err)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, status.Errorf(codes.Internal, "Conversion error: reply to %s is not valid JSON", command)
	}
	return &IpcResponse{Payload: payload}, nil
}

// GetAssets pulls the current page's assets through the extension.
func (s *Service) GetAssets(ctx context.Context, _ *IpcRequest) (*IpcResponse, error) {
	return s.unary(ctx, CommandGetAssets)
}

// GetSnapshots pulls the current page's snapshot content.
func (s *Service) GetSnapshots(ctx context.Context, _ *IpcRequest) (*IpcResponse, error) {
	return s.unary(ctx, CommandGetSnapshots)
}

// GetMetadata pulls page metadata (URL, title).
func (s *Service) GetMetadata(ctx context.Context, _ *IpcRequest) (*IpcResponse, error) {
	return s.unary(ctx, CommandGetMetadata)
}

// GetIcon pulls the page favicon.
func (s *Service) GetIcon(ctx context.Context, _ *IpcRequest) (*IpcResponse, error) {
	return s.unary(ctx, CommandGetIcon)
}

// GetAssetsStreaming repeats the single-shot pull once per inbound item.
// Failures surface as StreamItem.Error without closing the stream.
func (s *Service) GetAssetsStreaming(stream HostIpc_GetAssetsStreamingServer) error {
	for {
		pull, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		command := pull.Command
		if command == "" {
			command = CommandGetAssets
		}

		payload, err := s.req.Request(stream.Context(), command)
		item := &StreamItem{Payload: payload}
		if err != nil {
			item = &StreamItem{Error: "Stream error: " + err.Error()}
		}
		if err := stream.Send(item); err != nil {
			return err
		}
	}
}

// HostIpc_GetAssetsStreamingServer is the server view of the streaming RPC.
type HostIpc_GetAssetsStreamingServer interface {
	Send(*StreamItem) error
	Recv() (*StreamPull, error)
	grpc.ServerStream
}

type ipcStreamingServer struct {
	grpc.ServerStream
}

func (s *ipcStreamingServer) Send(item *StreamItem) error {
	return s.ServerStream.SendMsg(item)
}

func (s *ipcStreamingServer) Recv() (*StreamPull, error) {
	pull := new(StreamPull)
	if err := s.ServerStream.RecvMsg(pull); err != nil {
		return nil, err
	}
	return pull, nil
}

func unaryIpcHandler(method string, call func(HostIpcService, context.Context, *IpcRequest) (*IpcResponse, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(IpcRequest)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HostIpcService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(HostIpcService), ctx, req.(*IpcRequest))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _HostIpc_GetAssetsStreaming_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(HostIpcService).GetAssetsStreaming(&ipcStreamingServer{stream})
}

// HostIpcServiceDesc wires HostIpcService into a grpc.Server.
var HostIpcServiceDesc = grpc.ServiceDesc{
	ServiceName: ipcServiceName,
	HandlerType: (*HostIpcService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAssets", Handler: unaryIpcHandler(methodGetAssets, HostIpcService.GetAssets)},
		{MethodName: "GetSnapshots", Handler: unaryIpcHandler(methodGetSnapshots, HostIpcService.GetSnapshots)},
		{MethodName: "GetMetadata", Handler: unaryIpcHandler(methodGetMetadata, HostIpcService.GetMetadata)},
		{MethodName: "GetIcon", Handler: unaryIpcHandler(methodGetIcon, HostIpcService.GetIcon)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetAssetsStreaming",
			Handler:       _HostIpc_GetAssetsStreaming_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "activityd/nativemsg",
}

// HostIpc_GetAssetsStreamingClient is the client view of the streaming RPC.
type HostIpc_GetAssetsStreamingClient interface {
	Send(*StreamPull) error
	Recv() (*StreamItem, error)
	grpc.ClientStream
}

type ipcStreamingClient struct {
	grpc.ClientStream
}

func (c *ipcStreamingClient) Send(pull *StreamPull) error {
	return c.ClientStream.SendMsg(pull)
}

func (c *ipcStreamingClient) Recv() (*StreamItem, error) {
	item := new(StreamItem)
	if err := c.ClientStream.RecvMsg(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Client calls the HostIpc service of a running native-messaging host.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string) (*IpcResponse, error) {
	out := new(IpcResponse)
	if err := c.cc.Invoke(ctx, method, &IpcRequest{}, out, grpc.CallContentSubtype(bridge.CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAssets calls the unary GetAssets RPC.
func (c *Client) GetAssets(ctx context.Context) (*IpcResponse, error) {
	return c.invoke(ctx, methodGetAssets)
}

// GetSnapshots calls the unary GetSnapshots RPC.
func (c *Client) GetSnapshots(ctx context.Context) (*IpcResponse, error) {
	return c.invoke(ctx, methodGetSnapshots)
}

// GetMetadata calls the unary GetMetadata RPC.
func (c *Client) GetMetadata(ctx context.Context) (*IpcResponse, error) {
	return c.invoke(ctx, methodGetMetadata)
}

// GetIcon calls the unary GetIcon RPC.
func (c *Client) GetIcon(ctx context.Context) (*IpcResponse, error) {
	return c.invoke(ctx, methodGetIcon)
}

// GetAssetsStreaming opens the bidi streaming RPC.
func (c *Client) GetAssetsStreaming(ctx context.Context) (HostIpc_GetAssetsStreamingClient, error) {
	stream, err := c.cc.NewStream(ctx, &HostIpcServiceDesc.Streams[0], methodGetAssetsStreaming, grpc.CallContentSubtype(bridge.CodecName))
	if err != nil {
		return nil, err
	}
	return &ipcStreamingClient{stream}, nil
}
