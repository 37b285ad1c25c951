// Package bridge is the gRPC hub linking browser-extension native-messaging
// hosts to the collection pipeline. Hosts register keyed by browser OS
// process id and push EventFrames; in-process subscribers (the browser
// strategy) receive them fanned out with per-PID ordering preserved.
//
// Frames travel as JSON through a registered grpc codec; the service
// descriptors below are maintained by hand against the frame structs.
package bridge

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName selects the JSON codec on every bridge call.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// EventAction enumerates the unsolicited push events a host can send.
type EventAction string

const (
	ActionTabUpdated   EventAction = "TAB_UPDATED"
	ActionTabActivated EventAction = "TAB_ACTIVATED"
	ActionAssets       EventAction = "ASSETS"
	ActionSnapshot     EventAction = "SNAPSHOT"
)

// EventFrame is a transient push message from a registered host.
type EventFrame struct {
	BrowserPID int32           `json:"browser_pid"`
	Action     EventAction     `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RequestFrame is the server->host half of the legacy pull pair, correlated
// by an opaque id.
type RequestFrame struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// ResponseFrame answers a RequestFrame.
type ResponseFrame struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HostFrame is what a host sends on the Register stream. Exactly one field is
// set: Hello first, then Events and Responses.
type HostFrame struct {
	Hello    *HelloFrame    `json:"hello,omitempty"`
	Event    *EventFrame    `json:"event,omitempty"`
	Response *ResponseFrame `json:"response,omitempty"`
}

// HelloFrame announces the host's browser process id. One registration may
// represent multiple windows of one browser.
type HelloFrame struct {
	BrowserPID int32 `json:"browser_pid"`
}

// ServerFrame is what the server sends back on the Register stream.
type ServerFrame struct {
	Request *RequestFrame `json:"request,omitempty"`
}

// IsRegisteredRequest asks whether a browser PID has a live registration.
type IsRegisteredRequest struct {
	BrowserPID int32 `json:"browser_pid"`
}

// IsRegisteredResponse answers IsRegisteredRequest.
type IsRegisteredResponse struct {
	Registered bool `json:"registered"`
}

const (
	bridgeServiceName    = "activityd.BrowserBridge"
	methodIsRegistered   = "/activityd.BrowserBridge/IsRegistered"
	streamMethodRegister = "/activityd.BrowserBridge/Register"
	registerStreamName   = "Register"
	isRegisteredName     = "IsRegistered"
)

// BridgeService is the server-side interface behind the descriptor.
type BridgeService interface {
	IsRegistered(ctx context.Context, req *IsRegisteredRequest) (*IsRegisteredResponse, error)
	Register(stream BrowserBridge_RegisterServer) error
}

// BrowserBridge_RegisterServer is the server view of the Register stream.
type BrowserBridge_RegisterServer interface {
	Send(*ServerFrame) error
	Recv() (*HostFrame, error)
	grpc.ServerStream
}

type bridgeRegisterServer struct {
	grpc.ServerStream
}

func (s *bridgeRegisterServer) Send(f *ServerFrame) error {
	return s.ServerStream.SendMsg(f)
}

func (s *bridgeRegisterServer) Recv() (*HostFrame, error) {
	f := new(HostFrame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func _BrowserBridge_IsRegistered_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IsRegisteredRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeService).IsRegistered(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodIsRegistered}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BridgeService).IsRegistered(ctx, req.(*IsRegisteredRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _BrowserBridge_Register_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(BridgeService).Register(&bridgeRegisterServer{stream})
}

// BridgeServiceDesc wires BridgeService into a grpc.Server.
var BridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeServiceName,
	HandlerType: (*BridgeService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: isRegisteredName,
			Handler:    _BrowserBridge_IsRegistered_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    registerStreamName,
			Handler:       _BrowserBridge_Register_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "activityd/bridge",
}

// BrowserBridge_RegisterClient is the client view of the Register stream.
type BrowserBridge_RegisterClient interface {
	Send(*HostFrame) error
	Recv() (*ServerFrame, error)
	grpc.ClientStream
}

type bridgeRegisterClient struct {
	grpc.ClientStream
}

func (c *bridgeRegisterClient) Send(f *HostFrame) error {
	return c.ClientStream.SendMsg(f)
}

func (c *bridgeRegisterClient) Recv() (*ServerFrame, error) {
	f := new(ServerFrame)
	if err := c.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Client is the host-side handle to the bridge service.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

// IsRegistered asks the hub whether a browser PID has a live registration.
func (c *Client) IsRegistered(ctx context.Context, req *IsRegisteredRequest) (*IsRegisteredResponse, error) {
	out := new(IsRegisteredResponse)
	err := c.cc.Invoke(ctx, methodIsRegistered, req, out, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Register opens the bidi registration stream.
func (c *Client) Register(ctx context.Context) (BrowserBridge_RegisterClient, error) {
	stream, err := c.cc.NewStream(ctx, &BridgeServiceDesc.Streams[0], streamMethodRegister, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &bridgeRegisterClient{stream}, nil
}
