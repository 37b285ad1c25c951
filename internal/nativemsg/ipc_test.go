package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// stubRequester scripts dispatcher outcomes per command.
type stubRequester struct {
	payloads map[string]json.RawMessage
	errs     map[string]error
	calls    []string
}

func (s *stubRequester) Request(_ context.Context, command string) (json.RawMessage, error) {
	s.calls = append(s.calls, command)
	if err, ok := s.errs[command]; ok {
		return nil, err
	}
	return s.payloads[command], nil
}

func TestServiceUnaryHappyPath(t *testing.T) {
	req := &stubRequester{payloads: map[string]json.RawMessage{
		CommandGetAssets:   json.RawMessage(`[{"text":"tweet"}]`),
		CommandGetMetadata: json.RawMessage(`{"url":"https://example.com","title":"Example"}`),
	}}
	svc := NewService(req)

	resp, err := svc.GetAssets(context.Background(), &IpcRequest{})
	if err != nil {
		t.Fatalf("GetAssets: %v", err)
	}
	if string(resp.Payload) != `[{"text":"tweet"}]` {
		t.Fatalf("payload = %s", resp.Payload)
	}

	resp, err = svc.GetMetadata(context.Background(), &IpcRequest{})
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if !strings.Contains(string(resp.Payload), "Example") {
		t.Fatalf("payload = %s", resp.Payload)
	}
}

func TestServiceUnaryNativeError(t *testing.T) {
	req := &stubRequester{errs: map[string]error{
		CommandGetIcon: errors.New("native messaging channel closed"),
	}}
	svc := NewService(req)

	_, err := svc.GetIcon(context.Background(), &IpcRequest{})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("err = %v, want Internal status", err)
	}
	if !strings.Contains(st.Message(), "Native messaging error") {
		t.Fatalf("message = %q, want native messaging cause", st.Message())
	}
}

func TestServiceUnaryConversionError(t *testing.T) {
	req := &stubRequester{payloads: map[string]json.RawMessage{
		CommandGetSnapshots: json.RawMessage(`{broken`),
	}}
	svc := NewService(req)

	_, err := svc.GetSnapshots(context.Background(), &IpcRequest{})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("err = %v, want Internal status", err)
	}
	if !strings.Contains(st.Message(), "Conversion error") {
		t.Fatalf("message = %q, want conversion cause", st.Message())
	}
}

// fakeIpcStream drives GetAssetsStreaming without a transport.
type fakeIpcStream struct {
	grpc.ServerStream
	ctx  context.Context
	in   []*StreamPull
	sent []*StreamItem
}

func (f *fakeIpcStream) Context() context.Context { return f.ctx }

func (f *fakeIpcStream) Send(item *StreamItem) error {
	f.sent = append(f.sent, item)
	return nil
}

func (f *fakeIpcStream) Recv() (*StreamPull, error) {
	if len(f.in) == 0 {
		return nil, io.EOF
	}
	next := f.in[0]
	f.in = f.in[1:]
	return next, nil
}

func TestServiceStreamingContinuesPastFailures(t *testing.T) {
	req := &stubRequester{
		payloads: map[string]json.RawMessage{CommandGetAssets: json.RawMessage(`["ok"]`)},
		errs:     map[string]error{CommandGetSnapshots: errors.New("tab closed")},
	}
	svc := NewService(req)

	stream := &fakeIpcStream{
		ctx: context.Background(),
		in: []*StreamPull{
			{}, // defaults to get_assets
			{Command: CommandGetSnapshots},
			{Command: CommandGetAssets},
		},
	}
	if err := svc.GetAssetsStreaming(stream); err != nil {
		t.Fatalf("GetAssetsStreaming: %v", err)
	}

	if len(stream.sent) != 3 {
		t.Fatalf("sent %d items, want 3", len(stream.sent))
	}
	if stream.sent[0].Error != "" || string(stream.sent[0].Payload) != `["ok"]` {
		t.Fatalf("item 0 = %+v", stream.sent[0])
	}
	if !strings.Contains(stream.sent[1].Error, "Stream error") {
		t.Fatalf("item 1 error = %q, want stream error", stream.sent[1].Error)
	}
	if stream.sent[2].Error != "" {
		t.Fatalf("failure closed the stream: item 2 = %+v", stream.sent[2])
	}
}
