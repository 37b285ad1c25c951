package nativemsg

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"activityd/internal/bridge"
	"activityd/internal/logging"
)

// HostOptions configure one native-messaging host process.
type HostOptions struct {
	// BrowserPID keys the bridge registration. Zero means "use the parent
	// process", which is the browser that spawned this host.
	BrowserPID int32

	// BridgeAddr is the main process's bridge hub address.
	BridgeAddr string

	// ListenAddr optionally serves the HostIpc pull service. Empty disables it.
	ListenAddr string

	// RequestTimeout bounds each stdio round trip.
	RequestTimeout time.Duration
}

// Host bridges the extension's stdio protocol to the main process: pushes
// flow up to the bridge hub as EventFrames, and RequestFrames coming back are
// answered through the dispatcher.
type Host struct {
	opts HostOptions
}

// NewHost creates a host with the given options.
func NewHost(opts HostOptions) *Host {
	if opts.BrowserPID == 0 {
		opts.BrowserPID = int32(os.Getppid())
	}
	return &Host{opts: opts}
}

// Run drives the host until the extension closes stdin or ctx is cancelled.
func (h *Host) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	log := logging.Get(logging.CategoryNative)
	disp := NewDispatcher(stdout, h.opts.RequestTimeout)

	conn, err := grpc.NewClient(h.opts.BridgeAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("nativemsg: dial bridge %s: %w", h.opts.BridgeAddr, err)
	}
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)

	// stdio read loop; its exit (extension gone) takes the whole host down.
	g.Go(func() error {
		err := disp.ReadLoop(stdin)
		if err != nil {
			return fmt.Errorf("nativemsg: read loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return h.bridgeLoop(ctx, conn, disp)
	})

	if h.opts.ListenAddr != "" {
		lis, err := net.Listen("tcp", h.opts.ListenAddr)
		if err != nil {
			return fmt.Errorf("nativemsg: listen %s: %w", h.opts.ListenAddr, err)
		}
		srv := grpc.NewServer()
		NewService(disp).Attach(srv)
		g.Go(func() error {
			return srv.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			srv.GracefulStop()
			return nil
		})
		log.Infow("HostIpc service listening", "addr", h.opts.ListenAddr)
	}

	return g.Wait()
}

// bridgeLoop registers with the hub, forwards pushes as EventFrames and
// answers pull RequestFrames.
func (h *Host) bridgeLoop(ctx context.Context, conn *grpc.ClientConn, disp *Dispatcher) error {
	log := logging.Get(logging.CategoryNative)
	client := bridge.NewClient(conn)

	stream, err := client.Register(ctx)
	if err != nil {
		return fmt.Errorf("nativemsg: open register stream: %w", err)
	}
	if err := stream.Send(&bridge.HostFrame{Hello: &bridge.HelloFrame{BrowserPID: h.opts.BrowserPID}}); err != nil {
		return fmt.Errorf("nativemsg: send hello: %w", err)
	}
	log.Infow("registered with bridge", "browser_pid", h.opts.BrowserPID)

	// grpc streams allow one concurrent sender; pull replies run in their own
	// goroutines, so every Send goes through this lock.
	var sendMu sync.Mutex
	send := func(frame *bridge.HostFrame) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(frame)
	}

	requests := make(chan *bridge.RequestFrame)
	recvErr := make(chan error, 1)
	go func() {
		defer close(requests)
		for {
			frame, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			if frame.Request != nil {
				select {
				case requests <- frame.Request:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = stream.CloseSend()
			return ctx.Err()

		case err := <-recvErr:
			return fmt.Errorf("nativemsg: bridge stream lost: %w", err)

		case msg, ok := <-disp.Pushes():
			if !ok {
				_ = stream.CloseSend()
				return nil // extension closed stdin; clean shutdown
			}
			ev := &bridge.EventFrame{
				BrowserPID: h.opts.BrowserPID,
				Action:     pushAction(msg.Type),
				Payload:    msg.Payload,
			}
			if err := send(&bridge.HostFrame{Event: ev}); err != nil {
				return fmt.Errorf("nativemsg: forward event: %w", err)
			}

		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			// A pull round trip may take the full request timeout; it must
			// not stall event forwarding.
			go func(req *bridge.RequestFrame) {
				resp := &bridge.ResponseFrame{ID: req.ID, Command: req.Command}
				payload, err := disp.Request(ctx, req.Command)
				if err != nil {
					resp.Error = err.Error()
				} else {
					resp.Payload = payload
				}
				if err := send(&bridge.HostFrame{Response: resp}); err != nil {
					log.Warnw("send response failed", "command", req.Command, "error", err)
				}
			}(req)
		}
	}
}

func pushAction(msgType string) bridge.EventAction {
	switch msgType {
	case PushTabUpdated:
		return bridge.ActionTabUpdated
	case PushTabActivated:
		return bridge.ActionTabActivated
	case PushAssets:
		return bridge.ActionAssets
	case PushSnapshot:
		return bridge.ActionSnapshot
	default:
		return bridge.EventAction(msgType)
	}
}
