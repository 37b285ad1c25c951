package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"activityd/internal/logging"
)

const (
	// subscriberBuffer is the per-subscriber channel depth. A subscriber that
	// falls this far behind starts losing events rather than stalling hosts.
	subscriberBuffer = 128

	// replayPerPID is how many recent frames are kept per browser PID so a
	// strategy subscribing just after the handshake does not miss the first
	// TAB_UPDATED.
	replayPerPID = 64
)

// ErrNotRegistered is returned by pull requests for PIDs with no live host.
var ErrNotRegistered = errors.New("bridge: browser pid not registered")

// Server is the hub multiplexing push events from browser hosts. It is an
// explicitly constructed instance owned by process bootstrap and handed to
// every consumer; there is deliberately no package-level singleton.
type Server struct {
	mu    sync.RWMutex
	hosts map[int32]*hostConn

	subsMu sync.RWMutex
	subs   map[string]*subscriber
	replay map[int32][]EventFrame
}

type subscriber struct {
	id  string
	pid int32 // 0 subscribes to all PIDs
	ch  chan EventFrame
}

// hostConn is one registered native-messaging host stream.
type hostConn struct {
	pid    int32
	sendMu sync.Mutex
	stream BrowserBridge_RegisterServer

	pendingMu sync.Mutex
	pending   map[string]chan ResponseFrame
	closed    bool
}

// NewServer creates an empty hub.
func NewServer() *Server {
	return &Server{
		hosts:  make(map[int32]*hostConn),
		subs:   make(map[string]*subscriber),
		replay: make(map[int32][]EventFrame),
	}
}

// Attach registers the bridge service on a grpc server.
func (s *Server) Attach(g *grpc.Server) {
	g.RegisterService(&BridgeServiceDesc, s)
}

// IsRegistered implements the unary RPC.
func (s *Server) IsRegistered(ctx context.Context, req *IsRegisteredRequest) (*IsRegisteredResponse, error) {
	return &IsRegisteredResponse{Registered: s.Registered(req.BrowserPID)}, nil
}

// Registered reports whether a browser PID has a live host registration.
func (s *Server) Registered(pid int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hosts[pid]
	return ok
}

// Register handles one host's bidi stream for its whole lifetime. The first
// frame must be a Hello carrying the browser PID; afterwards the host pushes
// EventFrames and answers RequestFrames.
func (s *Server) Register(stream BrowserBridge_RegisterServer) error {
	log := logging.Get(logging.CategoryBridge)

	first, err := stream.Recv()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "registration aborted before hello: %v", err)
	}
	if first.Hello == nil || first.Hello.BrowserPID <= 0 {
		return status.Error(codes.InvalidArgument, "first frame must be a hello with a browser pid")
	}
	pid := first.Hello.BrowserPID

	conn := &hostConn{
		pid:     pid,
		stream:  stream,
		pending: make(map[string]chan ResponseFrame),
	}

	s.mu.Lock()
	if prev, ok := s.hosts[pid]; ok {
		// A browser restart can reconnect before the old stream dies.
		prev.failPending(fmt.Errorf("superseded by new registration for pid %d", pid))
	}
	s.hosts[pid] = conn
	s.mu.Unlock()

	log.Infow("host registered", "browser_pid", pid)

	defer func() {
		s.mu.Lock()
		if s.hosts[pid] == conn {
			delete(s.hosts, pid)
		}
		s.mu.Unlock()
		conn.failPending(fmt.Errorf("host for pid %d disconnected", pid))
		log.Infow("host deregistered", "browser_pid", pid)
	}()

	for {
		frame, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch {
		case frame.Event != nil:
			ev := *frame.Event
			if ev.BrowserPID == 0 {
				ev.BrowserPID = pid
			}
			if len(ev.Payload) > 0 && !json.Valid(ev.Payload) {
				// A single bad event never terminates the subscription.
				log.Warnw("dropping event with malformed payload",
					"browser_pid", ev.BrowserPID, "action", ev.Action)
				continue
			}
			s.publish(ev)
		case frame.Response != nil:
			conn.resolve(*frame.Response)
		default:
			log.Debugw("ignoring empty host frame", "browser_pid", pid)
		}
	}
}

// publish fans an event out to matching subscribers. Called sequentially per
// host stream, so per-PID ordering is preserved end to end.
func (s *Server) publish(ev EventFrame) {
	s.subsMu.Lock()
	ring := append(s.replay[ev.BrowserPID], ev)
	if len(ring) > replayPerPID {
		ring = ring[1:]
	}
	s.replay[ev.BrowserPID] = ring

	for _, sub := range s.subs {
		if sub.pid != 0 && sub.pid != ev.BrowserPID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logging.Get(logging.CategoryBridge).Warnw("subscriber channel full, dropping event",
				"subscriber", sub.id, "browser_pid", ev.BrowserPID, "action", ev.Action)
		}
	}
	s.subsMu.Unlock()
}

// Subscribe registers an in-process consumer for events. pid 0 receives
// everything; otherwise only frames for that browser PID, starting with any
// retained recent frames. The cancel func must be called to release the
// subscription.
func (s *Server) Subscribe(pid int32) (<-chan EventFrame, func()) {
	sub := &subscriber{
		id:  uuid.NewString(),
		pid: pid,
		ch:  make(chan EventFrame, subscriberBuffer),
	}

	s.subsMu.Lock()
	if pid != 0 {
		for _, ev := range s.replay[pid] {
			sub.ch <- ev
		}
	}
	s.subs[sub.id] = sub
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		delete(s.subs, sub.id)
		s.subsMu.Unlock()
	}
	return sub.ch, cancel
}

// RequestPull performs one legacy pull round trip: it sends a RequestFrame to
// the host registered for pid and waits for the correlated ResponseFrame or
// ctx expiry.
func (s *Server) RequestPull(ctx context.Context, pid int32, command string) (json.RawMessage, error) {
	s.mu.RLock()
	conn, ok := s.hosts[pid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotRegistered
	}

	id := uuid.NewString()
	ch := make(chan ResponseFrame, 1)

	conn.pendingMu.Lock()
	if conn.closed {
		conn.pendingMu.Unlock()
		return nil, ErrNotRegistered
	}
	conn.pending[id] = ch
	conn.pendingMu.Unlock()

	if err := conn.send(&ServerFrame{Request: &RequestFrame{ID: id, Command: command}}); err != nil {
		conn.drop(id)
		return nil, fmt.Errorf("bridge: write request %s to pid %d: %w", command, pid, err)
	}

	select {
	case <-ctx.Done():
		conn.drop(id)
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("bridge: host error for %s: %s", command, resp.Error)
		}
		return resp.Payload, nil
	}
}

func (c *hostConn) send(f *ServerFrame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(f)
}

func (c *hostConn) resolve(resp ResponseFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	} else {
		logging.Get(logging.CategoryBridge).Debugw("response for unknown request id",
			"id", resp.ID, "command", resp.Command)
	}
}

func (c *hostConn) drop(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending answers every outstanding request with an error frame. Called
// on disconnect so pull RPCs fail instead of hanging.
func (c *hostConn) failPending(err error) {
	c.pendingMu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- ResponseFrame{ID: id, Error: err.Error()}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
