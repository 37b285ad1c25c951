package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"activityd/internal/logging"
)

// ErrDispatcherClosed is returned for requests made after the read loop ended.
var ErrDispatcherClosed = errors.New("nativemsg: dispatcher closed")

// pushBuffer is the depth of the unsolicited-push channel.
const pushBuffer = 128

// PendingRequest correlates one outbound stdio command to its reply. The wire
// protocol correlates by command name only, so the dispatcher additionally
// serializes callers per command: at most one PendingRequest per command name
// can exist, which removes the match-any ambiguity of concurrent identical
// commands.
type PendingRequest struct {
	Command string
	ch      chan NativeMessage
}

// Dispatcher owns the stdio conversation with the extension: it writes
// length-prefixed commands and routes inbound frames either to the waiting
// PendingRequest or to the push channel.
type Dispatcher struct {
	w       io.Writer
	writeMu sync.Mutex
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*PendingRequest
	slots   map[string]*sync.Mutex
	closed  bool

	pushCh chan NativeMessage
}

// NewDispatcher creates a dispatcher writing frames to w. timeout bounds each
// request round trip.
func NewDispatcher(w io.Writer, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		w:       w,
		timeout: timeout,
		pending: make(map[string]*PendingRequest),
		slots:   make(map[string]*sync.Mutex),
		pushCh:  make(chan NativeMessage, pushBuffer),
	}
}

// Pushes returns the channel of unsolicited extension messages. Closed when
// the read loop exits.
func (d *Dispatcher) Pushes() <-chan NativeMessage {
	return d.pushCh
}

func (d *Dispatcher) slot(command string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.slots[command]
	if !ok {
		m = &sync.Mutex{}
		d.slots[command] = m
	}
	return m
}

// Request performs one command round trip: register the pending reply slot,
// write the length-prefixed command, await the reply. A write failure or an
// extension-reported error fails only this request.
func (d *Dispatcher) Request(ctx context.Context, command string) (json.RawMessage, error) {
	slot := d.slot(command)
	slot.Lock()
	defer slot.Unlock()

	ch := make(chan NativeMessage, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	d.pending[command] = &PendingRequest{Command: command, ch: ch}
	d.mu.Unlock()

	body, err := json.Marshal(ChromeMessage{Command: command})
	if err != nil {
		d.removePending(command)
		return nil, fmt.Errorf("nativemsg: encode %s: %w", command, err)
	}
	if err := d.write(body); err != nil {
		d.removePending(command)
		return nil, fmt.Errorf("nativemsg: write %s: %w", command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		d.removePending(command)
		return nil, fmt.Errorf("nativemsg: %s: %w", command, ctx.Err())
	case msg := <-ch:
		if msg.Error != "" {
			return nil, fmt.Errorf("nativemsg: %s failed: %s", command, msg.Error)
		}
		return msg.Payload, nil
	}
}

func (d *Dispatcher) write(body []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return WriteMessage(d.w, body)
}

func (d *Dispatcher) removePending(command string) {
	d.mu.Lock()
	delete(d.pending, command)
	d.mu.Unlock()
}

// ReadLoop consumes inbound frames until r fails (extension exit). A frame
// that fails to parse is logged and skipped; it never kills the loop. On exit
// every outstanding request fails and the push channel closes.
func (d *Dispatcher) ReadLoop(r io.Reader) error {
	log := logging.Get(logging.CategoryNative)

	defer func() {
		d.mu.Lock()
		d.closed = true
		for command, p := range d.pending {
			p.ch <- NativeMessage{Type: command, Error: "native messaging channel closed"}
			delete(d.pending, command)
		}
		d.mu.Unlock()
		close(d.pushCh)
	}()

	for {
		frame, err := ReadMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(frame) == 0 {
			continue
		}

		var msg NativeMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			log.Warnw("dropping unparseable frame", "error", err, "bytes", len(frame))
			continue
		}

		if isPush(msg.Type) {
			select {
			case d.pushCh <- msg:
			default:
				log.Warnw("push channel full, dropping message", "type", msg.Type)
			}
			continue
		}

		d.mu.Lock()
		p, ok := d.pending[msg.Type]
		if ok {
			delete(d.pending, msg.Type)
		}
		d.mu.Unlock()
		if ok {
			p.ch <- msg
		} else {
			log.Debugw("reply with no pending request", "type", msg.Type)
		}
	}
}
