package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrClosed is returned by Forward once the bridge has been torn down.  A
// terminal error:  no further messages can flow through this bridge.
var ErrClosed = errors.New("session: transport closed")

// ErrDuplicateID is returned by Forward when a call reuses the ID of a
// request still in flight.  Accepting it would strand the earlier caller,
// since only one of them could ever receive the response.
var ErrDuplicateID = errors.New("session: request id already in flight")

// notificationBuffer bounds how many server-initiated messages we hold
// while no standalone stream is attached.
const notificationBuffer = 16

// Bridge is an in-memory mcp.Transport pairing the HTTP surface with a
// protocol handler running in the same process.
//
// The HTTP side pushes decoded client messages in via Forward.  The handler
// consumes them through the mcp.Connection half and writes responses back,
// which the bridge routes to the waiting Forward call by request ID.
// Server-initiated messages relate to no in-flight request and surface on
// Notifications instead, feeding the session's standalone event stream.
type Bridge struct {
	sessionID string

	incoming chan jsonrpc.Message
	notifs   chan jsonrpc.Message
	done     chan struct{}

	mu      sync.Mutex
	pending map[jsonrpc.ID]chan jsonrpc.Message

	closeOnce sync.Once
}

func NewBridge(sessionID string) *Bridge {
	return &Bridge{
		sessionID: sessionID,
		incoming:  make(chan jsonrpc.Message, 10),
		notifs:    make(chan jsonrpc.Message, notificationBuffer),
		done:      make(chan struct{}),
		pending:   map[jsonrpc.ID]chan jsonrpc.Message{},
	}
}

// Connect implements mcp.Transport.  The handler half shares the bridge's
// channels directly;  there is no handshake to perform.
func (b *Bridge) Connect(ctx context.Context) (mcp.Connection, error) {
	select {
	case <-b.done:
		return nil, ErrClosed
	default:
	}
	return (*bridgeConn)(b), nil
}

// Forward delivers one client message to the handler.  For calls it blocks
// until the matching response arrives, the context is cancelled, or the
// bridge closes.  For notifications it returns (nil, nil) as soon as the
// message is accepted.
//
// Context cancellation abandons the in-flight call but leaves the bridge
// usable;  only ErrClosed is terminal.
func (b *Bridge) Forward(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	req, ok := msg.(*jsonrpc.Request)
	isCall := ok && req.IsCall()

	var ch chan jsonrpc.Message
	if isCall {
		// Register before pushing so the response cannot race past us.
		ch = make(chan jsonrpc.Message, 1)
		b.mu.Lock()
		if _, exists := b.pending[req.ID]; exists {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrDuplicateID, req.ID)
		}
		b.pending[req.ID] = ch
		b.mu.Unlock()
	}

	select {
	case b.incoming <- msg:
	case <-b.done:
		if isCall {
			b.unregister(req.ID)
		}
		return nil, ErrClosed
	case <-ctx.Done():
		if isCall {
			b.unregister(req.ID)
		}
		return nil, ctx.Err()
	}

	if !isCall {
		return nil, nil
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-b.done:
		// A response delivered concurrently with close still wins.
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		return nil, ErrClosed
	case <-ctx.Done():
		b.unregister(req.ID)
		return nil, ctx.Err()
	}
}

// Notifications exposes server-initiated messages:  requests and
// notifications the handler emits that answer no client call.
func (b *Bridge) Notifications() <-chan jsonrpc.Message {
	return b.notifs
}

// Done is closed when the bridge is torn down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close tears the bridge down, unblocking all pending Forward calls and the
// handler's Read with ErrClosed and io.EOF respectively.  Safe to call more
// than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	return nil
}

func (b *Bridge) unregister(id jsonrpc.ID) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// bridgeConn is the mcp.Connection half of a Bridge, consumed by the
// protocol handler's session loop.
type bridgeConn Bridge

func (c *bridgeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *bridgeConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if resp, ok := msg.(*jsonrpc.Response); ok && resp.ID.IsValid() {
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
			return nil
		}
		// The caller abandoned the request;  drop the late response.
		return nil
	}

	// Server-initiated message.  Never block the handler's loop on a client
	// that isn't listening:  drop once the buffer is full.
	select {
	case c.notifs <- msg:
	default:
	}
	return nil
}

func (c *bridgeConn) Close() error {
	return (*Bridge)(c).Close()
}

func (c *bridgeConn) SessionID() string {
	return c.sessionID
}
