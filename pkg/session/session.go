// Package session holds the gateway's session primitives:  the in-memory
// transport bridging HTTP requests onto a per-client protocol handler, the
// session wrapper that ties a bridge to its handler's lifetime, and the
// table addressing live sessions by ID.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Handler is the protocol-side half of a session.  In production this is an
// *mcp.ServerSession;  tests substitute stubs.
type Handler interface {
	Close() error
}

// Session pairs a bridge with the handler consuming it.  All request
// forwarding goes through the bridge;  Close tears both down exactly once.
type Session struct {
	ID        string
	CreatedAt time.Time

	bridge  *Bridge
	handler Handler

	closeOnce sync.Once
	closeErr  error
}

func New(id string, bridge *Bridge, handler Handler) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		bridge:    bridge,
		handler:   handler,
	}
}

// Forward delivers one client message to this session's handler.  See
// Bridge.Forward for blocking and error semantics.
func (s *Session) Forward(ctx context.Context, msg jsonrpc.Message) (jsonrpc.Message, error) {
	return s.bridge.Forward(ctx, msg)
}

// Notifications exposes the handler's server-initiated messages.
func (s *Session) Notifications() <-chan jsonrpc.Message {
	return s.bridge.Notifications()
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.bridge.Done()
}

// Close tears the session down:  the bridge first, so pending forwards
// unblock, then the handler.  Subsequent calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var err *multierror.Error
		if berr := s.bridge.Close(); berr != nil {
			err = multierror.Append(err, berr)
		}
		if s.handler != nil {
			if herr := s.handler.Close(); herr != nil {
				err = multierror.Append(err, herr)
			}
		}
		s.closeErr = err.ErrorOrNil()
	})
	return s.closeErr
}
