package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/require"
)

func decodeMsg(t *testing.T, raw string) jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.DecodeMessage([]byte(raw))
	require.NoError(t, err)
	return msg
}

// echoHandler reads calls off the connection and responds with a fixed
// result, mimicking the protocol handler's session loop.
func echoHandler(t *testing.T, b *Bridge) {
	t.Helper()
	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	go func() {
		for {
			msg, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			req, ok := msg.(*jsonrpc.Request)
			if !ok || !req.IsCall() {
				continue
			}
			_ = conn.Write(context.Background(), &jsonrpc.Response{
				ID:     req.ID,
				Result: json.RawMessage(`{"ok":true}`),
			})
		}
	}()
}

func TestForwardCall(t *testing.T) {
	b := NewBridge("s1")
	echoHandler(t, b)

	msg := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	resp, err := b.Forward(context.Background(), msg)
	require.NoError(t, err)

	r, ok := resp.(*jsonrpc.Response)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(r.Result))
}

func TestForwardNotificationReturnsImmediately(t *testing.T) {
	b := NewBridge("s1")
	echoHandler(t, b)

	msg := decodeMsg(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp, err := b.Forward(context.Background(), msg)
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestForwardConcurrentCallsRouteByID(t *testing.T) {
	b := NewBridge("s1")

	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	// Respond out of order:  collect both calls first, then answer the
	// second before the first.
	go func() {
		var reqs []*jsonrpc.Request
		for len(reqs) < 2 {
			msg, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			if req, ok := msg.(*jsonrpc.Request); ok && req.IsCall() {
				reqs = append(reqs, req)
			}
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			result, _ := json.Marshal(map[string]string{"method": reqs[i].Method})
			_ = conn.Write(context.Background(), &jsonrpc.Response{
				ID:     reqs[i].ID,
				Result: result,
			})
		}
	}()

	type fwd struct {
		method string
		resp   jsonrpc.Message
		err    error
	}
	results := make(chan fwd, 2)
	for i, method := range []string{"tools/list", "ping"} {
		raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, i+1, method)
		msg := decodeMsg(t, raw)
		go func(method string, msg jsonrpc.Message) {
			resp, err := b.Forward(context.Background(), msg)
			results <- fwd{method: method, resp: resp, err: err}
		}(method, msg)
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			resp, ok := r.resp.(*jsonrpc.Response)
			require.True(t, ok)
			require.JSONEq(t, fmt.Sprintf(`{"method":%q}`, r.method), string(resp.Result))
		case <-time.After(5 * time.Second):
			t.Fatal("forward did not complete")
		}
	}
}

func TestForwardAfterClose(t *testing.T) {
	b := NewBridge("s1")
	require.NoError(t, b.Close())

	msg := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	_, err := b.Forward(context.Background(), msg)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseUnblocksPendingForward(t *testing.T) {
	b := NewBridge("s1")

	// Connect but never respond.
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		msg := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		_, err := b.Forward(context.Background(), msg)
		errCh <- err
	}()

	<-time.After(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("forward did not unblock on close")
	}
}

func TestForwardContextCancelIsNotTerminal(t *testing.T) {
	b := NewBridge("s1")

	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	// First call is abandoned by its caller before the handler responds.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	_, err = b.Forward(ctx, msg)
	require.ErrorIs(t, err, context.Canceled)

	// The bridge must remain usable for the next call.
	go func() {
		for {
			m, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			if req, ok := m.(*jsonrpc.Request); ok && req.IsCall() {
				_ = conn.Write(context.Background(), &jsonrpc.Response{
					ID:     req.ID,
					Result: json.RawMessage(`{}`),
				})
			}
		}
	}()

	next := decodeMsg(t, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	resp, err := b.Forward(context.Background(), next)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestForwardRejectsDuplicateRequestID(t *testing.T) {
	b := NewBridge("s1")

	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	// First call stays in flight:  the handler holds its response.
	firstErr := make(chan error, 1)
	go func() {
		msg := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		_, err := b.Forward(context.Background(), msg)
		firstErr <- err
	}()

	// Wait until the handler has the first call, so its ID is registered.
	msg, err := conn.Read(context.Background())
	require.NoError(t, err)
	first, ok := msg.(*jsonrpc.Request)
	require.True(t, ok)

	// A second call reusing the same ID is rejected outright.
	dup := decodeMsg(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	_, err = b.Forward(context.Background(), dup)
	require.ErrorIs(t, err, ErrDuplicateID)

	// The in-flight call is untouched and still receives its response.
	require.NoError(t, conn.Write(context.Background(), &jsonrpc.Response{
		ID:     first.ID,
		Result: json.RawMessage(`{}`),
	}))
	require.NoError(t, <-firstErr)
}

func TestServerInitiatedMessagesSurfaceOnNotifications(t *testing.T) {
	b := NewBridge("s1")

	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	notif := decodeMsg(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)
	require.NoError(t, conn.Write(context.Background(), notif))

	select {
	case msg := <-b.Notifications():
		req, ok := msg.(*jsonrpc.Request)
		require.True(t, ok)
		require.Equal(t, "notifications/tools/list_changed", req.Method)
	case <-time.After(time.Second):
		t.Fatal("notification did not surface")
	}
}

func TestConnectAfterClose(t *testing.T) {
	b := NewBridge("s1")
	require.NoError(t, b.Close())

	_, err := b.Connect(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnReadAfterClose(t *testing.T) {
	b := NewBridge("s1")
	conn, err := b.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, err = conn.Read(context.Background())
	require.Error(t, err)
}

func TestSessionIDRoundtrip(t *testing.T) {
	b := NewBridge("abc123")
	conn, err := b.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc123", conn.SessionID())
}
