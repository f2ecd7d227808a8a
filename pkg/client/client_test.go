package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/toolgate/pkg/gateway"
	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	url      string
	registry *tool.Registry
	ledger   *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := tool.NewRegistry(zerolog.Nop())
	l, err := ledger.Open(nil, ledger.Options{}, zerolog.Nop())
	require.NoError(t, err)

	registry.Register("echo", func(ctx context.Context, call tool.Call) (interface{}, error) {
		return call.Params, nil
	}, "Echo parameters back", "")
	registry.Register("letters", func(ctx context.Context, call tool.Call) (interface{}, error) {
		return []string{"a", "b", "c"}, nil
	}, "Three letters", "")
	registry.RegisterDescriptor(tool.Descriptor{
		Metadata: tool.Metadata{Name: "needs_title", RequiredParameters: []string{"title"}},
		Handler: func(ctx context.Context, call tool.Call) (interface{}, error) {
			return "ok", nil
		},
	})

	srv, err := gateway.NewServer(gateway.Config{
		CallTimeout:     5 * time.Second,
		ShutdownTimeout: time.Second,
		Registry:        registry,
		Ledger:          l,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})

	return &fixture{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		registry: registry,
		ledger:   l,
	}
}

func TestClient_Invoke(t *testing.T) {
	f := newFixture(t)

	t.Run("should return the tool result", func(t *testing.T) {
		c := New(f.url)
		result, err := c.Invoke(context.Background(), "echo", map[string]interface{}{"message": "hi"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"message":"hi"}`, string(result))
	})

	t.Run("should send caller metadata", func(t *testing.T) {
		c := New(f.url, WithAgent("planner"))
		_, err := c.Invoke(context.Background(), "echo", nil, WithEmotion("curious"))
		require.NoError(t, err)

		rec, ok := f.ledger.Get("echo")
		require.True(t, ok)
		assert.Equal(t, "curious", rec.LastEmotion)
		assert.Equal(t, "planner", rec.Agent)
	})

	t.Run("should pass the request id to the handler", func(t *testing.T) {
		seen := make(chan string, 1)
		f.registry.Register("whoami", func(ctx context.Context, call tool.Call) (interface{}, error) {
			seen <- call.RequestID
			return nil, nil
		}, "", "")

		c := New(f.url)
		result, err := c.Invoke(context.Background(), "whoami", nil, WithRequestID("req-42"))
		require.NoError(t, err)
		assert.Equal(t, "null", string(result))
		assert.Equal(t, "req-42", <-seen)
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		c := New(f.url)
		_, err := c.Invoke(context.Background(), "ghost", nil)

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, gateway.MethodNotFound, toolErr.Code)
		assert.Empty(t, toolErr.Kind())
	})

	t.Run("should report validation failures", func(t *testing.T) {
		c := New(f.url)
		_, err := c.Invoke(context.Background(), "needs_title", nil)

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, gateway.ServerError, toolErr.Code)
		assert.Equal(t, "validation", toolErr.Kind())
	})

	t.Run("should time out", func(t *testing.T) {
		f.registry.Register("slow", func(ctx context.Context, call tool.Call) (interface{}, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(3 * time.Second):
				return "late", nil
			}
		}, "", "")

		c := New(f.url, WithTimeout(100*time.Millisecond))
		_, err := c.Invoke(context.Background(), "slow", nil)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ts.Close()

	c := New(url, WithTimeout(time.Second))
	_, err := c.Invoke(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrConnection)

	_, err = c.Stream(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestClient_DialTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	c := New("ws://"+ln.Addr().String()+"/ws", WithTimeout(100*time.Millisecond))
	_, err = c.Invoke(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Stream(t *testing.T) {
	f := newFixture(t)

	t.Run("should yield tokens in order then EOF", func(t *testing.T) {
		c := New(f.url)
		stream, err := c.Stream(context.Background(), "letters", nil)
		require.NoError(t, err)
		defer stream.Close()

		var tokens []string
		for {
			token, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			tokens = append(tokens, token)
		}
		assert.Equal(t, []string{"a", "b", "c"}, tokens)

		_, err = stream.Recv()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("should keep tokens received before a failure", func(t *testing.T) {
		f.registry.Register("flaky", func(ctx context.Context, call tool.Call) (interface{}, error) {
			_ = call.Emit("partial")
			return nil, errors.New("upstream gone")
		}, "", "")

		c := New(f.url)
		stream, err := c.Stream(context.Background(), "flaky", nil)
		require.NoError(t, err)

		tokens, err := stream.Collect()
		assert.Equal(t, []string{"partial"}, tokens)

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "execution", toolErr.Kind())
	})

	t.Run("should report unknown tools on first receive", func(t *testing.T) {
		c := New(f.url)
		stream, err := c.Stream(context.Background(), "ghost", nil)
		require.NoError(t, err)

		_, err = stream.Recv()
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, gateway.MethodNotFound, toolErr.Code)
	})

	t.Run("should report validation failures before the stream starts", func(t *testing.T) {
		c := New(f.url)
		stream, err := c.Stream(context.Background(), "needs_title", nil)
		require.NoError(t, err)

		tokens, err := stream.Collect()
		assert.Empty(t, tokens)

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "validation", toolErr.Kind())
	})

	t.Run("should time out a stream that never ends", func(t *testing.T) {
		f.registry.Register("hang", func(ctx context.Context, call tool.Call) (interface{}, error) {
			_ = call.Emit("first")
			<-ctx.Done()
			return nil, ctx.Err()
		}, "", "")

		c := New(f.url, WithTimeout(150*time.Millisecond))
		stream, err := c.Stream(context.Background(), "hang", nil)
		require.NoError(t, err)

		token, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, "first", token)

		_, err = stream.Recv()
		assert.ErrorIs(t, err, ErrTimeout)
		assert.NoError(t, stream.Close())
	})
}

func TestClient_StreamDroppedConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req gateway.Request
		if err := conn.ReadJSON(&req); err != nil {
			_ = conn.Close()
			return
		}
		_ = conn.WriteJSON(&gateway.StreamFrame{Type: gateway.FrameToken, Content: "a", ID: req.ID})
		// no close frame, the peer sees an abnormal closure
		_ = conn.Close()
	}))
	defer ts.Close()

	c := New("ws"+strings.TrimPrefix(ts.URL, "http"), WithTimeout(5*time.Second))
	stream, err := c.Stream(context.Background(), "letters", nil)
	require.NoError(t, err)

	tokens, err := stream.Collect()
	assert.Equal(t, []string{"a"}, tokens)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.NotErrorIs(t, err, ErrTimeout)

	var toolErr *ToolError
	assert.False(t, errors.As(err, &toolErr))
}
