// Package client invokes tools on a gateway. Every call uses its own
// connection, which is closed when the call finishes however it ends.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harun/toolgate/pkg/gateway"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a call when no WithTimeout option is given
const DefaultTimeout = 60 * time.Second

// Client calls tools on one gateway endpoint
type Client struct {
	url     string
	agent   string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithAgent identifies the caller in the gateway's invocation ledger
func WithAgent(agent string) Option {
	return func(c *Client) {
		c.agent = agent
	}
}

// WithTimeout sets the overall deadline of each call. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithDialer replaces the WebSocket dialer
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithLogger sets the client's logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the gateway at url, e.g. ws://localhost:8765/ws
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		dialer:  websocket.DefaultDialer,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "client").Logger()
	return c
}

// CallOption configures a single call
type CallOption func(*callOptions)

type callOptions struct {
	emotion   string
	requestID string
}

// WithEmotion attaches an emotion tag to the call
func WithEmotion(emotion string) CallOption {
	return func(o *callOptions) {
		o.emotion = emotion
	}
}

// WithRequestID overrides the generated request id
func WithRequestID(id string) CallOption {
	return func(o *callOptions) {
		o.requestID = id
	}
}

// Invoke calls toolName and waits for its result
func (c *Client) Invoke(ctx context.Context, toolName string, params map[string]interface{}, opts ...CallOption) (json.RawMessage, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stopWatch := closeOnDone(ctx, conn)
	defer stopWatch()

	req, err := c.buildRequest(toolName, params, false, opts)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, classify(ctx, "write", err)
	}

	frame, err := readFrame(ctx, conn)
	if err != nil {
		return nil, err
	}
	if frame.Error != nil {
		return nil, toolError(frame.Error)
	}
	if len(frame.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return frame.Result, nil
}

// Stream calls toolName with incremental delivery. The returned stream owns
// the connection; read it with Recv until io.EOF or an error.
func (c *Client) Stream(ctx context.Context, toolName string, params map[string]interface{}, opts ...CallOption) (*TokenStream, error) {
	ctx, cancel := c.callContext(ctx)

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	stream := &TokenStream{
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		stopWatch: closeOnDone(ctx, conn),
	}

	req, err := c.buildRequest(toolName, params, true, opts)
	if err != nil {
		stream.Close()
		return nil, err
	}
	if err := conn.WriteJSON(req); err != nil {
		stream.Close()
		return nil, classify(ctx, "write", err)
	}

	return stream, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", c.url).Msg("Dial failed")
		var netErr net.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %w", ErrConnection, ErrTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, c.url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	return conn, nil
}

func (c *Client) buildRequest(toolName string, params map[string]interface{}, stream bool, opts []CallOption) (*gateway.Request, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	id, err := json.Marshal(o.requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request id: %w", err)
	}

	return &gateway.Request{
		JSONRPC: gateway.Version,
		Method:  toolName,
		Params:  params,
		ID:      id,
		Metadata: tool.CallMetadata{
			Emotion: o.emotion,
			Agent:   c.agent,
		},
		Stream: stream,
	}, nil
}

// closeOnDone closes conn when ctx ends so a blocked read returns
func closeOnDone(ctx context.Context, conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// inboundFrame is the union of every frame shape the gateway sends
type inboundFrame struct {
	Type    string            `json:"type"`
	Content string            `json:"content"`
	Result  json.RawMessage   `json:"result"`
	Error   *gateway.RPCError `json:"error"`
}

func readFrame(ctx context.Context, conn *websocket.Conn) (*inboundFrame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, classify(ctx, "read", err)
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &TransportError{Op: "decode", Err: err}
	}
	return &frame, nil
}

func toolError(e *gateway.RPCError) *ToolError {
	return &ToolError{
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
	}
}
