package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// FrameWriter sends one frame to the caller
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

// ParseRequest parses and validates a request frame. On failure the error is
// an *RPCError; for InvalidRequest the returned Request still carries the
// caller's id when one could be read.
func ParseRequest(data []byte) (*Request, error) {
	if !json.Valid(data) {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &Request{}, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: expected a JSON object",
		}
	}

	partial := &Request{ID: peekID(fields["id"])}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return partial, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request",
			Data:    err.Error(),
		}
	}
	req.ID = partial.ID

	if req.JSONRPC != Version {
		return partial, &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid request: jsonrpc must be %q", Version),
		}
	}

	if req.Method == "" {
		return partial, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}

	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}

	return &req, nil
}

// peekID keeps string and number ids; anything else is treated as absent
func peekID(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return raw
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return raw
		}
	}
	return nil
}

// Dispatcher routes parsed requests to registered tools and writes the
// resulting frames
type Dispatcher struct {
	registry    *tool.Registry
	ledger      *ledger.Ledger
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil ledger skips invocation
// recording; a zero callTimeout disables the per-call deadline.
func NewDispatcher(registry *tool.Registry, l *ledger.Ledger, callTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		ledger:      l,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Handle parses one inbound frame and answers it through w. The returned
// error is a transport failure only; protocol and tool failures are written
// to w as error frames.
func (d *Dispatcher) Handle(ctx context.Context, data []byte, w FrameWriter) error {
	req, err := ParseRequest(data)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		observability.RecordProtocolError(strconv.Itoa(rpcErr.Code))
		d.logger.Debug().Int("code", rpcErr.Code).Str("reason", rpcErr.Message).Msg("Rejected frame")
		return w.WriteJSON(newErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data))
	}

	return d.Dispatch(ctx, req, w)
}

// Dispatch runs one parsed request
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, w FrameWriter) error {
	ctx = tracing.WithRequestID(ctx, requestIDString(req.ID))
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", req.Method).Logger()

	desc, err := d.registry.Lookup(req.Method)
	if err != nil {
		observability.RecordProtocolError(strconv.Itoa(MethodNotFound))
		logger.Debug().Msg("Tool not found")
		return w.WriteJSON(newErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil))
	}

	if d.ledger != nil {
		d.ledger.Record(req.Method, req.Metadata.Emotion, req.Metadata.Agent)
	}

	if err := desc.Validate(req.Params); err != nil {
		observability.RecordToolError(req.Method, string(errorKind(err)))
		logger.Debug().Err(err).Msg("Rejected tool parameters")
		return w.WriteJSON(toolErrorResponse(req.ID, err))
	}

	if req.Metadata.Agent != "" {
		ctx = tracing.WithAgent(ctx, req.Metadata.Agent)
	}
	ctx, span := tracing.StartToolSpan(ctx, req.Method, req.Stream)
	defer span.End()

	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug().Bool("stream", req.Stream).Interface("params", req.Params).Msg("Invoking tool")

	var emitter *tokenEmitter
	call := tool.Call{
		RequestID: requestIDString(req.ID),
		Params:    req.Params,
		Metadata:  req.Metadata,
	}
	if req.Stream {
		emitter = &tokenEmitter{id: req.ID, w: w}
		call.Emit = emitter.emit
	}

	result, callErr := d.run(ctx, desc, call)
	duration := time.Since(start)

	if callErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		// connection closed under the call; there is no one left to answer
		if emitter != nil {
			emitter.close()
		}
		logger.Info().Err(callErr).Msg("Call abandoned, connection closed")
		return ctx.Err()
	}

	success := callErr == nil
	observability.RecordToolInvocation(req.Method, req.Stream, duration, success)
	auditStatus := "success"
	if !success {
		auditStatus = "failure"
		kind := errorKind(callErr)
		observability.RecordToolError(req.Method, string(kind))
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		logger.Warn().Err(callErr).Str("kind", string(kind)).Dur("duration", duration).Msg("Tool call failed")
	} else {
		logger.Debug().Dur("duration", duration).Msg("Tool call completed")
	}
	observability.RecordToolAudit(ctx, req.Method, req.Metadata.Agent, auditStatus, map[string]interface{}{
		"request_id": requestIDString(req.ID),
		"stream":     req.Stream,
		"emotion":    req.Metadata.Emotion,
	})

	if req.Stream {
		return d.finishStream(req, emitter, result, callErr)
	}
	return d.finishSync(req, w, result, callErr, logger)
}

// run executes the handler outside every lock, converting panics and
// deadline expiry into tool errors. A handler that ignores ctx keeps running
// in the background after its deadline; its late result is discarded.
func (d *Dispatcher) run(ctx context.Context, desc tool.Descriptor, call tool.Call) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().
					Str("tool", desc.Name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- outcome{err: tool.NewExecutionError(desc.Name, fmt.Errorf("handler panic: %v", r))}
			}
		}()
		result, err := desc.Handler(ctx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, timeoutError(desc.Name)
		}
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(desc.Name)
		}
		return nil, ctx.Err()
	}
}

func timeoutError(toolName string) *tool.Error {
	return &tool.Error{
		Kind:    tool.KindTimeout,
		Tool:    toolName,
		Message: "tool execution timed out",
		Err:     context.DeadlineExceeded,
	}
}

func (d *Dispatcher) finishSync(req *Request, w FrameWriter, result interface{}, callErr error, logger zerolog.Logger) error {
	if callErr != nil {
		return w.WriteJSON(toolErrorResponse(req.ID, callErr))
	}

	encoded, err := encodeResult(result)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode tool result")
		observability.RecordProtocolError(strconv.Itoa(InternalError))
		return w.WriteJSON(newErrorResponse(req.ID, InternalError, "Internal error: failed to encode result", nil))
	}

	return w.WriteJSON(&Response{
		JSONRPC: Version,
		Result:  encoded,
		ID:      responseID(req.ID),
	})
}

// finishStream sends the tokens of a handler that returned a value instead
// of emitting, then the end frame
func (d *Dispatcher) finishStream(req *Request, emitter *tokenEmitter, result interface{}, callErr error) error {
	if callErr == nil && emitter.count() == 0 && result != nil {
		for _, token := range Tokenize(result) {
			if err := emitter.emit(token); err != nil {
				return err
			}
		}
	}

	observability.RecordStreamTokens(req.Method, emitter.count())

	end := &StreamFrame{Type: FrameEnd, ID: req.ID}
	if callErr != nil {
		end.Error = toolRPCError(callErr)
	}
	return emitter.finish(end)
}

func toolErrorResponse(id json.RawMessage, err error) *Response {
	rpcErr := toolRPCError(err)
	return newErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func toolRPCError(err error) *RPCError {
	return &RPCError{
		Code:    ServerError,
		Message: "Server error: " + err.Error(),
		Data:    map[string]interface{}{"kind": string(errorKind(err))},
	}
}

func errorKind(err error) tool.ErrorKind {
	var toolErr *tool.Error
	if errors.As(err, &toolErr) && toolErr.Kind != "" {
		return toolErr.Kind
	}
	return tool.KindExecution
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

func encodeResult(result interface{}) (json.RawMessage, error) {
	if result == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("result is not valid JSON")
		}
		return raw, nil
	}
	return json.Marshal(result)
}

// Tokenize splits a handler's return value into stream tokens. A list of
// strings yields one token per element, a string splits after each space,
// and any other value becomes a single JSON-encoded token.
func Tokenize(result interface{}) []string {
	switch v := result.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		tokens := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return []string{mustJSON(result)}
			}
			tokens = append(tokens, s)
		}
		return tokens
	case string:
		var tokens []string
		for _, piece := range strings.SplitAfter(v, " ") {
			if piece != "" {
				tokens = append(tokens, piece)
			}
		}
		return tokens
	default:
		return []string{mustJSON(result)}
	}
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// tokenEmitter writes token frames for one streaming call. After the end
// frame is sent, late emits from a timed-out handler are rejected so no
// token follows the end marker.
type tokenEmitter struct {
	mu     sync.Mutex
	id     json.RawMessage
	w      FrameWriter
	tokens int
	closed bool
}

var errStreamClosed = errors.New("stream closed")

func (e *tokenEmitter) emit(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errStreamClosed
	}
	if err := e.w.WriteJSON(&StreamFrame{Type: FrameToken, Content: token, ID: e.id}); err != nil {
		e.closed = true
		return err
	}
	e.tokens++
	return nil
}

func (e *tokenEmitter) finish(end *StreamFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errStreamClosed
	}
	e.closed = true
	return e.w.WriteJSON(end)
}

func (e *tokenEmitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *tokenEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tokens
}
