package client

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/harun/toolgate/pkg/gateway"
)

// TokenStream is the receiving side of one streaming call
type TokenStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	conn      *websocket.Conn
	stopWatch func()
	err       error
	closeOnce sync.Once
}

// Recv returns the next token. After the end frame it returns io.EOF; a
// failed tool returns *ToolError. Tokens received before a failure stay
// delivered. The connection is closed as soon as Recv returns an error.
func (s *TokenStream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	frame, err := readFrame(s.ctx, s.conn)
	if err != nil {
		return "", s.fail(err)
	}

	switch frame.Type {
	case gateway.FrameToken:
		return frame.Content, nil
	case gateway.FrameEnd:
		if frame.Error != nil {
			return "", s.fail(toolError(frame.Error))
		}
		return "", s.fail(io.EOF)
	case "":
		// errors raised before the stream started arrive as a plain response
		if frame.Error != nil {
			return "", s.fail(toolError(frame.Error))
		}
	}

	return "", s.fail(&TransportError{Op: "read", Err: fmt.Errorf("unexpected frame type %q", frame.Type)})
}

// Collect drains the stream and returns every token. On error the tokens
// received so far are returned with it.
func (s *TokenStream) Collect() ([]string, error) {
	var tokens []string
	for {
		token, err := s.Recv()
		if err == io.EOF {
			return tokens, nil
		}
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, token)
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *TokenStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopWatch()
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

func (s *TokenStream) fail(err error) error {
	s.err = err
	_ = s.Close()
	return err
}
