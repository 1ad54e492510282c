package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/NamanBalaji/nativedl/internal/logger"
)

const maxLineSize = 1 << 20

// Error codes sent in replies.
const (
	CodeNotImplemented   = "not_implemented"
	CodeInvalidArguments = "invalid_arguments"
	CodeBadRequest       = "bad_request"
	CodeError            = "error"
)

// CallHandler runs one method call.
type CallHandler interface {
	Handle(ctx context.Context, call MethodCall) (any, error)
}

type request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type replyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reply struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type errorReply struct {
	ID    int64      `json:"id"`
	Error replyError `json:"error"`
}

type push struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments"`
}

// Server speaks newline-delimited JSON: one request per input line, one
// reply per request, and push messages interleaved on the same output.
type Server struct {
	r io.Reader

	mu  sync.Mutex
	enc *json.Encoder
}

func NewServer(r io.Reader, w io.Writer) *Server {
	return &Server{r: r, enc: json.NewEncoder(w)}
}

// Push writes a push message. It is safe to call concurrently with Serve.
func (s *Server) Push(method string, arguments any) error {
	return s.write(push{Method: method, Arguments: arguments})
}

func (s *Server) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

// Serve handles requests one at a time, in arrival order, until the input
// ends or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, h CallHandler) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if err := s.serveLine(ctx, h, line); err != nil {
				return err
			}
		}
	}
}

func (s *Server) serveLine(ctx context.Context, h CallHandler, line []byte) error {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warnf("Malformed request: %v", err)
		return s.write(errorReply{
			ID:    req.ID,
			Error: replyError{Code: CodeBadRequest, Message: err.Error()},
		})
	}

	logger.Debugf("Call %d: %s %s", req.ID, req.Method, req.Arguments)

	result, err := h.Handle(ctx, MethodCall{Method: req.Method, Arguments: req.Arguments})
	if err != nil {
		return s.write(errorReply{ID: req.ID, Error: toReplyError(err)})
	}

	if werr := s.write(reply{ID: req.ID, Result: result}); werr != nil {
		return fmt.Errorf("failed to write reply %d: %w", req.ID, werr)
	}
	return nil
}

func toReplyError(err error) replyError {
	code := CodeError
	switch {
	case errors.Is(err, ErrNotImplemented):
		code = CodeNotImplemented
	case errors.Is(err, ErrInvalidArguments):
		code = CodeInvalidArguments
	}
	return replyError{Code: code, Message: err.Error()}
}
