package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Server reads JSON-RPC frames from in, dispatches each request with an id
// on its own goroutine, and writes replies through a single mutex so whole
// frames never interleave on out.
type Server struct {
	in         *FrameReader
	out        io.Writer
	dispatcher *Dispatcher
	logger     *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewServer builds a Server over in/out.
func NewServer(in io.Reader, out io.Writer, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{in: NewFrameReader(in), out: out, dispatcher: dispatcher, logger: logger}
}

// Run reads frames until EOF or ctx is done, dispatching each request and
// waiting for in-flight goroutines to finish before returning.
func (s *Server) Run(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := s.in.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handleRawFrame(ctx, raw)
	}
}

func (s *Server) handleRawFrame(ctx context.Context, raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] == '[' {
		s.writeError(nil, &RPCError{Code: codeInvalidRequest, Message: "batch requests are not supported"})
		return
	}
	if trimmed[0] != '{' && json.Valid(trimmed) {
		s.writeError(nil, &RPCError{Code: codeInvalidRequest, Message: "request must be a JSON object"})
		return
	}

	req, err := decodeRequest(trimmed)
	if err != nil {
		s.writeError(nil, &RPCError{Code: codeParseError, Message: "parse error"})
		return
	}
	if req.Method == "" {
		s.writeError(req.ID, &RPCError{Code: codeInvalidRequest, Message: "missing method"})
		return
	}

	if req.IsNotification() {
		s.logger.Debug("stdio: notification received", "method", req.Method)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, rpcErr := s.dispatcher.Handle(ctx, req)
		if rpcErr != nil {
			s.write(newErrorResponse(req.ID, rpcErr))
			return
		}
		s.write(newResultResponse(req.ID, result))
	}()
}

func (s *Server) writeError(id json.RawMessage, rpcErr *RPCError) {
	s.write(newErrorResponse(id, rpcErr))
}

func (s *Server) write(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("stdio: failed to marshal response", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if werr := WriteFrame(s.out, s.in.Mode(), payload); werr != nil {
		s.logger.Error("stdio: failed to write response", "error", werr)
	}
}
