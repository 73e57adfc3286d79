// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
)

// ActionFunc processes one request. raw is the full CBOR request,
// including the "action" field; the handler decodes its own fields,
// usually with Decode.
//
// A nil result produces {ok: true}. A non-nil result is marshaled
// into the response's data field. A returned error becomes a failure
// response carrying its message and errkind.Kind.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire envelope for every reply. Handlers never build
// one; the server wraps their result or error into it before encoding.
// A failure carries the error's message and its errkind.Kind so the
// client can rebuild a classified error on its side.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`

	// Kind is the errkind.Kind of a failure.
	Kind int `cbor:"kind,omitempty"`

	// RetryAfterMillis is set on RateLimited failures.
	RetryAfterMillis int64 `cbor:"retry_after_ms,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. A connection carries exactly one exchange: the client writes
// one CBOR map naming an "action", the server dispatches it to the
// registered handler, writes one Response and closes the connection.
//
// Register actions with Handle before calling Serve. An unknown action
// gets an InvalidInput failure response.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// activeConnections counts handlers still running so Serve can
	// wait for them after it stops accepting.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath. A
// nil logger discards.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
}

// Handle registers handler for action. It must be called before Serve
// starts; the handler map is not guarded. It panics on a duplicate
// registration.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve listens on the socket path and dispatches each accepted
// connection to its action handler on its own goroutine. It blocks
// until ctx is cancelled, then stops accepting and waits for in-flight
// handlers to finish before returning.
//
// A stale socket file at the path is removed before listening. The new
// socket is restricted to mode 0600, so only the issuer's user can
// request signatures. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", s.socketPath, err)
	}

	// Closing the listener is what unblocks Accept on cancellation.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("issuer socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	// readTimeout bounds how long a client may take to send its
	// request after connecting.
	readTimeout = 30 * time.Second

	// writeTimeout bounds writing the response.
	writeTimeout = 10 * time.Second

	// A sign request carries a 256-byte blinded key in base64; 64 KiB
	// leaves room for every action.
	maxRequestSize = 64 * 1024
)

// handleConnection runs one request-response exchange on conn.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// A CBOR item is self-delimiting, so one Decode reads exactly one
	// request. The limit caps what a client can make the server buffer.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Connected and closed without sending anything.
			return
		}
		s.writeError(conn, errkind.Errorf(errkind.Deserialization, "read request", "%v", err))
		return
	}

	action, err := actionOf(raw)
	if err != nil {
		s.writeError(conn, errkind.Errorf(errkind.Deserialization, "read request", "%v", err))
		return
	}
	if action == "" {
		s.writeError(conn, errkind.Errorf(errkind.InvalidInput, "read request", "missing required field: action"))
		return
	}

	handler, exists := s.handlers[action]
	if !exists {
		s.writeError(conn, errkind.Errorf(errkind.InvalidInput, "read request", "unknown action %q", action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", action, "error", err)
		s.writeError(conn, err)
		return
	}
	s.writeSuccess(conn, result)
}

// writeError sends {ok: false} with err's message and kind, plus the
// retry delay when err is a RateLimited denial. Handlers must not put
// secret material in their errors: the message crosses the socket.
func (s *SocketServer) writeError(conn net.Conn, err error) {
	response := Response{Error: err.Error(), Kind: int(errkind.Of(err))}
	if retryAfter, ok := errkind.RetryAfterOf(err); ok {
		response.RetryAfterMillis = retryAfter.Milliseconds()
	}
	s.write(conn, response)
}

// writeSuccess sends {ok: true}, with result marshaled into the data
// field when it is not nil. A result that cannot be marshaled becomes
// a Serialization failure response instead.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, errkind.New(errkind.Serialization, "write response", err))
			return
		}
		response.Data = data
	}
	s.write(conn, response)
}

// write encodes response under the write deadline. A failed write is
// only logged at debug level; the connection is closing either way.
func (s *SocketServer) write(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// Decode unmarshals an action's fields from raw. Unknown fields other
// than "action" are rejected.
func Decode(raw []byte, target any) error {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(raw, &fields); err != nil {
		return errkind.New(errkind.Deserialization, "decode request", err)
	}
	delete(fields, "action")
	rest, err := codec.Marshal(fields)
	if err != nil {
		return errkind.New(errkind.Serialization, "decode request", err)
	}
	if err := codec.Unmarshal(rest, target); err != nil {
		return errkind.New(errkind.Deserialization, "decode request", err)
	}
	return nil
}

// actionOf returns the request's "action" field, ignoring every
// other field.
func actionOf(raw []byte) (string, error) {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(raw, &fields); err != nil {
		return "", err
	}
	encoded, ok := fields["action"]
	if !ok {
		return "", nil
	}
	var action string
	if err := codec.Unmarshal(encoded, &action); err != nil {
		return "", err
	}
	return action, nil
}
