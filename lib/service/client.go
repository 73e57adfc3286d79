// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
)

const (
	dialTimeout = 5 * time.Second

	// Matches the server's read plus write timeouts.
	responseReadTimeout = 45 * time.Second

	maxResponseSize = 64 * 1024
)

// ServiceError is the server's failure message for one action. Call
// returns it wrapped in an *errkind.Error carrying the server's kind.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client sends requests to an issuer socket. Each Call uses a fresh
// connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends action with fields and decodes a successful response's
// data into result, when both are non-nil. fields must not contain an
// "action" key.
//
// A failure reported by the server comes back as an *errkind.Error
// with the server's kind (and RetryAfter for RateLimited) wrapping a
// *ServiceError. Transport failures are IO errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return errkind.New(errkind.IO, "call "+action, fmt.Errorf("%s: %w", c.socketPath, err))
	}

	if !response.OK {
		return &errkind.Error{
			Kind:       errkind.Kind(response.Kind),
			Op:         "call " + action,
			Err:        &ServiceError{Action: action, Message: response.Error},
			RetryAfter: time.Duration(response.RetryAfterMillis) * time.Millisecond,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return errkind.New(errkind.Deserialization, "call "+action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
