// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/freenet/ghostkey/lib/codec"
	"github.com/freenet/ghostkey/lib/errkind"
	"github.com/freenet/ghostkey/lib/testutil"
)

// serve starts server and returns its socket path. The server is
// stopped when the test ends.
func serve(t *testing.T, register func(*SocketServer)) string {
	t.Helper()
	socketPath := testutil.SocketPath(t, "issuer.sock")
	server := NewSocketServer(socketPath, nil)
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, 5*time.Second, "socket server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.WaitForSocket(t, socketPath)
	return socketPath
}

// sendRaw writes raw bytes and decodes the response envelope.
func sendRaw(t *testing.T, socketPath string, raw []byte) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()
	conn.Write(raw)
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

type echoRequest struct {
	Text string `cbor:"text"`
}

type echoResponse struct {
	Text string `cbor:"text"`
}

func TestCallRoundtrip(t *testing.T) {
	socketPath := serve(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := Decode(raw, &request); err != nil {
				return nil, err
			}
			return echoResponse{Text: request.Text}, nil
		})
	})

	var result echoResponse
	err := NewClient(socketPath).Call(context.Background(), "echo", map[string]any{"text": "tier:5"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Text != "tier:5" {
		t.Errorf("Text = %q, want tier:5", result.Text)
	}
}

func TestCallNilResult(t *testing.T) {
	socketPath := serve(t, func(server *SocketServer) {
		server.Handle("ping", func(context.Context, []byte) (any, error) { return nil, nil })
	})
	if err := NewClient(socketPath).Call(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCallCarriesErrorKind(t *testing.T) {
	socketPath := serve(t, func(server *SocketServer) {
		server.Handle("limited", func(context.Context, []byte) (any, error) {
			return nil, errkind.Limited("sign certificate", 90*time.Minute)
		})
		server.Handle("claimed", func(context.Context, []byte) (any, error) {
			return nil, fmt.Errorf("wrapped: %w", errkind.Errorf(errkind.AlreadySigned, "claim", "used"))
		})
		server.Handle("plain", func(context.Context, []byte) (any, error) {
			return nil, errors.New("something broke")
		})
	})
	client := NewClient(socketPath)

	err := client.Call(context.Background(), "limited", nil, nil)
	if errkind.Of(err) != errkind.RateLimited {
		t.Fatalf("kind = %v, want RateLimited (err %v)", errkind.Of(err), err)
	}
	if retryAfter, ok := errkind.RetryAfterOf(err); !ok || retryAfter != 90*time.Minute {
		t.Errorf("RetryAfter = %v, %v; want 1h30m", retryAfter, ok)
	}

	err = client.Call(context.Background(), "claimed", nil, nil)
	if errkind.Of(err) != errkind.AlreadySigned {
		t.Errorf("kind = %v, want AlreadySigned", errkind.Of(err))
	}

	err = client.Call(context.Background(), "plain", nil, nil)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error %v is not a *ServiceError", err)
	}
	if serviceErr.Message != "something broke" || serviceErr.Action != "plain" {
		t.Errorf("ServiceError = %+v", serviceErr)
	}
	if errkind.Of(err) != errkind.Unknown {
		t.Errorf("kind = %v, want Unknown", errkind.Of(err))
	}
}

func TestUnmarshalableResultIsSerializationError(t *testing.T) {
	socketPath := serve(t, func(server *SocketServer) {
		server.Handle("bad", func(context.Context, []byte) (any, error) {
			return map[string]any{"f": func() {}}, nil
		})
	})
	raw, err := codec.Marshal(map[string]any{"action": "bad"})
	if err != nil {
		t.Fatal(err)
	}
	response := sendRaw(t, socketPath, raw)
	if response.OK {
		t.Fatal("response OK for a result that cannot be marshaled")
	}
	if kind := errkind.Kind(response.Kind); kind != errkind.Serialization {
		t.Errorf("kind = %v, want Serialization", kind)
	}
}

func TestUnknownAndMissingAction(t *testing.T) {
	socketPath := serve(t, func(server *SocketServer) {
		server.Handle("ping", func(context.Context, []byte) (any, error) { return nil, nil })
	})

	err := NewClient(socketPath).Call(context.Background(), "nonexistent", nil, nil)
	if errkind.Of(err) != errkind.InvalidInput {
		t.Errorf("unknown action kind = %v, want InvalidInput", errkind.Of(err))
	}

	raw, err := codec.Marshal(map[string]string{"foo": "bar"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	response := sendRaw(t, socketPath, raw)
	if response.OK || errkind.Kind(response.Kind) != errkind.InvalidInput {
		t.Errorf("missing action response = %+v", response)
	}
}

func TestInvalidCBOR(t *testing.T) {
	socketPath := serve(t, func(*SocketServer) {})
	response := sendRaw(t, socketPath, []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb})
	if response.OK {
		t.Fatal("expected ok=false for invalid CBOR")
	}
	if errkind.Kind(response.Kind) != errkind.Deserialization {
		t.Errorf("kind = %v, want Deserialization", errkind.Kind(response.Kind))
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	raw, err := codec.Marshal(map[string]any{"action": "echo", "text": "x", "extra": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var request echoRequest
	if err := Decode(raw, &request); errkind.Of(err) != errkind.Deserialization {
		t.Errorf("Decode error = %v, want Deserialization", err)
	}
}

func TestSocketMode(t *testing.T) {
	socketPath := serve(t, func(*SocketServer) {})
	// The mode is set right after listen; give Serve a moment.
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := os.Stat(socketPath)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Mode().Perm() == 0o600 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket mode = %o, want 600", info.Mode().Perm())
		}
		runtime.Gosched()
	}
}

func TestDialFailureIsIO(t *testing.T) {
	err := NewClient(testutil.SocketPath(t, "absent.sock")).Call(context.Background(), "ping", nil, nil)
	if errkind.Of(err) != errkind.IO {
		t.Errorf("kind = %v, want IO", errkind.Of(err))
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer(testutil.SocketPath(t, "issuer.sock"), nil)
	server.Handle("ping", func(context.Context, []byte) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("ping", func(context.Context, []byte) (any, error) { return nil, nil })
}
