// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/conveyor/lib/codec"
	"github.com/bureau-foundation/conveyor/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func decodeData(t *testing.T, response Response, target any) {
	t.Helper()
	if len(response.Data) == 0 {
		t.Fatal("response has no data to decode")
	}
	if err := codec.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("decoding response data: %v", err)
	}
}

// startServer registers handlers on a server at a fresh socket path,
// serves until the test ends, and returns the path once listening.
func startServer(t *testing.T, handlers map[string]ActionFunc) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := NewSocketServer(socketPath, nil)
	for action, handler := range handlers {
		server.Handle(action, handler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket never became ready")
	return socketPath
}

func TestSocketServerDispatch(t *testing.T) {
	socketPath := startServer(t, map[string]ActionFunc{
		"status": func(ctx context.Context, raw []byte) (any, error) {
			return map[string]any{"pipelines": 3}, nil
		},
	})

	response := sendRequest(t, socketPath, map[string]string{"action": "status"})
	if !response.OK {
		t.Fatalf("ok = false, error %q", response.Error)
	}
	var data map[string]any
	decodeData(t, response, &data)
	if data["pipelines"] != uint64(3) {
		t.Errorf("pipelines = %v (%T), want 3", data["pipelines"], data["pipelines"])
	}
}

func TestSocketServerRejections(t *testing.T) {
	socketPath := startServer(t, map[string]ActionFunc{
		"fail": func(ctx context.Context, raw []byte) (any, error) {
			return nil, errors.New("pipeline web is paused")
		},
	})

	tests := []struct {
		name    string
		request any
		want    string
	}{
		{"unknown action", map[string]string{"action": "explode"}, `unknown action "explode"`},
		{"missing action", map[string]string{"pipeline": "web"}, "missing required field: action"},
		{"handler error", map[string]string{"action": "fail"}, "pipeline web is paused"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response := sendRequest(t, socketPath, test.request)
			if response.OK {
				t.Fatal("ok = true, want false")
			}
			if response.Error != test.want {
				t.Errorf("error = %q, want %q", response.Error, test.want)
			}
		})
	}
}

func TestSocketServerInvalidCBOR(t *testing.T) {
	socketPath := startServer(t, nil)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()
	// 0xff is a CBOR break code with nothing to break.
	conn.Write([]byte{0xff})
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK {
		t.Error("ok = true for invalid CBOR")
	}
}

func TestSocketServerNilResult(t *testing.T) {
	socketPath := startServer(t, map[string]ActionFunc{
		"reload": func(ctx context.Context, raw []byte) (any, error) { return nil, nil },
	})

	response := sendRequest(t, socketPath, map[string]string{"action": "reload"})
	if !response.OK {
		t.Fatalf("ok = false, error %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("data = %x, want empty", response.Data)
	}
}

func TestSocketServerConcurrentRequests(t *testing.T) {
	socketPath := startServer(t, map[string]ActionFunc{
		"echo": func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				Value int `cbor:"value"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return map[string]any{"value": request.Value}, nil
		},
	})

	const concurrency = 20
	var waitGroup sync.WaitGroup
	for i := range concurrency {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			response := sendRequest(t, socketPath, map[string]any{"action": "echo", "value": i})
			var data map[string]any
			decodeData(t, response, &data)
			if data["value"] != uint64(i) {
				t.Errorf("request %d: value = %v, want %d", i, data["value"], i)
			}
		}()
	}
	waitGroup.Wait()
}

func TestSocketServerGracefulShutdown(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := NewSocketServer(socketPath, nil)

	handlerStarted := make(chan struct{})
	handlerRelease := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		close(handlerStarted)
		<-handlerRelease
		return map[string]any{"completed": true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket never became ready")

	responses := make(chan Response, 1)
	go func() {
		responses <- sendRequest(t, socketPath, map[string]string{"action": "slow"})
	}()

	testutil.RequireClosed(t, handlerStarted, 5*time.Second, "handler never started")
	close(handlerRelease)
	cancel()

	response := testutil.RequireReceive(t, responses, 5*time.Second, "in-flight request never answered")
	if !response.OK {
		t.Errorf("in-flight request: ok = false, error %q", response.Error)
	}
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation"); err != nil {
		t.Errorf("Serve: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after Serve returned")
	}
}

func TestSocketServerRestrictsSocketMode(t *testing.T) {
	socketPath := startServer(t, nil)
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("socket mode = %o, want 600", mode)
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer("/tmp/unused.sock", nil)
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("second Handle for the same action did not panic")
		}
	}()
	server.Handle("status", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
}

func TestClientCall(t *testing.T) {
	type pauseRequest struct {
		Pipeline string `cbor:"pipeline"`
		Reason   string `cbor:"reason,omitempty"`
	}
	socketPath := startServer(t, map[string]ActionFunc{
		"pause": func(ctx context.Context, raw []byte) (any, error) {
			var request pauseRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			if request.Pipeline == "" {
				return nil, errors.New("pipeline is required")
			}
			return map[string]string{"paused": request.Pipeline, "reason": request.Reason}, nil
		},
	})
	client := NewClient(socketPath)
	ctx := context.Background()

	var result map[string]string
	if err := client.Call(ctx, "pause", pauseRequest{Pipeline: "web", Reason: "flaky"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result["paused"] != "web" || result["reason"] != "flaky" {
		t.Errorf("result = %v, want paused=web reason=flaky", result)
	}

	if err := client.Call(ctx, "pause", pauseRequest{Pipeline: "web"}, nil); err != nil {
		t.Errorf("Call with nil result: %v", err)
	}

	err := client.Call(ctx, "pause", nil, nil)
	var serviceError *Error
	if !errors.As(err, &serviceError) {
		t.Fatalf("Call without pipeline = %v, want *Error", err)
	}
	if serviceError.Message != "pipeline is required" {
		t.Errorf("Message = %q, want %q", serviceError.Message, "pipeline is required")
	}
	if got, want := serviceError.Error(), "pause: pipeline is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestClientRejectsActionField(t *testing.T) {
	client := NewClient("/tmp/unused.sock")
	err := client.Call(context.Background(), "trigger", map[string]string{"action": "pause"}, nil)
	if err == nil {
		t.Fatal("Call with an action field in the request succeeded")
	}
}

func TestClientConnectionRefused(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	err := client.Call(context.Background(), "status", nil, nil)
	if err == nil {
		t.Fatal("Call to a missing socket succeeded")
	}
	var serviceError *Error
	if errors.As(err, &serviceError) {
		t.Errorf("connection failure reported as server error: %v", err)
	}
}

func TestClientCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	socketPath := startServer(t, map[string]ActionFunc{
		"trigger": func(ctx context.Context, raw []byte) (any, error) {
			<-release
			return nil, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- NewClient(socketPath).Call(ctx, "trigger", nil, nil) }()
	cancel()

	err := testutil.RequireReceive(t, errs, 5*time.Second, "Call did not return after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call = %v, want context.Canceled", err)
	}
}
