// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/conveyor/lib/codec"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing the request. Manual triggers with wait set hold the
// connection for the whole evaluation, including material updates.
const responseReadTimeout = 10 * time.Minute

// maxResponseSize bounds a single response.
const maxResponseSize = 16 * 1024 * 1024

// Error is returned by Call when the server responds with ok=false.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client sends requests to a control socket. Each Call opens a new
// connection, matching the server's one-request-per-connection model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath. Nothing is
// dialled until Call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the path the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends request under action and decodes the response data into
// result.
//
// request is any CBOR-encodable struct or map, or nil for actions with
// no parameters. Its fields are merged into the request map next to
// "action", so it must encode as a map and must not carry an "action"
// key of its own. result may be nil to discard the data.
//
// A failure reported by the server is returned as *Error; connection
// and encoding failures are returned as plain errors.
func (c *Client) Call(ctx context.Context, action string, request, result any) error {
	fields, err := requestFields(action, request)
	if err != nil {
		return err
	}

	response, err := c.send(ctx, fields)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &Error{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// requestFields encodes request and decodes it back as a map so the
// action key can be added beside the caller's fields.
func requestFields(action string, request any) (map[string]any, error) {
	fields := make(map[string]any)
	if request != nil {
		data, err := codec.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("encoding %q request: %w", action, err)
		}
		if err := codec.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("encoding %q request: not a map: %w", action, err)
		}
		if _, exists := fields["action"]; exists {
			return nil, fmt.Errorf("encoding %q request: request carries its own action field", action)
		}
	}
	fields["action"] = action
	return fields, nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Abandon the read when ctx ends before the response arrives.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
