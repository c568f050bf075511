// Package client sends single control requests to a running daemon.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/protocol"
	"github.com/conneroisu/fwatch/internal/types"
)

// ErrDaemonNotRunning is returned when nothing listens on the socket.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Client talks to the daemon over its unix socket.
type Client struct {
	socket  string
	timeout time.Duration
}

// New creates a client for the daemon listening at socket.
func New(socket string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{socket: socket, timeout: timeout}
}

// Send writes one packet and returns the full reply text. An error reply
// from the daemon is returned as text; use IsErrorReply to detect it.
func (c *Client) Send(ctx context.Context, p protocol.Packet) (string, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return "", ErrDaemonNotRunning
		}
		return "", fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, c.socket, "connect to daemon")
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if err := protocol.WriteFrame(conn, p); err != nil {
		return "", fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, c.socket, "send request")
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, c.socket, "read reply")
	}
	return string(reply), nil
}

// Track registers path with the given policies.
func (c *Client) Track(ctx context.Context, path string, alias types.AliasPolicy, action types.ActionPolicy) (string, error) {
	payload := protocol.EncodeTrack(protocol.Track{Path: path, Alias: alias, Action: action})
	return c.Send(ctx, protocol.NewPacket(protocol.CommandTrack, payload))
}

// Untrack stops tracking path.
func (c *Client) Untrack(ctx context.Context, path string) (string, error) {
	return c.Send(ctx, protocol.NewPacket(protocol.CommandUntrack, protocol.EncodeString(path)))
}

// List lists tracked files matching pattern.
func (c *Client) List(ctx context.Context, pattern string) (string, error) {
	return c.Send(ctx, protocol.NewPacket(protocol.CommandList, protocol.EncodeString(pattern)))
}

// Select fetches the snapshot of path whose digest starts with prefix.
func (c *Client) Select(ctx context.Context, path, prefix string) (string, error) {
	payload := protocol.EncodePair(protocol.Pair{First: path, Second: prefix})
	return c.Send(ctx, protocol.NewPacket(protocol.CommandSelect, payload))
}

// Echo asks the daemon to send msg back.
func (c *Client) Echo(ctx context.Context, msg string) (string, error) {
	return c.Send(ctx, protocol.NewPacket(protocol.CommandEcho, protocol.EncodeString(msg)))
}

// Echoerr asks the daemon to send msg back as an error reply.
func (c *Client) Echoerr(ctx context.Context, msg string) (string, error) {
	return c.Send(ctx, protocol.NewPacket(protocol.CommandEchoerr, protocol.EncodeString(msg)))
}

// IsErrorReply reports whether reply is an error reply.
func IsErrorReply(reply string) bool {
	return strings.HasPrefix(reply, fwerrors.ReplyPrefix)
}
