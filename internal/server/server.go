// Package server implements the daemon's control socket.
//
// Every connection carries exactly one request: the client writes one
// framed packet, the server dispatches it, writes one text reply and closes
// the connection. Errors at any stage become an "error: " reply on the same
// connection; nothing a client sends can bring the daemon down.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/protocol"
)

// Handler produces the reply for one decoded packet. A non-nil error is
// rendered as an error reply; the text is then ignored.
type Handler interface {
	Handle(ctx context.Context, p protocol.Packet) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, p protocol.Packet) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, p protocol.Packet) (string, error) {
	return f(ctx, p)
}

// Options tune a ControlServer.
type Options struct {
	IOTimeout time.Duration
	MaxFrame  int
}

// ControlServer serves the control protocol on a unix socket.
type ControlServer struct {
	handler Handler
	logger  logging.Logger
	errs    *fwerrors.Handler
	opts    Options

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup

	shutdownOnce sync.Once
	isShutdown   bool
}

// New creates a control server.
func New(handler Handler, logger logging.Logger, opts Options) *ControlServer {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = 16 << 20
	}
	logger = logger.WithComponent("server")
	return &ControlServer{
		handler: handler,
		logger:  logger,
		errs:    fwerrors.NewHandler(logger),
		opts:    opts,
	}
}

// Listen binds a unix socket at path. A socket file left behind by a dead
// daemon is removed; one that still accepts connections is an error.
func Listen(path string) (net.Listener, error) {
	if _, err := os.Lstat(path); err == nil {
		conn, dialErr := net.DialTimeout("unix", path, 500*time.Millisecond)
		if dialErr == nil {
			conn.Close()
			return nil, fwerrors.NewIOError(fwerrors.ErrCodeWriteFailed, "another daemon is listening", nil).WithPath(path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, path, "remove stale socket")
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, path, "listen on control socket")
	}
	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fwerrors.WrapIO(err, fwerrors.ErrCodeWriteFailed, path, "restrict control socket")
	}
	return l, nil
}

// Serve accepts connections on l until Shutdown is called or ctx is done.
// It returns nil after a clean shutdown.
func (s *ControlServer) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.closeListener() })
	defer stop()

	s.logger.Info(ctx, "Control server listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shuttingDown() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fwerrors.NewIOError(fwerrors.ErrCodeReadFailed, "accept control connection", err)
		}

		s.conns.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *ControlServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *ControlServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down control server")

		s.mu.Lock()
		s.isShutdown = true
		s.mu.Unlock()

		if cerr := s.closeListener(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}

		done := make(chan struct{})
		go func() {
			s.conns.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for control connections: %w", ctx.Err())
		}
	})
	return err
}

func (s *ControlServer) closeListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *ControlServer) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isShutdown
}

func (s *ControlServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	reqID := uuid.NewString()
	log := s.logger.With("request_id", reqID)
	start := time.Now()

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.IOTimeout))
	packet, err := protocol.ReadFrame(bufio.NewReader(conn), s.opts.MaxFrame)

	var reply string
	// Probes such as a second daemon checking for a live socket hang up
	// without a request, so a failed write of that reply is not an error.
	quiet := false
	switch {
	case errors.Is(err, io.EOF):
		log.Debug(ctx, "Client sent no request")
		reply = fwerrors.Reply(fwerrors.NewDecodeError(fwerrors.ErrCodeMalformedPacket, "empty request", nil))
		quiet = true
	case err != nil:
		log.Warn(ctx, err, "Rejected malformed request")
		reply = fwerrors.Reply(err)
	default:
		reply = s.dispatch(ctx, log, packet)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.IOTimeout))
	if _, err := io.WriteString(conn, reply); err != nil {
		if quiet {
			log.Debug(ctx, "Client gone before reply", "error", err.Error())
			return
		}
		s.errs.Handle(ctx, fwerrors.NewIOError(fwerrors.ErrCodeWriteFailed, "write reply", err), "request_id", reqID)
		return
	}

	log.Debug(ctx, "Request served", "command", packet.Command.String(), "duration", time.Since(start))
}

func (s *ControlServer) dispatch(ctx context.Context, log logging.Logger, p protocol.Packet) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			err := fwerrors.Recover(r)
			log.Error(ctx, err, "Handler panicked", "command", p.Command.String())
			reply = fwerrors.Reply(err)
		}
	}()

	if !p.Command.Known() {
		err := fwerrors.ErrUnsupportedCommand(uint64(p.Command))
		log.Warn(ctx, err, "Unsupported command")
		return fwerrors.Reply(err)
	}

	text, err := s.handler.Handle(ctx, p)
	if err != nil {
		log.Debug(ctx, "Command failed", "command", p.Command.String(), "kind", string(fwerrors.KindOf(err)), "error", err.Error())
		return fwerrors.Reply(err)
	}
	return text
}
