package keva

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"golang.org/x/sys/unix"
)

// Server multiplexes every client on a single goroutine with
// level-triggered poll(2) readiness. All command execution and state
// mutation happen on that goroutine, which is what makes the whole
// command stream linearizable without locks.
type Server struct {
	cfg *Config
	st  *Store

	fd    int
	port  int
	conns map[int]*Conn

	// wake is a self-pipe registered in the poll set; Shutdown writes a
	// byte to it to unblock the loop from another goroutine.
	wake [2]int

	scratch []byte
	canc    context.CancelFunc
}

// NewServer binds the configured listener and prepares the event loop.
// The returned server does not accept connections until Serve is called.
func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	ip := net.ParseIP(cfg.Address).To4()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: cfg.Port}
	copy(sa.Addr[:], ip)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s:%d: %w", cfg.Address, cfg.Port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	inet, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return nil, errors.New("listener has unexpected address family")
	}

	sv := &Server{
		cfg:     cfg,
		st:      NewStore(),
		fd:      fd,
		port:    inet.Port,
		conns:   make(map[int]*Conn),
		scratch: make([]byte, readChunk),
	}
	if err := unix.Pipe(sv.wake[:]); err != nil {
		unix.Close(fd)
		return nil, err
	}
	unix.SetNonblock(sv.wake[0], true)
	unix.SetNonblock(sv.wake[1], true)

	c, cancel := context.WithCancel(ctx)
	sv.canc = cancel
	go func() {
		<-c.Done()
		unix.Write(sv.wake[1], []byte{0})
	}()
	return sv, nil
}

// Port returns the bound listener port, useful when the configured port
// was 0.
func (sv *Server) Port() int {
	return sv.port
}

// Shutdown unblocks the event loop and makes Serve return after closing
// every connection. Safe to call from any goroutine.
func (sv *Server) Shutdown() {
	sv.canc()
}

// Serve runs the event loop until Shutdown. Each iteration rebuilds the
// descriptor set from the per-connection want flags, blocks for
// readiness, dispatches the ready handlers and reaps dead connections.
func (sv *Server) Serve() error {
	defer sv.closeAll()

	fds := make([]unix.PollFd, 0, 64)
	ready := make([]*Conn, 0, 64)
	for {
		fds = fds[:0]
		fds = append(fds, unix.PollFd{Fd: int32(sv.wake[0]), Events: unix.POLLIN})
		fds = append(fds, unix.PollFd{Fd: int32(sv.fd), Events: unix.POLLIN})

		ready = ready[:0]
		for _, c := range sv.conns {
			var events int16
			if c.wantRead {
				events |= unix.POLLIN
			}
			if c.wantWrite {
				events |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: events})
			ready = append(ready, c)
		}

		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents != 0 {
			return nil
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			sv.accept()
		}

		for i, c := range ready {
			re := fds[i+2].Revents
			if re&unix.POLLIN != 0 {
				c.handleRead(sv.st, sv.scratch)
			}
			if re&unix.POLLOUT != 0 {
				c.handleWrite()
			}
			// a want_close connection still drains queued replies;
			// its buffers are dropped on protocol-fatal errors
			if re&unix.POLLERR != 0 || (c.wantClose && len(c.outgoing) == 0) {
				sv.closeConn(c)
			}
		}
	}
}

// accept takes one pending connection off the listener. EAGAIN means
// another iteration already drained the backlog.
func (sv *Server) accept() {
	fd, _, err := unix.Accept(sv.fd)
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	if err != nil {
		log.Printf("accept: %v", err)
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}
	sv.conns[fd] = newConn(fd)
}

func (sv *Server) closeConn(c *Conn) {
	unix.Close(c.fd)
	delete(sv.conns, c.fd)
}

func (sv *Server) closeAll() {
	for _, c := range sv.conns {
		unix.Close(c.fd)
	}
	sv.conns = make(map[int]*Conn)
	unix.Close(sv.fd)
	unix.Close(sv.wake[0])
	unix.Close(sv.wake[1])
	sv.canc()
}

// Serve binds address:port and runs a server until ctx is canceled. This
// is the library-level entry point; the kevad binary does not use it and
// calls NewServer and Server.Serve directly.
func Serve(ctx context.Context, address string, port int) error {
	sv, err := NewServer(ctx, &Config{Address: address, Port: port})
	if err != nil {
		return err
	}
	return sv.Serve()
}
