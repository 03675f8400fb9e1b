package keva

import (
	"encoding/binary"
	"log"

	"golang.org/x/sys/unix"
)

// readChunk bounds a single read(2) into the scratch buffer.
const readChunk = 64 << 10

// Conn is the per-socket connection state. The three want flags tell the
// event loop what to watch: a connection is either reading requests or
// draining responses, never both, and wantClose is sticky once set.
type Conn struct {
	fd int

	incoming []byte
	outgoing []byte

	wantRead  bool
	wantWrite bool
	wantClose bool
}

func newConn(fd int) *Conn {
	return &Conn{fd: fd, wantRead: true}
}

// handleRead appends newly arrived bytes, serves every complete
// pipelined request found in the buffer and, if responses were queued,
// flips the connection into write mode with one optimistic write.
func (c *Conn) handleRead(st *Store, scratch []byte) {
	n, err := unix.Read(c.fd, scratch[:readChunk])
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	if err != nil {
		c.incoming = nil
		c.wantClose = true
		return
	}
	if n == 0 {
		if len(c.incoming) > 0 {
			log.Printf("conn fd=%d: unexpected EOF mid-request", c.fd)
			c.incoming = nil
		}
		c.wantClose = true
		return
	}
	c.incoming = append(c.incoming, scratch[:n]...)

	for c.tryOneRequest(st) {
	}

	if len(c.outgoing) > 0 {
		c.wantRead = false
		c.wantWrite = true
		c.handleWrite()
	}
}

// tryOneRequest consumes one complete framed request from the incoming
// buffer, if present, and queues its framed response. Reports whether it
// made progress so the caller can drain pipelined requests.
func (c *Conn) tryOneRequest(st *Store) bool {
	if c.wantClose || len(c.incoming) < 4 {
		return false
	}
	bodyLen := binary.LittleEndian.Uint32(c.incoming)
	if bodyLen > kMaxMsg {
		c.incoming = nil
		c.wantClose = true
		return false
	}
	if uint32(len(c.incoming)-4) < bodyLen {
		return false
	}

	argv, err := parseRequest(c.incoming[4 : 4+bodyLen])
	if err != nil {
		c.incoming = nil
		c.wantClose = true
		return false
	}

	pos := responseBegin(&c.outgoing)
	dispatch(st, argv, &c.outgoing)
	responseEnd(&c.outgoing, pos)

	c.incoming = c.incoming[4+bodyLen:]
	return true
}

// handleWrite drains the outgoing buffer. A short write is followed by
// another write of the unwritten suffix; on EAGAIN the suffix waits for
// the next writable event. Once empty the connection flips back to read
// mode.
func (c *Conn) handleWrite() {
	for len(c.outgoing) > 0 {
		n, err := unix.Write(c.fd, c.outgoing)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			// undeliverable output is dropped so the close is not
			// deferred forever
			c.outgoing = nil
			c.wantClose = true
			return
		}
		c.outgoing = c.outgoing[n:]
	}
	c.wantWrite = false
	c.wantRead = true
}
