// Package relay is a TCP hub for the stream transport. Every valid frame one
// connection sends is written to every other connection, so a broker and its
// sensors dialing the same relay share one channel the way they would share a
// radio.
package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/transport/stream"
)

// DefaultIdleTimeout drops a connection that sends nothing for this long.
const DefaultIdleTimeout = 60 * time.Second

type Option func(*Server)

// WithIdleTimeout overrides DefaultIdleTimeout. Zero disables the deadline.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idle = d }
}

type peer struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (p *peer) write(buf []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write(buf)
	return err
}

type Server struct {
	idle time.Duration

	mu    sync.Mutex
	peers map[*peer]struct{}
	wg    sync.WaitGroup

	frames  atomic.Uint64
	corrupt atomic.Uint64
}

func New(opts ...Option) *Server {
	s := &Server{idle: DefaultIdleTimeout, peers: make(map[*peer]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled, then closes every
// connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	log.Printf("Relay: listening on %s", l.Addr())
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			log.Printf("Relay: accept failed: %v", err)
			continue
		}
		p := &peer{conn: conn}
		s.mu.Lock()
		s.peers[p] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(p)
	}
}

// Peers returns the number of open connections.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Frames counts frames forwarded.
func (s *Server) Frames() uint64 { return s.frames.Load() }

// Corrupt counts frames discarded for a bad CRC, kind or length.
func (s *Server) Corrupt() uint64 { return s.corrupt.Load() }

// handleConnection 读帧并转发给其他连接，直到对端关闭或超时
func (s *Server) handleConnection(p *peer) {
	defer s.wg.Done()
	defer s.drop(p)

	remote := p.conn.RemoteAddr()
	log.Printf("Relay: %s connected", remote)
	r := bufio.NewReader(p.conn)
	for {
		if s.idle > 0 {
			p.conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		f, err := stream.Unpack(r)
		if err != nil {
			if errors.Is(err, inter.ErrFrameCorrupt) {
				s.corrupt.Add(1)
				log.Printf("Relay: %s: %v", remote, err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("Relay: %s: read failed: %v", remote, err)
			}
			return
		}
		buf, err := stream.Pack(f)
		if err != nil {
			log.Printf("Relay: %s: %v", remote, err)
			continue
		}
		s.forward(p, buf)
	}
}

func (s *Server) forward(from *peer, buf []byte) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		if p != from {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	s.frames.Add(1)
	for _, p := range targets {
		if err := p.write(buf); err != nil {
			log.Printf("Relay: write to %s failed: %v", p.conn.RemoteAddr(), err)
			p.conn.Close()
		}
	}
}

func (s *Server) drop(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	p.conn.Close()
	log.Printf("Relay: %s disconnected", p.conn.RemoteAddr())
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		p.conn.Close()
	}
}
