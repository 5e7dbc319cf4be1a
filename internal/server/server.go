// Package server is the TCP front end: the accept loop, per-connection
// reader goroutines, and the command dispatcher that drives rooms, sessions,
// the broadcast pipeline, and the store.
package server

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"chatserver/internal/broadcast"
	"chatserver/internal/client"
	"chatserver/internal/metrics"
	"chatserver/internal/protocol"
	"chatserver/internal/room"
	"chatserver/internal/store"
)

// Server accepts chat protocol connections and dispatches their lines.
type Server struct {
	addr     string
	sessions *client.Registry
	rooms    *room.Registry
	store    *store.Store
	pipeline *broadcast.Pipeline
	metrics  *metrics.Metrics
	limiter  *RateLimiter

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New wires a server over its collaborators.
func New(addr string, sessions *client.Registry, rooms *room.Registry, st *store.Store, pipeline *broadcast.Pipeline, m *metrics.Metrics) *Server {
	return &Server{
		addr:     addr,
		sessions: sessions,
		rooms:    rooms,
		store:    st,
		pipeline: pipeline,
		metrics:  m,
		limiter:  NewRateLimiter(DefaultRateLimiterConfig),
	}
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Start binds the listener and runs the accept loop until ctx is cancelled.
// Blocks; run it in its own goroutine alongside ctx-driven shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Printf("[server] listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
		// unblock every connection reader
		for _, sess := range s.sessions.All() {
			sess.Conn.Close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[server] accept loop stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[server] accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Wait blocks until every connection goroutine has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// handleConn owns one client connection from accept to close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess := client.NewSession(conn)
	s.sessions.Add(sess)
	s.metrics.ConnectionOpened()
	log.Printf("[server] client %s connected from %s", sess.ID, conn.RemoteAddr())

	defer func() {
		s.disconnect(sess)
		conn.Close()
	}()

	if err := sess.Send(protocol.Welcome); err != nil {
		return
	}

	limiter := s.limiter.GetLimiter(sess.ID)
	defer s.limiter.RemoveLimiter(sess.ID)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, protocol.MaxLineLength), protocol.MaxLineLength)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		if !limiter.Allow() {
			if err := sess.Send(protocol.Errorf("Rate limit exceeded")); err != nil {
				return
			}
			continue
		}

		line := protocol.Parse(scanner.Text())
		if err := s.dispatch(sess, line); err != nil {
			// write failure means the peer is gone
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// tell the peer why before the deferred close drops it
			_ = sess.Send(protocol.Errorf("Line too long"))
		}
		log.Printf("[server] client %s read error: %v", sess.ID, err)
	}
}

// disconnect tears a session down: leave notice, owner handoff, cleanup
// scheduling, registry removal.
func (s *Server) disconnect(sess *client.Session) {
	log.Printf("[server] client %s disconnected", sess.ID)

	if roomID := sess.RoomID(); roomID != "" {
		s.removeFromRoom(sess, roomID, true)
	}

	s.sessions.Remove(sess.ID)
	s.metrics.ConnectionClosed()
}
