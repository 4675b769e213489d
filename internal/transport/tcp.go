// Package transport is a newline-delimited JSON socket server: one
// handshake line, then one frame per inbound event. Outbound events are
// written back as JSON lines.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
	"livekitchen/internal/hub"
)

type Server struct {
	hub *hub.Hub
	lg  *logger.Logger
}

func NewServer(h *hub.Hub, lg *logger.Logger) *Server {
	return &Server{hub: h, lg: lg}
}

func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.lg.Info("listener_started", map[string]any{"addr": addr})
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serve(ctx, conn)
	}
}

type handshake struct {
	Token string            `json:"token"`
	Table *hub.TableContext `json:"table,omitempty"`
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// jsonLineConn implements hub.Transport. Writes are serialized; the hub's
// session goroutine is the only caller in practice.
type jsonLineConn struct {
	conn net.Conn
	enc  *json.Encoder
	mu   sync.Mutex
}

func (c *jsonLineConn) WriteEvent(ev domain.OutboundEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(ev)
}

func (c *jsonLineConn) Close() error { return c.conn.Close() }

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		_ = conn.Close()
		return
	}
	var hs handshake
	if err := json.Unmarshal(sc.Bytes(), &hs); err != nil {
		s.lg.Warn("handshake_rejected", map[string]any{"reason": "bad json"})
		_ = conn.Close()
		return
	}

	tr := &jsonLineConn{conn: conn, enc: json.NewEncoder(conn)}
	sess, err := s.hub.Connect(ctx, tr, hs.Token, hs.Table)
	if err != nil {
		// Connect already closed the transport.
		s.lg.Warn("handshake_rejected", map[string]any{"reason": err.Error()})
		return
	}
	defer s.hub.Disconnect(ctx, sess)

	for sc.Scan() {
		var f frame
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
			s.lg.Warn("frame_dropped", map[string]any{
				"connection_id": sess.ID, "reason": "bad json",
			})
			continue
		}
		s.hub.HandleEvent(ctx, sess, f.Event, f.Payload)
	}
}
