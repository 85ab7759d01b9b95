// Package rpc exposes read-only hub state to operators over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/golang/glog"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

// Server serves the Realtime RPC methods.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server.
func NewServer(h *hub.Hub) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{hub: h}
	if err := rpcServer.RegisterName("Realtime", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	defer close(s.done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			glog.Warningf("rpc: accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Realtime RPC methods.
type Handler struct {
	hub *hub.Hub
}

// PresenceRequest names a document.
type PresenceRequest struct {
	DocumentID string `json:"document_id"`
}

// PresenceResponse is the document's current participant snapshot.
type PresenceResponse struct {
	Topic        string                     `json:"topic"`
	Participants map[string]domain.Presence `json:"participants"`
}

// Presence returns who is on a document's topic, across nodes.
func (h *Handler) Presence(req *PresenceRequest, resp *PresenceResponse) error {
	if req == nil || req.DocumentID == "" {
		return errors.New("document_id is required")
	}
	topic := protocol.Topic(req.DocumentID)
	resp.Topic = topic
	resp.Participants = h.hub.PresenceState(topic)
	return nil
}

// StatsRequest is empty.
type StatsRequest struct{}

// StatsResponse reports local hub counts.
type StatsResponse struct {
	Node        string `json:"node"`
	Subscribers int    `json:"subscribers"`
	Topics      int    `json:"topics"`
}

// Stats reports the node's subscriber and topic counts.
func (h *Handler) Stats(_ *StatsRequest, resp *StatsResponse) error {
	resp.Node = h.hub.NodeID()
	resp.Subscribers = h.hub.GetSubscriberCount()
	resp.Topics = h.hub.GetTopicCount()
	return nil
}
