// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package facewire

import (
	"net/http"
	"sync"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/WU-ARL/ICTSync/core"
)

// Hub is the relay every demo participant connects to: each inbound
// binary frame is forwarded verbatim to every other connected client.
// It performs no parsing, caching, or forwarding-table lookups; all
// sync semantics live in the participants.
type Hub struct {
	log      *log.Entry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewHub returns a Hub ready to serve websocket upgrades.
func NewHub() *Hub {
	return &Hub{
		log:     core.WithModule("hub"),
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and relays frames until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &hubClient{conn: conn, out: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Info("participant connected")

	go h.writeLoop(client)
	h.readLoop(client)

	h.mu.Lock()
	delete(h.clients, client)
	n = len(h.clients)
	h.mu.Unlock()
	close(client.out)
	conn.Close()
	h.log.WithField("clients", n).Info("participant disconnected")
}

func (h *Hub) readLoop(client *hubClient) {
	for {
		messageType, frame, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		h.broadcast(client, frame)
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	for frame := range client.out {
		if err := client.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

// broadcast forwards frame to every client except the sender. A client
// whose outbound queue is full has the frame dropped; sync recovers
// through re-expression.
func (h *Hub) broadcast(from *hubClient, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.out <- frame:
		default:
			h.log.Warn("dropping frame for slow participant")
		}
	}
}
