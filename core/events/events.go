// Package events implements the event dispatcher: a websocket fan-out of
// request lifecycle updates to subscribed clients over a JSON-RPC 2.0
// subscribe/unsubscribe surface, addressed by channel name.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/log"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	subscriberBuff = 32
	jsonRPCVersion = "2.0"

	// allChannel is the special channel name a client subscribes to in
	// order to receive every request's status updates, not just one.
	allChannel = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusEvent is the JSON payload carried as the "data" of a subscription
// notification on a status change.
type StatusEvent struct {
	ClientRequestID string         `json:"client_request_id"`
	Status          request.Status `json:"status"`
	TxHash          string         `json:"tx_hash,omitempty"`
	FinalisedAtMs   int64          `json:"finalised_at_ms,omitempty"`
}

// rpcRequest is an inbound JSON-RPC 2.0 call: subscribe/unsubscribe to a
// channel, named by client_request_id (or "*" for every request).
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  struct {
		Channel string `json:"channel"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the synchronous reply to an rpcRequest.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  string          `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcNotification is an unsolicited server-to-client push for a channel the
// client is subscribed to.
type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Channel string      `json:"channel"`
		Data    StatusEvent `json:"data"`
	} `json:"params"`
}

// outbound is whatever writePump has queued to send next: either a
// subscription notification or a synchronous RPC reply.
type outbound struct {
	notification *rpcNotification
	response     *rpcResponse
}

type subscriber struct {
	conn *websocket.Conn
	out  chan outbound

	mu       sync.Mutex
	channels map[string]bool // channel name -> subscribed; "*" means every request
}

func (s *subscriber) subscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = true
}

func (s *subscriber) unsubscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

// matchingChannel returns the channel name this subscriber should receive
// ev under, preferring an exact client_request_id match over the wildcard.
func (s *subscriber) matchingChannel(clientRequestID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[clientRequestID] {
		return clientRequestID, true
	}
	if s.channels[allChannel] {
		return allChannel, true
	}
	return "", false
}

// Dispatcher fans out request status updates to websocket subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{subscribers: make(map[*subscriber]bool)}
}

// Publish broadcasts ev to every subscriber whose channel set accepts it,
// wrapped in a JSON-RPC 2.0 subscription notification.
func (d *Dispatcher) Publish(ev StatusEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for s := range d.subscribers {
		channel, ok := s.matchingChannel(ev.ClientRequestID)
		if !ok {
			continue
		}
		notif := &rpcNotification{JSONRPC: jsonRPCVersion, Method: "subscription"}
		notif.Params.Channel = channel
		notif.Params.Data = ev
		select {
		case s.out <- outbound{notification: notif}:
		default:
			log.Warnw("dropping event for slow subscriber", "client_request_id", ev.ClientRequestID)
		}
	}
}

// ServeWS upgrades the HTTP connection to a websocket and serves a
// JSON-RPC 2.0 subscribe/unsubscribe surface over channel names until the
// client disconnects: {"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"channel":"r1"}}.
// A channel name is either a client_request_id or "*" for every request.
func (d *Dispatcher) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &subscriber{conn: conn, out: make(chan outbound, subscriberBuff), channels: make(map[string]bool)}

	d.mu.Lock()
	d.subscribers[s] = true
	d.mu.Unlock()

	go d.writePump(s)
	d.readPump(s)
	return nil
}

func (d *Dispatcher) readPump(s *subscriber) {
	defer d.removeSubscriber(s)
	for {
		var req rpcRequest
		if err := s.conn.ReadJSON(&req); err != nil {
			return
		}
		d.handleRPC(s, req)
	}
}

func (d *Dispatcher) handleRPC(s *subscriber, req rpcRequest) {
	resp := &rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID}

	switch req.Method {
	case "subscribe":
		if req.Params.Channel == "" {
			resp.Error = &rpcError{Code: -32602, Message: "params.channel is required"}
		} else {
			s.subscribe(req.Params.Channel)
			resp.Result = "ok"
		}
	case "unsubscribe":
		if req.Params.Channel == "" {
			resp.Error = &rpcError{Code: -32602, Message: "params.channel is required"}
		} else {
			s.unsubscribe(req.Params.Channel)
			resp.Result = "ok"
		}
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	s.out <- outbound{response: resp}
}

func (d *Dispatcher) writePump(s *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()
	for {
		select {
		case msg, ok := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			var data []byte
			var err error
			if msg.notification != nil {
				data, err = json.Marshal(msg.notification)
			} else {
				data, err = json.Marshal(msg.response)
			}
			if err != nil {
				log.Errorw(err, "failed to marshal websocket message")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (d *Dispatcher) removeSubscriber(s *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[s]; ok {
		delete(d.subscribers, s)
		close(s.out)
	}
}

// SubscriberCount returns the number of currently connected subscribers, for
// diagnostics.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
