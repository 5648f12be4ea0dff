// Package websocket pushes payment-status changes to storefront clients
// watching an order, so the checkout page flips to "paid" without polling.
package websocket

import (
	"context"
	"encoding/json"
)

type PaymentUpdate struct {
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

// Hub tracks subscribers per order id. All membership changes and
// broadcasts go through its single goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan PaymentUpdate
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan PaymentUpdate),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			if set, ok := h.clients[c.orderID]; ok {
				if _, exists := set[c]; exists {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.orderID)
				}
			}
		case upd := <-h.broadcast:
			msg, _ := json.Marshal(upd)
			if set, ok := h.clients[upd.OrderID]; ok {
				for c := range set {
					select {
					case c.send <- msg:
					default:
						// Slow consumer; drop it rather than block
						// the hub.
						delete(set, c)
						close(c.send)
					}
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		}
	}
}

func (h *Hub) Broadcast(u PaymentUpdate) {
	go func() { h.broadcast <- u }()
}

// BroadcastOrderUpdate satisfies the order service's StatusBroadcaster.
func (h *Hub) BroadcastOrderUpdate(orderID, paymentStatus string) {
	h.Broadcast(PaymentUpdate{OrderID: orderID, PaymentStatus: paymentStatus})
}
