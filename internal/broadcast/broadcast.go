// Package broadcast moves chat messages from reader goroutines to room
// members. Producers enqueue envelopes; a single broadcaster goroutine
// drains the queue, renders the line, updates history, fans out to member
// sockets, and persists the message.
package broadcast

import (
	"context"
	"log"

	"chatserver/internal/client"
	"chatserver/internal/metrics"
	"chatserver/internal/protocol"
	"chatserver/internal/room"
	"chatserver/internal/store"
)

const queueCapacity = 100

// Envelope is one message handed to the broadcaster.
type Envelope struct {
	Sender    *client.Session
	RoomID    string
	Content   string
	Recipient string // set for private messages
	Private   bool
}

// Pipeline owns the message queue and its consumer.
type Pipeline struct {
	queue   chan Envelope
	rooms   *room.Registry
	store   *store.Store
	metrics *metrics.Metrics
}

// New creates a pipeline. Call Run to start the consumer.
func New(rooms *room.Registry, st *store.Store, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		queue:   make(chan Envelope, queueCapacity),
		rooms:   rooms,
		store:   st,
		metrics: m,
	}
}

// Enqueue hands a message to the broadcaster. Blocks while the queue is
// full, which back-pressures the sending connection's reader.
func (p *Pipeline) Enqueue(e Envelope) {
	p.queue <- e
}

// Run consumes the queue until ctx is cancelled. Must run in exactly one
// goroutine so message order within a room is the enqueue order.
func (p *Pipeline) Run(ctx context.Context) {
	log.Println("[broadcast] broadcaster started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[broadcast] broadcaster stopped")
			return
		case e := <-p.queue:
			if e.Private {
				p.deliverPrivate(e)
			} else {
				p.deliverPublic(e)
			}
		}
	}
}

func (p *Pipeline) deliverPublic(e Envelope) {
	rm, ok := p.rooms.Get(e.RoomID)
	if !ok {
		// room destroyed while the message was queued
		return
	}

	sender := e.Sender.Username()
	line := protocol.ChatLine(sender, e.Content)

	// persistence happens under the room lock, before fan-out, so a joiner
	// reading history from the store sees every line it will not get live
	failed := rm.BroadcastChat(line, e.Sender.ID, func() {
		if err := p.store.SaveMessage(&store.Message{
			RoomID:         e.RoomID,
			SenderUsername: sender,
			Content:        e.Content,
		}); err != nil {
			log.Printf("[broadcast] persist message in room %s: %v", e.RoomID, err)
		}
	})
	for i := 0; i < failed; i++ {
		p.metrics.BroadcastError()
	}
	p.metrics.MessageBroadcast()
}

func (p *Pipeline) deliverPrivate(e Envelope) {
	rm, ok := p.rooms.Get(e.RoomID)
	if !ok {
		return
	}

	target := rm.FindMemberByName(e.Recipient)
	if target == nil {
		if err := e.Sender.Send(protocol.Errorf("User '%s' not found in this room", e.Recipient)); err != nil {
			p.metrics.BroadcastError()
		}
		return
	}

	sender := e.Sender.Username()
	if err := target.Send(protocol.PMFrom(sender, e.Content)); err != nil {
		p.metrics.BroadcastError()
		return
	}
	if err := e.Sender.Send(protocol.PMSent(e.Recipient, e.Content)); err != nil {
		p.metrics.BroadcastError()
	}
	p.metrics.PrivateMessageDelivered()

	if err := p.store.SaveMessage(&store.Message{
		RoomID:            e.RoomID,
		SenderUsername:    sender,
		Content:           e.Content,
		IsPrivate:         true,
		RecipientUsername: e.Recipient,
	}); err != nil {
		log.Printf("[broadcast] persist private message in room %s: %v", e.RoomID, err)
	}
}
